package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// EmailSender sends a plain-text email.
type EmailSender interface {
	Send(to string, subject string, body string) error
}

// SMTPSender sends email via unauthenticated SMTP (Mailpit-compatible).
type SMTPSender struct {
	addr string
	from string
}

func NewSMTPSender(host string, port string, from string) *SMTPSender {
	host = strings.TrimSpace(host)
	port = strings.TrimSpace(port)
	from = strings.TrimSpace(from)
	if from == "" {
		from = "no-reply@chairtime.local"
	}
	return &SMTPSender{
		addr: fmt.Sprintf("%s:%s", host, port),
		from: from,
	}
}

func (s *SMTPSender) Send(to string, subject string, body string) error {
	msg := buildMessage(s.from, to, subject, body)
	return smtp.SendMail(s.addr, nil, s.from, []string{to}, []byte(msg))
}

func buildMessage(from, to, subject, body string) string {
	// Minimal RFC 5322 message; enough for Mailpit and most SMTP relays.
	return fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		from,
		to,
		subject,
		body,
	)
}

type emailChannel struct {
	name      string
	sender    EmailSender
	recipient func(Snapshot) string
}

// NewClientEmailChannel delivers to the booking's client address.
func NewClientEmailChannel(sender EmailSender) Channel {
	return &emailChannel{
		name:      ChannelClientEmail,
		sender:    sender,
		recipient: func(s Snapshot) string { return s.ClientEmail },
	}
}

// NewProviderEmailChannel delivers to the booking's provider address.
func NewProviderEmailChannel(sender EmailSender) Channel {
	return &emailChannel{
		name:      ChannelProviderEmail,
		sender:    sender,
		recipient: func(s Snapshot) string { return s.ProviderEmail },
	}
}

func (c *emailChannel) Name() string { return c.name }

func (c *emailChannel) Deliver(_ context.Context, event Event, snap Snapshot) error {
	to := strings.TrimSpace(c.recipient(snap))
	if to == "" {
		return fmt.Errorf("no email address for channel %s", c.name)
	}
	subject, body := renderEmail(event, snap)
	return c.sender.Send(to, subject, body)
}

func renderEmail(event Event, snap Snapshot) (subject string, body string) {
	when := snap.StartTime.Format("Mon, 02 Jan 2006 15:04 MST")
	switch event {
	case EventBookingCreated:
		subject = fmt.Sprintf("Booking request received: %s", snap.ServiceName)
		body = fmt.Sprintf("Hi %s,\n\nYour booking request for %s with %s on %s was received and is awaiting approval.\n\nBooking ID: %s\n",
			snap.ClientName, snap.ServiceName, snap.ProviderName, when, snap.BookingID)
	case EventBookingConfirmed:
		subject = fmt.Sprintf("Booking confirmed: %s", snap.ServiceName)
		body = fmt.Sprintf("Hi %s,\n\nYour %s with %s is confirmed for %s (%d minutes).\n\nBooking ID: %s\n",
			snap.ClientName, snap.ServiceName, snap.ProviderName, when, snap.DurationMinutes, snap.BookingID)
	case EventBookingCancelled:
		subject = fmt.Sprintf("Booking cancelled: %s", snap.ServiceName)
		body = fmt.Sprintf("The %s booking with %s scheduled for %s has been cancelled.\n\nBooking ID: %s\n",
			snap.ServiceName, snap.ProviderName, when, snap.BookingID)
	case EventBookingRescheduled:
		subject = fmt.Sprintf("Booking rescheduled: %s", snap.ServiceName)
		body = fmt.Sprintf("Your %s with %s has been moved to %s (%d minutes).\n\nBooking ID: %s\n",
			snap.ServiceName, snap.ProviderName, when, snap.DurationMinutes, snap.BookingID)
	case EventAppointmentReminder:
		subject = fmt.Sprintf("Reminder: %s on %s", snap.ServiceName, when)
		body = fmt.Sprintf("Hi %s,\n\nThis is a reminder of your upcoming %s with %s on %s.\n\nBooking ID: %s\n",
			snap.ClientName, snap.ServiceName, snap.ProviderName, when, snap.BookingID)
	case EventPaymentReceived:
		subject = "Payment received"
		body = fmt.Sprintf("We received your payment of $%d.%02d for %s.\n\nBooking ID: %s\n",
			snap.TotalCents/100, snap.TotalCents%100, snap.ServiceName, snap.BookingID)
	default:
		subject = fmt.Sprintf("Booking update: %s", snap.ServiceName)
		body = fmt.Sprintf("Your booking %s was updated (%s).\n", snap.BookingID, event)
	}
	return subject, body
}
