package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SMSSender sends a short text message.
type SMSSender interface {
	Send(ctx context.Context, to string, body string) error
	ProviderID() string
}

type WebhookSMSSender struct {
	url   string
	token string
	http  *http.Client
}

func NewWebhookSMSSender(url string, token string) *WebhookSMSSender {
	return &WebhookSMSSender{
		url:   strings.TrimSpace(url),
		token: strings.TrimSpace(token),
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (s *WebhookSMSSender) ProviderID() string {
	return "sms-webhook"
}

func (s *WebhookSMSSender) Send(ctx context.Context, to string, body string) error {
	if s.url == "" {
		return errors.New("sms webhook url not configured")
	}
	payload := map[string]string{
		"to":   to,
		"body": body,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.New("sms webhook returned non-2xx")
	}
	return nil
}

type NoopSMSSender struct{}

func NewNoopSMSSender() *NoopSMSSender {
	return &NoopSMSSender{}
}

func (s *NoopSMSSender) ProviderID() string {
	return "sms-noop"
}

func (s *NoopSMSSender) Send(_ context.Context, _ string, _ string) error {
	return nil
}

type smsChannel struct {
	name      string
	sender    SMSSender
	recipient func(Snapshot) string
}

func NewClientSMSChannel(sender SMSSender) Channel {
	return &smsChannel{
		name:      ChannelClientSMS,
		sender:    sender,
		recipient: func(s Snapshot) string { return s.ClientPhone },
	}
}

func NewProviderSMSChannel(sender SMSSender) Channel {
	return &smsChannel{
		name:      ChannelProviderSMS,
		sender:    sender,
		recipient: func(s Snapshot) string { return s.ProviderPhone },
	}
}

func (c *smsChannel) Name() string { return c.name }

func (c *smsChannel) Deliver(ctx context.Context, event Event, snap Snapshot) error {
	to := strings.TrimSpace(c.recipient(snap))
	if to == "" {
		return fmt.Errorf("no phone number for channel %s", c.name)
	}
	return c.sender.Send(ctx, to, renderSMS(event, snap))
}

func renderSMS(event Event, snap Snapshot) string {
	when := snap.StartTime.Format("Jan 2 15:04")
	switch event {
	case EventBookingConfirmed:
		return fmt.Sprintf("Confirmed: %s with %s on %s. Ref %s", snap.ServiceName, snap.ProviderName, when, shortRef(snap.BookingID))
	case EventBookingCancelled:
		return fmt.Sprintf("Cancelled: %s on %s. Ref %s", snap.ServiceName, when, shortRef(snap.BookingID))
	case EventBookingRescheduled:
		return fmt.Sprintf("Rescheduled: %s now on %s. Ref %s", snap.ServiceName, when, shortRef(snap.BookingID))
	case EventAppointmentReminder:
		return fmt.Sprintf("Reminder: %s with %s on %s. Ref %s", snap.ServiceName, snap.ProviderName, when, shortRef(snap.BookingID))
	default:
		return fmt.Sprintf("%s: %s on %s. Ref %s", event, snap.ServiceName, when, shortRef(snap.BookingID))
	}
}

func shortRef(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
