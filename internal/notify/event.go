package notify

import "time"

// Event names a lifecycle transition worth telling humans about.
type Event string

const (
	EventBookingCreated      Event = "booking_created"
	EventBookingConfirmed    Event = "booking_confirmed"
	EventBookingCancelled    Event = "booking_cancelled"
	EventBookingRescheduled  Event = "booking_rescheduled"
	EventAppointmentReminder Event = "appointment_reminder"
	EventPaymentReceived     Event = "payment_received"
)

// Snapshot is the denormalized view of a booking frozen at dispatch time.
// Dispatch happens after the transition commits, so the snapshot must not
// reach back into storage.
type Snapshot struct {
	BookingID       string
	ProviderName    string
	ProviderEmail   string
	ProviderPhone   string
	ClientName      string
	ClientEmail     string
	ClientPhone     string
	ServiceName     string
	StartTime       time.Time
	DurationMinutes int
	TotalCents      int64
}
