package model

import (
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	StatusPending         BookingStatus = "pending"
	StatusConfirmed       BookingStatus = "confirmed"
	StatusCompleted       BookingStatus = "completed"
	StatusCancelled       BookingStatus = "cancelled"
	StatusRefundRequested BookingStatus = "refund_requested"
)

// transitions is the full status graph. Deletion is not a transition; it is
// only permitted from cancelled.
var transitions = map[BookingStatus][]BookingStatus{
	StatusPending:   {StatusConfirmed, StatusCancelled, StatusRefundRequested},
	StatusConfirmed: {StatusConfirmed, StatusCompleted, StatusCancelled, StatusRefundRequested},
}

// CanTransition reports whether from -> to is a legal status change.
// confirmed -> confirmed covers reschedule.
func CanTransition(from, to BookingStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Active reports whether a booking in this status blocks its time interval.
func (s BookingStatus) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

type Provider struct {
	ID       uuid.UUID
	Name     string
	Email    string
	Phone    string
	Timezone string
	IsActive bool
}

// WeeklyRule is a provider's recurring availability for one weekday.
// StartTime/EndTime are "HH:MM" on the provider-local clock. A provider has
// at most one rule per weekday.
type WeeklyRule struct {
	ProviderID  uuid.UUID
	DayOfWeek   time.Weekday
	StartTime   string
	EndTime     string
	IsAvailable bool
}

type Service struct {
	ID              uuid.UUID
	ProviderID      uuid.UUID
	Name            string
	DurationMinutes int
	PriceCents      int64
	DepositRequired bool
	DepositCents    int64
	IsActive        bool
}

type Client struct {
	ID    uuid.UUID
	Name  string
	Email string
	Phone string
}

type Booking struct {
	ID               uuid.UUID
	ProviderID       uuid.UUID
	ClientID         uuid.UUID
	ServiceID        uuid.UUID
	StartTime        time.Time
	DurationMinutes  int
	Status           BookingStatus
	TotalCents       int64
	DepositCents     int64
	PlatformFeeCents int64
	PaymentIntentID  string
	Notes            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (b Booking) EndTime() time.Time {
	return b.StartTime.Add(time.Duration(b.DurationMinutes) * time.Minute)
}

// Date returns the calendar date of the appointment, the unit the per-day
// reservation lock is scoped to.
func (b Booking) Date() string {
	return b.StartTime.Format("2006-01-02")
}
