package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chairtime/chairtime/internal/model"
)

// DefaultGranularity is the slot spacing used when a caller asks for zero.
const DefaultGranularity = 30 * time.Minute

// Store is the read side of the provider calendar. Slot results are
// advisory: a reservation re-validates under the calendar lock.
type Store interface {
	// WeeklyRule returns the provider's rule for a weekday, or nil when the
	// provider has none (including unknown providers).
	WeeklyRule(ctx context.Context, providerID uuid.UUID, day time.Weekday) (*model.WeeklyRule, error)
	// ActiveIntervals returns the intervals of pending/confirmed bookings
	// touching [from, to).
	ActiveIntervals(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Interval, error)
}

// Engine turns weekly rules plus booked intervals into bookable slots.
type Engine struct {
	store Store
	now   func() time.Time
}

func NewEngine(store Store) *Engine {
	return &Engine{store: store, now: time.Now}
}

// NewEngineWithClock injects a clock for tests.
func NewEngineWithClock(store Store, now func() time.Time) *Engine {
	return &Engine{store: store, now: now}
}

// GenerateSlots lists every candidate slot on date for a service of the
// given duration. A date with no rule (or a day marked unavailable, or an
// unknown provider) yields an empty list, not an error.
func (e *Engine) GenerateSlots(ctx context.Context, providerID uuid.UUID, date time.Time, duration, granularity time.Duration) ([]Slot, error) {
	if granularity <= 0 {
		granularity = DefaultGranularity
	}
	if duration <= 0 {
		return nil, fmt.Errorf("availability: non-positive service duration %s", duration)
	}

	rule, err := e.store.WeeklyRule(ctx, providerID, date.Weekday())
	if err != nil {
		return nil, fmt.Errorf("availability: load weekly rule: %w", err)
	}
	if rule == nil || !rule.IsAvailable {
		return []Slot{}, nil
	}

	windowStart, windowEnd, err := ruleWindow(rule, date)
	if err != nil {
		return nil, err
	}
	if !windowEnd.After(windowStart) {
		return []Slot{}, nil
	}

	busy, err := e.store.ActiveIntervals(ctx, providerID, windowStart, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("availability: load booked intervals: %w", err)
	}

	slots := EnumerateSlots(windowStart, windowEnd, duration, granularity, busy, e.now())
	if slots == nil {
		slots = []Slot{}
	}
	return slots, nil
}

// WithinWorkingWindow reports whether an appointment starting at start and
// running for duration fits inside the provider's rule for that weekday.
// Days with no rule, or a rule marked unavailable, are closed.
func (e *Engine) WithinWorkingWindow(ctx context.Context, providerID uuid.UUID, start time.Time, duration time.Duration) (bool, error) {
	rule, err := e.store.WeeklyRule(ctx, providerID, start.Weekday())
	if err != nil {
		return false, fmt.Errorf("availability: load weekly rule: %w", err)
	}
	if rule == nil || !rule.IsAvailable {
		return false, nil
	}
	windowStart, windowEnd, err := ruleWindow(rule, start)
	if err != nil {
		return false, err
	}
	return !start.Before(windowStart) && !start.Add(duration).After(windowEnd), nil
}

// NextAvailableDate scans forward day by day from `from` and returns the
// first date with at least one available slot. ok is false when no date
// within maxDays qualifies.
func (e *Engine) NextAvailableDate(ctx context.Context, providerID uuid.UUID, from time.Time, duration time.Duration, maxDays int) (time.Time, bool, error) {
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	for i := 0; i < maxDays; i++ {
		slots, err := e.GenerateSlots(ctx, providerID, day, duration, DefaultGranularity)
		if err != nil {
			return time.Time{}, false, err
		}
		for _, s := range slots {
			if s.Available {
				return day, true, nil
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return time.Time{}, false, nil
}

// ruleWindow anchors a rule's HH:MM bounds onto a concrete date.
func ruleWindow(rule *model.WeeklyRule, date time.Time) (time.Time, time.Time, error) {
	start, err := clockOnDate(rule.StartTime, date)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("availability: bad rule start %q: %w", rule.StartTime, err)
	}
	end, err := clockOnDate(rule.EndTime, date)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("availability: bad rule end %q: %w", rule.EndTime, err)
	}
	return start, end, nil
}

func clockOnDate(clock string, date time.Time) (time.Time, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, date.Location()), nil
}
