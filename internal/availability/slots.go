package availability

import "time"

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) Overlaps(other Interval) bool {
	// [a1,a2) overlaps [b1,b2) iff a1 < b2 && b1 < a2.
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Slot unavailability reasons surfaced to clients.
const (
	ReasonPast    = "past"
	ReasonClosing = "would extend past closing"
	ReasonBooked  = "already booked"
)

// Slot is one candidate start time within a provider's working window.
type Slot struct {
	Start     time.Time
	Available bool
	Reason    string
}

// EnumerateSlots lists candidate start times at step spacing across
// [windowStart, windowEnd) and marks each available or not. A slot of length
// duration must fit entirely within the window, must not start in the past,
// and must not overlap any busy interval.
//
// All times are expected to be in the same location (the provider's clock).
func EnumerateSlots(windowStart, windowEnd time.Time, duration, step time.Duration, busy []Interval, now time.Time) []Slot {
	if duration <= 0 || step <= 0 {
		return nil
	}
	if !windowEnd.After(windowStart) {
		return nil
	}

	var slots []Slot
	for t := windowStart; t.Before(windowEnd); t = t.Add(step) {
		slot := Slot{Start: t}
		end := t.Add(duration)
		switch {
		case t.Before(now):
			slot.Reason = ReasonPast
		case end.After(windowEnd):
			slot.Reason = ReasonClosing
		case overlapsAny(Interval{Start: t, End: end}, busy):
			slot.Reason = ReasonBooked
		default:
			slot.Available = true
		}
		slots = append(slots, slot)
	}
	return slots
}

func overlapsAny(candidate Interval, busy []Interval) bool {
	for _, b := range busy {
		if candidate.Overlaps(b) {
			return true
		}
	}
	return false
}
