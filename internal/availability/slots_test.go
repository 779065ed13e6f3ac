package availability

import (
	"testing"
	"time"
)

func at(h, m int) time.Time {
	// A Monday.
	return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC)
}

func slotByStart(t *testing.T, slots []Slot, start time.Time) Slot {
	t.Helper()
	for _, s := range slots {
		if s.Start.Equal(start) {
			return s
		}
	}
	t.Fatalf("no slot starting at %s", start)
	return Slot{}
}

func TestEnumerateSlotsMarksBookedNeighborsFree(t *testing.T) {
	// Working 09:00-17:00, hour-long service, existing booking 10:00-11:00.
	busy := []Interval{{Start: at(10, 0), End: at(11, 0)}}
	slots := EnumerateSlots(at(9, 0), at(17, 0), time.Hour, 30*time.Minute, busy, at(0, 0))

	if len(slots) != 16 {
		t.Fatalf("expected 16 half-hour candidates, got %d", len(slots))
	}
	if s := slotByStart(t, slots, at(10, 0)); s.Available || s.Reason != ReasonBooked {
		t.Fatalf("10:00 should be booked, got %+v", s)
	}
	if s := slotByStart(t, slots, at(9, 30)); s.Available || s.Reason != ReasonBooked {
		t.Fatalf("09:30 hour-long slot overlaps 10:00 booking, got %+v", s)
	}
	if s := slotByStart(t, slots, at(9, 0)); !s.Available {
		t.Fatalf("09:00 should be free, got %+v", s)
	}
	if s := slotByStart(t, slots, at(11, 0)); !s.Available {
		t.Fatalf("11:00 should be free, got %+v", s)
	}
}

func TestEnumerateSlotsMarksPast(t *testing.T) {
	slots := EnumerateSlots(at(9, 0), at(12, 0), 30*time.Minute, 30*time.Minute, nil, at(10, 15))

	if s := slotByStart(t, slots, at(10, 0)); s.Available || s.Reason != ReasonPast {
		t.Fatalf("10:00 is before now, got %+v", s)
	}
	if s := slotByStart(t, slots, at(10, 30)); !s.Available {
		t.Fatalf("10:30 should be free, got %+v", s)
	}
}

func TestEnumerateSlotsMarksClosingOverrun(t *testing.T) {
	slots := EnumerateSlots(at(9, 0), at(11, 0), time.Hour, 30*time.Minute, nil, at(0, 0))

	// 10:30 + 1h runs past the 11:00 close.
	if s := slotByStart(t, slots, at(10, 30)); s.Available || s.Reason != ReasonClosing {
		t.Fatalf("10:30 should overrun closing, got %+v", s)
	}
	if s := slotByStart(t, slots, at(10, 0)); !s.Available {
		t.Fatalf("10:00 exactly fills to close and should be free, got %+v", s)
	}
}

func TestEnumerateSlotsAdjacentBookingDoesNotBlock(t *testing.T) {
	// Half-open intervals: a booking ending at 10:00 does not block a 10:00 start.
	busy := []Interval{{Start: at(9, 0), End: at(10, 0)}}
	slots := EnumerateSlots(at(9, 0), at(12, 0), time.Hour, time.Hour, busy, at(0, 0))

	if s := slotByStart(t, slots, at(10, 0)); !s.Available {
		t.Fatalf("back-to-back slot should be free, got %+v", s)
	}
}

func TestIntervalOverlaps(t *testing.T) {
	a := Interval{Start: at(10, 0), End: at(11, 0)}
	cases := []struct {
		name string
		b    Interval
		want bool
	}{
		{"identical", Interval{Start: at(10, 0), End: at(11, 0)}, true},
		{"straddles start", Interval{Start: at(9, 30), End: at(10, 30)}, true},
		{"contained", Interval{Start: at(10, 15), End: at(10, 45)}, true},
		{"touching before", Interval{Start: at(9, 0), End: at(10, 0)}, false},
		{"touching after", Interval{Start: at(11, 0), End: at(12, 0)}, false},
	}
	for _, tc := range cases {
		if got := a.Overlaps(tc.b); got != tc.want {
			t.Fatalf("%s: Overlaps = %v, want %v", tc.name, got, tc.want)
		}
	}
}
