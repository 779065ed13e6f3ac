package availability

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/chairtime/chairtime/internal/model"
)

type stubStore struct {
	rules map[time.Weekday]*model.WeeklyRule
	busy  []Interval
}

func (s *stubStore) WeeklyRule(_ context.Context, _ uuid.UUID, day time.Weekday) (*model.WeeklyRule, error) {
	return s.rules[day], nil
}

func (s *stubStore) ActiveIntervals(_ context.Context, _ uuid.UUID, _, _ time.Time) ([]Interval, error) {
	return s.busy, nil
}

func mondayRule() *model.WeeklyRule {
	return &model.WeeklyRule{DayOfWeek: time.Monday, StartTime: "09:00", EndTime: "17:00", IsAvailable: true}
}

func TestGenerateSlotsWorkingMonday(t *testing.T) {
	store := &stubStore{
		rules: map[time.Weekday]*model.WeeklyRule{time.Monday: mondayRule()},
		busy:  []Interval{{Start: at(10, 0), End: at(11, 0)}},
	}
	eng := NewEngineWithClock(store, func() time.Time { return at(0, 0) })

	slots, err := eng.GenerateSlots(context.Background(), uuid.New(), at(0, 0), time.Hour, 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateSlots: %v", err)
	}
	if len(slots) == 0 {
		t.Fatal("expected slots on a working Monday")
	}
	if s := slotByStart(t, slots, at(10, 0)); s.Available || s.Reason != ReasonBooked {
		t.Fatalf("10:00 should be booked, got %+v", s)
	}
	if s := slotByStart(t, slots, at(11, 0)); !s.Available {
		t.Fatalf("11:00 should be free, got %+v", s)
	}
}

func TestGenerateSlotsNoRuleIsEmptyNotError(t *testing.T) {
	eng := NewEngine(&stubStore{rules: map[time.Weekday]*model.WeeklyRule{}})

	slots, err := eng.GenerateSlots(context.Background(), uuid.New(), at(0, 0), time.Hour, 0)
	if err != nil {
		t.Fatalf("GenerateSlots: %v", err)
	}
	if slots == nil || len(slots) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", slots)
	}
}

func TestGenerateSlotsDayMarkedUnavailable(t *testing.T) {
	rule := mondayRule()
	rule.IsAvailable = false
	eng := NewEngine(&stubStore{rules: map[time.Weekday]*model.WeeklyRule{time.Monday: rule}})

	slots, err := eng.GenerateSlots(context.Background(), uuid.New(), at(0, 0), time.Hour, 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateSlots: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected no slots on an off day, got %d", len(slots))
	}
}

func TestGenerateSlotsRejectsNonPositiveDuration(t *testing.T) {
	eng := NewEngine(&stubStore{})
	if _, err := eng.GenerateSlots(context.Background(), uuid.New(), at(0, 0), 0, 0); err == nil {
		t.Fatal("expected error for zero duration")
	}
}

func TestWithinWorkingWindow(t *testing.T) {
	eng := NewEngine(&stubStore{rules: map[time.Weekday]*model.WeeklyRule{time.Monday: mondayRule()}})

	cases := []struct {
		name  string
		start time.Time
		want  bool
	}{
		{"inside the window", at(10, 0), true},
		{"exactly at opening", at(9, 0), true},
		{"ends exactly at closing", at(16, 0), true},
		{"before opening", at(8, 30), false},
		{"runs past closing", at(16, 30), false},
		{"day with no rule", at(10, 0).AddDate(0, 0, 6), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := eng.WithinWorkingWindow(context.Background(), uuid.New(), tc.start, time.Hour)
			if err != nil {
				t.Fatalf("WithinWorkingWindow: %v", err)
			}
			if got != tc.want {
				t.Fatalf("start %s: got %v, want %v", tc.start, got, tc.want)
			}
		})
	}
}

func TestWithinWorkingWindowDayMarkedUnavailable(t *testing.T) {
	rule := mondayRule()
	rule.IsAvailable = false
	eng := NewEngine(&stubStore{rules: map[time.Weekday]*model.WeeklyRule{time.Monday: rule}})

	got, err := eng.WithinWorkingWindow(context.Background(), uuid.New(), at(10, 0), time.Hour)
	if err != nil {
		t.Fatalf("WithinWorkingWindow: %v", err)
	}
	if got {
		t.Fatal("an off day must not accept appointments")
	}
}

func TestNextAvailableDateSkipsToFirstOpenDay(t *testing.T) {
	// Only Wednesdays are open.
	store := &stubStore{rules: map[time.Weekday]*model.WeeklyRule{
		time.Wednesday: {DayOfWeek: time.Wednesday, StartTime: "09:00", EndTime: "12:00", IsAvailable: true},
	}}
	eng := NewEngineWithClock(store, func() time.Time { return at(0, 0) })

	day, ok, err := eng.NextAvailableDate(context.Background(), uuid.New(), at(0, 0), time.Hour, 14)
	if err != nil {
		t.Fatalf("NextAvailableDate: %v", err)
	}
	if !ok {
		t.Fatal("expected an available date within 14 days")
	}
	if day.Weekday() != time.Wednesday {
		t.Fatalf("expected a Wednesday, got %s", day.Weekday())
	}
}

func TestNextAvailableDateNoneWithinHorizon(t *testing.T) {
	eng := NewEngine(&stubStore{rules: map[time.Weekday]*model.WeeklyRule{}})

	_, ok, err := eng.NextAvailableDate(context.Background(), uuid.New(), at(0, 0), time.Hour, 7)
	if err != nil {
		t.Fatalf("NextAvailableDate: %v", err)
	}
	if ok {
		t.Fatal("expected no available date for a ruleless provider")
	}
}
