package notify

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

type stubChannel struct {
	name  string
	err   error
	calls int
}

func (c *stubChannel) Name() string { return c.name }

func (c *stubChannel) Deliver(_ context.Context, _ Event, _ Snapshot) error {
	c.calls++
	return c.err
}

func testSnapshot() Snapshot {
	return Snapshot{
		BookingID:       "b-1",
		ProviderName:    "Ada",
		ProviderEmail:   "ada@example.com",
		ClientName:      "Lin",
		ClientEmail:     "lin@example.com",
		ServiceName:     "Cut",
		StartTime:       time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		DurationMinutes: 30,
	}
}

func TestFanOutReportsPerChannel(t *testing.T) {
	ok := &stubChannel{name: ChannelClientEmail}
	bad := &stubChannel{name: ChannelClientSMS, err: errors.New("gateway down")}
	d := NewFanOut(slog.Default(), ok, bad)

	results := d.Dispatch(context.Background(), EventBookingConfirmed, testSnapshot())
	if len(results) != 2 {
		t.Fatalf("expected 2 channel results, got %d", len(results))
	}
	if results[ChannelClientEmail] != nil {
		t.Fatalf("expected client_email success, got %v", results[ChannelClientEmail])
	}
	if results[ChannelClientSMS] == nil {
		t.Fatal("expected client_sms failure to be recorded")
	}
}

func TestFanOutFailureDoesNotStopOthers(t *testing.T) {
	first := &stubChannel{name: ChannelProviderEmail, err: errors.New("smtp refused")}
	second := &stubChannel{name: ChannelProviderSMS}
	d := NewFanOut(slog.Default(), first, second)

	d.Dispatch(context.Background(), EventBookingCancelled, testSnapshot())
	if second.calls != 1 {
		t.Fatalf("expected second channel delivery despite first failing, got %d calls", second.calls)
	}
}

func TestEmailChannelRequiresAddress(t *testing.T) {
	ch := NewClientEmailChannel(nil)
	snap := testSnapshot()
	snap.ClientEmail = ""
	if err := ch.Deliver(context.Background(), EventBookingConfirmed, snap); err == nil {
		t.Fatal("expected error for missing address")
	}
}
