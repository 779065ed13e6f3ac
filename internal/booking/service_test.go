package booking

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/chairtime/chairtime/internal/jobs"
	"github.com/chairtime/chairtime/internal/model"
	"github.com/chairtime/chairtime/internal/notify"
	"github.com/chairtime/chairtime/internal/outbox"
	"github.com/chairtime/chairtime/internal/payments"
	"github.com/chairtime/chairtime/internal/storage"
)

var (
	testNow        = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	testProviderID = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	testClientID   = uuid.MustParse("22222222-2222-2222-2222-222222222222")
	testServiceID  = uuid.MustParse("33333333-3333-3333-3333-333333333333")
)

type stubStore struct {
	reserveErr  error
	reserved    *storage.ReserveParams
	existing    []*model.Booking
	booking     *model.Booking
	stale       *model.Booking
	updateErr   error
	moveErr     error
	moved       *model.Booking
	deleteErr   error
	events      []outbox.Event
	updateCalls int
}

// Reserve mirrors the repository's ordering under the calendar lock: the
// overlap re-check runs before the insert, so a conflicting row reports the
// slot taken even when it carries the same payment intent, and the unique
// violation on payment_intent_id only fires for non-overlapping rows.
func (s *stubStore) Reserve(_ context.Context, p storage.ReserveParams) error {
	if s.reserveErr != nil {
		return s.reserveErr
	}
	b := p.Booking
	for _, e := range s.existing {
		if e.Status.Active() && e.StartTime.Before(b.EndTime()) && b.StartTime.Before(e.EndTime()) {
			return storage.ErrSlotTaken
		}
	}
	if b.PaymentIntentID != "" {
		for _, e := range s.existing {
			if e.PaymentIntentID == b.PaymentIntentID {
				return &pgconn.PgError{Code: "23505", ConstraintName: "bookings_payment_intent_id_key"}
			}
		}
	}
	s.reserved = &p
	s.existing = append(s.existing, b)
	s.events = append(s.events, p.Events...)
	return nil
}

func (s *stubStore) UpdateStatus(_ context.Context, _ uuid.UUID, to, expected model.BookingStatus, expectedStart *time.Time, events []outbox.Event) (*model.Booking, error) {
	s.updateCalls++
	if s.updateErr != nil {
		return s.booking, s.updateErr
	}
	if s.booking == nil {
		return nil, pgx.ErrNoRows
	}
	if s.booking.Status != expected {
		return s.booking, storage.ErrStatusChanged
	}
	if expectedStart != nil && !s.booking.StartTime.Equal(*expectedStart) {
		return s.booking, storage.ErrStatusChanged
	}
	s.booking.Status = to
	s.events = append(s.events, events...)
	return s.booking, nil
}

func (s *stubStore) Move(_ context.Context, _ uuid.UUID, newStart time.Time, events []outbox.Event, _ []jobs.Job) (*model.Booking, error) {
	if s.moveErr != nil {
		return nil, s.moveErr
	}
	moved := *s.booking
	moved.StartTime = newStart
	s.moved = &moved
	s.events = append(s.events, events...)
	return &moved, nil
}

func (s *stubStore) Delete(_ context.Context, _ uuid.UUID) error { return s.deleteErr }

// Get serves the stale snapshot when one is set, modelling a read that a
// concurrent writer has since overtaken.
func (s *stubStore) Get(_ context.Context, _ uuid.UUID) (*model.Booking, error) {
	if s.stale != nil {
		return s.stale, nil
	}
	if s.booking == nil {
		return nil, pgx.ErrNoRows
	}
	return s.booking, nil
}

func (s *stubStore) FindByIntent(_ context.Context, intentID string) (*model.Booking, error) {
	for _, e := range s.existing {
		if e.PaymentIntentID != "" && e.PaymentIntentID == intentID {
			return e, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *stubStore) ListForProvider(_ context.Context, _ uuid.UUID, _, _ time.Time, _ int) ([]model.Booking, error) {
	return nil, nil
}

func (s *stubStore) ListForClient(_ context.Context, _ uuid.UUID, _ int) ([]model.Booking, error) {
	return nil, nil
}

type stubDirectory struct{}

func (stubDirectory) GetProvider(_ context.Context, id uuid.UUID) (*model.Provider, error) {
	return &model.Provider{ID: id, Name: "Ada", Email: "ada@example.com", Phone: "+100", Timezone: "UTC", IsActive: true}, nil
}

func (stubDirectory) GetService(_ context.Context, id uuid.UUID) (*model.Service, error) {
	return &model.Service{
		ID: id, ProviderID: testProviderID, Name: "Cut",
		DurationMinutes: 60, PriceCents: 10000, IsActive: true,
	}, nil
}

func (stubDirectory) GetClient(_ context.Context, id uuid.UUID) (*model.Client, error) {
	return &model.Client{ID: id, Name: "Lin", Email: "lin@example.com", Phone: "+200"}, nil
}

type stubCalendar struct {
	closed bool
	err    error
}

func (c *stubCalendar) WithinWorkingWindow(_ context.Context, _ uuid.UUID, _ time.Time, _ time.Duration) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	return !c.closed, nil
}

type stubGateway struct {
	status string
	err    error
}

func (g *stubGateway) CreateIntent(_ context.Context, p payments.CreateIntentParams) (*payments.Intent, error) {
	return &payments.Intent{ID: "pi_new", ClientSecret: "sec", Status: "requires_payment_method", AmountCents: p.AmountCents}, nil
}

func (g *stubGateway) VerifyIntent(_ context.Context, id string) (*payments.Intent, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &payments.Intent{ID: id, Status: g.status}, nil
}

type recordingDispatcher struct {
	events []notify.Event
	fail   bool
}

func (d *recordingDispatcher) Dispatch(_ context.Context, event notify.Event, _ notify.Snapshot) map[string]error {
	d.events = append(d.events, event)
	if d.fail {
		return map[string]error{notify.ChannelClientEmail: errors.New("smtp down")}
	}
	return map[string]error{notify.ChannelClientEmail: nil}
}

func newTestService(store *stubStore, gw *stubGateway, d notify.Dispatcher) *Service {
	return newCalendarService(store, &stubCalendar{}, gw, d)
}

func newCalendarService(store *stubStore, cal Calendar, gw *stubGateway, d notify.Dispatcher) *Service {
	if gw == nil {
		gw = &stubGateway{status: "succeeded"}
	}
	if d == nil {
		d = notify.Noop{}
	}
	svc := NewService(store, stubDirectory{}, cal, gw, d, slog.Default())
	return svc.WithClock(func() time.Time { return testNow })
}

func createParams(start time.Time) CreateParams {
	return CreateParams{
		ProviderID: testProviderID,
		ClientID:   testClientID,
		ServiceID:  testServiceID,
		StartTime:  start,
		IntentID:   "pi_1",
	}
}

func confirmedBooking(start time.Time) *model.Booking {
	return &model.Booking{
		ID:              uuid.New(),
		ProviderID:      testProviderID,
		ClientID:        testClientID,
		ServiceID:       testServiceID,
		StartTime:       start,
		DurationMinutes: 60,
		Status:          model.StatusConfirmed,
		TotalCents:      10000,
	}
}

func TestCreateConfirmedWithFeesAndEvents(t *testing.T) {
	store := &stubStore{}
	svc := newTestService(store, nil, nil)

	b, err := svc.Create(context.Background(), createParams(testNow.Add(48*time.Hour)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.Status != model.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", b.Status)
	}
	if b.PlatformFeeCents != 100 {
		t.Fatalf("expected platform fee 100 on 10000, got %d", b.PlatformFeeCents)
	}
	var topics []string
	for _, e := range store.events {
		topics = append(topics, e.EventType)
	}
	if len(topics) != 2 || topics[0] != outbox.TopicBookingCreated || topics[1] != outbox.TopicPaymentReceived {
		t.Fatalf("unexpected outbox topics %v", topics)
	}
	if len(store.reserved.Reminders) != 2 {
		t.Fatalf("expected 2 reminder jobs, got %d", len(store.reserved.Reminders))
	}
}

func TestCreateRejectsUnconfirmedIntent(t *testing.T) {
	svc := newTestService(&stubStore{}, &stubGateway{status: "requires_payment_method"}, nil)

	_, err := svc.Create(context.Background(), createParams(testNow.Add(48*time.Hour)))
	if !errors.Is(err, ErrPayment) {
		t.Fatalf("expected ErrPayment, got %v", err)
	}
}

func TestCreateReplaysIntentAtNewSlot(t *testing.T) {
	// The intent already booked 48h out; the replay asks for 72h out. No
	// overlap, so the unique constraint on payment_intent_id is what fires.
	existing := confirmedBooking(testNow.Add(48 * time.Hour))
	existing.PaymentIntentID = "pi_1"
	store := &stubStore{existing: []*model.Booking{existing}}
	svc := newTestService(store, nil, nil)

	p := createParams(testNow.Add(72 * time.Hour))
	b, err := svc.Create(context.Background(), p)
	if err != nil {
		t.Fatalf("replay should succeed, got %v", err)
	}
	if b.ID != existing.ID {
		t.Fatalf("expected the original booking back, got %s", b.ID)
	}
}

func TestCreateReplaysIntentAtOriginalSlot(t *testing.T) {
	// The replay asks for the exact slot the intent already booked. The
	// overlap re-check trips on the original row before the insert can
	// reach the unique constraint, so the conflict path must recognize the
	// intent instead of reporting the slot unavailable.
	start := testNow.Add(48 * time.Hour)
	existing := confirmedBooking(start)
	existing.PaymentIntentID = "pi_1"
	store := &stubStore{existing: []*model.Booking{existing}}
	svc := newTestService(store, nil, nil)

	b, err := svc.Create(context.Background(), createParams(start))
	if err != nil {
		t.Fatalf("same-slot replay should return the original booking, got %v", err)
	}
	if b.ID != existing.ID {
		t.Fatalf("expected the original booking back, got %s", b.ID)
	}
	if len(store.existing) != 1 {
		t.Fatalf("replay must not insert a second booking, have %d", len(store.existing))
	}
}

func TestCreateMapsOverlapToSlotUnavailable(t *testing.T) {
	// Same slot, someone else's intent: a real conflict.
	existing := confirmedBooking(testNow.Add(48 * time.Hour))
	existing.PaymentIntentID = "pi_other"
	store := &stubStore{existing: []*model.Booking{existing}}
	svc := newTestService(store, nil, nil)

	_, err := svc.Create(context.Background(), createParams(testNow.Add(48*time.Hour)))
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
}

func TestCreateOutsideWorkingHoursIsSlotUnavailable(t *testing.T) {
	store := &stubStore{}
	svc := newCalendarService(store, &stubCalendar{closed: true}, nil, nil)

	_, err := svc.Create(context.Background(), createParams(testNow.Add(48*time.Hour)))
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
	if store.reserved != nil {
		t.Fatal("no reservation may happen outside working hours")
	}
}

func TestCreateRejectsPastStart(t *testing.T) {
	svc := newTestService(&stubStore{}, nil, nil)

	_, err := svc.Create(context.Background(), createParams(testNow.Add(-time.Hour)))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestNotificationFailureDoesNotFailCreate(t *testing.T) {
	d := &recordingDispatcher{fail: true}
	svc := newTestService(&stubStore{}, nil, d)

	if _, err := svc.Create(context.Background(), createParams(testNow.Add(48*time.Hour))); err != nil {
		t.Fatalf("notification failure must not fail the booking: %v", err)
	}
	if len(d.events) != 1 || d.events[0] != notify.EventBookingConfirmed {
		t.Fatalf("expected one booking_confirmed dispatch, got %v", d.events)
	}
}

func TestCancelInsideWindowIsPolicyViolation(t *testing.T) {
	store := &stubStore{booking: confirmedBooking(testNow.Add(10 * time.Hour))}
	svc := newTestService(store, nil, nil)

	_, err := svc.Cancel(context.Background(), store.booking.ID)
	if !errors.Is(err, ErrPolicyViolation) {
		t.Fatalf("expected ErrPolicyViolation, got %v", err)
	}
	var pv *PolicyViolationError
	if !errors.As(err, &pv) {
		t.Fatalf("expected PolicyViolationError, got %T", err)
	}
	if pv.HoursRemaining < 9.9 || pv.HoursRemaining > 10.1 {
		t.Fatalf("expected ~10 hours remaining, got %.2f", pv.HoursRemaining)
	}
	if store.updateCalls != 0 {
		t.Fatal("no status update may happen inside the window")
	}
}

func TestCancelOutsideWindowSucceeds(t *testing.T) {
	store := &stubStore{booking: confirmedBooking(testNow.Add(30 * time.Hour))}
	d := &recordingDispatcher{}
	svc := newTestService(store, nil, d)

	b, err := svc.Cancel(context.Background(), store.booking.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if b.Status != model.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", b.Status)
	}
	if len(store.events) != 1 || store.events[0].EventType != outbox.TopicBookingCancelled {
		t.Fatalf("expected booking_cancelled event, got %v", store.events)
	}
	if len(d.events) != 1 || d.events[0] != notify.EventBookingCancelled {
		t.Fatalf("expected cancelled notification, got %v", d.events)
	}
}

func TestCancelRacingRescheduleIsRejected(t *testing.T) {
	// The cancel read a row 30h out and passed the notice check, but a
	// concurrent reschedule has since moved the appointment to 10h out.
	// The start-time guard in the update must reject the stale decision.
	fresh := confirmedBooking(testNow.Add(10 * time.Hour))
	staleView := *fresh
	staleView.StartTime = testNow.Add(30 * time.Hour)
	store := &stubStore{booking: fresh, stale: &staleView}
	svc := newTestService(store, nil, nil)

	_, err := svc.Cancel(context.Background(), fresh.ID)
	if !errors.Is(err, ErrPolicyViolation) {
		t.Fatalf("expected ErrPolicyViolation, got %v", err)
	}
	if fresh.Status != model.StatusConfirmed {
		t.Fatalf("stale cancel must not commit, booking is %s", fresh.Status)
	}
}

func TestCompleteBeforeStartIsPolicyViolation(t *testing.T) {
	store := &stubStore{booking: confirmedBooking(testNow.Add(time.Hour))}
	svc := newTestService(store, nil, nil)

	_, err := svc.Complete(context.Background(), store.booking.ID)
	if !errors.Is(err, ErrPolicyViolation) {
		t.Fatalf("expected ErrPolicyViolation, got %v", err)
	}
}

func TestCompleteAtStartSucceeds(t *testing.T) {
	store := &stubStore{booking: confirmedBooking(testNow)}
	svc := newTestService(store, nil, nil)

	b, err := svc.Complete(context.Background(), store.booking.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if b.Status != model.StatusCompleted {
		t.Fatalf("expected completed, got %s", b.Status)
	}
}

func TestApproveRequiresPending(t *testing.T) {
	store := &stubStore{booking: confirmedBooking(testNow.Add(48 * time.Hour))}
	svc := newTestService(store, nil, nil)

	_, err := svc.Approve(context.Background(), store.booking.ID)
	if !errors.Is(err, ErrPolicyViolation) {
		t.Fatalf("expected ErrPolicyViolation for non-pending approve, got %v", err)
	}
}

func TestRescheduleConflictLeavesOriginal(t *testing.T) {
	original := confirmedBooking(testNow.Add(48 * time.Hour))
	store := &stubStore{booking: original, moveErr: storage.ErrSlotTaken}
	svc := newTestService(store, nil, nil)

	_, err := svc.Reschedule(context.Background(), original.ID, testNow.Add(72*time.Hour))
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
	if !original.StartTime.Equal(testNow.Add(48 * time.Hour)) {
		t.Fatal("failed reschedule must not touch the original booking")
	}
}

func TestRescheduleOutsideWorkingHoursIsSlotUnavailable(t *testing.T) {
	original := confirmedBooking(testNow.Add(48 * time.Hour))
	store := &stubStore{booking: original}
	svc := newCalendarService(store, &stubCalendar{closed: true}, nil, nil)

	_, err := svc.Reschedule(context.Background(), original.ID, testNow.Add(72*time.Hour))
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
	if store.moved != nil {
		t.Fatal("no move may happen outside working hours")
	}
	if !original.StartTime.Equal(testNow.Add(48 * time.Hour)) {
		t.Fatal("rejected reschedule must not touch the original booking")
	}
}

func TestRescheduleEmitsRescheduledEvent(t *testing.T) {
	original := confirmedBooking(testNow.Add(48 * time.Hour))
	store := &stubStore{booking: original}
	d := &recordingDispatcher{}
	svc := newTestService(store, nil, d)

	moved, err := svc.Reschedule(context.Background(), original.ID, testNow.Add(72*time.Hour))
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if !moved.StartTime.Equal(testNow.Add(72 * time.Hour)) {
		t.Fatalf("expected new start, got %s", moved.StartTime)
	}
	if len(store.events) != 1 || store.events[0].EventType != outbox.TopicBookingRescheduled {
		t.Fatalf("expected booking_rescheduled event, got %v", store.events)
	}
	if len(d.events) != 1 || d.events[0] != notify.EventBookingRescheduled {
		t.Fatalf("expected rescheduled notification, got %v", d.events)
	}
}

func TestDeleteOnlyFromCancelled(t *testing.T) {
	svc := newTestService(&stubStore{deleteErr: storage.ErrStatusChanged}, nil, nil)

	err := svc.Delete(context.Background(), uuid.New())
	if !errors.Is(err, ErrPolicyViolation) {
		t.Fatalf("expected ErrPolicyViolation, got %v", err)
	}
}

func TestGetUnknownBookingIsNotFound(t *testing.T) {
	svc := newTestService(&stubStore{}, nil, nil)

	_, err := svc.Get(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReminderJobsSkipPastOffsets(t *testing.T) {
	store := &stubStore{}
	svc := newTestService(store, nil, nil)

	// 12h out: the 24h email lead is already past, the 2h SMS lead is not.
	_, err := svc.Create(context.Background(), createParams(testNow.Add(12*time.Hour)))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(store.reserved.Reminders) != 1 {
		t.Fatalf("expected 1 reminder job, got %d", len(store.reserved.Reminders))
	}
	if store.reserved.Reminders[0].Channel != notify.ChannelClientSMS {
		t.Fatalf("expected the SMS reminder to survive, got %s", store.reserved.Reminders[0].Channel)
	}
}
