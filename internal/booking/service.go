package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chairtime/chairtime/internal/fees"
	"github.com/chairtime/chairtime/internal/jobs"
	"github.com/chairtime/chairtime/internal/model"
	"github.com/chairtime/chairtime/internal/notify"
	"github.com/chairtime/chairtime/internal/outbox"
	"github.com/chairtime/chairtime/internal/payments"
	"github.com/chairtime/chairtime/internal/storage"
)

// CancelWindow is the minimum notice for a client cancellation.
const CancelWindow = 24 * time.Hour

// Reminder lead times. Each produces one job per booking, idempotent on
// (booking, channel, offset).
var reminderOffsets = []struct {
	Offset  time.Duration
	Channel string
}{
	{24 * time.Hour, notify.ChannelClientEmail},
	{2 * time.Hour, notify.ChannelClientSMS},
}

// Store is the transactional persistence contract. Each method commits or
// rolls back as a unit; the service never sees a transaction handle.
type Store interface {
	Reserve(ctx context.Context, p storage.ReserveParams) error
	UpdateStatus(ctx context.Context, id uuid.UUID, to, expected model.BookingStatus, expectedStart *time.Time, events []outbox.Event) (*model.Booking, error)
	Move(ctx context.Context, id uuid.UUID, newStart time.Time, events []outbox.Event, reminders []jobs.Job) (*model.Booking, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*model.Booking, error)
	FindByIntent(ctx context.Context, intentID string) (*model.Booking, error)
	ListForProvider(ctx context.Context, providerID uuid.UUID, from, to time.Time, limit int) ([]model.Booking, error)
	ListForClient(ctx context.Context, clientID uuid.UUID, limit int) ([]model.Booking, error)
}

// Directory resolves the parties referenced by a booking.
type Directory interface {
	GetProvider(ctx context.Context, id uuid.UUID) (*model.Provider, error)
	GetService(ctx context.Context, id uuid.UUID) (*model.Service, error)
	GetClient(ctx context.Context, id uuid.UUID) (*model.Client, error)
}

// Calendar checks a start time against the provider's weekly working
// windows. The storage layer re-checks interval overlap under the calendar
// lock; this guards the rule dimension overlap checks cannot see (a day
// with no rule, a start outside working hours).
type Calendar interface {
	WithinWorkingWindow(ctx context.Context, providerID uuid.UUID, start time.Time, duration time.Duration) (bool, error)
}

// Service drives the booking lifecycle. All collaborators are injected;
// notifications are dispatched only after the owning transaction commits
// and never affect the outcome of a transition.
type Service struct {
	store    Store
	dir      Directory
	calendar Calendar
	gateway  payments.Gateway
	notifier notify.Dispatcher
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(store Store, dir Directory, calendar Calendar, gateway payments.Gateway, notifier notify.Dispatcher, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		dir:      dir,
		calendar: calendar,
		gateway:  gateway,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock injects a deterministic clock for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateParams describes a paid booking request. StartTime is the UTC
// instant of the appointment.
type CreateParams struct {
	ProviderID uuid.UUID
	ClientID   uuid.UUID
	ServiceID  uuid.UUID
	StartTime  time.Time
	IntentID   string
	Notes      string
}

// Create books a confirmed appointment after verifying payment. The
// reservation is atomic: the calendar-day lock, the overlap re-check, the
// insert, the outbox events and the reminder jobs commit together.
// Replaying the same payment intent returns the original booking.
func (s *Service) Create(ctx context.Context, p CreateParams) (*model.Booking, error) {
	if err := s.validateCreate(p.ProviderID, p.ClientID, p.ServiceID, p.StartTime); err != nil {
		return nil, err
	}
	if p.IntentID == "" {
		return nil, &ValidationError{Field: "payment_intent_id", Reason: "required"}
	}

	intent, err := s.gateway.VerifyIntent(ctx, p.IntentID)
	if err != nil {
		return nil, &PaymentError{IntentID: p.IntentID, Err: err}
	}
	if !intent.Succeeded() {
		return nil, &PaymentError{IntentID: p.IntentID, Err: fmt.Errorf("intent status %q, want succeeded", intent.Status)}
	}

	provider, svc, client, err := s.resolveParties(ctx, p.ProviderID, p.ServiceID, p.ClientID)
	if err != nil {
		return nil, err
	}
	if err := s.checkWorkingWindow(ctx, p.ProviderID, p.StartTime.UTC(), svc.DurationMinutes); err != nil {
		return nil, err
	}

	breakdown := fees.Compute(svc.PriceCents)
	b := &model.Booking{
		ID:               uuid.New(),
		ProviderID:       p.ProviderID,
		ClientID:         p.ClientID,
		ServiceID:        p.ServiceID,
		StartTime:        p.StartTime.UTC(),
		DurationMinutes:  svc.DurationMinutes,
		Status:           model.StatusConfirmed,
		TotalCents:       svc.PriceCents,
		DepositCents:     depositFor(svc),
		PlatformFeeCents: breakdown.PlatformCents,
		PaymentIntentID:  p.IntentID,
		Notes:            p.Notes,
	}

	events := []outbox.Event{
		bookingEvent(outbox.TopicBookingCreated, b, nil),
		bookingEvent(outbox.TopicPaymentReceived, b, nil),
	}
	err = s.store.Reserve(ctx, storage.ReserveParams{
		Booking:   b,
		Events:    events,
		Reminders: s.reminderJobs(b, client),
	})
	if err != nil {
		// A replayed intent surfaces two ways. A replay that targets a new
		// slot reaches the insert and trips the unique constraint on
		// payment_intent_id. A replay that targets the original slot never
		// gets that far: the overlap re-check finds the booking the intent
		// already created and reports a conflict. Both resolve to the
		// existing booking, so on any conflict look the intent up before
		// declaring the slot taken.
		if storage.IsDuplicateIntent(err) || storage.IsConflict(err) {
			existing, ferr := s.store.FindByIntent(ctx, p.IntentID)
			if ferr == nil {
				return existing, nil
			}
			if !storage.IsNotFound(ferr) {
				return nil, infraErr("replay booking by intent", ferr)
			}
			if storage.IsConflict(err) {
				return nil, fmt.Errorf("%w: interval %s + %dm", ErrSlotUnavailable, b.StartTime.Format(time.RFC3339), b.DurationMinutes)
			}
		}
		return nil, infraErr("reserve booking", err)
	}

	s.dispatch(ctx, notify.EventBookingConfirmed, b, provider, svc, client)
	return b, nil
}

// CreateHoldParams describes an unpaid booking request awaiting provider
// approval.
type CreateHoldParams struct {
	ProviderID uuid.UUID
	ClientID   uuid.UUID
	ServiceID  uuid.UUID
	StartTime  time.Time
	Notes      string
}

// CreateHold reserves a pending booking without payment. The slot is held
// against concurrent writers exactly like a paid reservation.
func (s *Service) CreateHold(ctx context.Context, p CreateHoldParams) (*model.Booking, error) {
	if err := s.validateCreate(p.ProviderID, p.ClientID, p.ServiceID, p.StartTime); err != nil {
		return nil, err
	}
	provider, svc, client, err := s.resolveParties(ctx, p.ProviderID, p.ServiceID, p.ClientID)
	if err != nil {
		return nil, err
	}
	if err := s.checkWorkingWindow(ctx, p.ProviderID, p.StartTime.UTC(), svc.DurationMinutes); err != nil {
		return nil, err
	}

	breakdown := fees.Compute(svc.PriceCents)
	b := &model.Booking{
		ID:               uuid.New(),
		ProviderID:       p.ProviderID,
		ClientID:         p.ClientID,
		ServiceID:        p.ServiceID,
		StartTime:        p.StartTime.UTC(),
		DurationMinutes:  svc.DurationMinutes,
		Status:           model.StatusPending,
		TotalCents:       svc.PriceCents,
		DepositCents:     depositFor(svc),
		PlatformFeeCents: breakdown.PlatformCents,
		Notes:            p.Notes,
	}

	err = s.store.Reserve(ctx, storage.ReserveParams{
		Booking:   b,
		Events:    []outbox.Event{bookingEvent(outbox.TopicBookingCreated, b, nil)},
		Reminders: s.reminderJobs(b, client),
	})
	if err != nil {
		if storage.IsConflict(err) {
			return nil, fmt.Errorf("%w: interval %s + %dm", ErrSlotUnavailable, b.StartTime.Format(time.RFC3339), b.DurationMinutes)
		}
		return nil, infraErr("reserve hold", err)
	}

	s.dispatch(ctx, notify.EventBookingCreated, b, provider, svc, client)
	return b, nil
}

// Approve confirms a pending booking.
func (s *Service) Approve(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	b, err := s.transition(ctx, id, model.StatusConfirmed, model.StatusPending, nil,
		[]outbox.Event{bookingEventID(outbox.TopicBookingConfirmed, id)},
		"only pending bookings can be approved")
	if err != nil {
		return nil, err
	}
	s.dispatchFor(ctx, notify.EventBookingConfirmed, b)
	return b, nil
}

// Cancel cancels a pending or confirmed booking. Cancellation requires
// CancelWindow of notice before the scheduled start.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	b, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.Status.Active() {
		return nil, &PolicyViolationError{Rule: fmt.Sprintf("cannot cancel a %s booking", b.Status)}
	}
	if untilStart := b.StartTime.Sub(s.now()); untilStart < CancelWindow {
		return nil, cancellationWindowViolation(untilStart)
	}

	// The window check above ran against the start time we read. Pinning
	// that start time in the update keeps a concurrent reschedule from
	// letting the cancel commit against an appointment it was never
	// validated for.
	seenStart := b.StartTime
	updated, err := s.transition(ctx, id, model.StatusCancelled, b.Status, &seenStart,
		[]outbox.Event{bookingEventID(outbox.TopicBookingCancelled, id)},
		"booking changed while cancelling, re-fetch and retry")
	if err != nil {
		return nil, err
	}
	s.dispatchFor(ctx, notify.EventBookingCancelled, updated)
	return updated, nil
}

// Complete marks a confirmed booking as delivered. Allowed at or after the
// scheduled start, never before.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	b, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != model.StatusConfirmed {
		return nil, &PolicyViolationError{Rule: fmt.Sprintf("cannot complete a %s booking", b.Status)}
	}
	if s.now().Before(b.StartTime) {
		return nil, &PolicyViolationError{Rule: "cannot complete before the scheduled start"}
	}
	return s.transition(ctx, id, model.StatusCompleted, model.StatusConfirmed, nil, nil,
		"booking changed while completing, re-fetch and retry")
}

// RequestRefund flags an active booking for an operator-handled refund.
// There is no time restriction.
func (s *Service) RequestRefund(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	b, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.Status.Active() {
		return nil, &PolicyViolationError{Rule: fmt.Sprintf("cannot request a refund for a %s booking", b.Status)}
	}
	return s.transition(ctx, id, model.StatusRefundRequested, b.Status, nil, nil,
		"booking changed while requesting refund, re-fetch and retry")
}

// Reschedule moves an active booking to a new start time. The move is
// all-or-nothing: if the new interval is taken, the original booking is
// left untouched.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, newStart time.Time) (*model.Booking, error) {
	if !newStart.After(s.now()) {
		return nil, &ValidationError{Field: "start_time", Reason: "must be in the future"}
	}
	b, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.Status.Active() {
		return nil, &PolicyViolationError{Rule: fmt.Sprintf("cannot reschedule a %s booking", b.Status)}
	}
	if err := s.checkWorkingWindow(ctx, b.ProviderID, newStart.UTC(), b.DurationMinutes); err != nil {
		return nil, err
	}

	client, err := s.dir.GetClient(ctx, b.ClientID)
	if err != nil {
		return nil, infraErr("load client", err)
	}
	oldStart := b.StartTime
	moved := *b
	moved.StartTime = newStart.UTC()

	updated, err := s.store.Move(ctx, id, newStart.UTC(),
		[]outbox.Event{bookingEvent(outbox.TopicBookingRescheduled, &moved, &oldStart)},
		s.reminderJobs(&moved, client))
	if err != nil {
		if storage.IsConflict(err) {
			return nil, fmt.Errorf("%w: interval %s + %dm", ErrSlotUnavailable, newStart.UTC().Format(time.RFC3339), b.DurationMinutes)
		}
		if errors.Is(err, storage.ErrStatusChanged) {
			return nil, &PolicyViolationError{Rule: "booking changed while rescheduling, re-fetch and retry"}
		}
		return nil, infraErr("move booking", err)
	}

	s.dispatchFor(ctx, notify.EventBookingRescheduled, updated)
	return updated, nil
}

// Delete permanently removes a booking. Only cancelled bookings qualify.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	err := s.store.Delete(ctx, id)
	switch {
	case err == nil:
		return nil
	case storage.IsNotFound(err):
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	case errors.Is(err, storage.ErrStatusChanged):
		return &PolicyViolationError{Rule: "only cancelled bookings can be deleted"}
	default:
		return infraErr("delete booking", err)
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	return s.get(ctx, id)
}

func (s *Service) ListForProvider(ctx context.Context, providerID uuid.UUID, from, to time.Time, limit int) ([]model.Booking, error) {
	out, err := s.store.ListForProvider(ctx, providerID, from, to, limit)
	if err != nil {
		return nil, infraErr("list provider bookings", err)
	}
	return out, nil
}

func (s *Service) ListForClient(ctx context.Context, clientID uuid.UUID, limit int) ([]model.Booking, error) {
	out, err := s.store.ListForClient(ctx, clientID, limit)
	if err != nil {
		return nil, infraErr("list client bookings", err)
	}
	return out, nil
}

func (s *Service) get(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, infraErr("load booking", err)
	}
	return b, nil
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to, expected model.BookingStatus, expectedStart *time.Time, events []outbox.Event, raceRule string) (*model.Booking, error) {
	b, err := s.store.UpdateStatus(ctx, id, to, expected, expectedStart, events)
	switch {
	case err == nil:
		return b, nil
	case storage.IsNotFound(err):
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	case errors.Is(err, storage.ErrStatusChanged):
		return nil, &PolicyViolationError{Rule: raceRule}
	default:
		return nil, infraErr("update booking status", err)
	}
}

// checkWorkingWindow rejects starts on days the provider has no rule for
// and starts whose appointment would run outside the rule's window.
func (s *Service) checkWorkingWindow(ctx context.Context, providerID uuid.UUID, start time.Time, durationMinutes int) error {
	open, err := s.calendar.WithinWorkingWindow(ctx, providerID, start, time.Duration(durationMinutes)*time.Minute)
	if err != nil {
		return infraErr("check working window", err)
	}
	if !open {
		return fmt.Errorf("%w: %s is outside the provider's working hours", ErrSlotUnavailable, start.Format(time.RFC3339))
	}
	return nil
}

func (s *Service) validateCreate(providerID, clientID, serviceID uuid.UUID, start time.Time) error {
	switch {
	case providerID == uuid.Nil:
		return &ValidationError{Field: "provider_id", Reason: "required"}
	case clientID == uuid.Nil:
		return &ValidationError{Field: "client_id", Reason: "required"}
	case serviceID == uuid.Nil:
		return &ValidationError{Field: "service_id", Reason: "required"}
	case !start.After(s.now()):
		return &ValidationError{Field: "start_time", Reason: "must be in the future"}
	}
	return nil
}

func (s *Service) resolveParties(ctx context.Context, providerID, serviceID, clientID uuid.UUID) (*model.Provider, *model.Service, *model.Client, error) {
	provider, err := s.dir.GetProvider(ctx, providerID)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, nil, nil, &ValidationError{Field: "provider_id", Reason: "unknown provider"}
		}
		return nil, nil, nil, infraErr("load provider", err)
	}
	if !provider.IsActive {
		return nil, nil, nil, &ValidationError{Field: "provider_id", Reason: "provider is inactive"}
	}

	svc, err := s.dir.GetService(ctx, serviceID)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, nil, nil, &ValidationError{Field: "service_id", Reason: "unknown service"}
		}
		return nil, nil, nil, infraErr("load service", err)
	}
	if svc.ProviderID != providerID {
		return nil, nil, nil, &ValidationError{Field: "service_id", Reason: "service belongs to another provider"}
	}
	if !svc.IsActive {
		return nil, nil, nil, &ValidationError{Field: "service_id", Reason: "service is inactive"}
	}

	client, err := s.dir.GetClient(ctx, clientID)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, nil, nil, &ValidationError{Field: "client_id", Reason: "unknown client"}
		}
		return nil, nil, nil, infraErr("load client", err)
	}
	return provider, svc, client, nil
}

// reminderJobs derives one job per configured lead time, skipping leads
// already in the past.
func (s *Service) reminderJobs(b *model.Booking, client *model.Client) []jobs.Job {
	now := s.now()
	out := make([]jobs.Job, 0, len(reminderOffsets))
	for _, r := range reminderOffsets {
		remindAt := b.StartTime.Add(-r.Offset)
		if !remindAt.After(now) {
			continue
		}
		recipient := client.Email
		if r.Channel == notify.ChannelClientSMS {
			if client.Phone == "" {
				continue
			}
			recipient = client.Phone
		}
		out = append(out, jobs.Job{
			IdempotencyKey: fmt.Sprintf("%s:%s:%s", b.ID, r.Channel, r.Offset),
			BookingID:      b.ID.String(),
			ProviderID:     b.ProviderID.String(),
			Channel:        r.Channel,
			Recipient:      recipient,
			RemindAt:       remindAt,
		})
	}
	return out
}

func (s *Service) dispatch(ctx context.Context, event notify.Event, b *model.Booking, provider *model.Provider, svc *model.Service, client *model.Client) {
	s.notifier.Dispatch(ctx, event, notify.Snapshot{
		BookingID:       b.ID.String(),
		ProviderName:    provider.Name,
		ProviderEmail:   provider.Email,
		ProviderPhone:   provider.Phone,
		ClientName:      client.Name,
		ClientEmail:     client.Email,
		ClientPhone:     client.Phone,
		ServiceName:     svc.Name,
		StartTime:       b.StartTime,
		DurationMinutes: b.DurationMinutes,
		TotalCents:      b.TotalCents,
	})
}

// dispatchFor reloads the booking's parties for transitions that start from
// an id only. Lookup failures downgrade to a log line; the transition has
// already committed.
func (s *Service) dispatchFor(ctx context.Context, event notify.Event, b *model.Booking) {
	provider, err := s.dir.GetProvider(ctx, b.ProviderID)
	if err != nil {
		s.logger.Error("skipping notification, provider lookup failed", "booking_id", b.ID, "error", err)
		return
	}
	svc, err := s.dir.GetService(ctx, b.ServiceID)
	if err != nil {
		s.logger.Error("skipping notification, service lookup failed", "booking_id", b.ID, "error", err)
		return
	}
	client, err := s.dir.GetClient(ctx, b.ClientID)
	if err != nil {
		s.logger.Error("skipping notification, client lookup failed", "booking_id", b.ID, "error", err)
		return
	}
	s.dispatch(ctx, event, b, provider, svc, client)
}

func depositFor(svc *model.Service) int64 {
	if svc.DepositRequired {
		return svc.DepositCents
	}
	return 0
}

type eventPayload struct {
	BookingID       string     `json:"booking_id"`
	ProviderID      string     `json:"provider_id"`
	ClientID        string     `json:"client_id"`
	ServiceID       string     `json:"service_id"`
	StartTime       time.Time  `json:"start_time"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          string     `json:"status"`
	TotalCents      int64      `json:"total_cents"`
	PaymentIntentID string     `json:"payment_intent_id,omitempty"`
	OldStartTime    *time.Time `json:"old_start_time,omitempty"`
}

func bookingEvent(topic string, b *model.Booking, oldStart *time.Time) outbox.Event {
	payload, _ := json.Marshal(eventPayload{
		BookingID:       b.ID.String(),
		ProviderID:      b.ProviderID.String(),
		ClientID:        b.ClientID.String(),
		ServiceID:       b.ServiceID.String(),
		StartTime:       b.StartTime,
		DurationMinutes: b.DurationMinutes,
		Status:          string(b.Status),
		TotalCents:      b.TotalCents,
		PaymentIntentID: b.PaymentIntentID,
		OldStartTime:    oldStart,
	})
	return outbox.Event{
		AggregateType: "booking",
		AggregateID:   b.ID.String(),
		EventType:     topic,
		Payload:       payload,
	}
}

// bookingEventID is the thin envelope for transitions where the handler
// only needs the id; consumers re-read current state.
func bookingEventID(topic string, id uuid.UUID) outbox.Event {
	payload, _ := json.Marshal(map[string]string{"booking_id": id.String()})
	return outbox.Event{
		AggregateType: "booking",
		AggregateID:   id.String(),
		EventType:     topic,
		Payload:       payload,
	}
}
