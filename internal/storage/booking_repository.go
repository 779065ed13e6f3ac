package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/chairtime/chairtime/internal/availability"
	"github.com/chairtime/chairtime/internal/jobs"
	"github.com/chairtime/chairtime/internal/model"
	"github.com/chairtime/chairtime/internal/outbox"
	"github.com/chairtime/chairtime/libs/db"
)

// ErrStatusChanged is returned when a guarded update finds the booking in a
// different status than the caller observed.
var ErrStatusChanged = errors.New("booking status changed concurrently")

// ErrSlotTaken is returned when the overlap re-check under the calendar lock
// finds a competing active booking.
var ErrSlotTaken = errors.New("slot already booked")

// querier is the slice of pgxpool the repository uses. Production hands in
// *db.Pool; tests hand in a scripted implementation.
type querier interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// BookingRepository owns the bookings table plus the outbox events and
// reminder jobs written alongside each mutation. Every exported mutation is
// a single transaction.
type BookingRepository struct {
	pool      querier
	events    *outbox.Repository
	reminders *jobs.Repository
}

func NewBookingRepository(pool *db.Pool, events *outbox.Repository, reminders *jobs.Repository) *BookingRepository {
	return &BookingRepository{pool: pool, events: events, reminders: reminders}
}

// ReserveParams carries everything a reservation commits atomically: the row,
// its lifecycle events, and the reminder jobs derived from its start time.
type ReserveParams struct {
	Booking   *model.Booking
	Events    []outbox.Event
	Reminders []jobs.Job
}

// Reserve inserts a booking if and only if its interval is still free.
// The per-provider, per-date advisory lock serializes competing requests so
// the overlap re-check and the insert are atomic; the exclusion constraint
// on the table is the backstop if anything bypasses the lock.
func (r *BookingRepository) Reserve(ctx context.Context, p ReserveParams) error {
	b := p.Booking
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockCalendarDay(ctx, tx, b.ProviderID, b.Date()); err != nil {
		return err
	}

	free, err := intervalFree(ctx, tx, b.ProviderID, uuid.Nil, b.StartTime, b.EndTime())
	if err != nil {
		return err
	}
	if !free {
		return ErrSlotTaken
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO bookings
			(id, provider_id, client_id, service_id, start_time, duration_minutes, status,
			 total_cents, deposit_cents, platform_fee_cents, payment_intent_id, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12)
		RETURNING created_at, updated_at
	`, b.ID, b.ProviderID, b.ClientID, b.ServiceID, b.StartTime.UTC(), b.DurationMinutes, b.Status,
		b.TotalCents, b.DepositCents, b.PlatformFeeCents, b.PaymentIntentID, b.Notes,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return err
	}

	for _, evt := range p.Events {
		if err := r.events.Insert(ctx, tx, evt); err != nil {
			return err
		}
	}
	for _, job := range p.Reminders {
		if err := r.reminders.Insert(ctx, tx, job); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// UpdateStatus moves a booking to a new status, guarded by the status the
// caller last observed and, when expectedStart is non-nil, by the start time
// it observed. The start guard protects decisions made against the old row:
// a cancel validated against a start 25 hours out must not commit after a
// concurrent reschedule pulled the appointment inside the notice window.
// On a guard miss the current row is returned with ErrStatusChanged so
// callers can report what they actually raced with.
func (r *BookingRepository) UpdateStatus(ctx context.Context, id uuid.UUID, to, expected model.BookingStatus, expectedStart *time.Time, events []outbox.Event) (*model.Booking, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b, err := getForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != expected {
		return b, ErrStatusChanged
	}
	if expectedStart != nil && !b.StartTime.Equal(*expectedStart) {
		return b, ErrStatusChanged
	}

	err = tx.QueryRow(ctx, `
		UPDATE bookings SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, id, to).Scan(&b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.Status = to

	for _, evt := range events {
		if err := r.events.Insert(ctx, tx, evt); err != nil {
			return nil, err
		}
	}
	if to == model.StatusCancelled {
		if err := r.reminders.CancelForBooking(ctx, tx, id.String()); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// Move reschedules a booking to a new start time. Both the old and the new
// calendar dates are locked in sorted order so concurrent moves cannot
// deadlock, the target interval is re-checked excluding the booking itself,
// and the reminder jobs are rebuilt for the new time. A failed move leaves
// the row untouched.
func (r *BookingRepository) Move(ctx context.Context, id uuid.UUID, newStart time.Time, events []outbox.Event, reminders []jobs.Job) (*model.Booking, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b, err := getForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !b.Status.Active() {
		return b, ErrStatusChanged
	}

	dates := []string{b.Date(), newStart.UTC().Format("2006-01-02")}
	sort.Strings(dates)
	for i, date := range dates {
		if i > 0 && date == dates[i-1] {
			continue
		}
		if err := lockCalendarDay(ctx, tx, b.ProviderID, date); err != nil {
			return nil, err
		}
	}

	newEnd := newStart.Add(time.Duration(b.DurationMinutes) * time.Minute)
	free, err := intervalFree(ctx, tx, b.ProviderID, b.ID, newStart, newEnd)
	if err != nil {
		return nil, err
	}
	if !free {
		return nil, ErrSlotTaken
	}

	err = tx.QueryRow(ctx, `
		UPDATE bookings SET start_time = $2, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, id, newStart.UTC()).Scan(&b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.StartTime = newStart.UTC()

	for _, evt := range events {
		if err := r.events.Insert(ctx, tx, evt); err != nil {
			return nil, err
		}
	}
	if err := r.reminders.CancelForBooking(ctx, tx, id.String()); err != nil {
		return nil, err
	}
	for _, job := range reminders {
		if err := r.reminders.Insert(ctx, tx, job); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// Delete removes a booking. Only cancelled bookings may be deleted; the
// status is re-checked under FOR UPDATE.
func (r *BookingRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b, err := getForUpdate(ctx, tx, id)
	if err != nil {
		return err
	}
	if b.Status != model.StatusCancelled {
		return ErrStatusChanged
	}
	if _, err := tx.Exec(ctx, `DELETE FROM bookings WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *BookingRepository) Get(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	return scanBooking(r.pool.QueryRow(ctx, bookingSelect+` WHERE id = $1`, id))
}

// FindByIntent looks a booking up by its payment intent. Used to replay a
// create request idempotently after the unique constraint fires.
func (r *BookingRepository) FindByIntent(ctx context.Context, intentID string) (*model.Booking, error) {
	return scanBooking(r.pool.QueryRow(ctx, bookingSelect+` WHERE payment_intent_id = $1`, intentID))
}

func (r *BookingRepository) ListForProvider(ctx context.Context, providerID uuid.UUID, from, to time.Time, limit int) ([]model.Booking, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, bookingSelect+`
		WHERE provider_id = $1 AND start_time >= $2 AND start_time < $3
		ORDER BY start_time ASC
		LIMIT $4
	`, providerID, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *BookingRepository) ListForClient(ctx context.Context, clientID uuid.UUID, limit int) ([]model.Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, bookingSelect+`
		WHERE client_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, clientID, limit)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

// WeeklyRule implements availability.Store.
func (r *BookingRepository) WeeklyRule(ctx context.Context, providerID uuid.UUID, day time.Weekday) (*model.WeeklyRule, error) {
	var rule model.WeeklyRule
	var dow int
	err := r.pool.QueryRow(ctx, `
		SELECT provider_id, day_of_week, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'), is_available
		FROM weekly_rules
		WHERE provider_id = $1 AND day_of_week = $2
	`, providerID, int(day)).Scan(&rule.ProviderID, &dow, &rule.StartTime, &rule.EndTime, &rule.IsAvailable)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rule.DayOfWeek = time.Weekday(dow)
	return &rule, nil
}

// ActiveIntervals implements availability.Store.
func (r *BookingRepository) ActiveIntervals(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]availability.Interval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT start_time, start_time + make_interval(mins => duration_minutes)
		FROM bookings
		WHERE provider_id = $1
			AND status IN ('pending', 'confirmed')
			AND start_time < $3
			AND start_time + make_interval(mins => duration_minutes) > $2
		ORDER BY start_time ASC
	`, providerID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var intervals []availability.Interval
	for rows.Next() {
		var iv availability.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		intervals = append(intervals, iv)
	}
	return intervals, rows.Err()
}

// lockCalendarDay takes the transaction-scoped advisory lock for one
// provider's calendar date. Released automatically at commit or rollback.
func lockCalendarDay(ctx context.Context, tx pgx.Tx, providerID uuid.UUID, date string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		providerID.String()+":"+date)
	if err != nil {
		return fmt.Errorf("lock calendar day: %w", err)
	}
	return nil
}

// intervalFree reports whether [start, end) is clear of active bookings for
// the provider, excluding `self` (uuid.Nil for inserts).
func intervalFree(ctx context.Context, tx pgx.Tx, providerID, self uuid.UUID, start, end time.Time) (bool, error) {
	var taken bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE provider_id = $1
				AND id != $2
				AND status IN ('pending', 'confirmed')
				AND start_time < $4
				AND start_time + make_interval(mins => duration_minutes) > $3
		)
	`, providerID, self, start.UTC(), end.UTC()).Scan(&taken)
	if err != nil {
		return false, err
	}
	return !taken, nil
}

const bookingSelect = `
	SELECT id, provider_id, client_id, service_id, start_time, duration_minutes, status,
		total_cents, deposit_cents, platform_fee_cents, COALESCE(payment_intent_id, ''), COALESCE(notes, ''),
		created_at, updated_at
	FROM bookings`

func getForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*model.Booking, error) {
	return scanBooking(tx.QueryRow(ctx, bookingSelect+` WHERE id = $1 FOR UPDATE`, id))
}

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var b model.Booking
	err := row.Scan(
		&b.ID,
		&b.ProviderID,
		&b.ClientID,
		&b.ServiceID,
		&b.StartTime,
		&b.DurationMinutes,
		&b.Status,
		&b.TotalCents,
		&b.DepositCents,
		&b.PlatformFeeCents,
		&b.PaymentIntentID,
		&b.Notes,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func collectBookings(rows pgx.Rows) ([]model.Booking, error) {
	defer rows.Close()
	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// IsConflict reports an overlap rejection, whether from the re-check under
// the advisory lock or from the exclusion constraint backstop.
func IsConflict(err error) bool {
	if errors.Is(err, ErrSlotTaken) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

// IsDuplicateIntent reports the unique violation on payment_intent_id.
func IsDuplicateIntent(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "bookings_payment_intent_id_key"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
