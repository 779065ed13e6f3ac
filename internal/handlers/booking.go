package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chairtime/chairtime/internal/availability"
	"github.com/chairtime/chairtime/internal/booking"
	"github.com/chairtime/chairtime/internal/model"
	"github.com/chairtime/chairtime/internal/storage"
)

type BookingHandler struct {
	svc    *booking.Service
	engine *availability.Engine
	dir    *storage.ProviderRepository
	logger *slog.Logger
}

func NewBookingHandler(svc *booking.Service, engine *availability.Engine, dir *storage.ProviderRepository, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{svc: svc, engine: engine, dir: dir, logger: logger}
}

type bookingItem struct {
	BookingID        string `json:"booking_id"`
	ProviderID       string `json:"provider_id"`
	ClientID         string `json:"client_id"`
	ServiceID        string `json:"service_id"`
	StartTime        string `json:"start_time"`
	DurationMinutes  int    `json:"duration_minutes"`
	Status           string `json:"status"`
	TotalCents       int64  `json:"total_cents"`
	DepositCents     int64  `json:"deposit_cents,omitempty"`
	PlatformFeeCents int64  `json:"platform_fee_cents"`
	Notes            string `json:"notes,omitempty"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

func toBookingItem(b *model.Booking) bookingItem {
	return bookingItem{
		BookingID:        b.ID.String(),
		ProviderID:       b.ProviderID.String(),
		ClientID:         b.ClientID.String(),
		ServiceID:        b.ServiceID.String(),
		StartTime:        b.StartTime.UTC().Format(time.RFC3339),
		DurationMinutes:  b.DurationMinutes,
		Status:           string(b.Status),
		TotalCents:       b.TotalCents,
		DepositCents:     b.DepositCents,
		PlatformFeeCents: b.PlatformFeeCents,
		Notes:            b.Notes,
		CreatedAt:        b.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        b.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type slotItem struct {
	StartTime string `json:"start_time"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// Slots lists the candidate start times for one provider, service and date.
// GET /api/v1/public/slots?provider_id=&service_id=&date=2026-03-02
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	providerID, ok := queryUUID(w, r, "provider_id")
	if !ok {
		return
	}
	serviceID, ok := queryUUID(w, r, "service_id")
	if !ok {
		return
	}
	date, err := time.Parse("2006-01-02", r.URL.Query().Get("date"))
	if err != nil {
		http.Error(w, "invalid date, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	svc, err := h.dir.GetService(r.Context(), serviceID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "unknown service", http.StatusNotFound)
			return
		}
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}

	slots, err := h.engine.GenerateSlots(r.Context(), providerID, date,
		time.Duration(svc.DurationMinutes)*time.Minute, availability.DefaultGranularity)
	if err != nil {
		h.logger.Error("slot generation failed", "provider_id", providerID, "error", err)
		http.Error(w, "failed to generate slots", http.StatusInternalServerError)
		return
	}

	items := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		items = append(items, slotItem{
			StartTime: s.Start.UTC().Format(time.RFC3339),
			Available: s.Available,
			Reason:    s.Reason,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date.Format("2006-01-02"), "slots": items})
}

// NextAvailable returns the first date with at least one open slot.
// GET /api/v1/public/next-available?provider_id=&service_id=
func (h *BookingHandler) NextAvailable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	providerID, ok := queryUUID(w, r, "provider_id")
	if !ok {
		return
	}
	serviceID, ok := queryUUID(w, r, "service_id")
	if !ok {
		return
	}
	svc, err := h.dir.GetService(r.Context(), serviceID)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "unknown service", http.StatusNotFound)
			return
		}
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}

	maxDays := 60
	if raw := strings.TrimSpace(r.URL.Query().Get("max_days")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 365 {
			maxDays = n
		}
	}

	day, found, err := h.engine.NextAvailableDate(r.Context(), providerID, time.Now().UTC(),
		time.Duration(svc.DurationMinutes)*time.Minute, maxDays)
	if err != nil {
		h.logger.Error("next-available scan failed", "provider_id", providerID, "error", err)
		http.Error(w, "failed to scan availability", http.StatusInternalServerError)
		return
	}
	if !found {
		writeJSON(w, http.StatusOK, map[string]any{"found": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"found": true, "date": day.Format("2006-01-02")})
}

type createBookingRequest struct {
	ProviderID      string `json:"provider_id"`
	ClientID        string `json:"client_id"`
	ServiceID       string `json:"service_id"`
	StartTime       string `json:"start_time"`
	PaymentIntentID string `json:"payment_intent_id"`
	Notes           string `json:"notes"`
}

// Create books a paid, confirmed appointment.
// POST /api/v1/public/book
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	providerID, clientID, serviceID, start, ok := parseBookingRefs(w, req.ProviderID, req.ClientID, req.ServiceID, req.StartTime)
	if !ok {
		return
	}

	b, err := h.svc.Create(r.Context(), booking.CreateParams{
		ProviderID: providerID,
		ClientID:   clientID,
		ServiceID:  serviceID,
		StartTime:  start,
		IntentID:   strings.TrimSpace(req.PaymentIntentID),
		Notes:      strings.TrimSpace(req.Notes),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingItem(b))
}

// CreateHold books a pending appointment awaiting provider approval.
// POST /api/v1/public/hold
func (h *BookingHandler) CreateHold(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	providerID, clientID, serviceID, start, ok := parseBookingRefs(w, req.ProviderID, req.ClientID, req.ServiceID, req.StartTime)
	if !ok {
		return
	}

	b, err := h.svc.CreateHold(r.Context(), booking.CreateHoldParams{
		ProviderID: providerID,
		ClientID:   clientID,
		ServiceID:  serviceID,
		StartTime:  start,
		Notes:      strings.TrimSpace(req.Notes),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingItem(b))
}

type transitionRequest struct {
	BookingID string `json:"booking_id"`
}

// Approve confirms a pending booking. POST /api/v1/bookings/approve
func (h *BookingHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Approve)
}

// Cancel cancels an active booking. POST /api/v1/bookings/cancel
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Cancel)
}

// Complete marks a confirmed booking delivered. POST /api/v1/bookings/complete
func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Complete)
}

// RequestRefund flags a booking for refund. POST /api/v1/bookings/refund-request
func (h *BookingHandler) RequestRefund(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.RequestRefund)
}

type rescheduleRequest struct {
	BookingID string `json:"booking_id"`
	StartTime string `json:"start_time"`
}

// Reschedule moves a booking to a new start time.
// POST /api/v1/bookings/reschedule
func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(strings.TrimSpace(req.BookingID))
	if err != nil {
		http.Error(w, "invalid booking_id", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
	if err != nil {
		http.Error(w, "invalid start_time, want RFC 3339", http.StatusBadRequest)
		return
	}

	b, err := h.svc.Reschedule(r.Context(), id, start)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingItem(b))
}

// Bookings serves one booking or deletes it.
// GET /api/v1/bookings?id=  |  DELETE /api/v1/bookings?id=
// GET /api/v1/bookings?provider_id=&from=&to=  |  ?client_id=
func (h *BookingHandler) Bookings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if r.URL.Query().Get("id") != "" {
			h.getOne(w, r)
			return
		}
		h.list(w, r)
	case http.MethodDelete:
		h.delete(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *BookingHandler) getOne(w http.ResponseWriter, r *http.Request) {
	id, ok := queryUUID(w, r, "id")
	if !ok {
		return
	}
	b, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingItem(b))
}

func (h *BookingHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	var out []model.Booking
	var err error
	switch {
	case q.Get("provider_id") != "":
		providerID, ok := queryUUID(w, r, "provider_id")
		if !ok {
			return
		}
		from, to, ok := queryRange(w, r)
		if !ok {
			return
		}
		out, err = h.svc.ListForProvider(r.Context(), providerID, from, to, limit)
	case q.Get("client_id") != "":
		clientID, ok := queryUUID(w, r, "client_id")
		if !ok {
			return
		}
		out, err = h.svc.ListForClient(r.Context(), clientID, limit)
	default:
		http.Error(w, "provider_id or client_id required", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	items := make([]bookingItem, 0, len(out))
	for i := range out {
		items = append(items, toBookingItem(&out[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": items})
}

func (h *BookingHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := queryUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *BookingHandler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id uuid.UUID) (*model.Booking, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(strings.TrimSpace(req.BookingID))
	if err != nil {
		http.Error(w, "invalid booking_id", http.StatusBadRequest)
		return
	}

	b, err := op(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingItem(b))
}

func parseBookingRefs(w http.ResponseWriter, provider, client, service, startTime string) (providerID, clientID, serviceID uuid.UUID, start time.Time, ok bool) {
	var err error
	if providerID, err = uuid.Parse(strings.TrimSpace(provider)); err != nil {
		http.Error(w, "invalid provider_id", http.StatusBadRequest)
		return
	}
	if clientID, err = uuid.Parse(strings.TrimSpace(client)); err != nil {
		http.Error(w, "invalid client_id", http.StatusBadRequest)
		return
	}
	if serviceID, err = uuid.Parse(strings.TrimSpace(service)); err != nil {
		http.Error(w, "invalid service_id", http.StatusBadRequest)
		return
	}
	if start, err = time.Parse(time.RFC3339, strings.TrimSpace(startTime)); err != nil {
		http.Error(w, "invalid start_time, want RFC 3339", http.StatusBadRequest)
		return
	}
	ok = true
	return
}

func queryUUID(w http.ResponseWriter, r *http.Request, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(r.URL.Query().Get(key)))
	if err != nil {
		http.Error(w, "invalid "+key, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func queryRange(w http.ResponseWriter, r *http.Request) (from, to time.Time, ok bool) {
	q := r.URL.Query()
	from = time.Now().UTC().AddDate(0, 0, -30)
	to = time.Now().UTC().AddDate(0, 0, 90)
	var err error
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		if from, err = time.Parse("2006-01-02", raw); err != nil {
			http.Error(w, "invalid from, want YYYY-MM-DD", http.StatusBadRequest)
			return
		}
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		if to, err = time.Parse("2006-01-02", raw); err != nil {
			http.Error(w, "invalid to, want YYYY-MM-DD", http.StatusBadRequest)
			return
		}
	}
	ok = true
	return
}
