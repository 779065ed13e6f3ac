package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/chairtime/chairtime/internal/booking"
	"github.com/chairtime/chairtime/internal/fees"
	"github.com/chairtime/chairtime/internal/inbox"
	"github.com/chairtime/chairtime/internal/payments"
	"github.com/chairtime/chairtime/internal/storage"
)

type PaymentsHandler struct {
	gateway          payments.Gateway
	svc              *booking.Service
	dir              *storage.ProviderRepository
	inbox            *inbox.Repository
	logger           *slog.Logger
	webhookSecret    string
	webhookTolerance time.Duration
}

func NewPaymentsHandler(gateway payments.Gateway, svc *booking.Service, dir *storage.ProviderRepository, inboxRepo *inbox.Repository, logger *slog.Logger, webhookSecret string, webhookTolerance time.Duration) *PaymentsHandler {
	return &PaymentsHandler{
		gateway:          gateway,
		svc:              svc,
		dir:              dir,
		inbox:            inboxRepo,
		logger:           logger,
		webhookSecret:    strings.TrimSpace(webhookSecret),
		webhookTolerance: webhookTolerance,
	}
}

type createIntentRequest struct {
	ProviderID string `json:"provider_id"`
	ClientID   string `json:"client_id"`
	ServiceID  string `json:"service_id"`
	StartTime  string `json:"start_time"`
}

type createIntentResponse struct {
	IntentID     string `json:"payment_intent_id"`
	ClientSecret string `json:"client_secret"`
	AmountCents  int64  `json:"amount_cents"`
}

// CreateIntent stages a charge for the selected service. The intent carries
// the booking references as metadata so a webhook can finalize server-side.
// POST /api/v1/payments/intents
func (h *PaymentsHandler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	providerID, clientID, serviceID, start, ok := parseBookingRefs(w, req.ProviderID, req.ClientID, req.ServiceID, req.StartTime)
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
	if svc.ProviderID != providerID {
		http.Error(w, "service belongs to another provider", http.StatusBadRequest)
		return
	}

	intent, err := h.gateway.CreateIntent(r.Context(), payments.CreateIntentParams{
		AmountCents:    svc.PriceCents,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
		Metadata: map[string]string{
			"provider_id": providerID.String(),
			"client_id":   clientID.String(),
			"service_id":  serviceID.String(),
			"start_time":  start.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		h.logger.Error("create intent failed", "service_id", serviceID, "error", err)
		http.Error(w, "payment gateway error", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusCreated, createIntentResponse{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		AmountCents:  intent.AmountCents,
	})
}

// Quote returns the fee breakdown for an amount without touching the
// gateway. GET /api/v1/payments/quote?amount_cents=10000
func (h *PaymentsHandler) Quote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	amount, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("amount_cents")), 10, 64)
	if err != nil || amount < 0 {
		http.Error(w, "invalid amount_cents", http.StatusBadRequest)
		return
	}
	b := fees.Compute(amount)
	writeJSON(w, http.StatusOK, map[string]any{
		"amount_cents":    amount,
		"platform_cents":  b.PlatformCents,
		"processor_cents": b.ProcessorCents,
		"combined_cents":  b.CombinedCents,
		"net_cents":       b.NetCents,
		"net":             fees.FormatCents(b.NetCents),
	})
}

// StripeWebhook handles Stripe events (no session auth; the signature is
// the auth). On payment_intent.succeeded with booking metadata it finalizes
// the booking server-side, idempotently with the client-driven path.
// POST /api/v1/webhooks/stripe
func (h *PaymentsHandler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.webhookSecret == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}
	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MiB hard cap
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, h.webhookSecret, h.webhookTolerance)
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	h.logger.Info("stripe event received", "provider_event_id", evt.ID, "event_type", string(evt.Type))

	// Idempotency: ignore replayed Stripe events.
	fresh, err := h.inbox.Record(r.Context(), "stripe:"+evt.ID, string(evt.Type))
	if err != nil {
		http.Error(w, "failed to record provider event", http.StatusInternalServerError)
		return
	}
	if !fresh {
		writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
		return
	}

	if evt.Type == "payment_intent.succeeded" {
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
			h.logger.Error("stripe: invalid payment intent payload", "err", err)
			writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
			return
		}
		h.finalizeFromIntent(r, &pi)
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// finalizeFromIntent books the appointment described by the intent's
// metadata. A duplicate intent replays to the already-created booking, so
// racing with the client's own POST /book is harmless. Failures are logged
// only; Stripe retries the webhook on non-2xx and the event is already
// recorded.
func (h *PaymentsHandler) finalizeFromIntent(r *http.Request, pi *stripe.PaymentIntent) {
	providerID, err1 := uuid.Parse(pi.Metadata["provider_id"])
	clientID, err2 := uuid.Parse(pi.Metadata["client_id"])
	serviceID, err3 := uuid.Parse(pi.Metadata["service_id"])
	start, err4 := time.Parse(time.RFC3339, pi.Metadata["start_time"])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		h.logger.Warn("stripe: intent lacks booking metadata, skipping finalize", "payment_intent_id", pi.ID)
		return
	}

	b, err := h.svc.Create(r.Context(), booking.CreateParams{
		ProviderID: providerID,
		ClientID:   clientID,
		ServiceID:  serviceID,
		StartTime:  start,
		IntentID:   pi.ID,
	})
	if err != nil {
		h.logger.Error("stripe: finalize from intent failed", "payment_intent_id", pi.ID, "error", err)
		return
	}
	h.logger.Info("booking finalized from webhook", "booking_id", b.ID, "payment_intent_id", pi.ID)
}
