package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/chairtime/chairtime/internal/model"
	"github.com/chairtime/chairtime/internal/storage"
)

type ProviderHandler struct {
	dir    *storage.ProviderRepository
	logger *slog.Logger
}

func NewProviderHandler(dir *storage.ProviderRepository, logger *slog.Logger) *ProviderHandler {
	return &ProviderHandler{dir: dir, logger: logger}
}

type weeklyRuleItem struct {
	DayOfWeek   int    `json:"day_of_week"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	IsAvailable bool   `json:"is_available"`
}

// WeeklyRules reads or replaces a provider's recurring availability.
// GET /api/v1/providers/weekly-rules?provider_id=
// PUT /api/v1/providers/weekly-rules?provider_id=  (one rule per call)
func (h *ProviderHandler) WeeklyRules(w http.ResponseWriter, r *http.Request) {
	providerID, ok := queryUUID(w, r, "provider_id")
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		rules, err := h.dir.ListWeeklyRules(r.Context(), providerID)
		if err != nil {
			h.logger.Error("weekly rules load failed", "provider_id", providerID, "error", err)
			http.Error(w, "db error", http.StatusInternalServerError)
			return
		}
		items := make([]weeklyRuleItem, 0, len(rules))
		for _, rule := range rules {
			items = append(items, weeklyRuleItem{
				DayOfWeek:   int(rule.DayOfWeek),
				StartTime:   rule.StartTime,
				EndTime:     rule.EndTime,
				IsAvailable: rule.IsAvailable,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"rules": items})

	case http.MethodPut:
		var req weeklyRuleItem
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		if req.DayOfWeek < 0 || req.DayOfWeek > 6 {
			http.Error(w, "day_of_week must be 0 (Sunday) through 6", http.StatusBadRequest)
			return
		}
		start, err := time.Parse("15:04", strings.TrimSpace(req.StartTime))
		if err != nil {
			http.Error(w, "invalid start_time, want HH:MM", http.StatusBadRequest)
			return
		}
		end, err := time.Parse("15:04", strings.TrimSpace(req.EndTime))
		if err != nil {
			http.Error(w, "invalid end_time, want HH:MM", http.StatusBadRequest)
			return
		}
		if !end.After(start) {
			http.Error(w, "end_time must be after start_time", http.StatusBadRequest)
			return
		}

		rule := model.WeeklyRule{
			ProviderID:  providerID,
			DayOfWeek:   time.Weekday(req.DayOfWeek),
			StartTime:   start.Format("15:04"),
			EndTime:     end.Format("15:04"),
			IsAvailable: req.IsAvailable,
		}
		if err := h.dir.UpsertWeeklyRule(r.Context(), rule); err != nil {
			h.logger.Error("weekly rule upsert failed", "provider_id", providerID, "error", err)
			http.Error(w, "db error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, req)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type serviceItem struct {
	ServiceID       string `json:"service_id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	PriceCents      int64  `json:"price_cents"`
	DepositRequired bool   `json:"deposit_required"`
	DepositCents    int64  `json:"deposit_cents,omitempty"`
}

// Services lists a provider's active offerings.
// GET /api/v1/providers/services?provider_id=
func (h *ProviderHandler) Services(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	providerID, ok := queryUUID(w, r, "provider_id")
	if !ok {
		return
	}
	services, err := h.dir.ListServices(r.Context(), providerID)
	if err != nil {
		h.logger.Error("services load failed", "provider_id", providerID, "error", err)
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	items := make([]serviceItem, 0, len(services))
	for _, s := range services {
		items = append(items, serviceItem{
			ServiceID:       s.ID.String(),
			Name:            s.Name,
			DurationMinutes: s.DurationMinutes,
			PriceCents:      s.PriceCents,
			DepositRequired: s.DepositRequired,
			DepositCents:    s.DepositCents,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": items})
}
