package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/chairtime/chairtime/internal/model"
	"github.com/chairtime/chairtime/libs/db"
)

type ProviderRepository struct {
	pool *db.Pool
}

func NewProviderRepository(pool *db.Pool) *ProviderRepository {
	return &ProviderRepository{pool: pool}
}

func (r *ProviderRepository) GetProvider(ctx context.Context, id uuid.UUID) (*model.Provider, error) {
	var p model.Provider
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, email, COALESCE(phone, ''), timezone, is_active
		FROM providers
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Email, &p.Phone, &p.Timezone, &p.IsActive)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProviderRepository) GetService(ctx context.Context, id uuid.UUID) (*model.Service, error) {
	var s model.Service
	err := r.pool.QueryRow(ctx, `
		SELECT id, provider_id, name, duration_minutes, price_cents, deposit_required, deposit_cents, is_active
		FROM services
		WHERE id = $1
	`, id).Scan(&s.ID, &s.ProviderID, &s.Name, &s.DurationMinutes, &s.PriceCents, &s.DepositRequired, &s.DepositCents, &s.IsActive)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *ProviderRepository) ListServices(ctx context.Context, providerID uuid.UUID) ([]model.Service, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, provider_id, name, duration_minutes, price_cents, deposit_required, deposit_cents, is_active
		FROM services
		WHERE provider_id = $1 AND is_active
		ORDER BY name ASC
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []model.Service
	for rows.Next() {
		var s model.Service
		if err := rows.Scan(&s.ID, &s.ProviderID, &s.Name, &s.DurationMinutes, &s.PriceCents, &s.DepositRequired, &s.DepositCents, &s.IsActive); err != nil {
			return nil, err
		}
		services = append(services, s)
	}
	return services, rows.Err()
}

func (r *ProviderRepository) GetClient(ctx context.Context, id uuid.UUID) (*model.Client, error) {
	var c model.Client
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, email, COALESCE(phone, '')
		FROM clients
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Email, &c.Phone)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ProviderRepository) ListWeeklyRules(ctx context.Context, providerID uuid.UUID) ([]model.WeeklyRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT provider_id, day_of_week, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'), is_available
		FROM weekly_rules
		WHERE provider_id = $1
		ORDER BY day_of_week ASC
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []model.WeeklyRule
	for rows.Next() {
		var rule model.WeeklyRule
		var dow int
		if err := rows.Scan(&rule.ProviderID, &dow, &rule.StartTime, &rule.EndTime, &rule.IsAvailable); err != nil {
			return nil, err
		}
		rule.DayOfWeek = time.Weekday(dow)
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// UpsertWeeklyRule replaces the provider's rule for one weekday. One rule
// per weekday is enforced by the primary key.
func (r *ProviderRepository) UpsertWeeklyRule(ctx context.Context, rule model.WeeklyRule) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO weekly_rules (provider_id, day_of_week, start_time, end_time, is_available)
		VALUES ($1, $2, $3::time, $4::time, $5)
		ON CONFLICT (provider_id, day_of_week) DO UPDATE
		SET start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			is_available = EXCLUDED.is_available
	`, rule.ProviderID, int(rule.DayOfWeek), rule.StartTime, rule.EndTime, rule.IsAvailable)
	return err
}
