package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

type BudgetOverride struct {
	TenantID             uuid.UUID
	BudgetUSD            *decimal.Decimal
	WarningThreshold     *float64
	RefreshSchedule      string
	AlertsEnabled        *bool
	AlertEmails          []string
	AlertWebhooks        []string
	AlertCooldownSeconds int64
	LastAlertLevel       string
	LastAlertSentAt      time.Time
	UpdatedAt            time.Time
}

const budgetOverrideColumns = `tenant_id, budget_usd, warning_threshold, COALESCE(refresh_schedule, ''),
	alerts_enabled, alert_emails, alert_webhooks, alert_cooldown_seconds,
	last_alert_level, last_alert_sent_at, updated_at`

func scanBudgetOverride(row interface{ Scan(...any) error }) (BudgetOverride, error) {
	var o BudgetOverride
	var tenantID pgtype.UUID
	var budget pgtype.Numeric
	var lastSent pgtype.Timestamptz
	err := row.Scan(&tenantID, &budget, &o.WarningThreshold, &o.RefreshSchedule,
		&o.AlertsEnabled, &o.AlertEmails, &o.AlertWebhooks, &o.AlertCooldownSeconds,
		&o.LastAlertLevel, &lastSent, &o.UpdatedAt)
	if err != nil {
		return BudgetOverride{}, mapRowErr(err)
	}
	o.TenantID = fromPgUUID(tenantID)
	if budget.Valid {
		d := fromPgNumeric(budget)
		o.BudgetUSD = &d
	}
	o.LastAlertSentAt = fromPgTime(lastSent)
	return o, nil
}

type UpsertBudgetOverrideParams struct {
	TenantID             uuid.UUID
	BudgetUSD            *decimal.Decimal
	WarningThreshold     *float64
	RefreshSchedule      string
	AlertsEnabled        *bool
	AlertEmails          []string
	AlertWebhooks        []string
	AlertCooldownSeconds int64
}

func (s *Store) UpsertBudgetOverride(ctx context.Context, arg UpsertBudgetOverrideParams) (BudgetOverride, error) {
	var budget pgtype.Numeric
	if arg.BudgetUSD != nil {
		budget = pgNumeric(*arg.BudgetUSD)
	}
	if arg.AlertEmails == nil {
		arg.AlertEmails = []string{}
	}
	if arg.AlertWebhooks == nil {
		arg.AlertWebhooks = []string{}
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO tenant_budget_overrides (
			tenant_id, budget_usd, warning_threshold, refresh_schedule,
			alerts_enabled, alert_emails, alert_webhooks, alert_cooldown_seconds)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8)
		ON CONFLICT (tenant_id) DO UPDATE SET
			budget_usd = EXCLUDED.budget_usd,
			warning_threshold = EXCLUDED.warning_threshold,
			refresh_schedule = EXCLUDED.refresh_schedule,
			alerts_enabled = EXCLUDED.alerts_enabled,
			alert_emails = EXCLUDED.alert_emails,
			alert_webhooks = EXCLUDED.alert_webhooks,
			alert_cooldown_seconds = EXCLUDED.alert_cooldown_seconds,
			updated_at = now()
		RETURNING `+budgetOverrideColumns,
		pgUUID(arg.TenantID), budget, arg.WarningThreshold, arg.RefreshSchedule,
		arg.AlertsEnabled, arg.AlertEmails, arg.AlertWebhooks, arg.AlertCooldownSeconds)
	return scanBudgetOverride(row)
}

func (s *Store) GetBudgetOverride(ctx context.Context, tenantID uuid.UUID) (BudgetOverride, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+budgetOverrideColumns+` FROM tenant_budget_overrides WHERE tenant_id = $1`,
		pgUUID(tenantID))
	return scanBudgetOverride(row)
}

func (s *Store) DeleteBudgetOverride(ctx context.Context, tenantID uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM tenant_budget_overrides WHERE tenant_id = $1`, pgUUID(tenantID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetBudgetAlertState persists the dispatcher's cooldown state on the
// override row. A missing row is not an error: alert state then lives only
// in memory until an override is created.
func (s *Store) SetBudgetAlertState(ctx context.Context, tenantID uuid.UUID, level string, sentAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE tenant_budget_overrides
		SET last_alert_level = $2, last_alert_sent_at = $3, updated_at = now()
		WHERE tenant_id = $1`,
		pgUUID(tenantID), level, pgTimePtr(sentAt))
	return err
}

type BudgetCounter struct {
	TenantID    uuid.UUID
	WindowStart time.Time
	WindowEnd   time.Time
	UsedUSD     decimal.Decimal
	UpdatedAt   time.Time
}

func scanBudgetCounter(row interface{ Scan(...any) error }) (BudgetCounter, error) {
	var c BudgetCounter
	var tenantID pgtype.UUID
	var used pgtype.Numeric
	err := row.Scan(&tenantID, &c.WindowStart, &c.WindowEnd, &used, &c.UpdatedAt)
	if err != nil {
		return BudgetCounter{}, mapRowErr(err)
	}
	c.TenantID = fromPgUUID(tenantID)
	c.UsedUSD = fromPgNumeric(used)
	return c, nil
}

func (s *Store) GetBudgetCounter(ctx context.Context, tenantID uuid.UUID) (BudgetCounter, error) {
	row := s.db.QueryRow(ctx, `
		SELECT tenant_id, window_start, window_end, used_usd, updated_at
		FROM budget_counters WHERE tenant_id = $1`,
		pgUUID(tenantID))
	return scanBudgetCounter(row)
}

type ResetBudgetCounterParams struct {
	TenantID    uuid.UUID
	WindowStart time.Time
	WindowEnd   time.Time
	UsedUSD     decimal.Decimal
}

// ResetBudgetCounter installs a fresh accounting window, seeding used_usd
// (non-zero for rolling windows re-summed from usage_events).
func (s *Store) ResetBudgetCounter(ctx context.Context, arg ResetBudgetCounterParams) (BudgetCounter, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO budget_counters (tenant_id, window_start, window_end, used_usd, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (tenant_id) DO UPDATE SET
			window_start = EXCLUDED.window_start,
			window_end = EXCLUDED.window_end,
			used_usd = EXCLUDED.used_usd,
			updated_at = now()
		RETURNING tenant_id, window_start, window_end, used_usd, updated_at`,
		pgUUID(arg.TenantID), arg.WindowStart, arg.WindowEnd, pgNumeric(arg.UsedUSD))
	return scanBudgetCounter(row)
}

// DebitBudgetCounter atomically adds cost to the live window and returns the
// updated counter in one round trip.
func (s *Store) DebitBudgetCounter(ctx context.Context, tenantID uuid.UUID, cost decimal.Decimal) (BudgetCounter, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE budget_counters
		SET used_usd = used_usd + $2, updated_at = now()
		WHERE tenant_id = $1
		RETURNING tenant_id, window_start, window_end, used_usd, updated_at`,
		pgUUID(tenantID), pgNumeric(cost))
	return scanBudgetCounter(row)
}

// SumUsageCost re-derives spend from usage_events, used when a rolling
// window advances.
func (s *Store) SumUsageCost(ctx context.Context, tenantID uuid.UUID, from, to time.Time) (decimal.Decimal, error) {
	var total pgtype.Numeric
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM usage_events
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3`,
		pgUUID(tenantID), from, to).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return fromPgNumeric(total), nil
}
