package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

type UsageEvent struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	APIKeyID         uuid.UUID
	BatchID          uuid.UUID
	RequestID        string
	Alias            string
	Provider         string
	Deployment       string
	Status           string
	Stream           bool
	PromptTokens     int32
	CompletionTokens int32
	TotalTokens      int32
	CostUSD          decimal.Decimal
	LatencyMS        int64
	CreatedAt        time.Time
}

type InsertUsageEventParams struct {
	TenantID         uuid.UUID
	APIKeyID         uuid.UUID
	BatchID          uuid.UUID
	RequestID        string
	Alias            string
	Provider         string
	Deployment       string
	Status           string
	Stream           bool
	PromptTokens     int32
	CompletionTokens int32
	TotalTokens      int32
	CostUSD          decimal.Decimal
	LatencyMS        int64
}

func (s *Store) InsertUsageEvent(ctx context.Context, arg InsertUsageEventParams) (uuid.UUID, error) {
	var id pgtype.UUID
	err := s.db.QueryRow(ctx, `
		INSERT INTO usage_events (
			tenant_id, api_key_id, batch_id, request_id, alias, provider, deployment,
			status, stream, prompt_tokens, completion_tokens, total_tokens, cost_usd, latency_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`,
		pgUUID(arg.TenantID), pgUUIDPtr(arg.APIKeyID), pgUUIDPtr(arg.BatchID), arg.RequestID,
		arg.Alias, arg.Provider, arg.Deployment, arg.Status, arg.Stream,
		arg.PromptTokens, arg.CompletionTokens, arg.TotalTokens, pgNumeric(arg.CostUSD), arg.LatencyMS).
		Scan(&id)
	if err != nil {
		return uuid.Nil, err
	}
	return fromPgUUID(id), nil
}

type UpsertUsageDailyParams struct {
	Day              time.Time
	TenantID         uuid.UUID
	Alias            string
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	CostUSD          decimal.Decimal
}

func (s *Store) UpsertUsageDaily(ctx context.Context, arg UpsertUsageDailyParams) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO usage_daily (day, tenant_id, alias, requests, prompt_tokens, completion_tokens, total_tokens, cost_usd)
		VALUES ($1, $2, $3, 1, $4, $5, $6, $7)
		ON CONFLICT (day, tenant_id, alias) DO UPDATE SET
			requests = usage_daily.requests + 1,
			prompt_tokens = usage_daily.prompt_tokens + EXCLUDED.prompt_tokens,
			completion_tokens = usage_daily.completion_tokens + EXCLUDED.completion_tokens,
			total_tokens = usage_daily.total_tokens + EXCLUDED.total_tokens,
			cost_usd = usage_daily.cost_usd + EXCLUDED.cost_usd`,
		arg.Day, pgUUID(arg.TenantID), arg.Alias,
		arg.PromptTokens, arg.CompletionTokens, arg.TotalTokens, pgNumeric(arg.CostUSD))
	return err
}

type UsageDailyRow struct {
	Day              time.Time
	TenantID         uuid.UUID
	Alias            string
	Requests         int64
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	CostUSD          decimal.Decimal
}

type ListUsageDailyParams struct {
	TenantID uuid.UUID // uuid.Nil = all tenants
	From     time.Time
	To       time.Time
}

func (s *Store) ListUsageDaily(ctx context.Context, arg ListUsageDailyParams) ([]UsageDailyRow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT day, tenant_id, alias, requests, prompt_tokens, completion_tokens, total_tokens, cost_usd
		FROM usage_daily
		WHERE ($1::uuid IS NULL OR tenant_id = $1)
		  AND day >= $2::date AND day < $3::date
		ORDER BY day, alias`,
		pgUUIDPtr(arg.TenantID), arg.From, arg.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UsageDailyRow
	for rows.Next() {
		var r UsageDailyRow
		var tid pgtype.UUID
		var cost pgtype.Numeric
		if err := rows.Scan(&r.Day, &tid, &r.Alias, &r.Requests, &r.PromptTokens, &r.CompletionTokens, &r.TotalTokens, &cost); err != nil {
			return nil, err
		}
		r.TenantID = fromPgUUID(tid)
		r.CostUSD = fromPgNumeric(cost)
		out = append(out, r)
	}
	return out, rows.Err()
}

type UsageTotalsRow struct {
	Requests         int64
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	CostUSD          decimal.Decimal
}

func (s *Store) UsageTotals(ctx context.Context, arg ListUsageDailyParams) (UsageTotalsRow, error) {
	var r UsageTotalsRow
	var cost pgtype.Numeric
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(requests), 0), COALESCE(SUM(prompt_tokens), 0),
		       COALESCE(SUM(completion_tokens), 0), COALESCE(SUM(total_tokens), 0),
		       COALESCE(SUM(cost_usd), 0)
		FROM usage_daily
		WHERE ($1::uuid IS NULL OR tenant_id = $1)
		  AND day >= $2::date AND day < $3::date`,
		pgUUIDPtr(arg.TenantID), arg.From, arg.To).
		Scan(&r.Requests, &r.PromptTokens, &r.CompletionTokens, &r.TotalTokens, &cost)
	if err != nil {
		return UsageTotalsRow{}, err
	}
	r.CostUSD = fromPgNumeric(cost)
	return r, nil
}

type ListUsageEventsParams struct {
	TenantID uuid.UUID
	APIKeyID uuid.UUID // optional filter
	Limit    int32
}

func (s *Store) ListUsageEvents(ctx context.Context, arg ListUsageEventsParams) ([]UsageEvent, error) {
	if arg.Limit <= 0 {
		arg.Limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, tenant_id, api_key_id, batch_id, request_id, alias, provider, deployment,
		       status, stream, prompt_tokens, completion_tokens, total_tokens, cost_usd, latency_ms, created_at
		FROM usage_events
		WHERE tenant_id = $1 AND ($2::uuid IS NULL OR api_key_id = $2)
		ORDER BY created_at DESC
		LIMIT $3`,
		pgUUID(arg.TenantID), pgUUIDPtr(arg.APIKeyID), arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UsageEvent
	for rows.Next() {
		var e UsageEvent
		var id, tid, kid, bid pgtype.UUID
		var cost pgtype.Numeric
		if err := rows.Scan(&id, &tid, &kid, &bid, &e.RequestID, &e.Alias, &e.Provider, &e.Deployment,
			&e.Status, &e.Stream, &e.PromptTokens, &e.CompletionTokens, &e.TotalTokens, &cost, &e.LatencyMS, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ID = fromPgUUID(id)
		e.TenantID = fromPgUUID(tid)
		e.APIKeyID = fromPgUUID(kid)
		e.BatchID = fromPgUUID(bid)
		e.CostUSD = fromPgNumeric(cost)
		out = append(out, e)
	}
	return out, rows.Err()
}
