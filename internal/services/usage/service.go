package usage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/modelrelay/modelrelay/internal/store"
	"github.com/modelrelay/modelrelay/internal/timeutil"
)

var (
	ErrServiceUnavailable = errors.New("usage service not initialized")
	ErrInvalidPeriod      = timeutil.ErrInvalidPeriod
)

// Record is one completed data-plane call ready for accounting.
type Record struct {
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
	CostUSD          decimal.Decimal
	LatencyMS        int64
}

// Service persists usage events and serves the aggregate read side for the
// admin and user planes.
type Service struct {
	pool    *pgxpool.Pool
	queries *store.Store
	loc     *time.Location
}

func NewService(pool *pgxpool.Pool, queries *store.Store, loc *time.Location) *Service {
	return &Service{pool: pool, queries: queries, loc: timeutil.EnsureLocation(loc)}
}

// Persist writes the per-request event and folds it into the daily rollup in
// one transaction, so the rollup never drifts from the event log.
func (s *Service) Persist(ctx context.Context, rec Record, ts time.Time) (uuid.UUID, error) {
	if s == nil || s.pool == nil {
		return uuid.Nil, ErrServiceUnavailable
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	qtx := s.queries.WithTx(tx)
	id, err := qtx.InsertUsageEvent(ctx, store.InsertUsageEventParams{
		TenantID:         rec.TenantID,
		APIKeyID:         rec.APIKeyID,
		BatchID:          rec.BatchID,
		RequestID:        rec.RequestID,
		Alias:            rec.Alias,
		Provider:         rec.Provider,
		Deployment:       rec.Deployment,
		Status:           rec.Status,
		Stream:           rec.Stream,
		PromptTokens:     rec.PromptTokens,
		CompletionTokens: rec.CompletionTokens,
		TotalTokens:      rec.PromptTokens + rec.CompletionTokens,
		CostUSD:          rec.CostUSD,
		LatencyMS:        rec.LatencyMS,
	})
	if err != nil {
		return uuid.Nil, err
	}
	err = qtx.UpsertUsageDaily(ctx, store.UpsertUsageDailyParams{
		Day:              timeutil.TruncateToDay(ts, s.loc),
		TenantID:         rec.TenantID,
		Alias:            rec.Alias,
		PromptTokens:     int64(rec.PromptTokens),
		CompletionTokens: int64(rec.CompletionTokens),
		TotalTokens:      int64(rec.PromptTokens) + int64(rec.CompletionTokens),
		CostUSD:          rec.CostUSD,
	})
	if err != nil {
		return uuid.Nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// Daily returns per-day per-alias rollups for the period, bucketed in the
// reporting timezone. tenantID uuid.Nil spans all tenants (admin plane only).
func (s *Service) Daily(ctx context.Context, tenantID uuid.UUID, period string, now time.Time) ([]store.UsageDailyRow, timeutil.Window, error) {
	window, err := timeutil.NewWindow(period, now, s.loc)
	if err != nil {
		return nil, timeutil.Window{}, err
	}
	rows, err := s.queries.ListUsageDaily(ctx, store.ListUsageDailyParams{
		TenantID: tenantID,
		From:     window.Start(),
		To:       window.End(),
	})
	if err != nil {
		return nil, timeutil.Window{}, err
	}
	return rows, window, nil
}

// Totals aggregates the period into a single row.
func (s *Service) Totals(ctx context.Context, tenantID uuid.UUID, period string, now time.Time) (store.UsageTotalsRow, timeutil.Window, error) {
	window, err := timeutil.NewWindow(period, now, s.loc)
	if err != nil {
		return store.UsageTotalsRow{}, timeutil.Window{}, err
	}
	totals, err := s.queries.UsageTotals(ctx, store.ListUsageDailyParams{
		TenantID: tenantID,
		From:     window.Start(),
		To:       window.End(),
	})
	if err != nil {
		return store.UsageTotalsRow{}, timeutil.Window{}, err
	}
	return totals, window, nil
}

// Events lists recent raw usage events, optionally filtered to one API key.
func (s *Service) Events(ctx context.Context, tenantID, apiKeyID uuid.UUID, limit int32) ([]store.UsageEvent, error) {
	return s.queries.ListUsageEvents(ctx, store.ListUsageEventsParams{
		TenantID: tenantID,
		APIKeyID: apiKeyID,
		Limit:    limit,
	})
}
