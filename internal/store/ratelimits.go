package store

import (
	"context"

	"github.com/google/uuid"
)

type RateLimitRow struct {
	RequestsPerMinute int64
	TokensPerMinute   int64
	ParallelRequests  int64
}

type UpsertRateLimitParams struct {
	ID                uuid.UUID // tenant or api key id, per method
	RequestsPerMinute int64
	TokensPerMinute   int64
	ParallelRequests  int64
}

func (s *Store) UpsertTenantRateLimit(ctx context.Context, arg UpsertRateLimitParams) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO tenant_rate_limits (tenant_id, requests_per_minute, tokens_per_minute, parallel_requests)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id) DO UPDATE SET
			requests_per_minute = EXCLUDED.requests_per_minute,
			tokens_per_minute = EXCLUDED.tokens_per_minute,
			parallel_requests = EXCLUDED.parallel_requests,
			updated_at = now()`,
		pgUUID(arg.ID), arg.RequestsPerMinute, arg.TokensPerMinute, arg.ParallelRequests)
	return err
}

func (s *Store) GetTenantRateLimit(ctx context.Context, tenantID uuid.UUID) (RateLimitRow, error) {
	var r RateLimitRow
	err := s.db.QueryRow(ctx, `
		SELECT requests_per_minute, tokens_per_minute, parallel_requests
		FROM tenant_rate_limits WHERE tenant_id = $1`,
		pgUUID(tenantID)).Scan(&r.RequestsPerMinute, &r.TokensPerMinute, &r.ParallelRequests)
	if err != nil {
		return RateLimitRow{}, mapRowErr(err)
	}
	return r, nil
}

func (s *Store) DeleteTenantRateLimit(ctx context.Context, tenantID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM tenant_rate_limits WHERE tenant_id = $1`, pgUUID(tenantID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) UpsertAPIKeyRateLimit(ctx context.Context, arg UpsertRateLimitParams) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO api_key_rate_limits (api_key_id, requests_per_minute, tokens_per_minute, parallel_requests)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (api_key_id) DO UPDATE SET
			requests_per_minute = EXCLUDED.requests_per_minute,
			tokens_per_minute = EXCLUDED.tokens_per_minute,
			parallel_requests = EXCLUDED.parallel_requests,
			updated_at = now()`,
		pgUUID(arg.ID), arg.RequestsPerMinute, arg.TokensPerMinute, arg.ParallelRequests)
	return err
}

func (s *Store) GetAPIKeyRateLimit(ctx context.Context, apiKeyID uuid.UUID) (RateLimitRow, error) {
	var r RateLimitRow
	err := s.db.QueryRow(ctx, `
		SELECT requests_per_minute, tokens_per_minute, parallel_requests
		FROM api_key_rate_limits WHERE api_key_id = $1`,
		pgUUID(apiKeyID)).Scan(&r.RequestsPerMinute, &r.TokensPerMinute, &r.ParallelRequests)
	if err != nil {
		return RateLimitRow{}, mapRowErr(err)
	}
	return r, nil
}

func (s *Store) DeleteAPIKeyRateLimit(ctx context.Context, apiKeyID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM api_key_rate_limits WHERE api_key_id = $1`, pgUUID(apiKeyID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
