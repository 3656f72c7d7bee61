package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type APIKey struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	OwnerUserID uuid.UUID
	Prefix      string
	SecretHash  string
	Name        string
	Status      string
	LastUsedAt  time.Time
	CreatedAt   time.Time
	RevokedAt   time.Time
}

const apiKeyColumns = `id, tenant_id, owner_user_id, prefix, secret_hash, name, status, last_used_at, created_at, revoked_at`

func scanAPIKey(row interface{ Scan(...any) error }) (APIKey, error) {
	var k APIKey
	var id, tenantID, ownerID pgtype.UUID
	var lastUsed, revoked pgtype.Timestamptz
	err := row.Scan(&id, &tenantID, &ownerID, &k.Prefix, &k.SecretHash, &k.Name, &k.Status, &lastUsed, &k.CreatedAt, &revoked)
	if err != nil {
		return APIKey{}, mapRowErr(err)
	}
	k.ID = fromPgUUID(id)
	k.TenantID = fromPgUUID(tenantID)
	k.OwnerUserID = fromPgUUID(ownerID)
	k.LastUsedAt = fromPgTime(lastUsed)
	k.RevokedAt = fromPgTime(revoked)
	return k, nil
}

type CreateAPIKeyParams struct {
	TenantID    uuid.UUID
	OwnerUserID uuid.UUID
	Prefix      string
	SecretHash  string
	Name        string
}

func (s *Store) CreateAPIKey(ctx context.Context, arg CreateAPIKeyParams) (APIKey, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO api_keys (tenant_id, owner_user_id, prefix, secret_hash, name)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+apiKeyColumns,
		pgUUID(arg.TenantID), pgUUIDPtr(arg.OwnerUserID), arg.Prefix, arg.SecretHash, arg.Name)
	return scanAPIKey(row)
}

func (s *Store) GetAPIKey(ctx context.Context, id uuid.UUID) (APIKey, error) {
	row := s.db.QueryRow(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1`, pgUUID(id))
	return scanAPIKey(row)
}

// GetActiveAPIKeyByPrefix is the hot-path lookup for bearer auth.
func (s *Store) GetActiveAPIKeyByPrefix(ctx context.Context, prefix string) (APIKey, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE prefix = $1 AND status = 'active'`, prefix)
	return scanAPIKey(row)
}

func (s *Store) ListAPIKeysByTenant(ctx context.Context, tenantID uuid.UUID) ([]APIKey, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE tenant_id = $1 ORDER BY created_at DESC`,
		pgUUID(tenantID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAPIKeys(rows)
}

func (s *Store) ListAPIKeysByOwner(ctx context.Context, ownerUserID uuid.UUID) ([]APIKey, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE owner_user_id = $1 ORDER BY created_at DESC`,
		pgUUID(ownerUserID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAPIKeys(rows)
}

func collectAPIKeys(rows pgx.Rows) ([]APIKey, error) {
	var out []APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// TouchAPIKeyLastUsed records usage, skipping the write when the stored
// timestamp is newer than the coalescing interval.
func (s *Store) TouchAPIKeyLastUsed(ctx context.Context, id uuid.UUID, at time.Time, minInterval time.Duration) error {
	_, err := s.db.Exec(ctx, `
		UPDATE api_keys
		SET last_used_at = $2
		WHERE id = $1 AND (last_used_at IS NULL OR last_used_at < $3)`,
		pgUUID(id), pgTimePtr(at), pgTimePtr(at.Add(-minInterval)))
	return err
}

func (s *Store) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE api_keys
		SET status = 'revoked', revoked_at = now()
		WHERE id = $1 AND status = 'active'`,
		pgUUID(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeAPIKeysByOwner revokes every personal key for a user, used when the
// owner is removed so no key survives without one.
func (s *Store) RevokeAPIKeysByOwner(ctx context.Context, ownerUserID uuid.UUID) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE api_keys
		SET status = 'revoked', revoked_at = now()
		WHERE owner_user_id = $1 AND status = 'active'`,
		pgUUID(ownerUserID))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RevokeTenantKeysByOwner revokes the user's keys within one tenant only,
// used when a membership is removed but the user still exists elsewhere.
func (s *Store) RevokeTenantKeysByOwner(ctx context.Context, tenantID, ownerUserID uuid.UUID) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE api_keys
		SET status = 'revoked', revoked_at = now()
		WHERE tenant_id = $1 AND owner_user_id = $2 AND status = 'active'`,
		pgUUID(tenantID), pgUUID(ownerUserID))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
