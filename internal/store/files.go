package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type File struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	OwnerUserID uuid.UUID
	Purpose     string
	Filename    string
	ContentType string
	Bytes       int64
	SHA256      string
	StorageKey  string
	Status      string
	ExpiresAt   time.Time
	CreatedAt   time.Time
	DeletedAt   time.Time
}

const fileColumns = `id, tenant_id, owner_user_id, purpose, filename, content_type,
	bytes, sha256, storage_key, status, expires_at, created_at, deleted_at`

func scanFile(row interface{ Scan(...any) error }) (File, error) {
	var f File
	var id, tenantID, ownerID pgtype.UUID
	var expires, deleted pgtype.Timestamptz
	err := row.Scan(&id, &tenantID, &ownerID, &f.Purpose, &f.Filename, &f.ContentType,
		&f.Bytes, &f.SHA256, &f.StorageKey, &f.Status, &expires, &f.CreatedAt, &deleted)
	if err != nil {
		return File{}, mapRowErr(err)
	}
	f.ID = fromPgUUID(id)
	f.TenantID = fromPgUUID(tenantID)
	f.OwnerUserID = fromPgUUID(ownerID)
	f.ExpiresAt = fromPgTime(expires)
	f.DeletedAt = fromPgTime(deleted)
	return f, nil
}

type InsertFileParams struct {
	TenantID    uuid.UUID
	OwnerUserID uuid.UUID
	Purpose     string
	Filename    string
	ContentType string
	Bytes       int64
	SHA256      string
	StorageKey  string
	ExpiresAt   time.Time
}

func (s *Store) InsertFile(ctx context.Context, arg InsertFileParams) (File, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO files (tenant_id, owner_user_id, purpose, filename, content_type, bytes, sha256, storage_key, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+fileColumns,
		pgUUID(arg.TenantID), pgUUIDPtr(arg.OwnerUserID), arg.Purpose, arg.Filename,
		arg.ContentType, arg.Bytes, arg.SHA256, arg.StorageKey, pgTimePtr(arg.ExpiresAt))
	return scanFile(row)
}

func (s *Store) GetFile(ctx context.Context, id uuid.UUID) (File, error) {
	row := s.db.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE id = $1`, pgUUID(id))
	return scanFile(row)
}

func (s *Store) GetTenantFile(ctx context.Context, tenantID, id uuid.UUID) (File, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = $1 AND tenant_id = $2`,
		pgUUID(id), pgUUID(tenantID))
	return scanFile(row)
}

type ListFilesParams struct {
	TenantID uuid.UUID
	Purpose  string
	Limit    int32
}

func (s *Store) ListFiles(ctx context.Context, arg ListFilesParams) ([]File, error) {
	if arg.Limit <= 0 {
		arg.Limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+fileColumns+`
		FROM files
		WHERE tenant_id = $1
		  AND status = 'uploaded'
		  AND ($2 = '' OR purpose = $2)
		ORDER BY created_at DESC
		LIMIT $3`,
		pgUUID(arg.TenantID), arg.Purpose, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFiles(rows)
}

func collectFiles(rows pgx.Rows) ([]File, error) {
	var out []File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// MarkFileDeleted flips the row to deleted; the blob removal happens after.
func (s *Store) MarkFileDeleted(ctx context.Context, id uuid.UUID) (File, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE files
		SET status = 'deleted', deleted_at = now()
		WHERE id = $1 AND status = 'uploaded'
		RETURNING `+fileColumns,
		pgUUID(id))
	return scanFile(row)
}

// ListExpiredFiles returns uploaded rows whose TTL elapsed before cutoff.
func (s *Store) ListExpiredFiles(ctx context.Context, cutoff time.Time, limit int32) ([]File, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+fileColumns+`
		FROM files
		WHERE status = 'uploaded' AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2`,
		cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectFiles(rows)
}
