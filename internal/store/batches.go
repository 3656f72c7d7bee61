package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type Batch struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	APIKeyID       uuid.UUID
	InputFileID    uuid.UUID
	OutputFileID   uuid.UUID
	ErrorFileID    uuid.UUID
	Endpoint       string
	Status         string
	MaxConcurrency int32
	TotalItems     int32
	CompletedItems int32
	FailedItems    int32
	Error          string
	ExpiresAt      time.Time
	CreatedAt      time.Time
	StartedAt      time.Time
	FinishedAt     time.Time
	UpdatedAt      time.Time
}

const batchColumns = `id, tenant_id, api_key_id, input_file_id, output_file_id, error_file_id,
	endpoint, status, max_concurrency, total_items, completed_items, failed_items, error,
	expires_at, created_at, started_at, finished_at, updated_at`

func scanBatch(row interface{ Scan(...any) error }) (Batch, error) {
	var b Batch
	var id, tenantID, keyID, inFile pgtype.UUID
	var outFile, errFile pgtype.UUID
	var expires, started, finished pgtype.Timestamptz
	err := row.Scan(&id, &tenantID, &keyID, &inFile, &outFile, &errFile,
		&b.Endpoint, &b.Status, &b.MaxConcurrency, &b.TotalItems, &b.CompletedItems, &b.FailedItems, &b.Error,
		&expires, &b.CreatedAt, &started, &finished, &b.UpdatedAt)
	if err != nil {
		return Batch{}, mapRowErr(err)
	}
	b.ID = fromPgUUID(id)
	b.TenantID = fromPgUUID(tenantID)
	b.APIKeyID = fromPgUUID(keyID)
	b.InputFileID = fromPgUUID(inFile)
	b.OutputFileID = fromPgUUID(outFile)
	b.ErrorFileID = fromPgUUID(errFile)
	b.ExpiresAt = fromPgTime(expires)
	b.StartedAt = fromPgTime(started)
	b.FinishedAt = fromPgTime(finished)
	return b, nil
}

type CreateBatchParams struct {
	TenantID       uuid.UUID
	APIKeyID       uuid.UUID
	InputFileID    uuid.UUID
	Endpoint       string
	MaxConcurrency int32
	ExpiresAt      time.Time
}

func (s *Store) CreateBatch(ctx context.Context, arg CreateBatchParams) (Batch, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO batches (tenant_id, api_key_id, input_file_id, endpoint, max_concurrency, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+batchColumns,
		pgUUID(arg.TenantID), pgUUID(arg.APIKeyID), pgUUID(arg.InputFileID),
		arg.Endpoint, arg.MaxConcurrency, pgTimePtr(arg.ExpiresAt))
	return scanBatch(row)
}

func (s *Store) GetBatch(ctx context.Context, id uuid.UUID) (Batch, error) {
	row := s.db.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = $1`, pgUUID(id))
	return scanBatch(row)
}

func (s *Store) GetTenantBatch(ctx context.Context, tenantID, id uuid.UUID) (Batch, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE id = $1 AND tenant_id = $2`,
		pgUUID(id), pgUUID(tenantID))
	return scanBatch(row)
}

func (s *Store) ListBatches(ctx context.Context, tenantID uuid.UUID, limit int32) ([]Batch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+batchColumns+` FROM batches
		WHERE ($1::uuid IS NULL OR tenant_id = $1)
		ORDER BY created_at DESC
		LIMIT $2`,
		pgUUIDPtr(tenantID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBatches(rows)
}

// ListRunnableBatches returns non-terminal batches for startup resume.
func (s *Store) ListRunnableBatches(ctx context.Context) ([]Batch, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+batchColumns+` FROM batches
		WHERE status IN ('validating', 'in_progress', 'finalizing')
		ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBatches(rows)
}

func collectBatches(rows pgx.Rows) ([]Batch, error) {
	var out []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// TransitionBatch moves a batch between states, guarded by the allowed
// source states so transitions stay forward-only under concurrency.
type TransitionBatchParams struct {
	ID         uuid.UUID
	FromStates []string
	ToState    string
	Error      string
}

func (s *Store) TransitionBatch(ctx context.Context, arg TransitionBatchParams) (Batch, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE batches
		SET status = $3,
		    error = CASE WHEN $4 <> '' THEN $4 ELSE error END,
		    started_at = CASE WHEN $3 = 'in_progress' AND started_at IS NULL THEN now() ELSE started_at END,
		    finished_at = CASE WHEN $3 IN ('completed', 'failed', 'cancelled', 'expired') THEN now() ELSE finished_at END,
		    updated_at = now()
		WHERE id = $1 AND status = ANY($2)
		RETURNING `+batchColumns,
		pgUUID(arg.ID), arg.FromStates, arg.ToState, arg.Error)
	return scanBatch(row)
}

func (s *Store) SetBatchTotals(ctx context.Context, id uuid.UUID, total int32) error {
	_, err := s.db.Exec(ctx,
		`UPDATE batches SET total_items = $2, updated_at = now() WHERE id = $1`,
		pgUUID(id), total)
	return err
}

func (s *Store) SetBatchOutputFiles(ctx context.Context, id, outputFileID, errorFileID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE batches
		SET output_file_id = $2, error_file_id = $3, updated_at = now()
		WHERE id = $1`,
		pgUUID(id), pgUUIDPtr(outputFileID), pgUUIDPtr(errorFileID))
	return err
}

// ExpireBatches marks overdue non-terminal batches expired and returns them.
func (s *Store) ExpireBatches(ctx context.Context, now time.Time) ([]Batch, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE batches
		SET status = 'expired', finished_at = now(), updated_at = now()
		WHERE status IN ('validating', 'in_progress', 'finalizing')
		  AND expires_at IS NOT NULL AND expires_at <= $1
		RETURNING `+batchColumns,
		now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBatches(rows)
}

type BatchItem struct {
	ID         uuid.UUID
	BatchID    uuid.UUID
	LineNo     int32
	CustomID   string
	Method     string
	URL        string
	Body       []byte
	Status     string
	Response   []byte
	Error      []byte
	ClaimedAt  time.Time
	FinishedAt time.Time
}

const batchItemColumns = `id, batch_id, line_no, custom_id, method, url, body, status, response, error, claimed_at, finished_at`

func scanBatchItem(row interface{ Scan(...any) error }) (BatchItem, error) {
	var it BatchItem
	var id, batchID pgtype.UUID
	var claimed, finished pgtype.Timestamptz
	err := row.Scan(&id, &batchID, &it.LineNo, &it.CustomID, &it.Method, &it.URL, &it.Body,
		&it.Status, &it.Response, &it.Error, &claimed, &finished)
	if err != nil {
		return BatchItem{}, mapRowErr(err)
	}
	it.ID = fromPgUUID(id)
	it.BatchID = fromPgUUID(batchID)
	it.ClaimedAt = fromPgTime(claimed)
	it.FinishedAt = fromPgTime(finished)
	return it, nil
}

type InsertBatchItemParams struct {
	BatchID  uuid.UUID
	LineNo   int32
	CustomID string
	Method   string
	URL      string
	Body     []byte
}

func (s *Store) InsertBatchItem(ctx context.Context, arg InsertBatchItemParams) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO batch_items (batch_id, line_no, custom_id, method, url, body)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		pgUUID(arg.BatchID), arg.LineNo, arg.CustomID, arg.Method, arg.URL, arg.Body)
	return err
}

// ClaimBatchItem picks one pending item with FOR UPDATE SKIP LOCKED and marks
// it running. Items left running by a crashed process are reclaimed once
// their claim is older than requeueAfter.
func (s *Store) ClaimBatchItem(ctx context.Context, batchID uuid.UUID, requeueAfter time.Duration) (BatchItem, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE batch_items
		SET status = 'running', claimed_at = now()
		WHERE id = (
			SELECT id FROM batch_items
			WHERE batch_id = $1
			  AND (status = 'pending' OR (status = 'running' AND claimed_at < now() - $2::interval))
			ORDER BY line_no
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+batchItemColumns,
		pgUUID(batchID), requeueAfter)
	return scanBatchItem(row)
}

type FinishBatchItemParams struct {
	ID       uuid.UUID
	Status   string // succeeded or failed
	Response []byte
	Error    []byte
}

// FinishBatchItem records the item outcome and bumps the parent counters in
// the same statement batch.
func (s *Store) FinishBatchItem(ctx context.Context, arg FinishBatchItemParams) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE batch_items
		SET status = $2, response = $3, error = $4, finished_at = now()
		WHERE id = $1 AND status = 'running'`,
		pgUUID(arg.ID), arg.Status, arg.Response, arg.Error)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	column := "completed_items"
	if arg.Status == "failed" {
		column = "failed_items"
	}
	_, err = s.db.Exec(ctx, `
		UPDATE batches SET `+column+` = `+column+` + 1, updated_at = now()
		WHERE id = (SELECT batch_id FROM batch_items WHERE id = $1)`,
		pgUUID(arg.ID))
	return err
}

// CancelPendingBatchItems marks every unstarted item cancelled.
func (s *Store) CancelPendingBatchItems(ctx context.Context, batchID uuid.UUID) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE batch_items
		SET status = 'cancelled', finished_at = now()
		WHERE batch_id = $1 AND status = 'pending'`,
		pgUUID(batchID))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) ListBatchItems(ctx context.Context, batchID uuid.UUID) ([]BatchItem, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+batchItemColumns+` FROM batch_items WHERE batch_id = $1 ORDER BY line_no`,
		pgUUID(batchID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BatchItem
	for rows.Next() {
		it, err := scanBatchItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// CountUnfinishedBatchItems reports items not yet in a terminal state.
func (s *Store) CountUnfinishedBatchItems(ctx context.Context, batchID uuid.UUID) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM batch_items
		WHERE batch_id = $1 AND status IN ('pending', 'running')`,
		pgUUID(batchID)).Scan(&n)
	return n, err
}
