package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type GuardrailPolicy struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	APIKeyID  uuid.UUID
	Config    []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

const guardrailPolicyColumns = `id, tenant_id, api_key_id, config, created_at, updated_at`

func scanGuardrailPolicy(row interface{ Scan(...any) error }) (GuardrailPolicy, error) {
	var p GuardrailPolicy
	var id, tenantID, keyID pgtype.UUID
	err := row.Scan(&id, &tenantID, &keyID, &p.Config, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return GuardrailPolicy{}, mapRowErr(err)
	}
	p.ID = fromPgUUID(id)
	p.TenantID = fromPgUUID(tenantID)
	p.APIKeyID = fromPgUUID(keyID)
	return p, nil
}

func (s *Store) UpsertTenantGuardrailPolicy(ctx context.Context, tenantID uuid.UUID, config []byte) (GuardrailPolicy, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO guardrail_policies (tenant_id, config)
		VALUES ($1, $2)
		ON CONFLICT (tenant_id) WHERE api_key_id IS NULL DO UPDATE SET
			config = EXCLUDED.config, updated_at = now()
		RETURNING `+guardrailPolicyColumns,
		pgUUID(tenantID), config)
	return scanGuardrailPolicy(row)
}

func (s *Store) UpsertAPIKeyGuardrailPolicy(ctx context.Context, tenantID, apiKeyID uuid.UUID, config []byte) (GuardrailPolicy, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO guardrail_policies (tenant_id, api_key_id, config)
		VALUES ($1, $2, $3)
		ON CONFLICT (api_key_id) WHERE api_key_id IS NOT NULL DO UPDATE SET
			config = EXCLUDED.config, updated_at = now()
		RETURNING `+guardrailPolicyColumns,
		pgUUID(tenantID), pgUUID(apiKeyID), config)
	return scanGuardrailPolicy(row)
}

func (s *Store) GetTenantGuardrailPolicy(ctx context.Context, tenantID uuid.UUID) (GuardrailPolicy, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+guardrailPolicyColumns+` FROM guardrail_policies WHERE tenant_id = $1 AND api_key_id IS NULL`,
		pgUUID(tenantID))
	return scanGuardrailPolicy(row)
}

func (s *Store) GetAPIKeyGuardrailPolicy(ctx context.Context, apiKeyID uuid.UUID) (GuardrailPolicy, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+guardrailPolicyColumns+` FROM guardrail_policies WHERE api_key_id = $1`,
		pgUUID(apiKeyID))
	return scanGuardrailPolicy(row)
}

func (s *Store) DeleteGuardrailPolicy(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM guardrail_policies WHERE id = $1`, pgUUID(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type GuardrailEvent struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	APIKeyID  uuid.UUID
	RequestID string
	Stage     string
	Action    string
	Rule      string
	Detail    string
	CreatedAt time.Time
}

type InsertGuardrailEventParams struct {
	TenantID  uuid.UUID
	APIKeyID  uuid.UUID
	RequestID string
	Stage     string
	Action    string
	Rule      string
	Detail    string
}

func (s *Store) InsertGuardrailEvent(ctx context.Context, arg InsertGuardrailEventParams) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO guardrail_events (tenant_id, api_key_id, request_id, stage, action, rule, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		pgUUID(arg.TenantID), pgUUIDPtr(arg.APIKeyID), arg.RequestID, arg.Stage, arg.Action, arg.Rule, arg.Detail)
	return err
}

func (s *Store) ListGuardrailEvents(ctx context.Context, tenantID uuid.UUID, limit int32) ([]GuardrailEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, tenant_id, api_key_id, request_id, stage, action, rule, detail, created_at
		FROM guardrail_events
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		pgUUID(tenantID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []GuardrailEvent
	for rows.Next() {
		var e GuardrailEvent
		var id, tid, kid pgtype.UUID
		if err := rows.Scan(&id, &tid, &kid, &e.RequestID, &e.Stage, &e.Action, &e.Rule, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ID = fromPgUUID(id)
		e.TenantID = fromPgUUID(tid)
		e.APIKeyID = fromPgUUID(kid)
		out = append(out, e)
	}
	return out, rows.Err()
}
