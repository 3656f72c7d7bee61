package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

type AuditEntry struct {
	ID          uuid.UUID
	ActorUserID uuid.UUID
	ActorEmail  string
	Action      string
	EntityType  string
	EntityID    string
	Detail      []byte
	CreatedAt   time.Time
}

type InsertAuditEntryParams struct {
	ActorUserID uuid.UUID
	ActorEmail  string
	Action      string
	EntityType  string
	EntityID    string
	Detail      []byte
}

func (s *Store) InsertAuditEntry(ctx context.Context, arg InsertAuditEntryParams) error {
	if len(arg.Detail) == 0 {
		arg.Detail = []byte(`{}`)
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO audit_log (actor_user_id, actor_email, action, entity_type, entity_id, detail)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		pgUUIDPtr(arg.ActorUserID), arg.ActorEmail, arg.Action, arg.EntityType, arg.EntityID, arg.Detail)
	return err
}

type ListAuditEntriesParams struct {
	Action     string
	EntityType string
	Limit      int32
	Offset     int32
}

func (s *Store) ListAuditEntries(ctx context.Context, arg ListAuditEntriesParams) ([]AuditEntry, error) {
	if arg.Limit <= 0 {
		arg.Limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, actor_user_id, actor_email, action, entity_type, entity_id, detail, created_at
		FROM audit_log
		WHERE ($1 = '' OR action = $1)
		  AND ($2 = '' OR entity_type = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`,
		arg.Action, arg.EntityType, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var id, actor pgtype.UUID
		if err := rows.Scan(&id, &actor, &e.ActorEmail, &e.Action, &e.EntityType, &e.EntityID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ID = fromPgUUID(id)
		e.ActorUserID = fromPgUUID(actor)
		out = append(out, e)
	}
	return out, rows.Err()
}

type BudgetAlertEvent struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Level     string
	Ratio     float64
	UsedUSD   decimal.Decimal
	LimitUSD  decimal.Decimal
	Channel   string
	OK        bool
	Detail    string
	CreatedAt time.Time
}

type InsertBudgetAlertEventParams struct {
	TenantID uuid.UUID
	Level    string
	Ratio    float64
	UsedUSD  decimal.Decimal
	LimitUSD decimal.Decimal
	Channel  string
	OK       bool
	Detail   string
}

func (s *Store) InsertBudgetAlertEvent(ctx context.Context, arg InsertBudgetAlertEventParams) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO budget_alert_events (tenant_id, level, ratio, used_usd, limit_usd, channel, ok, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		pgUUID(arg.TenantID), arg.Level, arg.Ratio, pgNumeric(arg.UsedUSD), pgNumeric(arg.LimitUSD),
		arg.Channel, arg.OK, arg.Detail)
	return err
}

func (s *Store) ListBudgetAlertEvents(ctx context.Context, tenantID uuid.UUID, limit int32) ([]BudgetAlertEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, tenant_id, level, ratio, used_usd, limit_usd, channel, ok, detail, created_at
		FROM budget_alert_events
		WHERE ($1::uuid IS NULL OR tenant_id = $1)
		ORDER BY created_at DESC
		LIMIT $2`,
		pgUUIDPtr(tenantID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BudgetAlertEvent
	for rows.Next() {
		var e BudgetAlertEvent
		var id, tid pgtype.UUID
		var used, limitUSD pgtype.Numeric
		if err := rows.Scan(&id, &tid, &e.Level, &e.Ratio, &used, &limitUSD, &e.Channel, &e.OK, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ID = fromPgUUID(id)
		e.TenantID = fromPgUUID(tid)
		e.UsedUSD = fromPgNumeric(used)
		e.LimitUSD = fromPgNumeric(limitUSD)
		out = append(out, e)
	}
	return out, rows.Err()
}
