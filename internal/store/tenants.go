package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/modelrelay/modelrelay/internal/rbac"
)

type Tenant struct {
	ID        uuid.UUID
	Name      string
	Status    string
	Personal  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

const tenantColumns = `id, name, status, personal, created_at, updated_at`

func scanTenant(row interface{ Scan(...any) error }) (Tenant, error) {
	var t Tenant
	var id pgtype.UUID
	err := row.Scan(&id, &t.Name, &t.Status, &t.Personal, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return Tenant{}, mapRowErr(err)
	}
	t.ID = fromPgUUID(id)
	return t, nil
}

type CreateTenantParams struct {
	Name     string
	Status   string
	Personal bool
}

func (s *Store) CreateTenant(ctx context.Context, arg CreateTenantParams) (Tenant, error) {
	if arg.Status == "" {
		arg.Status = "active"
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO tenants (name, status, personal)
		VALUES ($1, $2, $3)
		RETURNING `+tenantColumns,
		arg.Name, arg.Status, arg.Personal)
	return scanTenant(row)
}

func (s *Store) GetTenant(ctx context.Context, id uuid.UUID) (Tenant, error) {
	row := s.db.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, pgUUID(id))
	return scanTenant(row)
}

func (s *Store) GetTenantByName(ctx context.Context, name string) (Tenant, error) {
	row := s.db.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE name = $1`, name)
	return scanTenant(row)
}

func (s *Store) ListTenants(ctx context.Context) ([]Tenant, error) {
	rows, err := s.db.Query(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type UpdateTenantParams struct {
	ID     uuid.UUID
	Name   string
	Status string
}

func (s *Store) UpdateTenant(ctx context.Context, arg UpdateTenantParams) (Tenant, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE tenants
		SET name = COALESCE(NULLIF($2, ''), name),
		    status = COALESCE(NULLIF($3, ''), status),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+tenantColumns,
		pgUUID(arg.ID), arg.Name, arg.Status)
	return scanTenant(row)
}

func (s *Store) DeleteTenant(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, pgUUID(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type Membership struct {
	TenantID  uuid.UUID
	UserID    uuid.UUID
	Role      rbac.Role
	CreatedAt time.Time
}

type UpsertMembershipParams struct {
	TenantID uuid.UUID
	UserID   uuid.UUID
	Role     rbac.Role
}

func (s *Store) UpsertMembership(ctx context.Context, arg UpsertMembershipParams) (Membership, error) {
	var m Membership
	var tid, userID pgtype.UUID
	err := s.db.QueryRow(ctx, `
		INSERT INTO tenant_memberships (tenant_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, user_id) DO UPDATE SET role = EXCLUDED.role
		RETURNING tenant_id, user_id, role, created_at`,
		pgUUID(arg.TenantID), pgUUID(arg.UserID), string(arg.Role)).
		Scan(&tid, &userID, &m.Role, &m.CreatedAt)
	if err != nil {
		return Membership{}, mapRowErr(err)
	}
	m.TenantID = fromPgUUID(tid)
	m.UserID = fromPgUUID(userID)
	return m, nil
}

func (s *Store) DeleteMembership(ctx context.Context, tenantID, userID uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM tenant_memberships WHERE tenant_id = $1 AND user_id = $2`,
		pgUUID(tenantID), pgUUID(userID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MembershipRole satisfies rbac.MembershipSource.
func (s *Store) MembershipRole(ctx context.Context, tenantID, userID uuid.UUID) (rbac.Role, error) {
	var role string
	err := s.db.QueryRow(ctx,
		`SELECT role FROM tenant_memberships WHERE tenant_id = $1 AND user_id = $2`,
		pgUUID(tenantID), pgUUID(userID)).Scan(&role)
	if err != nil {
		return "", mapRowErr(err)
	}
	return rbac.Role(role), nil
}

type TenantMemberRow struct {
	Membership
	Email string
	Name  string
}

func (s *Store) ListTenantMembers(ctx context.Context, tenantID uuid.UUID) ([]TenantMemberRow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT m.tenant_id, m.user_id, m.role, m.created_at, u.email, u.name
		FROM tenant_memberships m
		JOIN users u ON u.id = m.user_id
		WHERE m.tenant_id = $1
		ORDER BY u.email`,
		pgUUID(tenantID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TenantMemberRow
	for rows.Next() {
		var r TenantMemberRow
		var tid, userID pgtype.UUID
		if err := rows.Scan(&tid, &userID, &r.Role, &r.CreatedAt, &r.Email, &r.Name); err != nil {
			return nil, err
		}
		r.TenantID = fromPgUUID(tid)
		r.UserID = fromPgUUID(userID)
		out = append(out, r)
	}
	return out, rows.Err()
}

type UserTenantRow struct {
	Tenant
	Role rbac.Role
}

func (s *Store) ListUserTenants(ctx context.Context, userID uuid.UUID) ([]UserTenantRow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT t.id, t.name, t.status, t.personal, t.created_at, t.updated_at, m.role
		FROM tenant_memberships m
		JOIN tenants t ON t.id = m.tenant_id
		WHERE m.user_id = $1
		ORDER BY t.name`,
		pgUUID(userID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UserTenantRow
	for rows.Next() {
		var r UserTenantRow
		var id pgtype.UUID
		if err := rows.Scan(&id, &r.Name, &r.Status, &r.Personal, &r.CreatedAt, &r.UpdatedAt, &r.Role); err != nil {
			return nil, err
		}
		r.ID = fromPgUUID(id)
		out = append(out, r)
	}
	return out, rows.Err()
}
