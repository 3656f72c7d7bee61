package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/modelrelay/modelrelay/internal/rbac"
	"github.com/modelrelay/modelrelay/internal/store"
)

// PersonalService manages per-user tenants and ownership records.
type PersonalService struct {
	pool    *pgxpool.Pool
	queries *store.Store
}

func NewPersonalService(pool *pgxpool.Pool, queries *store.Store) *PersonalService {
	return &PersonalService{pool: pool, queries: queries}
}

func personalTenantName(userID uuid.UUID) string {
	return "personal:" + userID.String()
}

// EnsurePersonalTenant guarantees the user has a dedicated personal tenant
// with an owner membership, creating and seeding it on first sign-in.
func (s *PersonalService) EnsurePersonalTenant(ctx context.Context, user store.User) (store.Tenant, error) {
	if s == nil || s.pool == nil || s.queries == nil {
		return store.Tenant{}, errors.New("personal service not initialised")
	}

	name := personalTenantName(user.ID)
	tenant, err := s.queries.GetTenantByName(ctx, name)
	if err == nil {
		return tenant, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Tenant{}, fmt.Errorf("lookup personal tenant: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.Tenant{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	qtx := s.queries.WithTx(tx)

	tenant, err = qtx.CreateTenant(ctx, store.CreateTenantParams{
		Name:     name,
		Status:   "active",
		Personal: true,
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Concurrent first sign-in won the race.
			tenant, err = qtx.GetTenantByName(ctx, name)
			if err != nil {
				return store.Tenant{}, fmt.Errorf("lookup personal tenant: %w", err)
			}
		} else {
			return store.Tenant{}, fmt.Errorf("create personal tenant: %w", err)
		}
	}

	if _, err := qtx.UpsertMembership(ctx, store.UpsertMembershipParams{
		TenantID: tenant.ID,
		UserID:   user.ID,
		Role:     rbac.RoleOwner,
	}); err != nil {
		return store.Tenant{}, fmt.Errorf("ensure personal membership: %w", err)
	}

	if err := s.seedDefaultModels(ctx, qtx, tenant.ID); err != nil {
		return store.Tenant{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return store.Tenant{}, fmt.Errorf("commit tx: %w", err)
	}
	return tenant, nil
}

func (s *PersonalService) seedDefaultModels(ctx context.Context, q *store.Store, tenantID uuid.UUID) error {
	aliases, err := q.ListDefaultModels(ctx)
	if err != nil {
		return fmt.Errorf("list default models: %w", err)
	}
	for _, alias := range aliases {
		if err := q.AddTenantModel(ctx, tenantID, alias); err != nil {
			return fmt.Errorf("assign default model %s: %w", alias, err)
		}
	}
	return nil
}

// RemoveMember deletes a membership and revokes the member's keys in that
// tenant so no key survives without an owner.
func (s *PersonalService) RemoveMember(ctx context.Context, tenantID, userID uuid.UUID) (int64, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	qtx := s.queries.WithTx(tx)
	if err := qtx.DeleteMembership(ctx, tenantID, userID); err != nil {
		return 0, err
	}
	revoked, err := qtx.RevokeTenantKeysByOwner(ctx, tenantID, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke member keys: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return revoked, nil
}

// DisableUser marks the user disabled and revokes every key they own.
func (s *PersonalService) DisableUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	qtx := s.queries.WithTx(tx)
	disabled := true
	if _, err := qtx.UpdateUser(ctx, store.UpdateUserParams{ID: userID, Disabled: &disabled}); err != nil {
		return 0, err
	}
	revoked, err := qtx.RevokeAPIKeysByOwner(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke user keys: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return revoked, nil
}
