package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/modelrelay/modelrelay/internal/auth"
	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/rbac"
	"github.com/modelrelay/modelrelay/internal/store"
)

// ensureBootstrap seeds tenants, admin users, API keys, memberships, and
// per-tenant overrides declared in configuration. Every step is idempotent so
// restarts converge on the same state without clobbering admin edits.
func ensureBootstrap(ctx context.Context, c *Container) error {
	bootstrap := c.Config.Bootstrap

	for _, tenant := range bootstrap.Tenants {
		if err := c.bootstrapTenant(ctx, tenant); err != nil {
			return err
		}
	}
	for _, user := range bootstrap.AdminUsers {
		if err := c.bootstrapAdminUser(ctx, user); err != nil {
			return err
		}
	}
	for _, key := range bootstrap.APIKeys {
		if err := c.bootstrapAPIKey(ctx, key); err != nil {
			return err
		}
	}
	for _, member := range bootstrap.Memberships {
		if err := c.bootstrapMembership(ctx, member); err != nil {
			return err
		}
	}
	for _, limit := range bootstrap.TenantLimits {
		if err := c.bootstrapTenantLimit(ctx, limit); err != nil {
			return err
		}
	}
	for _, entry := range bootstrap.TenantBudgets {
		if err := c.bootstrapTenantBudget(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

func (c *Container) bootstrapTenant(ctx context.Context, tenant config.BootstrapTenant) error {
	name := strings.TrimSpace(tenant.Name)
	if name == "" {
		return nil
	}
	_, err := c.Queries.GetTenantByName(ctx, name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("tenant %q lookup: %w", name, err)
	}
	status := "active"
	if strings.EqualFold(tenant.Status, "suspended") {
		status = "suspended"
	}
	if _, err := c.Queries.CreateTenant(ctx, store.CreateTenantParams{Name: name, Status: status}); err != nil {
		return fmt.Errorf("tenant %q create: %w", name, err)
	}
	return nil
}

func (c *Container) bootstrapAdminUser(ctx context.Context, user config.BootstrapAdminUser) error {
	email := strings.TrimSpace(user.Email)
	if email == "" {
		return nil
	}

	record, err := c.Queries.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		record, err = c.Queries.CreateUser(ctx, store.CreateUserParams{
			Email:      email,
			Name:       strings.TrimSpace(user.Name),
			SuperAdmin: user.IsSuperAdmin(),
		})
	}
	if err != nil {
		return fmt.Errorf("admin %q: %w", email, err)
	}

	if record.SuperAdmin != user.IsSuperAdmin() {
		super := user.IsSuperAdmin()
		if _, err := c.Queries.UpdateUser(ctx, store.UpdateUserParams{ID: record.ID, SuperAdmin: &super}); err != nil {
			return fmt.Errorf("admin %q super admin: %w", email, err)
		}
	}

	if _, err := c.Accounts.EnsurePersonalTenant(ctx, record); err != nil {
		return fmt.Errorf("admin %q personal tenant: %w", email, err)
	}

	if password := strings.TrimSpace(user.Password); password != "" && c.Config.Admin.Local.Enabled {
		if err := c.Sessions.SetLocalPassword(ctx, record.ID, password); err != nil {
			return fmt.Errorf("admin %q password: %w", email, err)
		}
	}
	return nil
}

func (c *Container) bootstrapAPIKey(ctx context.Context, key config.BootstrapAPIKey) error {
	prefix := strings.TrimSpace(key.Prefix)
	if prefix == "" {
		return nil
	}

	tenantName := strings.TrimSpace(key.Tenant)
	if tenantName == "" {
		return fmt.Errorf("api key %q missing tenant", prefix)
	}
	tenant, err := c.Queries.GetTenantByName(ctx, tenantName)
	if err != nil {
		return fmt.Errorf("api key %q tenant %q: %w", prefix, tenantName, err)
	}

	record, err := c.Queries.GetActiveAPIKeyByPrefix(ctx, prefix)
	if errors.Is(err, store.ErrNotFound) {
		hash, hashErr := auth.HashSecret(strings.TrimSpace(key.Secret))
		if hashErr != nil {
			return fmt.Errorf("api key %q hash: %w", prefix, hashErr)
		}
		record, err = c.Queries.CreateAPIKey(ctx, store.CreateAPIKeyParams{
			TenantID:   tenant.ID,
			Prefix:     prefix,
			SecretHash: hash,
			Name:       strings.TrimSpace(key.Name),
		})
	}
	if err != nil {
		return fmt.Errorf("api key %q: %w", prefix, err)
	}

	if limit := key.RateLimit; limit.RequestsPerMinute > 0 || limit.TokensPerMinute > 0 || limit.ParallelRequests > 0 {
		if err := c.Queries.UpsertAPIKeyRateLimit(ctx, store.UpsertRateLimitParams{
			ID:                record.ID,
			RequestsPerMinute: limit.RequestsPerMinute,
			TokensPerMinute:   limit.TokensPerMinute,
			ParallelRequests:  limit.ParallelRequests,
		}); err != nil {
			return fmt.Errorf("api key %q rate limit: %w", prefix, err)
		}
	}
	return nil
}

func (c *Container) bootstrapMembership(ctx context.Context, member config.BootstrapMembership) error {
	tenantName := strings.TrimSpace(member.Tenant)
	email := strings.TrimSpace(member.Email)
	if tenantName == "" || email == "" {
		return nil
	}

	tenant, err := c.Queries.GetTenantByName(ctx, tenantName)
	if err != nil {
		return fmt.Errorf("membership tenant %q: %w", tenantName, err)
	}
	user, err := c.Queries.GetUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("membership user %q: %w", email, err)
	}
	role, ok := rbac.ParseRole(member.Role)
	if !ok {
		return fmt.Errorf("membership role %q invalid", member.Role)
	}
	if _, err := c.Queries.UpsertMembership(ctx, store.UpsertMembershipParams{
		TenantID: tenant.ID,
		UserID:   user.ID,
		Role:     role,
	}); err != nil {
		return fmt.Errorf("membership %s/%s: %w", tenantName, email, err)
	}
	return nil
}

func (c *Container) bootstrapTenantLimit(ctx context.Context, limit config.BootstrapTenantLimit) error {
	tenantName := strings.TrimSpace(limit.Tenant)
	if tenantName == "" {
		return nil
	}
	tenant, err := c.Queries.GetTenantByName(ctx, tenantName)
	if err != nil {
		return fmt.Errorf("tenant limit %q: %w", tenantName, err)
	}
	if err := c.Queries.UpsertTenantRateLimit(ctx, store.UpsertRateLimitParams{
		ID:                tenant.ID,
		RequestsPerMinute: limit.Limits.RequestsPerMinute,
		TokensPerMinute:   limit.Limits.TokensPerMinute,
		ParallelRequests:  limit.Limits.ParallelRequests,
	}); err != nil {
		return fmt.Errorf("tenant limit %q upsert: %w", tenantName, err)
	}
	return nil
}

func (c *Container) bootstrapTenantBudget(ctx context.Context, entry config.BootstrapTenantBudget) error {
	tenantName := strings.TrimSpace(entry.Tenant)
	if tenantName == "" {
		return nil
	}
	tenant, err := c.Queries.GetTenantByName(ctx, tenantName)
	if err != nil {
		return fmt.Errorf("tenant budget %q: %w", tenantName, err)
	}

	budgetCfg := c.Config.Budgets
	params := store.UpsertBudgetOverrideParams{TenantID: tenant.ID}

	budgetValue := budgetCfg.DefaultUSD
	if entry.BudgetUSD != nil {
		budgetValue = *entry.BudgetUSD
	}
	if budgetValue <= 0 {
		return fmt.Errorf("tenant budget %q: budget_usd must be positive", tenantName)
	}
	amount := decimal.NewFromFloat(budgetValue).Round(2)
	params.BudgetUSD = &amount

	if entry.WarningThreshold != nil {
		params.WarningThreshold = entry.WarningThreshold
	}
	if schedule := strings.TrimSpace(entry.RefreshSchedule); schedule != "" {
		params.RefreshSchedule = config.NormalizeBudgetRefreshSchedule(schedule)
	}
	params.AlertEmails = entry.AlertEmails
	params.AlertWebhooks = entry.AlertWebhooks
	if entry.AlertCooldown > 0 {
		params.AlertCooldownSeconds = int64(entry.AlertCooldown.Seconds())
	}

	if _, err := c.Queries.UpsertBudgetOverride(ctx, params); err != nil {
		return fmt.Errorf("tenant budget %q upsert: %w", tenantName, err)
	}
	return nil
}
