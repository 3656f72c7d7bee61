package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/guardrails"
	"github.com/modelrelay/modelrelay/internal/limits"
	"github.com/modelrelay/modelrelay/internal/requestctx"
	"github.com/modelrelay/modelrelay/internal/store"
)

const warningThresholdFloor = 0.5

var (
	// ErrKeyInactive marks a revoked or otherwise unusable API key.
	ErrKeyInactive = errors.New("api key is not active")
	// ErrTenantSuspended marks a tenant that cannot submit traffic.
	ErrTenantSuspended = errors.New("tenant is not active")
)

// BuildRequestContext resolves an API key record into the request context the
// data plane consumes: identity, effective rate limits, budget policy, and
// guardrail binding.
func (c *Container) BuildRequestContext(ctx context.Context, record store.APIKey) (*requestctx.Context, error) {
	tenant, err := c.Queries.GetTenant(ctx, record.TenantID)
	if err != nil {
		return nil, fmt.Errorf("tenant lookup: %w", err)
	}
	if tenant.Status != "active" {
		return nil, ErrTenantSuspended
	}

	snap := c.Settings.Current()

	tenantLimits, keyLimits, err := c.effectiveLimits(ctx, snap.RateLimits, record)
	if err != nil {
		return nil, err
	}

	rc := &requestctx.Context{
		TenantID:     record.TenantID,
		TenantName:   tenant.Name,
		APIKeyID:     record.ID,
		APIKeyPrefix: record.Prefix,
		KeyName:      record.Name,
		OwnerUserID:  record.OwnerUserID,
		TenantLimits: toLimitSet(tenantLimits),
		KeyLimits:    toLimitSet(keyLimits),
	}

	if err := c.applyBudgetPolicy(ctx, snap.Budgets, rc); err != nil {
		return nil, err
	}
	c.applyGuardrailBinding(ctx, rc)

	return rc, nil
}

// ResolveAPIKeyContext rebuilds a request context from a stored key id. The
// batch engine uses this to run queued work under the submitter's policies.
func (c *Container) ResolveAPIKeyContext(ctx context.Context, apiKeyID uuid.UUID) (*requestctx.Context, error) {
	record, err := c.Queries.GetAPIKey(ctx, apiKeyID)
	if err != nil {
		return nil, fmt.Errorf("api key lookup: %w", err)
	}
	if record.Status != "active" {
		return nil, ErrKeyInactive
	}
	return c.BuildRequestContext(ctx, record)
}

// effectiveLimits resolves both scopes: the tenant override beats the instance
// default, and the key result never exceeds the tenant ceiling.
func (c *Container) effectiveLimits(ctx context.Context, defaults config.RateLimitConfig, record store.APIKey) (tenant, key limits.LimitConfig, err error) {
	tenantDefault := limits.LimitConfig{
		RequestsPerMinute: defaults.DefaultRequestsPerMinute,
		TokensPerMinute:   defaults.DefaultTokensPerMinute,
		ParallelRequests:  defaults.DefaultParallelRequestsTenant,
	}
	keyDefault := limits.LimitConfig{
		RequestsPerMinute: defaults.DefaultRequestsPerMinute,
		TokensPerMinute:   defaults.DefaultTokensPerMinute,
		ParallelRequests:  defaults.DefaultParallelRequestsKey,
	}

	tenantOverride, err := c.rateLimitOverride(func() (store.RateLimitRow, error) {
		return c.Queries.GetTenantRateLimit(ctx, record.TenantID)
	})
	if err != nil {
		return limits.LimitConfig{}, limits.LimitConfig{}, err
	}
	keyOverride, err := c.rateLimitOverride(func() (store.RateLimitRow, error) {
		return c.Queries.GetAPIKeyRateLimit(ctx, record.ID)
	})
	if err != nil {
		return limits.LimitConfig{}, limits.LimitConfig{}, err
	}

	tenant = limits.Effective(tenantDefault, tenantOverride, limits.LimitConfig{})
	key = limits.Effective(keyDefault, keyOverride, tenant)
	return tenant, key, nil
}

func (c *Container) rateLimitOverride(lookup func() (store.RateLimitRow, error)) (limits.LimitConfig, error) {
	row, err := lookup()
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return limits.LimitConfig{}, nil
		}
		return limits.LimitConfig{}, fmt.Errorf("rate limit lookup: %w", err)
	}
	return limits.LimitConfig{
		RequestsPerMinute: row.RequestsPerMinute,
		TokensPerMinute:   row.TokensPerMinute,
		ParallelRequests:  row.ParallelRequests,
	}, nil
}

func (c *Container) applyBudgetPolicy(ctx context.Context, base config.BudgetConfig, rc *requestctx.Context) error {
	override, err := c.Queries.GetBudgetOverride(ctx, rc.TenantID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		resolveBudgetPolicy(base, nil, rc)
		return nil
	case err != nil:
		return fmt.Errorf("budget override lookup: %w", err)
	}
	resolveBudgetPolicy(base, &override, rc)
	return nil
}

// resolveBudgetPolicy layers the tenant override (when present) on top of the
// instance defaults. The warning threshold never drops below the floor and a
// missing cooldown falls back to one hour.
func resolveBudgetPolicy(base config.BudgetConfig, override *store.BudgetOverride, rc *requestctx.Context) {
	rc.BudgetLimitUSD = base.DefaultUSD
	rc.BudgetSchedule = config.NormalizeBudgetRefreshSchedule(base.RefreshSchedule)
	rc.WarningThreshold = base.WarningThresholdPerc
	rc.AlertsEnabled = base.Alert.Enabled
	rc.AlertEmails = base.Alert.Emails
	rc.AlertWebhooks = base.Alert.Webhooks
	rc.AlertCooldown = base.Alert.Cooldown

	if override != nil {
		rc.HasBudgetOverride = true
		if override.BudgetUSD != nil {
			rc.BudgetLimitUSD, _ = override.BudgetUSD.Float64()
		}
		if override.WarningThreshold != nil && *override.WarningThreshold > 0 {
			rc.WarningThreshold = *override.WarningThreshold
		}
		if schedule := override.RefreshSchedule; schedule != "" {
			rc.BudgetSchedule = config.NormalizeBudgetRefreshSchedule(schedule)
		}
		if override.AlertsEnabled != nil {
			rc.AlertsEnabled = *override.AlertsEnabled
		}
		if len(override.AlertEmails) > 0 {
			rc.AlertEmails = override.AlertEmails
		}
		if len(override.AlertWebhooks) > 0 {
			rc.AlertWebhooks = override.AlertWebhooks
		}
		if override.AlertCooldownSeconds > 0 {
			rc.AlertCooldown = time.Duration(override.AlertCooldownSeconds) * time.Second
		}
		rc.AlertLastLevel = override.LastAlertLevel
		rc.AlertLastSent = override.LastAlertSentAt
	}

	if rc.WarningThreshold < warningThresholdFloor {
		rc.WarningThreshold = warningThresholdFloor
	}
	if rc.AlertCooldown <= 0 {
		rc.AlertCooldown = time.Hour
	}
	if len(rc.AlertEmails) > 0 || len(rc.AlertWebhooks) > 0 {
		rc.AlertsEnabled = true
	}
}

// applyGuardrailBinding records which policy governs the key so the user
// plane can show it. Failure here never blocks the request; the executor
// resolves the policy again at call time.
func (c *Container) applyGuardrailBinding(ctx context.Context, rc *requestctx.Context) {
	if policy, err := c.Queries.GetAPIKeyGuardrailPolicy(ctx, rc.APIKeyID); err == nil && !guardrails.IsEmpty(policy.Config) {
		rc.GuardrailPolicyID = policy.ID
		rc.HasGuardrails = true
		return
	}
	if policy, err := c.Queries.GetTenantGuardrailPolicy(ctx, rc.TenantID); err == nil && !guardrails.IsEmpty(policy.Config) {
		rc.GuardrailPolicyID = policy.ID
		rc.HasGuardrails = true
	}
}

func toLimitSet(cfg limits.LimitConfig) requestctx.LimitSet {
	return requestctx.LimitSet{
		RequestsPerMinute: cfg.RequestsPerMinute,
		TokensPerMinute:   cfg.TokensPerMinute,
		ParallelRequests:  cfg.ParallelRequests,
	}
}
