package requestctx

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const fiberLocalsKey = "requestctx"

// Key is the typed context key used for storing the resolved request context.
var Key contextKey = "modelrelay/requestctx"

// LimitSet carries the per-minute and concurrency limits for one scope.
// Zero or negative values disable the corresponding axis.
type LimitSet struct {
	RequestsPerMinute int64
	TokensPerMinute   int64
	ParallelRequests  int64
}

// Context captures caller identity, quota, and policy resolved from the API key.
type Context struct {
	TenantID     uuid.UUID
	TenantName   string
	APIKeyID     uuid.UUID
	APIKeyPrefix string
	KeyName      string

	// OwnerUserID is set for personal keys and zero for tenant keys.
	OwnerUserID uuid.UUID

	KeyLimits    LimitSet
	TenantLimits LimitSet

	BudgetLimitUSD    float64
	BudgetSchedule    string
	WarningThreshold  float64
	AlertsEnabled     bool
	AlertEmails       []string
	AlertWebhooks     []string
	AlertCooldown     time.Duration
	AlertLastLevel    string
	AlertLastSent     time.Time
	HasBudgetOverride bool

	GuardrailPolicyID uuid.UUID
	HasGuardrails     bool
}

// Personal reports whether the key belongs to a user rather than a tenant.
func (c *Context) Personal() bool { return c.OwnerUserID != uuid.Nil }

// WithContext embeds the request context into the parent context.
func WithContext(parent context.Context, rc *Context) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithValue(parent, Key, rc)
}

// FromContext retrieves the request context if present.
func FromContext(ctx context.Context) (*Context, bool) {
	if ctx == nil {
		return nil, false
	}
	rc, ok := ctx.Value(Key).(*Context)
	return rc, ok
}

// FiberLocalsKey returns the key used in fiber.Locals for request context storage.
func FiberLocalsKey() string {
	return fiberLocalsKey
}
