// Package executor runs data-plane calls through the full admission
// pipeline: guardrail screening, budget admission, rate-limit reservation,
// provider invocation with retry and failover, then accounting.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/modelrelay/modelrelay/internal/alerts"
	"github.com/modelrelay/modelrelay/internal/budget"
	"github.com/modelrelay/modelrelay/internal/guardrails"
	"github.com/modelrelay/modelrelay/internal/limits"
	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/observability"
	"github.com/modelrelay/modelrelay/internal/providers"
	"github.com/modelrelay/modelrelay/internal/requestctx"
	"github.com/modelrelay/modelrelay/internal/router"
	"github.com/modelrelay/modelrelay/internal/services/usage"
)

// Usage event statuses.
const (
	statusSuccess  = "success"
	statusError    = "error"
	statusBlocked  = "blocked"
	statusCanceled = "canceled"
)

// Deps wires the pipeline collaborators. Nil entries disable the concern,
// which tests rely on.
type Deps struct {
	Router     *router.Engine
	Limiter    *limits.RateLimiter
	Budget     *budget.Engine
	Guardrails *guardrails.Service
	Usage      *usage.Service
	Alerts     *alerts.Dispatcher
	Logger     *slog.Logger
}

type Executor struct {
	router     *router.Engine
	limiter    *limits.RateLimiter
	budget     *budget.Engine
	guardrails *guardrails.Service
	usage      *usage.Service
	alerts     *alerts.Dispatcher
	logger     *slog.Logger
}

func New(d Deps) *Executor {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		router:     d.Router,
		limiter:    d.Limiter,
		budget:     d.Budget,
		guardrails: d.Guardrails,
		usage:      d.Usage,
		alerts:     d.Alerts,
		logger:     logger,
	}
}

// CallOptions carries per-call identifiers supplied by the transport layer.
type CallOptions struct {
	RequestID string
	BatchID   uuid.UUID
}

// admission describes one call entering the pipeline.
type admission struct {
	alias      string
	opts       CallOptions
	promptText string
	estTokens  int64
	stream     bool
}

// flight is the in-progress state between admission and accounting.
type flight struct {
	rc          *requestctx.Context
	adm         admission
	policy      guardrails.Config
	reservation *limits.Reservation
	started     time.Time
}

// begin runs the pre-provider pipeline: alias lookup, prompt guardrails,
// budget admission, rate-limit reservation. Any rejection comes back as an
// APIError and leaves nothing held.
func (e *Executor) begin(ctx context.Context, rc *requestctx.Context, adm admission) (*flight, error) {
	routes := e.router.Routes(adm.alias)
	if len(routes) == 0 {
		return nil, NewAPIError(http.StatusNotFound, CodeModelNotFound, fmt.Sprintf("model %q not found", adm.alias))
	}
	f := &flight{rc: rc, adm: adm, started: time.Now().UTC()}

	if e.guardrails != nil {
		policy, err := e.guardrails.Resolve(ctx, rc.TenantID, rc.APIKeyID)
		if err != nil {
			return nil, fmt.Errorf("resolve guardrail policy: %w", err)
		}
		f.policy = policy
		if adm.promptText != "" {
			result := e.guardrails.Screen(ctx, policy, e.screenInput(f, guardrails.StagePrompt, adm.promptText))
			if result.Action == guardrails.ActionBlock {
				return nil, guardrailError()
			}
		}
	}

	if e.budget != nil {
		estCost := routes[0].Pricing.EstimatedCost(adm.estTokens)
		if _, err := e.budget.Admit(ctx, rc, estCost, f.started); err != nil {
			if errors.Is(err, budget.ErrBudgetExceeded) {
				return nil, NewAPIError(http.StatusPaymentRequired, CodeBudgetExceeded, "tenant budget exceeded")
			}
			return nil, fmt.Errorf("budget admission: %w", err)
		}
	}

	if e.limiter != nil {
		res, err := e.limiter.Reserve(ctx,
			rc.TenantID.String(), rc.APIKeyID.String(),
			limitConfig(rc.TenantLimits), limitConfig(rc.KeyLimits),
			adm.estTokens)
		if err != nil {
			var exceeded *limits.LimitExceededError
			if errors.As(err, &exceeded) {
				apiErr := NewAPIError(http.StatusTooManyRequests, CodeRateLimited,
					fmt.Sprintf("rate limit exceeded for %s %s", exceeded.Scope, exceeded.Axis))
				apiErr.RetryAfter = exceeded.RetryAfter
				return nil, apiErr
			}
			return nil, fmt.Errorf("reserve rate limits: %w", err)
		}
		f.reservation = res
	}
	return f, nil
}

func (e *Executor) screenInput(f *flight, stage, content string) guardrails.ScreenInput {
	return guardrails.ScreenInput{
		TenantID:  f.rc.TenantID,
		APIKeyID:  f.rc.APIKeyID,
		RequestID: f.adm.opts.RequestID,
		Stage:     stage,
		Content:   content,
	}
}

func guardrailError() *APIError {
	return NewAPIError(http.StatusUnprocessableEntity, CodeGuardrailViolation, "request blocked by content policy")
}

func limitConfig(set requestctx.LimitSet) limits.LimitConfig {
	return limits.LimitConfig{
		RequestsPerMinute: set.RequestsPerMinute,
		TokensPerMinute:   set.TokensPerMinute,
		ParallelRequests:  set.ParallelRequests,
	}
}

// outcome summarizes a finished call for accounting.
type outcome struct {
	route  providers.Route
	status string
	usage  models.Usage
	images int
}

// finish settles everything begin acquired: TPM buckets reconcile to actual
// usage, semaphores release in reverse, cost is debited, alerts fire, and
// the usage event is persisted. A cancellation that billed no tokens leaves
// no event behind.
func (e *Executor) finish(ctx context.Context, f *flight, oc outcome) {
	ctx = context.WithoutCancel(ctx)
	total := int64(oc.usage.PromptTokens) + int64(oc.usage.CompletionTokens)
	if f.reservation != nil {
		f.reservation.ReconcileTokens(ctx, total)
		f.reservation.Release(ctx)
	}

	elapsed := time.Since(f.started)
	observability.ObserveAPIRequest(f.adm.alias, oc.route.Provider, oc.status, elapsed,
		oc.usage.PromptTokens, oc.usage.CompletionTokens)

	if oc.status == statusCanceled && total == 0 && oc.images == 0 {
		return
	}

	cost := decimal.Zero
	if total > 0 || oc.images > 0 {
		cost = oc.route.Pricing.Cost(oc.usage, oc.images)
	}
	now := time.Now().UTC()

	if e.budget != nil && cost.GreaterThan(decimal.Zero) {
		status, err := e.budget.Debit(ctx, f.rc, cost, now)
		if err != nil {
			e.logger.Warn("budget debit failed",
				slog.String("tenant_id", f.rc.TenantID.String()),
				slog.String("error", err.Error()))
		} else if e.alerts != nil {
			if err := e.alerts.Dispatch(ctx, f.rc, status, now); err != nil {
				e.logger.Warn("budget alert dispatch failed", slog.String("error", err.Error()))
			}
		}
	}

	if e.usage != nil {
		_, err := e.usage.Persist(ctx, usage.Record{
			TenantID:         f.rc.TenantID,
			APIKeyID:         f.rc.APIKeyID,
			BatchID:          f.adm.opts.BatchID,
			RequestID:        f.adm.opts.RequestID,
			Alias:            f.adm.alias,
			Provider:         oc.route.Provider,
			Deployment:       oc.route.ResolveDeployment(),
			Status:           oc.status,
			Stream:           f.adm.stream,
			PromptTokens:     oc.usage.PromptTokens,
			CompletionTokens: oc.usage.CompletionTokens,
			CostUSD:          cost,
			LatencyMS:        elapsed.Milliseconds(),
		}, now)
		if err != nil {
			e.logger.Warn("persist usage event failed",
				slog.String("request_id", f.adm.opts.RequestID),
				slog.String("error", err.Error()))
		}
	}
}

// perform invokes call against successive routes for the flight's alias,
// applying the retry policy and reporting deployment health. The returned
// route is the last one attempted.
func (e *Executor) perform(ctx context.Context, f *flight, supported func(providers.Route) bool, call func(context.Context, providers.Route) error) (providers.Route, error) {
	var lastErr error
	var lastRoute providers.Route
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			observability.UpstreamRetriesTotal.WithLabelValues(f.adm.alias, lastRoute.Provider).Inc()
			select {
			case <-ctx.Done():
				return lastRoute, ctx.Err()
			case <-time.After(backoff(attempt - 1)):
			}
		}

		route, ok := e.router.Select(f.adm.alias)
		if !ok {
			return lastRoute, NewAPIError(http.StatusNotFound, CodeModelNotFound, fmt.Sprintf("model %q not found", f.adm.alias))
		}
		lastRoute = route
		if !supported(route) {
			return route, NewAPIError(http.StatusNotFound, CodeModelNotFound,
				fmt.Sprintf("model %q does not support this operation", f.adm.alias))
		}

		err := call(ctx, route)
		if err == nil {
			e.router.ReportSuccess(f.adm.alias, route)
			return route, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return route, err
		}
		if errors.Is(err, models.ErrImageOperationUnsupported) {
			return route, NewAPIError(http.StatusNotFound, CodeModelNotFound,
				fmt.Sprintf("model %q does not support this image operation", f.adm.alias))
		}
		if status, known := upstreamStatus(err); known && status < 500 {
			// Provider rejected the request; the deployment is healthy.
			rejected := NewAPIError(http.StatusServiceUnavailable, CodeUpstreamRejected,
				fmt.Sprintf("%s rejected the request", route.Provider))
			rejected.Err = err
			return route, rejected
		}

		e.router.ReportFailure(f.adm.alias, route)
		e.logger.Warn("provider call failed",
			slog.String("alias", f.adm.alias),
			slog.String("provider", route.Provider),
			slog.String("deployment", route.ResolveDeployment()),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))
	}
	unavailable := NewAPIError(http.StatusBadGateway, CodeUpstreamUnavailable,
		fmt.Sprintf("no %q deployment is currently available", f.adm.alias))
	unavailable.Err = lastErr
	return lastRoute, unavailable
}

// statusFromError maps a failed call onto the usage event status.
func statusFromError(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return statusCanceled
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == CodeGuardrailViolation {
		return statusBlocked
	}
	return statusError
}

// estimateUsage is the fallback when the provider reported no usage.
func estimateUsage(promptBytes, completionBytes int) models.Usage {
	u := models.Usage{
		PromptTokens:     int32(promptBytes / 4),
		CompletionTokens: int32(completionBytes / 4),
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

func joinContent(parts []string) string {
	return strings.Join(parts, "\n")
}
