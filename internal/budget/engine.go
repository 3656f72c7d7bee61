package budget

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/requestctx"
	"github.com/modelrelay/modelrelay/internal/store"
	"github.com/modelrelay/modelrelay/internal/timeutil"
)

var ErrBudgetExceeded = errors.New("budget exceeded")

// Rolling windows are re-summed from usage_events at most this often; debits
// in between accumulate on the live counter.
const rollingRefreshInterval = time.Hour

// Status is the budget position after an admission check or debit.
type Status struct {
	UsedUSD     decimal.Decimal
	LimitUSD    decimal.Decimal
	Ratio       float64
	Warning     bool
	Exceeded    bool
	WindowStart time.Time
	WindowEnd   time.Time
}

// Engine owns per-tenant budget windows: admission checks before a call,
// transactional debits after, and window rollover on access.
type Engine struct {
	queries *store.Store
	loc     *time.Location

	cfgMu sync.RWMutex
	cfg   config.BudgetConfig
}

func NewEngine(cfg config.BudgetConfig, queries *store.Store, loc *time.Location) *Engine {
	return &Engine{queries: queries, cfg: cfg, loc: timeutil.EnsureLocation(loc)}
}

func (e *Engine) Config() config.BudgetConfig {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

func (e *Engine) SetConfig(cfg config.BudgetConfig) {
	e.cfgMu.Lock()
	e.cfg = cfg
	e.cfgMu.Unlock()
}

// EffectiveLimit returns the tenant budget in USD: the override when set,
// otherwise the instance default.
func (e *Engine) EffectiveLimit(rc *requestctx.Context) decimal.Decimal {
	if rc != nil && rc.BudgetLimitUSD > 0 {
		return decimal.NewFromFloat(rc.BudgetLimitUSD)
	}
	return decimal.NewFromFloat(e.Config().DefaultUSD)
}

func (e *Engine) warningThreshold(rc *requestctx.Context) float64 {
	if rc != nil && rc.WarningThreshold > 0 {
		return rc.WarningThreshold
	}
	return e.Config().WarningThresholdPerc
}

func (e *Engine) schedule(rc *requestctx.Context) string {
	if rc != nil && rc.BudgetSchedule != "" {
		return config.NormalizeBudgetRefreshSchedule(rc.BudgetSchedule)
	}
	return config.NormalizeBudgetRefreshSchedule(e.Config().RefreshSchedule)
}

// Admit rejects the request when the estimated cost would push the tenant
// over its budget. Nothing is committed here; the debit happens after the
// call completes with real usage.
func (e *Engine) Admit(ctx context.Context, rc *requestctx.Context, estCost decimal.Decimal, now time.Time) (Status, error) {
	limit := e.EffectiveLimit(rc)
	if limit.LessThanOrEqual(decimal.Zero) {
		return Status{}, nil
	}

	counter, err := e.ensureWindow(ctx, rc.TenantID, e.schedule(rc), now)
	if err != nil {
		return Status{}, err
	}

	status := e.statusFrom(rc, counter, limit)
	if counter.UsedUSD.Add(estCost).GreaterThan(limit) {
		status.Exceeded = true
		return status, ErrBudgetExceeded
	}
	return status, nil
}

// Debit records the real cost of a completed call and returns the updated
// budget position for alerting.
func (e *Engine) Debit(ctx context.Context, rc *requestctx.Context, cost decimal.Decimal, now time.Time) (Status, error) {
	limit := e.EffectiveLimit(rc)

	if _, err := e.ensureWindow(ctx, rc.TenantID, e.schedule(rc), now); err != nil {
		return Status{}, err
	}
	counter, err := e.queries.DebitBudgetCounter(ctx, rc.TenantID, cost)
	if err != nil {
		return Status{}, fmt.Errorf("debit budget: %w", err)
	}
	return e.statusFrom(rc, counter, limit), nil
}

// ensureWindow rolls the counter forward when the stored window has lapsed.
// Fixed schedules reset to zero at the boundary; rolling schedules re-sum
// spend from usage_events. A rollover clears the persisted alert level.
func (e *Engine) ensureWindow(ctx context.Context, tenantID uuid.UUID, schedule string, now time.Time) (store.BudgetCounter, error) {
	counter, err := e.queries.GetBudgetCounter(ctx, tenantID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return store.BudgetCounter{}, fmt.Errorf("load budget counter: %w", err)
	}

	missing := errors.Is(err, store.ErrNotFound)
	rolling := timeutil.IsRollingSchedule(schedule)

	stale := missing
	if !missing {
		if rolling {
			stale = now.Sub(counter.WindowEnd) >= rollingRefreshInterval
		} else {
			stale = !now.Before(counter.WindowEnd)
		}
	}
	if !stale {
		return counter, nil
	}

	start, end := timeutil.BudgetWindow(schedule, now, e.loc)
	seed := decimal.Zero
	if rolling {
		seed, err = e.queries.SumUsageCost(ctx, tenantID, start, end)
		if err != nil {
			return store.BudgetCounter{}, fmt.Errorf("re-sum rolling window: %w", err)
		}
	}

	counter, err = e.queries.ResetBudgetCounter(ctx, store.ResetBudgetCounterParams{
		TenantID:    tenantID,
		WindowStart: start,
		WindowEnd:   end,
		UsedUSD:     seed,
	})
	if err != nil {
		return store.BudgetCounter{}, fmt.Errorf("reset budget window: %w", err)
	}
	if !missing {
		if err := e.queries.SetBudgetAlertState(ctx, tenantID, "", time.Time{}); err != nil {
			return store.BudgetCounter{}, fmt.Errorf("clear alert state: %w", err)
		}
	}
	return counter, nil
}

func (e *Engine) statusFrom(rc *requestctx.Context, counter store.BudgetCounter, limit decimal.Decimal) Status {
	status := Status{
		UsedUSD:     counter.UsedUSD,
		LimitUSD:    limit,
		WindowStart: counter.WindowStart,
		WindowEnd:   counter.WindowEnd,
	}
	if limit.GreaterThan(decimal.Zero) {
		status.Ratio, _ = counter.UsedUSD.Div(limit).Float64()
	}
	status.Exceeded = counter.UsedUSD.GreaterThanOrEqual(limit)
	status.Warning = !status.Exceeded && status.Ratio >= e.warningThreshold(rc)
	return status
}
