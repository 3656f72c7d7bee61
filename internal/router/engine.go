package router

import (
	"context"
	"sync"
	"time"

	"github.com/modelrelay/modelrelay/internal/providers"
)

const (
	ringSize        = 20
	failureRateMax  = 0.5
	failureCooldown = 15 * time.Second
)

// Status labels for an alias, derived from deployment health.
const (
	StatusOnline   = "online"
	StatusDegraded = "degraded"
	StatusOffline  = "offline"
	StatusDisabled = "disabled"
	StatusUnknown  = "unknown"
)

// deploymentHealth is a ring of the most recent call outcomes. A deployment
// is healthy when under half the recorded outcomes are failures and the most
// recent failure is old enough to retry.
type deploymentHealth struct {
	outcomes    [ringSize]bool // true = failure
	count       int
	idx         int
	failures    int
	lastFailure time.Time
}

func (h *deploymentHealth) record(failure bool) {
	if h.count == ringSize {
		if h.outcomes[h.idx] {
			h.failures--
		}
	} else {
		h.count++
	}
	h.outcomes[h.idx] = failure
	if failure {
		h.failures++
		h.lastFailure = time.Now()
	}
	h.idx = (h.idx + 1) % ringSize
}

func (h *deploymentHealth) failureRate() float64 {
	if h.count == 0 {
		return 0
	}
	return float64(h.failures) / float64(h.count)
}

func (h *deploymentHealth) healthy(now time.Time) bool {
	if h.count == 0 {
		return true
	}
	if h.failureRate() >= failureRateMax {
		return false
	}
	if !h.lastFailure.IsZero() && now.Sub(h.lastFailure) <= failureCooldown {
		return false
	}
	return true
}

// Engine holds the alias route table and per-deployment health, and picks a
// deployment per request: round-robin over healthy deployments, or a single
// probe of the least-unhealthy one when none qualify.
type Engine struct {
	mu     sync.Mutex
	routes map[string][]providers.Route
	state  map[string]*deploymentHealth
	cursor map[string]int
}

func NewEngine() *Engine {
	return &Engine{
		routes: make(map[string][]providers.Route),
		state:  make(map[string]*deploymentHealth),
		cursor: make(map[string]int),
	}
}

// Reload rebuilds the route table from the factory, carrying health state
// over for deployments that survive the reload.
func (e *Engine) Reload(ctx context.Context, factory *providers.Factory) error {
	routes, err := factory.Build(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	newState := make(map[string]*deploymentHealth, len(routes))
	for alias, rts := range routes {
		for _, route := range rts {
			key := routeKey(alias, route)
			if old, ok := e.state[key]; ok {
				newState[key] = old
			} else {
				newState[key] = &deploymentHealth{}
			}
		}
	}

	e.routes = routes
	e.state = newState
	return nil
}

// Select returns the deployment to use for one request. The caller keeps the
// returned route for the full duration of a stream.
func (e *Engine) Select(alias string) (providers.Route, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	routes := e.routes[alias]
	if len(routes) == 0 {
		return providers.Route{}, false
	}

	now := time.Now()
	healthy := make([]int, 0, len(routes))
	for i, route := range routes {
		st := e.state[routeKey(alias, route)]
		if st == nil || st.healthy(now) {
			healthy = append(healthy, i)
		}
	}

	if len(healthy) > 0 {
		cur := e.cursor[alias]
		pick := healthy[cur%len(healthy)]
		e.cursor[alias] = cur + 1
		return routes[pick], true
	}

	// Nothing healthy: probe the deployment with the best recent record,
	// breaking ties toward the oldest failure.
	best := 0
	bestState := e.state[routeKey(alias, routes[0])]
	for i := 1; i < len(routes); i++ {
		st := e.state[routeKey(alias, routes[i])]
		if st == nil {
			best = i
			bestState = nil
			break
		}
		if bestState == nil {
			continue
		}
		if st.failureRate() < bestState.failureRate() ||
			(st.failureRate() == bestState.failureRate() && st.lastFailure.Before(bestState.lastFailure)) {
			best = i
			bestState = st
		}
	}
	return routes[best], true
}

// Routes returns every deployment for an alias, healthy or not.
func (e *Engine) Routes(alias string) []providers.Route {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]providers.Route, len(e.routes[alias]))
	copy(out, e.routes[alias])
	return out
}

func (e *Engine) ReportSuccess(alias string, route providers.Route) {
	e.report(alias, route, false)
}

func (e *Engine) ReportFailure(alias string, route providers.Route) {
	e.report(alias, route, true)
}

func (e *Engine) report(alias string, route providers.Route, failure bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := routeKey(alias, route)
	st := e.state[key]
	if st == nil {
		st = &deploymentHealth{}
		e.state[key] = st
	}
	st.record(failure)
}

// Health reports the deployment counts backing an alias.
func (e *Engine) Health(alias string) (total, healthy int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	for _, route := range e.routes[alias] {
		total++
		st := e.state[routeKey(alias, route)]
		if st == nil || st.healthy(now) {
			healthy++
		}
	}
	return total, healthy
}

// StatusLabel maps deployment health to the public status string.
func (e *Engine) StatusLabel(alias string, enabled bool) string {
	if !enabled {
		return StatusDisabled
	}
	total, healthy := e.Health(alias)
	switch {
	case total == 0:
		return StatusUnknown
	case healthy == total:
		return StatusOnline
	case healthy > 0:
		return StatusDegraded
	default:
		return StatusOffline
	}
}

// ListAliases returns the configured aliases and their routes.
func (e *Engine) ListAliases() map[string][]providers.Route {
	e.mu.Lock()
	defer e.mu.Unlock()

	copyMap := make(map[string][]providers.Route, len(e.routes))
	for alias, routes := range e.routes {
		out := make([]providers.Route, len(routes))
		copy(out, routes)
		copyMap[alias] = out
	}
	return copyMap
}

func routeKey(alias string, route providers.Route) string {
	return alias + "::" + route.ResolveDeployment()
}
