// Package health actively probes provider deployments so the router learns
// about dead backends before live traffic does.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/modelrelay/modelrelay/internal/providers"
	"github.com/modelrelay/modelrelay/internal/router"
)

const (
	defaultInterval = time.Minute
	defaultTimeout  = 5 * time.Second
)

// Monitor periodically pings every route's health check and feeds the
// outcome into the router's per-deployment rings.
type Monitor struct {
	engine    *router.Engine
	interval  time.Duration
	timeout   time.Duration
	startOnce sync.Once
}

func NewMonitor(engine *router.Engine, interval, timeout time.Duration) *Monitor {
	if interval <= 0 {
		interval = defaultInterval
	}
	if timeout <= 0 || timeout > interval {
		timeout = defaultTimeout
	}
	return &Monitor{engine: engine, interval: interval, timeout: timeout}
}

// Start launches the probe loop until ctx is canceled.
func (m *Monitor) Start(ctx context.Context) {
	if m == nil || m.engine == nil {
		return
	}
	m.startOnce.Do(func() {
		go m.run(ctx)
	})
}

func (m *Monitor) run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Monitor) sweep(ctx context.Context) {
	routes := m.engine.ListAliases()
	if len(routes) == 0 {
		return
	}

	var wg sync.WaitGroup
	for alias, rs := range routes {
		for _, route := range rs {
			if route.Health == nil {
				continue
			}
			wg.Add(1)
			go func(alias string, route providers.Route) {
				defer wg.Done()
				probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
				defer cancel()
				if err := route.Health(probeCtx); err != nil {
					m.engine.ReportFailure(alias, route)
					return
				}
				m.engine.ReportSuccess(alias, route)
			}(alias, route)
		}
	}
	wg.Wait()
}
