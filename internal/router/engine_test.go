package router

import (
	"testing"
	"time"

	"github.com/modelrelay/modelrelay/internal/providers"
)

func seedEngine(aliases map[string][]providers.Route) *Engine {
	engine := NewEngine()
	engine.routes = aliases
	for alias, routes := range aliases {
		for _, route := range routes {
			engine.state[routeKey(alias, route)] = &deploymentHealth{}
		}
	}
	return engine
}

func TestSelectRoundRobinsOverHealthy(t *testing.T) {
	alias := "gpt-test"
	a := providers.Route{Alias: alias, Model: "m1", Deployment: "d1"}
	b := providers.Route{Alias: alias, Model: "m2", Deployment: "d2"}
	engine := seedEngine(map[string][]providers.Route{alias: {a, b}})

	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		route, ok := engine.Select(alias)
		if !ok {
			t.Fatalf("expected a route on pick %d", i)
		}
		seen[route.Deployment]++
	}
	if seen["d1"] != 2 || seen["d2"] != 2 {
		t.Fatalf("expected even rotation, got %v", seen)
	}
}

func TestSelectSkipsUnhealthyDeployment(t *testing.T) {
	alias := "gpt-test"
	good := providers.Route{Alias: alias, Model: "m1", Deployment: "d1"}
	bad := providers.Route{Alias: alias, Model: "m2", Deployment: "d2"}
	engine := seedEngine(map[string][]providers.Route{alias: {good, bad}})

	// Half or more failures within the cooldown marks the deployment down.
	for i := 0; i < 10; i++ {
		engine.ReportFailure(alias, bad)
	}

	for i := 0; i < 4; i++ {
		route, ok := engine.Select(alias)
		if !ok {
			t.Fatalf("expected a route")
		}
		if route.Deployment != "d1" {
			t.Fatalf("expected healthy deployment, got %s", route.Deployment)
		}
	}
}

func TestSelectProbesLeastUnhealthy(t *testing.T) {
	alias := "gpt-test"
	worse := providers.Route{Alias: alias, Model: "m1", Deployment: "d1"}
	better := providers.Route{Alias: alias, Model: "m2", Deployment: "d2"}
	engine := seedEngine(map[string][]providers.Route{alias: {worse, better}})

	for i := 0; i < 10; i++ {
		engine.ReportFailure(alias, worse)
	}
	for i := 0; i < 5; i++ {
		engine.ReportFailure(alias, better)
	}
	for i := 0; i < 5; i++ {
		engine.ReportSuccess(alias, better)
	}
	// Force both below the health bar via a fresh failure each.
	engine.ReportFailure(alias, better)

	route, ok := engine.Select(alias)
	if !ok {
		t.Fatalf("expected a probe route")
	}
	if route.Deployment != "d2" {
		t.Fatalf("expected least-unhealthy deployment d2, got %s", route.Deployment)
	}
}

func TestHealthRecoversAfterCooldown(t *testing.T) {
	st := &deploymentHealth{}
	st.record(true)
	for i := 0; i < 10; i++ {
		st.record(false)
	}

	if st.healthy(time.Now()) {
		t.Fatalf("fresh failure should keep deployment unhealthy")
	}
	if !st.healthy(time.Now().Add(failureCooldown + time.Second)) {
		t.Fatalf("deployment should recover once the cooldown passes")
	}
}

func TestRingEvictsOldOutcomes(t *testing.T) {
	st := &deploymentHealth{}
	for i := 0; i < ringSize; i++ {
		st.record(true)
	}
	if st.failureRate() != 1 {
		t.Fatalf("expected full failure rate, got %f", st.failureRate())
	}
	for i := 0; i < ringSize; i++ {
		st.record(false)
	}
	if st.failureRate() != 0 {
		t.Fatalf("old failures should age out, got %f", st.failureRate())
	}
}

func TestStatusLabels(t *testing.T) {
	alias := "gpt-test"
	a := providers.Route{Alias: alias, Model: "m1", Deployment: "d1"}
	b := providers.Route{Alias: alias, Model: "m2", Deployment: "d2"}
	engine := seedEngine(map[string][]providers.Route{alias: {a, b}})

	if got := engine.StatusLabel(alias, false); got != StatusDisabled {
		t.Fatalf("expected disabled, got %s", got)
	}
	if got := engine.StatusLabel("missing", true); got != StatusUnknown {
		t.Fatalf("expected unknown, got %s", got)
	}
	if got := engine.StatusLabel(alias, true); got != StatusOnline {
		t.Fatalf("expected online, got %s", got)
	}

	for i := 0; i < 10; i++ {
		engine.ReportFailure(alias, b)
	}
	if got := engine.StatusLabel(alias, true); got != StatusDegraded {
		t.Fatalf("expected degraded, got %s", got)
	}
	for i := 0; i < 10; i++ {
		engine.ReportFailure(alias, a)
	}
	if got := engine.StatusLabel(alias, true); got != StatusOffline {
		t.Fatalf("expected offline, got %s", got)
	}
}
