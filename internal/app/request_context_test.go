package app

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/requestctx"
	"github.com/modelrelay/modelrelay/internal/store"
)

func baseBudgetConfig() config.BudgetConfig {
	return config.BudgetConfig{
		DefaultUSD:           100,
		WarningThresholdPerc: 0.8,
		RefreshSchedule:      "monthly",
		Alert: config.BudgetAlertConfig{
			Enabled:  false,
			Cooldown: 2 * time.Hour,
		},
	}
}

func TestResolveBudgetPolicyDefaults(t *testing.T) {
	rc := &requestctx.Context{}
	resolveBudgetPolicy(baseBudgetConfig(), nil, rc)

	if rc.BudgetLimitUSD != 100 {
		t.Fatalf("expected default budget, got %v", rc.BudgetLimitUSD)
	}
	if rc.BudgetSchedule != "calendar_month" {
		t.Fatalf("expected normalized calendar schedule, got %q", rc.BudgetSchedule)
	}
	if rc.WarningThreshold != 0.8 {
		t.Fatalf("expected warning threshold 0.8, got %v", rc.WarningThreshold)
	}
	if rc.HasBudgetOverride {
		t.Fatalf("no override should be recorded")
	}
	if rc.AlertCooldown != 2*time.Hour {
		t.Fatalf("expected configured cooldown, got %v", rc.AlertCooldown)
	}
}

func TestResolveBudgetPolicyOverrideWins(t *testing.T) {
	amount := decimal.NewFromInt(250)
	warn := 0.9
	enabled := true
	override := &store.BudgetOverride{
		BudgetUSD:            &amount,
		WarningThreshold:     &warn,
		RefreshSchedule:      "weekly",
		AlertsEnabled:        &enabled,
		AlertEmails:          []string{"ops@example.com"},
		AlertCooldownSeconds: 600,
	}

	rc := &requestctx.Context{}
	resolveBudgetPolicy(baseBudgetConfig(), override, rc)

	if !rc.HasBudgetOverride {
		t.Fatalf("override should be recorded")
	}
	if rc.BudgetLimitUSD != 250 {
		t.Fatalf("expected override budget, got %v", rc.BudgetLimitUSD)
	}
	if rc.BudgetSchedule != "weekly" {
		t.Fatalf("expected weekly schedule, got %q", rc.BudgetSchedule)
	}
	if rc.WarningThreshold != 0.9 {
		t.Fatalf("expected override threshold, got %v", rc.WarningThreshold)
	}
	if !rc.AlertsEnabled {
		t.Fatalf("alerts should be enabled by override")
	}
	if rc.AlertCooldown != 10*time.Minute {
		t.Fatalf("expected 10m cooldown, got %v", rc.AlertCooldown)
	}
}

func TestResolveBudgetPolicyFloorsAndFallbacks(t *testing.T) {
	cfg := baseBudgetConfig()
	cfg.WarningThresholdPerc = 0.1
	cfg.Alert.Cooldown = 0

	rc := &requestctx.Context{}
	resolveBudgetPolicy(cfg, nil, rc)

	if rc.WarningThreshold != warningThresholdFloor {
		t.Fatalf("expected floor %v, got %v", warningThresholdFloor, rc.WarningThreshold)
	}
	if rc.AlertCooldown != time.Hour {
		t.Fatalf("expected one hour fallback cooldown, got %v", rc.AlertCooldown)
	}
}

func TestResolveBudgetPolicyRecipientsEnableAlerts(t *testing.T) {
	cfg := baseBudgetConfig()
	cfg.Alert.Webhooks = []string{"https://hooks.example.com/budget"}

	rc := &requestctx.Context{}
	resolveBudgetPolicy(cfg, nil, rc)

	if !rc.AlertsEnabled {
		t.Fatalf("configured recipients should enable alerts")
	}
}
