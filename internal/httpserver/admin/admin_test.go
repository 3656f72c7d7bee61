package admin

import (
	"testing"
	"time"

	"github.com/modelrelay/modelrelay/internal/config"
)

func TestRateLimitBodyValid(t *testing.T) {
	if !(rateLimitBody{RequestsPerMinute: 60, TokensPerMinute: 10000, ParallelRequests: 4}).valid() {
		t.Fatal("positive limits should be valid")
	}
	if !(rateLimitBody{}).valid() {
		t.Fatal("zero limits mean unlimited and should be valid")
	}
	if (rateLimitBody{RequestsPerMinute: -1}).valid() {
		t.Fatal("negative limits should be rejected")
	}
}

func TestParsePrice(t *testing.T) {
	price, err := parsePrice("0.000003")
	if err != nil {
		t.Fatalf("parse price: %v", err)
	}
	if price.String() != "0.000003" {
		t.Fatalf("price %s", price)
	}

	price, err = parsePrice("")
	if err != nil {
		t.Fatalf("empty price: %v", err)
	}
	if !price.IsZero() {
		t.Fatalf("empty price should be zero, got %s", price)
	}

	if _, err := parsePrice("-1"); err == nil {
		t.Fatal("negative price should be rejected")
	}
	if _, err := parsePrice("free"); err == nil {
		t.Fatal("junk price should be rejected")
	}
}

func TestSnapshotToResponse(t *testing.T) {
	snap := &config.Snapshot{
		Version: 7,
		RateLimits: config.RateLimitConfig{
			DefaultTokensPerMinute:   90000,
			DefaultRequestsPerMinute: 120,
		},
		Budgets: config.BudgetConfig{
			DefaultUSD:           50,
			WarningThresholdPerc: 0.8,
			RefreshSchedule:      "monthly",
			Alert: config.BudgetAlertConfig{
				Enabled:  true,
				Emails:   []string{"ops@example.com"},
				Cooldown: 30 * time.Minute,
			},
		},
		Files:   config.FilesSettings{MaxSizeMB: 100, DefaultTTL: 24 * time.Hour},
		Batches: config.BatchSettings{MaxConcurrency: 8, AllowedEndpoints: []string{"/v1/chat/completions"}},
		Audio:   config.AudioConfig{MaxUploadMB: 25},
	}

	resp := snapshotToResponse(snap)
	if resp.Version != 7 {
		t.Fatalf("version %d", resp.Version)
	}
	if resp.RateLimits.DefaultTokensPerMinute != 90000 {
		t.Fatalf("tpm %d", resp.RateLimits.DefaultTokensPerMinute)
	}
	if resp.Budgets.AlertCooldownSeconds != 1800 {
		t.Fatalf("cooldown %d", resp.Budgets.AlertCooldownSeconds)
	}
	if resp.Files.DefaultTTLSeconds != 86400 {
		t.Fatalf("file ttl %d", resp.Files.DefaultTTLSeconds)
	}
	if len(resp.Batches.AllowedEndpoints) != 1 {
		t.Fatalf("endpoints %v", resp.Batches.AllowedEndpoints)
	}
	if resp.Audio.MaxUploadMB != 25 {
		t.Fatalf("audio %d", resp.Audio.MaxUploadMB)
	}
}
