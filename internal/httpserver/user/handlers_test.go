package user

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/store"
	"github.com/modelrelay/modelrelay/internal/timeutil"
)

func TestAPIKeyToResponse(t *testing.T) {
	created := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	k := store.APIKey{
		ID:        uuid.New(),
		TenantID:  uuid.New(),
		Prefix:    "mrabcdef1234",
		Name:      "ci pipeline",
		Status:    "active",
		CreatedAt: created,
	}

	resp := apiKeyToResponse(k)
	if resp.ID != k.ID.String() {
		t.Fatalf("id %q", resp.ID)
	}
	if resp.Prefix != k.Prefix {
		t.Fatalf("prefix %q", resp.Prefix)
	}
	if resp.LastUsedAt != 0 {
		t.Fatalf("unused key should omit last_used_at, got %d", resp.LastUsedAt)
	}

	k.LastUsedAt = created.Add(time.Hour)
	if got := apiKeyToResponse(k).LastUsedAt; got != k.LastUsedAt.Unix() {
		t.Fatalf("last_used_at %d", got)
	}
}

func TestWindowToResponse(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	window, err := timeutil.NewWindow("7d", now, time.UTC)
	if err != nil {
		t.Fatalf("new window: %v", err)
	}

	resp := windowToResponse(window)
	if resp.Period != "7d" {
		t.Fatalf("period %q", resp.Period)
	}
	if resp.Timezone != "UTC" {
		t.Fatalf("timezone %q", resp.Timezone)
	}
	if resp.Start == "" || resp.End == "" {
		t.Fatalf("window bounds missing: %+v", resp)
	}
}
