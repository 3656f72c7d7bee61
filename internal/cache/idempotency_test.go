package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func testCache(t *testing.T) *IdempotencyCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewIdempotencyCache(client, time.Minute)
}

func TestReplayScopedToTenant(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()
	owner := uuid.New()
	other := uuid.New()

	c.Set(ctx, owner, "req-abc", []byte(`{"id":"chatcmpl-1"}`))

	data, ok := c.Get(ctx, owner, "req-abc")
	if !ok || string(data) != `{"id":"chatcmpl-1"}` {
		t.Fatalf("owner replay failed: ok=%v data=%q", ok, data)
	}
	if _, ok := c.Get(ctx, other, "req-abc"); ok {
		t.Fatal("replay entry leaked across tenants")
	}
}

func TestReplayMissesAreSafe(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()
	tenant := uuid.New()

	if _, ok := c.Get(ctx, tenant, "never-seen"); ok {
		t.Fatal("unexpected hit for unknown key")
	}

	c.Set(ctx, tenant, "", []byte("ignored"))
	c.Set(ctx, tenant, "empty-value", nil)
	if _, ok := c.Get(ctx, tenant, "empty-value"); ok {
		t.Fatal("empty value should not be stored")
	}

	var nilCache *IdempotencyCache
	if _, ok := nilCache.Get(ctx, tenant, "key"); ok {
		t.Fatal("nil cache must miss")
	}
	nilCache.Set(ctx, tenant, "key", []byte("x"))
}
