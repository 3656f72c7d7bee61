// Package cache holds the Redis-backed replay cache for idempotent API calls.
package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultReplayTTL = 30 * time.Minute

// IdempotencyCache replays serialized /v1 responses for repeated requests
// carrying the same Idempotency-Key. Entries are scoped per tenant so a key
// presented by one tenant can never surface another tenant's response.
type IdempotencyCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewIdempotencyCache wraps client with the replay window ttl. A nil client
// yields a cache that never hits, so callers need no guard.
func NewIdempotencyCache(client *redis.Client, ttl time.Duration) *IdempotencyCache {
	if ttl <= 0 {
		ttl = defaultReplayTTL
	}
	return &IdempotencyCache{client: client, ttl: ttl}
}

// Get returns the stored response for the tenant's key, if the replay window
// is still open. Lookup failures count as misses.
func (c *IdempotencyCache) Get(ctx context.Context, tenantID uuid.UUID, key string) ([]byte, bool) {
	if c == nil || c.client == nil || key == "" {
		return nil, false
	}
	data, err := c.client.Get(ctx, replayKey(tenantID, key)).Bytes()
	if err != nil {
		return nil, false
	}
	return data, true
}

// Set records the response for later replay. Write failures are silent; the
// worst case is the client re-executing the request.
func (c *IdempotencyCache) Set(ctx context.Context, tenantID uuid.UUID, key string, value []byte) {
	if c == nil || c.client == nil || key == "" || len(value) == 0 {
		return
	}
	c.client.Set(ctx, replayKey(tenantID, key), value, c.ttl)
}

func replayKey(tenantID uuid.UUID, key string) string {
	return "idem:" + tenantID.String() + ":" + key
}
