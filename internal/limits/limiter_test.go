package limits

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T) (*RateLimiter, *redis.Client, func()) {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	limiter := NewRateLimiter(client)
	cleanup := func() {
		client.Close()
		server.Close()
	}
	return limiter, client, cleanup
}

func currentBucket(scope, id, axis string) string {
	minute := time.Now().UTC().Unix() / 60
	return fmt.Sprintf("rl:%s:%s:%s:%d", scope, id, axis, minute)
}

func TestReserveEnforcesRPM(t *testing.T) {
	limiter, _, cleanup := newTestLimiter(t)
	defer cleanup()

	ctx := context.Background()
	tenant := LimitConfig{RequestsPerMinute: 2}

	for i := 0; i < 2; i++ {
		if _, err := limiter.Reserve(ctx, "t1", "k1", tenant, LimitConfig{}, 0); err != nil {
			t.Fatalf("request %d should pass: %v", i+1, err)
		}
	}
	_, err := limiter.Reserve(ctx, "t1", "k1", tenant, LimitConfig{}, 0)
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected rpm limit error, got %v", err)
	}
	var lim *LimitExceededError
	if !errors.As(err, &lim) {
		t.Fatalf("expected LimitExceededError, got %T", err)
	}
	if lim.Scope != ScopeTenant || lim.Axis != "rpm" {
		t.Fatalf("unexpected scope/axis %s/%s", lim.Scope, lim.Axis)
	}
	if lim.RetryAfter < 1 || lim.RetryAfter > 60 {
		t.Fatalf("retry-after should land inside the minute, got %d", lim.RetryAfter)
	}
}

func TestReserveEnforcesParallelAndReleases(t *testing.T) {
	limiter, _, cleanup := newTestLimiter(t)
	defer cleanup()

	ctx := context.Background()
	key := LimitConfig{ParallelRequests: 1}

	res, err := limiter.Reserve(ctx, "t1", "k1", LimitConfig{}, key, 0)
	if err != nil {
		t.Fatalf("first request should pass: %v", err)
	}
	if _, err := limiter.Reserve(ctx, "t1", "k1", LimitConfig{}, key, 0); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected parallel limit error, got %v", err)
	}
	res.Release(ctx)
	if _, err := limiter.Reserve(ctx, "t1", "k1", LimitConfig{}, key, 0); err != nil {
		t.Fatalf("request after release should pass: %v", err)
	}
}

func TestReserveTokensRollsBackOnRejection(t *testing.T) {
	limiter, client, cleanup := newTestLimiter(t)
	defer cleanup()

	ctx := context.Background()
	tenant := LimitConfig{TokensPerMinute: 10}

	if _, err := limiter.Reserve(ctx, "t1", "k1", tenant, LimitConfig{}, 6); err != nil {
		t.Fatalf("first reservation should pass: %v", err)
	}
	if _, err := limiter.Reserve(ctx, "t1", "k1", tenant, LimitConfig{}, 6); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected tpm limit error, got %v", err)
	}

	used, err := client.Get(ctx, currentBucket("tenant", "t1", "tpm")).Int()
	if err != nil {
		t.Fatalf("get redis value: %v", err)
	}
	if used != 6 {
		t.Fatalf("expected usage to stay at 6 after rollback, got %d", used)
	}
}

func TestReservePartialFailureReleasesTenantScope(t *testing.T) {
	limiter, client, cleanup := newTestLimiter(t)
	defer cleanup()

	ctx := context.Background()
	tenant := LimitConfig{RequestsPerMinute: 100, ParallelRequests: 10}
	key := LimitConfig{ParallelRequests: 1}

	res, err := limiter.Reserve(ctx, "t1", "k1", tenant, key, 0)
	if err != nil {
		t.Fatalf("first request should pass: %v", err)
	}

	// Key semaphore is full, so tenant rpm and semaphore must be rolled back.
	if _, err := limiter.Reserve(ctx, "t1", "k1", tenant, key, 0); !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected key parallel limit error, got %v", err)
	}

	rpm, err := client.Get(ctx, currentBucket("tenant", "t1", "rpm")).Int()
	if err != nil {
		t.Fatalf("get rpm bucket: %v", err)
	}
	if rpm != 1 {
		t.Fatalf("expected tenant rpm to roll back to 1, got %d", rpm)
	}
	sem, err := client.Get(ctx, "parallel:tenant:t1").Int()
	if err != nil {
		t.Fatalf("get tenant semaphore: %v", err)
	}
	if sem != 1 {
		t.Fatalf("expected tenant semaphore to roll back to 1, got %d", sem)
	}
	res.Release(ctx)
}

func TestReconcileTokens(t *testing.T) {
	limiter, client, cleanup := newTestLimiter(t)
	defer cleanup()

	ctx := context.Background()
	tenant := LimitConfig{TokensPerMinute: 100}

	res, err := limiter.Reserve(ctx, "t1", "k1", tenant, LimitConfig{}, 40)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// Actual usage came in under the estimate; the difference is returned.
	res.ReconcileTokens(ctx, 25)

	used, err := client.Get(ctx, currentBucket("tenant", "t1", "tpm")).Int()
	if err != nil {
		t.Fatalf("get redis value: %v", err)
	}
	if used != 25 {
		t.Fatalf("expected bucket to settle at 25, got %d", used)
	}
}

func TestEffectiveClampsToTenant(t *testing.T) {
	defaults := LimitConfig{RequestsPerMinute: 60, TokensPerMinute: 10000, ParallelRequests: 4}
	override := LimitConfig{RequestsPerMinute: 500}
	tenant := LimitConfig{RequestsPerMinute: 100, ParallelRequests: 2}

	got := Effective(defaults, override, tenant)
	if got.RequestsPerMinute != 100 {
		t.Fatalf("rpm should clamp to tenant ceiling, got %d", got.RequestsPerMinute)
	}
	if got.TokensPerMinute != 10000 {
		t.Fatalf("tpm should fall back to default, got %d", got.TokensPerMinute)
	}
	if got.ParallelRequests != 2 {
		t.Fatalf("parallel should clamp to tenant ceiling, got %d", got.ParallelRequests)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(400, 128); got != 228 {
		t.Fatalf("expected 228, got %d", got)
	}
	if got := EstimateTokens(0, 0); got != 1 {
		t.Fatalf("expected floor of 1, got %d", got)
	}
}
