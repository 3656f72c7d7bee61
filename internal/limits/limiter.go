package limits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/modelrelay/modelrelay/internal/timeutil"
)

var ErrLimitExceeded = errors.New("rate limit exceeded")

const (
	ScopeTenant = "tenant"
	ScopeKey    = "key"

	axisRPM = "rpm"
	axisTPM = "tpm"

	semaphoreTTL = 5 * time.Minute
)

// LimitConfig holds per-minute and concurrency ceilings. Non-positive values
// disable the axis.
type LimitConfig struct {
	RequestsPerMinute int64
	TokensPerMinute   int64
	ParallelRequests  int64
}

// LimitExceededError reports which scope and axis rejected the request.
// RetryAfter is in whole seconds.
type LimitExceededError struct {
	Scope      string
	Axis       string
	RetryAfter int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %s %s", e.Scope, e.Axis)
}

func (e *LimitExceededError) Is(target error) bool {
	return target == ErrLimitExceeded
}

// Effective resolves the key-level limits: the override wins when set,
// otherwise the instance default, and no axis may exceed the tenant ceiling.
func Effective(defaults, override, tenant LimitConfig) LimitConfig {
	pick := func(override, def int64) int64 {
		if override > 0 {
			return override
		}
		return def
	}
	clamp := func(v, ceiling int64) int64 {
		if ceiling > 0 && (v <= 0 || v > ceiling) {
			return ceiling
		}
		return v
	}
	return LimitConfig{
		RequestsPerMinute: clamp(pick(override.RequestsPerMinute, defaults.RequestsPerMinute), tenant.RequestsPerMinute),
		TokensPerMinute:   clamp(pick(override.TokensPerMinute, defaults.TokensPerMinute), tenant.TokensPerMinute),
		ParallelRequests:  clamp(pick(override.ParallelRequests, defaults.ParallelRequests), tenant.ParallelRequests),
	}
}

type RateLimiter struct {
	client *redis.Client
}

func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client}
}

type tpmSlot struct {
	key      string
	reserved int64
}

// Reservation tracks acquired semaphores and token reservations so they can
// be released or reconciled after the request completes.
type Reservation struct {
	limiter *RateLimiter
	sems    []string
	tpm     []tpmSlot
}

func bucketKey(scope, id, axis string, minute int64) string {
	return fmt.Sprintf("rl:%s:%s:%s:%d", scope, id, axis, minute)
}

func semaphoreKey(scope, id string) string {
	return "parallel:" + scope + ":" + id
}

// Reserve acquires tenant-scope limits first, then key-scope. On any
// rejection everything already acquired is rolled back before returning.
// estTokens is the pre-flight token estimate reserved against TPM buckets.
func (l *RateLimiter) Reserve(ctx context.Context, tenantID, keyID string, tenant, key LimitConfig, estTokens int64) (*Reservation, error) {
	res := &Reservation{limiter: l}
	if l == nil || l.client == nil {
		return res, nil
	}

	now := time.Now().UTC()
	minute := timeutil.MinuteBucket(now)
	retryAfter := timeutil.SecondsToMinuteEnd(now)

	var undo []func(context.Context)
	rollback := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i](ctx)
		}
	}

	scopes := []struct {
		scope string
		id    string
		cfg   LimitConfig
	}{
		{ScopeTenant, tenantID, tenant},
		{ScopeKey, keyID, key},
	}

	for _, sc := range scopes {
		if sc.id == "" {
			continue
		}
		if sc.cfg.RequestsPerMinute > 0 {
			rk := bucketKey(sc.scope, sc.id, axisRPM, minute)
			ok, err := l.bucketIncr(ctx, rk, 1, sc.cfg.RequestsPerMinute)
			if err != nil {
				rollback()
				return nil, err
			}
			if !ok {
				rollback()
				return nil, &LimitExceededError{Scope: sc.scope, Axis: axisRPM, RetryAfter: retryAfter}
			}
			undo = append(undo, func(ctx context.Context) { l.client.DecrBy(ctx, rk, 1) })
		}
		if sc.cfg.TokensPerMinute > 0 && estTokens > 0 {
			tk := bucketKey(sc.scope, sc.id, axisTPM, minute)
			ok, err := l.bucketIncr(ctx, tk, estTokens, sc.cfg.TokensPerMinute)
			if err != nil {
				rollback()
				return nil, err
			}
			if !ok {
				rollback()
				return nil, &LimitExceededError{Scope: sc.scope, Axis: axisTPM, RetryAfter: retryAfter}
			}
			undo = append(undo, func(ctx context.Context) { l.client.DecrBy(ctx, tk, estTokens) })
			res.tpm = append(res.tpm, tpmSlot{key: tk, reserved: estTokens})
		}
		if sc.cfg.ParallelRequests > 0 {
			sk := semaphoreKey(sc.scope, sc.id)
			ok, err := l.semaphoreAcquire(ctx, sk, sc.cfg.ParallelRequests)
			if err != nil {
				rollback()
				return nil, err
			}
			if !ok {
				rollback()
				return nil, &LimitExceededError{Scope: sc.scope, Axis: "parallel", RetryAfter: 1}
			}
			undo = append(undo, func(ctx context.Context) { l.client.Decr(ctx, sk) })
			res.sems = append(res.sems, sk)
		}
	}

	return res, nil
}

// bucketIncr adds n to the minute bucket and rolls back when the result
// exceeds the limit. The TTL is set on first touch.
func (l *RateLimiter) bucketIncr(ctx context.Context, key string, n, limit int64) (bool, error) {
	cnt, err := l.client.IncrBy(ctx, key, n).Result()
	if err != nil {
		return false, err
	}
	if cnt == n {
		l.client.Expire(ctx, key, 2*time.Minute)
	}
	if cnt > limit {
		l.client.DecrBy(ctx, key, n)
		return false, nil
	}
	return true, nil
}

func (l *RateLimiter) semaphoreAcquire(ctx context.Context, key string, max int64) (bool, error) {
	cnt, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	// Refresh the idle TTL on every acquire so crashed holders drain away.
	l.client.Expire(ctx, key, semaphoreTTL)
	if cnt > max {
		l.client.Decr(ctx, key)
		return false, nil
	}
	return true, nil
}

// Release frees acquired semaphores in reverse order of acquisition.
func (r *Reservation) Release(ctx context.Context) {
	if r == nil || r.limiter == nil || r.limiter.client == nil {
		return
	}
	for i := len(r.sems) - 1; i >= 0; i-- {
		r.limiter.client.Decr(ctx, r.sems[i])
	}
	r.sems = nil
}

// ReconcileTokens adjusts the TPM buckets from the pre-flight estimate to
// actual usage. Overconsumption is debited without a limit check; the next
// reservation in the same minute absorbs the overage.
func (r *Reservation) ReconcileTokens(ctx context.Context, actualTokens int64) {
	if r == nil || r.limiter == nil || r.limiter.client == nil {
		return
	}
	for _, slot := range r.tpm {
		diff := actualTokens - slot.reserved
		if diff == 0 {
			continue
		}
		cnt, err := r.limiter.client.IncrBy(ctx, slot.key, diff).Result()
		if err != nil {
			continue
		}
		if cnt == diff {
			r.limiter.client.Expire(ctx, slot.key, 2*time.Minute)
		}
	}
	r.tpm = nil
}
