package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ojbackend/internal/common/cache"
)

const defaultCooldown = 10 * time.Second

// Limiter throttles submission claims per user. TryAcquire either takes
// the slot for key and starts a fresh cooldown, or reports that the
// cooldown from a previous claim is still running.
type Limiter interface {
	TryAcquire(ctx context.Context, key string) (bool, error)
}

// RedisLimiter implements Limiter on the shared cache. The cooldown slot
// is a single SETNX with TTL, so concurrent claims for the same user race
// on one atomic write and exactly one wins.
type RedisLimiter struct {
	cache    cache.Cache
	cooldown time.Duration
}

// NewRedisLimiter creates a cache-backed limiter.
func NewRedisLimiter(cacheClient cache.Cache, cooldown time.Duration) (*RedisLimiter, error) {
	if cacheClient == nil {
		return nil, fmt.Errorf("cache client is required")
	}
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &RedisLimiter{cache: cacheClient, cooldown: cooldown}, nil
}

func (l *RedisLimiter) TryAcquire(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("rate limit key is required")
	}
	ok, err := l.cache.SetNX(ctx, limitKey(key), time.Now().UTC().Format(time.RFC3339Nano), l.cooldown)
	if err != nil {
		return false, fmt.Errorf("rate limit check failed: %w", err)
	}
	return ok, nil
}

func limitKey(key string) string {
	return "ratelimit:submit:" + key
}

// MemoryLimiter is an in-process Limiter for single-node deployments
// and tests.
type MemoryLimiter struct {
	cooldown time.Duration
	now      func() time.Time

	mu    sync.Mutex
	slots map[string]time.Time
}

// NewMemoryLimiter creates an in-memory limiter.
func NewMemoryLimiter(cooldown time.Duration) *MemoryLimiter {
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &MemoryLimiter{
		cooldown: cooldown,
		now:      time.Now,
		slots:    make(map[string]time.Time),
	}
}

// WithClock overrides the time source. Test hook.
func (l *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	l.now = now
	return l
}

func (l *MemoryLimiter) TryAcquire(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("rate limit key is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if until, ok := l.slots[key]; ok && now.Before(until) {
		return false, nil
	}
	l.slots[key] = now.Add(l.cooldown)
	return true, nil
}
