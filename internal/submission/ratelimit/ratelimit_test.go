package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"ojbackend/internal/common/cache"
)

func newTestRedisLimiter(t *testing.T, cooldown time.Duration) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	cacheClient, err := cache.NewRedisCache(server.Addr())
	if err != nil {
		t.Fatalf("NewRedisCache failed: %v", err)
	}
	t.Cleanup(func() { _ = cacheClient.Close() })

	limiter, err := NewRedisLimiter(cacheClient, cooldown)
	if err != nil {
		t.Fatalf("NewRedisLimiter failed: %v", err)
	}
	return limiter, server
}

func TestRedisLimiterCooldown(t *testing.T) {
	t.Parallel()

	limiter, server := newTestRedisLimiter(t, 10*time.Second)
	ctx := context.Background()

	ok, err := limiter.TryAcquire(ctx, "alice")
	if err != nil {
		t.Fatalf("TryAcquire failed: %v", err)
	}
	if !ok {
		t.Fatal("expected first acquire to succeed")
	}

	ok, err = limiter.TryAcquire(ctx, "alice")
	if err != nil {
		t.Fatalf("TryAcquire failed: %v", err)
	}
	if ok {
		t.Fatal("expected second acquire within cooldown to fail")
	}

	// Another user is unaffected.
	ok, err = limiter.TryAcquire(ctx, "bob")
	if err != nil {
		t.Fatalf("TryAcquire failed: %v", err)
	}
	if !ok {
		t.Fatal("expected acquire for a different user to succeed")
	}

	server.FastForward(11 * time.Second)
	ok, err = limiter.TryAcquire(ctx, "alice")
	if err != nil {
		t.Fatalf("TryAcquire failed: %v", err)
	}
	if !ok {
		t.Fatal("expected acquire after cooldown to succeed")
	}
}

func TestRedisLimiterConcurrentClaims(t *testing.T) {
	t.Parallel()

	limiter, _ := newTestRedisLimiter(t, 10*time.Second)
	ctx := context.Background()

	const claims = 16
	var wg sync.WaitGroup
	results := make([]bool, claims)
	for i := 0; i < claims; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := limiter.TryAcquire(ctx, "alice")
			if err != nil {
				t.Errorf("TryAcquire failed: %v", err)
				return
			}
			results[i] = ok
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, ok := range results {
		if ok {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("expected exactly one winner, got %d", winners)
	}
}

func TestMemoryLimiterCooldown(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter(10 * time.Second).WithClock(func() time.Time { return now })
	ctx := context.Background()

	ok, err := limiter.TryAcquire(ctx, "alice")
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, got ok=%v err=%v", ok, err)
	}

	ok, _ = limiter.TryAcquire(ctx, "alice")
	if ok {
		t.Fatal("expected second acquire within cooldown to fail")
	}

	now = now.Add(11 * time.Second)
	ok, _ = limiter.TryAcquire(ctx, "alice")
	if !ok {
		t.Fatal("expected acquire after cooldown to succeed")
	}
}

func TestMemoryLimiterRejectsEmptyKey(t *testing.T) {
	t.Parallel()

	limiter := NewMemoryLimiter(time.Second)
	if _, err := limiter.TryAcquire(context.Background(), ""); err == nil {
		t.Fatal("expected an error for empty key")
	}
}
