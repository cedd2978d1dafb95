package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nftecnologia/mailgenius/internal/store"
)

func redisLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rs := store.NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	return New(rs), mr
}

func memoryLimiter(t *testing.T) *Limiter {
	t.Helper()
	// A client without a primary keeps the limiter on its local buckets.
	c := store.NewClientWith(nil, store.NewMemory())
	t.Cleanup(func() { c.Close() })
	return New(c)
}

func TestSequentialDenial(t *testing.T) {
	// Three checks against a max-2 window: allow, allow, deny.
	ctx := context.Background()
	l, _ := redisLimiter(t)

	r1 := l.Check(ctx, "u1", AuthStrict)
	r2 := l.Check(ctx, "u1", AuthStrict)

	assert.True(t, r1.Allowed)
	assert.Equal(t, 4, r1.Remaining)
	assert.True(t, r2.Allowed)
	assert.Equal(t, 3, r2.Remaining)

	for i := 0; i < 3; i++ {
		l.Check(ctx, "u1", AuthStrict)
	}
	denied := l.Check(ctx, "u1", AuthStrict)
	assert.False(t, denied.Allowed)
	assert.Equal(t, 0, denied.Remaining)
	assert.Greater(t, denied.RetryAfterSec, 0)
	assert.NotEmpty(t, denied.Message)
}

func TestBurstConcurrency(t *testing.T) {
	// 10 parallel checks on API_BURST all pass; the 11th sees remaining=89.
	ctx := context.Background()
	l, _ := redisLimiter(t)

	var wg sync.WaitGroup
	results := make([]Result, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = l.Check(ctx, "c1", APIBurst)
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		assert.True(t, r.Allowed, "parallel check %d should be allowed", i)
	}

	r := l.Check(ctx, "c1", APIBurst)
	assert.True(t, r.Allowed)
	assert.Equal(t, 89, r.Remaining)
}

func TestPerIdentifierIsolation(t *testing.T) {
	ctx := context.Background()
	l, _ := redisLimiter(t)

	for i := 0; i < 5; i++ {
		l.Check(ctx, "a", APIBurst)
	}
	assert.Equal(t, 100, l.Remaining(ctx, "b", APIBurst))
	assert.Equal(t, 95, l.Remaining(ctx, "a", APIBurst))
}

func TestEmptyIdentifierIsDistinctBucket(t *testing.T) {
	ctx := context.Background()
	l, _ := redisLimiter(t)

	l.Check(ctx, "", APIBurst)
	l.Check(ctx, "", APIBurst)

	assert.Equal(t, 98, l.Remaining(ctx, "", APIBurst))
	assert.Equal(t, 100, l.Remaining(ctx, "someone", APIBurst))
}

func TestUnknownProfileDoesNotFail(t *testing.T) {
	ctx := context.Background()
	l, _ := redisLimiter(t)

	r := l.Check(ctx, "u1", "NO_SUCH_PROFILE")
	assert.True(t, r.Allowed)
	// Safe default is API_STANDARD.
	assert.Equal(t, 1000, r.Limit)
	assert.Equal(t, 999, r.Remaining)
}

func TestWindowRollover(t *testing.T) {
	ctx := context.Background()
	l, mr := redisLimiter(t)

	for i := 0; i < 100; i++ {
		l.Check(ctx, "roll", APIBurst)
	}
	assert.False(t, l.Check(ctx, "roll", APIBurst).Allowed)

	// First call past resetAt starts a fresh window at count=1.
	mr.FastForward(61 * time.Second)
	r := l.Check(ctx, "roll", APIBurst)
	assert.True(t, r.Allowed)
	assert.Equal(t, 99, r.Remaining)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	l, _ := redisLimiter(t)

	l.Check(ctx, "u1", APIBurst)
	l.Check(ctx, "u1", APIBurst)
	require.NoError(t, l.Reset(ctx, "u1", APIBurst))
	assert.Equal(t, 100, l.Remaining(ctx, "u1", APIBurst))
}

func TestFallbackVariant(t *testing.T) {
	ctx := context.Background()
	l := memoryLimiter(t)

	r1 := l.Check(ctx, "u1", AuthStrict)
	assert.True(t, r1.Allowed)
	assert.Equal(t, 4, r1.Remaining)

	for i := 0; i < 4; i++ {
		l.Check(ctx, "u1", AuthStrict)
	}
	denied := l.Check(ctx, "u1", AuthStrict)
	assert.False(t, denied.Allowed)
	assert.Greater(t, denied.RetryAfterSec, 0)

	// Steady state: repeated denials never push the observed count past max.
	for i := 0; i < 10; i++ {
		assert.False(t, l.Check(ctx, "u1", AuthStrict).Allowed)
	}
	assert.Equal(t, 0, l.Remaining(ctx, "u1", AuthStrict))
}

func TestFallbackConcurrency(t *testing.T) {
	ctx := context.Background()
	l := memoryLimiter(t)

	var wg sync.WaitGroup
	allowed := make([]bool, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			allowed[i] = l.Check(ctx, "burst", EmailBurst).Allowed
		}(i)
	}
	wg.Wait()

	granted := 0
	for _, ok := range allowed {
		if ok {
			granted++
		}
	}
	assert.Equal(t, 50, granted)
	assert.Equal(t, 0, l.Remaining(ctx, "burst", EmailBurst))
}

func TestResultHeaders(t *testing.T) {
	resetAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	h := Result{Allowed: true, Limit: 100, Remaining: 42, ResetAt: resetAt}.Headers()
	assert.Equal(t, "100", h["X-RateLimit-Limit"])
	assert.Equal(t, "42", h["X-RateLimit-Remaining"])
	assert.Equal(t, "2026-03-01T12:00:00Z", h["X-RateLimit-Reset-Time"])
	_, hasRetry := h["Retry-After"]
	assert.False(t, hasRetry)

	h = Result{Allowed: false, Limit: 100, ResetAt: resetAt, RetryAfterSec: 30}.Headers()
	assert.Equal(t, "30", h["Retry-After"])
}
