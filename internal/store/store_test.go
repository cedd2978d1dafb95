package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// both variants must behave identically for every operation the core uses.
func variants(t *testing.T) map[string]Store {
	t.Helper()

	mr := miniredis.RunT(t)
	rs := NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ms := NewMemory()
	t.Cleanup(func() { ms.Close() })

	return map[string]Store{"redis": rs, "memory": ms}
}

func TestGetSetDel(t *testing.T) {
	ctx := context.Background()
	for name, s := range variants(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Set(ctx, "k", "v", 0))
			val, ok, err := s.Get(ctx, "k")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "v", val)

			require.NoError(t, s.Del(ctx, "k"))
			_, ok, _ = s.Get(ctx, "k")
			assert.False(t, ok)
		})
	}
}

func TestSetNX(t *testing.T) {
	ctx := context.Background()
	for name, s := range variants(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := s.SetNX(ctx, "nx", "first", time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = s.SetNX(ctx, "nx", "second", time.Minute)
			require.NoError(t, err)
			assert.False(t, ok)

			val, _, _ := s.Get(ctx, "nx")
			assert.Equal(t, "first", val)
		})
	}
}

func TestIncrAndPTTL(t *testing.T) {
	ctx := context.Background()
	for name, s := range variants(t) {
		t.Run(name, func(t *testing.T) {
			n, err := s.Incr(ctx, "counter")
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			n, err = s.Incr(ctx, "counter")
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)

			require.NoError(t, s.Expire(ctx, "counter", time.Minute))
			ttl, err := s.PTTL(ctx, "counter")
			require.NoError(t, err)
			assert.Greater(t, ttl, 50*time.Second)
		})
	}
}

func TestListOps(t *testing.T) {
	ctx := context.Background()
	for name, s := range variants(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.LPush(ctx, "l", "a"))
			require.NoError(t, s.LPush(ctx, "l", "b"))
			require.NoError(t, s.LPush(ctx, "l", "c"))

			vals, err := s.LRange(ctx, "l", 0, -1)
			require.NoError(t, err)
			assert.Equal(t, []string{"c", "b", "a"}, vals)

			require.NoError(t, s.LTrim(ctx, "l", 0, 1))
			vals, _ = s.LRange(ctx, "l", 0, -1)
			assert.Equal(t, []string{"c", "b"}, vals)
		})
	}
}

func TestZSetOps(t *testing.T) {
	ctx := context.Background()
	for name, s := range variants(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.ZAdd(ctx, "z", 1, "one"))
			require.NoError(t, s.ZAdd(ctx, "z", 2, "two"))
			require.NoError(t, s.ZAdd(ctx, "z", 3, "three"))

			n, err := s.ZCard(ctx, "z")
			require.NoError(t, err)
			assert.Equal(t, int64(3), n)

			require.NoError(t, s.ZRemRangeByScore(ctx, "z", 0, 2))
			n, _ = s.ZCard(ctx, "z")
			assert.Equal(t, int64(1), n)
		})
	}
}

func TestHashOps(t *testing.T) {
	ctx := context.Background()
	for name, s := range variants(t) {
		t.Run(name, func(t *testing.T) {
			n, err := s.HIncrBy(ctx, "h", "error", 1)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			_, err = s.HIncrBy(ctx, "h", "error", 4)
			require.NoError(t, err)

			m, err := s.HGetAll(ctx, "h")
			require.NoError(t, err)
			assert.Equal(t, "5", m["error"])
		})
	}
}

func TestPipelineIncrExpire(t *testing.T) {
	ctx := context.Background()
	for name, s := range variants(t) {
		t.Run(name, func(t *testing.T) {
			pipe := s.Pipeline()
			pipe.Incr("p")
			pipe.Expire("p", time.Minute)
			results, err := pipe.Exec(ctx)
			require.NoError(t, err)
			require.Len(t, results, 2)
			assert.Equal(t, int64(1), results[0].Int)

			ttl, _ := s.PTTL(ctx, "p")
			assert.Greater(t, ttl, time.Duration(0))
		})
	}
}

func TestMemoryPubSub(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	defer s.Close()

	sub, err := s.Subscribe(ctx, "progress:t1")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, s.Publish(ctx, "progress:t1", `{"id":"a"}`))
	require.NoError(t, s.Publish(ctx, "progress:other", "ignored"))

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, "progress:t1", msg.Channel)
		assert.Equal(t, `{"id":"a"}`, msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	select {
	case msg := <-sub.Messages():
		t.Fatalf("unexpected message: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	defer s.Close()

	require.NoError(t, s.Set(ctx, "short", "v", 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)
	_, ok, _ := s.Get(ctx, "short")
	assert.False(t, ok, "expired key must be evicted on read")
}

func TestClientDegradesToFallback(t *testing.T) {
	ctx := context.Background()

	mr := miniredis.RunT(t)
	primary := NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	c := NewClientWith(primary, NewMemory())
	defer c.Close()

	require.NoError(t, c.Set(ctx, "k", "v", 0))
	assert.True(t, c.Ready())

	// Kill redis: the next call must degrade, not error.
	mr.Close()
	n, err := c.Incr(ctx, "after-outage")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.False(t, c.Ready())

	// Subsequent calls keep hitting the fallback.
	n, err = c.Incr(ctx, "after-outage")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

// Recovery installs the primary from the probe goroutine while requests
// are in flight; safe under the race detector.
func TestClientRecoveryIsConcurrencySafe(t *testing.T) {
	ctx := context.Background()

	mr := miniredis.RunT(t)
	primary := NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	c := NewClientWith(nil, NewMemory())
	defer c.Close()
	require.False(t, c.Ready())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_, _ = c.Incr(ctx, "spin")
			_ = c.Ready()
		}
	}()

	// What probe() does on recovery.
	c.primary.Store(primary)
	c.degraded.Store(false)

	<-done
	assert.True(t, c.Ready())
	_, _, err := c.Get(ctx, "spin")
	require.NoError(t, err)
}
