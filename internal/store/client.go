package store

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nftecnologia/mailgenius/internal/pkg/logger"
)

// Client is the degrading adapter handed to components. It prefers the
// networked variant and falls back to the in-process variant when Redis is
// down. Networked failures never surface to callers as errors: the call is
// replayed against the fallback and a warning is logged.
type Client struct {
	// primary is nil while Redis was never reachable. The recovery probe
	// writes it from its own goroutine, so every access goes through the
	// atomic pointer.
	primary  atomic.Pointer[RedisStore]
	fallback *MemoryStore

	degraded  atomic.Bool
	probeStop chan struct{}
}

// NewClient builds the adapter. A Redis connection failure is not fatal:
// the client starts degraded and probes for recovery in the background.
func NewClient(opts RedisOptions) *Client {
	c := &Client{
		fallback:  NewMemory(),
		probeStop: make(chan struct{}),
	}

	primary, err := NewRedis(opts)
	if err != nil {
		logger.Warn("shared store unavailable, using in-process fallback", "error", err.Error())
		c.degraded.Store(true)
	} else {
		c.primary.Store(primary)
	}

	go c.probe(opts)
	return c
}

// NewClientWith wires explicit variants. Used by tests.
func NewClientWith(primary *RedisStore, fallback *MemoryStore) *Client {
	c := &Client{fallback: fallback, probeStop: make(chan struct{})}
	if primary == nil {
		c.degraded.Store(true)
	} else {
		c.primary.Store(primary)
	}
	return c
}

// probe periodically re-checks a degraded primary and restores it.
func (c *Client) probe(opts RedisOptions) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.probeStop:
			return
		case <-ticker.C:
			if !c.degraded.Load() {
				continue
			}
			primary := c.primary.Load()
			if primary == nil {
				fresh, err := NewRedis(opts)
				if err != nil {
					continue
				}
				c.primary.Store(fresh)
				primary = fresh
			}
			if primary.Ready() {
				c.degraded.Store(false)
				logger.Info("shared store recovered, leaving fallback mode")
			}
		}
	}
}

// Ready reports whether the networked variant is serving.
func (c *Client) Ready() bool {
	return c.ready() != nil
}

// ready returns the networked variant when it is serving, else nil.
func (c *Client) ready() *RedisStore {
	if c.degraded.Load() {
		return nil
	}
	return c.primary.Load()
}

// backend picks the live variant for the next call.
func (c *Client) backend() Store {
	if p := c.ready(); p != nil {
		return p
	}
	return c.fallback
}

// degrade flips to the fallback and logs the trigger once per outage.
func (c *Client) degrade(op string, err error) {
	if c.degraded.CompareAndSwap(false, true) {
		logger.Warn("shared store error, degrading to in-process fallback", "op", op, "error", err.Error())
	}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.backend().Ping(ctx)
}

func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	if p := c.ready(); p != nil {
		val, ok, err := p.Get(ctx, key)
		if err == nil {
			return val, ok, nil
		}
		c.degrade("get", err)
	}
	return c.fallback.Get(ctx, key)
}

func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if p := c.ready(); p != nil {
		if err := p.Set(ctx, key, value, ttl); err == nil {
			return nil
		} else {
			c.degrade("set", err)
		}
	}
	return c.fallback.Set(ctx, key, value, ttl)
}

func (c *Client) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if p := c.ready(); p != nil {
		ok, err := p.SetNX(ctx, key, value, ttl)
		if err == nil {
			return ok, nil
		}
		c.degrade("setnx", err)
	}
	return c.fallback.SetNX(ctx, key, value, ttl)
}

func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	if p := c.ready(); p != nil {
		n, err := p.Incr(ctx, key)
		if err == nil {
			return n, nil
		}
		c.degrade("incr", err)
	}
	return c.fallback.Incr(ctx, key)
}

func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if p := c.ready(); p != nil {
		if err := p.Expire(ctx, key, ttl); err == nil {
			return nil
		} else {
			c.degrade("expire", err)
		}
	}
	return c.fallback.Expire(ctx, key, ttl)
}

func (c *Client) PTTL(ctx context.Context, key string) (time.Duration, error) {
	if p := c.ready(); p != nil {
		d, err := p.PTTL(ctx, key)
		if err == nil {
			return d, nil
		}
		c.degrade("pttl", err)
	}
	return c.fallback.PTTL(ctx, key)
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if p := c.ready(); p != nil {
		if err := p.Del(ctx, keys...); err == nil {
			return nil
		} else {
			c.degrade("del", err)
		}
	}
	return c.fallback.Del(ctx, keys...)
}

func (c *Client) LPush(ctx context.Context, key string, values ...string) error {
	if p := c.ready(); p != nil {
		if err := p.LPush(ctx, key, values...); err == nil {
			return nil
		} else {
			c.degrade("lpush", err)
		}
	}
	return c.fallback.LPush(ctx, key, values...)
}

func (c *Client) LTrim(ctx context.Context, key string, start, stop int64) error {
	if p := c.ready(); p != nil {
		if err := p.LTrim(ctx, key, start, stop); err == nil {
			return nil
		} else {
			c.degrade("ltrim", err)
		}
	}
	return c.fallback.LTrim(ctx, key, start, stop)
}

func (c *Client) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	if p := c.ready(); p != nil {
		vals, err := p.LRange(ctx, key, start, stop)
		if err == nil {
			return vals, nil
		}
		c.degrade("lrange", err)
	}
	return c.fallback.LRange(ctx, key, start, stop)
}

func (c *Client) ZAdd(ctx context.Context, key string, score float64, member string) error {
	if p := c.ready(); p != nil {
		if err := p.ZAdd(ctx, key, score, member); err == nil {
			return nil
		} else {
			c.degrade("zadd", err)
		}
	}
	return c.fallback.ZAdd(ctx, key, score, member)
}

func (c *Client) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	if p := c.ready(); p != nil {
		if err := p.ZRemRangeByScore(ctx, key, min, max); err == nil {
			return nil
		} else {
			c.degrade("zremrangebyscore", err)
		}
	}
	return c.fallback.ZRemRangeByScore(ctx, key, min, max)
}

func (c *Client) ZCard(ctx context.Context, key string) (int64, error) {
	if p := c.ready(); p != nil {
		n, err := p.ZCard(ctx, key)
		if err == nil {
			return n, nil
		}
		c.degrade("zcard", err)
	}
	return c.fallback.ZCard(ctx, key)
}

func (c *Client) HIncrBy(ctx context.Context, key, field string, n int64) (int64, error) {
	if p := c.ready(); p != nil {
		v, err := p.HIncrBy(ctx, key, field, n)
		if err == nil {
			return v, nil
		}
		c.degrade("hincrby", err)
	}
	return c.fallback.HIncrBy(ctx, key, field, n)
}

func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if p := c.ready(); p != nil {
		m, err := p.HGetAll(ctx, key)
		if err == nil {
			return m, nil
		}
		c.degrade("hgetall", err)
	}
	return c.fallback.HGetAll(ctx, key)
}

func (c *Client) Publish(ctx context.Context, channel, payload string) error {
	if p := c.ready(); p != nil {
		if err := p.Publish(ctx, channel, payload); err == nil {
			return nil
		} else {
			c.degrade("publish", err)
		}
	}
	return c.fallback.Publish(ctx, channel, payload)
}

func (c *Client) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	if p := c.ready(); p != nil {
		sub, err := p.Subscribe(ctx, channel)
		if err == nil {
			return sub, nil
		}
		c.degrade("subscribe", err)
	}
	return c.fallback.Subscribe(ctx, channel)
}

func (c *Client) Pipeline() Pipeline {
	return c.backend().Pipeline()
}

func (c *Client) Close() error {
	select {
	case <-c.probeStop:
	default:
		close(c.probeStop)
	}
	if p := c.primary.Load(); p != nil {
		p.Close()
	}
	return c.fallback.Close()
}
