// Package store provides the shared key-value store used for hot state:
// rate-limit counters, metric series, progress cache, log lists and pub/sub.
// A networked Redis variant is primary; an in-process variant with the same
// capability set is the fallback when Redis is unreachable.
package store

import (
	"context"
	"time"
)

// Message is a pub/sub payload delivered to subscribers.
type Message struct {
	Channel string
	Payload string
}

// Subscription is a handle on a pub/sub channel. Close releases it.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Result is one entry of a pipeline execution.
type Result struct {
	Int int64
	Str string
	Err error
}

// Pipeline is an ordered batch of commands executed atomically.
// Results come back in command order.
type Pipeline interface {
	Incr(key string)
	Expire(key string, ttl time.Duration)
	Set(key, value string, ttl time.Duration)
	LPush(key string, values ...string)
	LTrim(key string, start, stop int64)
	Exec(ctx context.Context) ([]Result, error)
}

// Store is the capability set every component consumes. Both variants
// implement it with identical semantics.
type Store interface {
	Ping(ctx context.Context) error
	Ready() bool

	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	PTTL(ctx context.Context, key string) (time.Duration, error)
	Del(ctx context.Context, keys ...string) error

	LPush(ctx context.Context, key string, values ...string) error
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) error
	ZCard(ctx context.Context, key string) (int64, error)

	HIncrBy(ctx context.Context, key, field string, n int64) (int64, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	Pipeline() Pipeline

	Close() error
}
