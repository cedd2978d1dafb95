package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is the in-process fallback variant. A single writer lock
// guards every key, which gives per-key atomicity for free, and a
// background janitor evicts expired keys.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]*memEntry
	subs map[string][]*memSubscription

	janitorStop chan struct{}
	closeOnce   sync.Once
}

type memEntry struct {
	str      string
	list     []string
	zset     map[string]float64
	hash     map[string]int64
	expireAt time.Time // zero = no expiry
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && !now.Before(e.expireAt)
}

// NewMemory creates a fallback store and starts its janitor.
func NewMemory() *MemoryStore {
	s := &MemoryStore{
		data:        make(map[string]*memEntry),
		subs:        make(map[string][]*memSubscription),
		janitorStop: make(chan struct{}),
	}
	go s.janitor()
	return s
}

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.janitorStop:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for key, e := range s.data {
				if e.expired(now) {
					delete(s.data, key)
				}
			}
			s.mu.Unlock()
		}
	}
}

// entry returns the live entry for key, evicting it first if expired.
// Callers must hold s.mu.
func (s *MemoryStore) entry(key string) (*memEntry, bool) {
	e, ok := s.data[key]
	if !ok {
		return nil, false
	}
	if e.expired(time.Now()) {
		delete(s.data, key)
		return nil, false
	}
	return e, true
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }
func (s *MemoryStore) Ready() bool                    { return true }

func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entry(key)
	if !ok {
		return "", false, nil
	}
	return e.str, true, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(key, value, ttl)
	return nil
}

func (s *MemoryStore) setLocked(key, value string, ttl time.Duration) {
	e := &memEntry{str: value}
	if ttl > 0 {
		e.expireAt = time.Now().Add(ttl)
	}
	s.data[key] = e
}

func (s *MemoryStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entry(key); ok {
		return false, nil
	}
	s.setLocked(key, value, ttl)
	return true, nil
}

func (s *MemoryStore) Incr(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incrLocked(key), nil
}

func (s *MemoryStore) incrLocked(key string) int64 {
	e, ok := s.entry(key)
	if !ok {
		e = &memEntry{}
		s.data[key] = e
	}
	n, _ := strconv.ParseInt(e.str, 10, 64)
	n++
	e.str = strconv.FormatInt(n, 10)
	return n
}

func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked(key, ttl)
	return nil
}

func (s *MemoryStore) expireLocked(key string, ttl time.Duration) {
	if e, ok := s.entry(key); ok {
		e.expireAt = time.Now().Add(ttl)
	}
}

func (s *MemoryStore) PTTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entry(key)
	if !ok {
		return -2 * time.Millisecond, nil
	}
	if e.expireAt.IsZero() {
		return -1 * time.Millisecond, nil
	}
	return time.Until(e.expireAt), nil
}

func (s *MemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func (s *MemoryStore) LPush(ctx context.Context, key string, values ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lpushLocked(key, values...)
	return nil
}

func (s *MemoryStore) lpushLocked(key string, values ...string) {
	e, ok := s.entry(key)
	if !ok {
		e = &memEntry{}
		s.data[key] = e
	}
	// LPUSH prepends values one at a time, so the last value ends up first.
	for _, v := range values {
		e.list = append([]string{v}, e.list...)
	}
}

// rangeBounds resolves Redis-style negative indexes against a list of length n.
func rangeBounds(start, stop, n int64) (int64, int64, bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop, true
}

func (s *MemoryStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ltrimLocked(key, start, stop)
	return nil
}

func (s *MemoryStore) ltrimLocked(key string, start, stop int64) {
	e, ok := s.entry(key)
	if !ok {
		return
	}
	lo, hi, ok := rangeBounds(start, stop, int64(len(e.list)))
	if !ok {
		delete(s.data, key)
		return
	}
	e.list = e.list[lo : hi+1]
}

func (s *MemoryStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entry(key)
	if !ok {
		return nil, nil
	}
	lo, hi, ok := rangeBounds(start, stop, int64(len(e.list)))
	if !ok {
		return nil, nil
	}
	out := make([]string, hi-lo+1)
	copy(out, e.list[lo:hi+1])
	return out, nil
}

func (s *MemoryStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entry(key)
	if !ok {
		e = &memEntry{zset: make(map[string]float64)}
		s.data[key] = e
	}
	if e.zset == nil {
		e.zset = make(map[string]float64)
	}
	e.zset[member] = score
	return nil
}

func (s *MemoryStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entry(key)
	if !ok {
		return nil
	}
	for member, score := range e.zset {
		if score >= min && score <= max {
			delete(e.zset, member)
		}
	}
	return nil
}

func (s *MemoryStore) ZCard(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entry(key)
	if !ok {
		return 0, nil
	}
	return int64(len(e.zset)), nil
}

func (s *MemoryStore) HIncrBy(ctx context.Context, key, field string, n int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entry(key)
	if !ok {
		e = &memEntry{hash: make(map[string]int64)}
		s.data[key] = e
	}
	if e.hash == nil {
		e.hash = make(map[string]int64)
	}
	e.hash[field] += n
	return e.hash[field], nil
}

func (s *MemoryStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string)
	e, ok := s.entry(key)
	if !ok {
		return out, nil
	}
	fields := make([]string, 0, len(e.hash))
	for f := range e.hash {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		out[f] = strconv.FormatInt(e.hash[f], 10)
	}
	return out, nil
}

type memSubscription struct {
	store   *MemoryStore
	channel string
	out     chan Message
	once    sync.Once
}

func (s *memSubscription) Messages() <-chan Message { return s.out }

func (s *memSubscription) Close() error {
	s.once.Do(func() {
		s.store.mu.Lock()
		subs := s.store.subs[s.channel]
		for i, sub := range subs {
			if sub == s {
				s.store.subs[s.channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		s.store.mu.Unlock()
		close(s.out)
	})
	return nil
}

func (s *MemoryStore) Publish(ctx context.Context, channel, payload string) error {
	s.mu.Lock()
	subs := make([]*memSubscription, len(s.subs[channel]))
	copy(subs, s.subs[channel])
	s.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.out <- Message{Channel: channel, Payload: payload}:
		default:
			// Slow subscriber: drop rather than block the publisher.
		}
	}
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	sub := &memSubscription{store: s, channel: channel, out: make(chan Message, 64)}
	s.mu.Lock()
	s.subs[channel] = append(s.subs[channel], sub)
	s.mu.Unlock()
	return sub, nil
}

func (s *MemoryStore) Pipeline() Pipeline {
	return &memPipeline{store: s}
}

type memPipeline struct {
	store *MemoryStore
	ops   []func() Result
}

func (p *memPipeline) Incr(key string) {
	p.ops = append(p.ops, func() Result {
		return Result{Int: p.store.incrLocked(key)}
	})
}

func (p *memPipeline) Expire(key string, ttl time.Duration) {
	p.ops = append(p.ops, func() Result {
		p.store.expireLocked(key, ttl)
		return Result{Int: 1}
	})
}

func (p *memPipeline) Set(key, value string, ttl time.Duration) {
	p.ops = append(p.ops, func() Result {
		p.store.setLocked(key, value, ttl)
		return Result{Str: "OK"}
	})
}

func (p *memPipeline) LPush(key string, values ...string) {
	p.ops = append(p.ops, func() Result {
		p.store.lpushLocked(key, values...)
		return Result{}
	})
}

func (p *memPipeline) LTrim(key string, start, stop int64) {
	p.ops = append(p.ops, func() Result {
		p.store.ltrimLocked(key, start, stop)
		return Result{Str: "OK"}
	})
}

// Exec applies the whole batch under one lock acquisition, which makes the
// batch atomic with respect to every other store operation.
func (p *memPipeline) Exec(ctx context.Context) ([]Result, error) {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	results := make([]Result, 0, len(p.ops))
	for _, op := range p.ops {
		results = append(results, op())
	}
	return results, nil
}

func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() { close(s.janitorStop) })
	return nil
}
