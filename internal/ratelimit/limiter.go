package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nftecnologia/mailgenius/internal/pkg/logger"
	"github.com/nftecnologia/mailgenius/internal/store"
)

// Result is the outcome of one rate-limit check with quota metadata.
type Result struct {
	Allowed       bool
	Limit         int
	Remaining     int
	ResetAt       time.Time
	RetryAfterSec int
	Message       string
}

// Headers renders the HTTP rate-limit header protocol. Retry-After is only
// present on denial.
func (r Result) Headers() map[string]string {
	h := map[string]string{
		"X-RateLimit-Limit":      strconv.Itoa(r.Limit),
		"X-RateLimit-Remaining":  strconv.Itoa(r.Remaining),
		"X-RateLimit-Reset":      strconv.FormatInt(r.ResetAt.Unix(), 10),
		"X-RateLimit-Reset-Time": r.ResetAt.UTC().Format(time.RFC3339),
	}
	if !r.Allowed {
		h["Retry-After"] = strconv.Itoa(r.RetryAfterSec)
	}
	return h
}

// Limiter implements fixed-window counting against the shared store, with
// an in-process bucket table used when the store is degraded. Store errors
// never deny a request: the caller proceeds under a safe default.
type Limiter struct {
	store store.Store

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
}

// New creates a limiter on top of the shared-store adapter.
func New(st store.Store) *Limiter {
	return &Limiter{store: st, buckets: make(map[string]*bucket)}
}

func key(p Profile, identifier string) string {
	return fmt.Sprintf("rl:%s:%s", strings.ToLower(p.Name), identifier)
}

// Check counts one hit for (identifier, profile) and reports the quota
// state. Unknown profile names proceed under API_STANDARD.
func (l *Limiter) Check(ctx context.Context, identifier, profileName string) Result {
	profile, known := Lookup(profileName)
	if !known {
		logger.Warn("unknown rate-limit profile, using API_STANDARD", "profile", profileName)
	}

	if l.store.Ready() {
		return l.checkStore(ctx, identifier, profile)
	}
	return l.checkLocal(identifier, profile)
}

// checkStore runs the networked fixed-window algorithm: pipelined INCR,
// then EXPIRE only when the increment created the window. Setting the TTL
// on every call would let idle keys accumulate without expiry resets.
func (l *Limiter) checkStore(ctx context.Context, identifier string, profile Profile) Result {
	k := key(profile, identifier)
	now := time.Now()

	pipe := l.store.Pipeline()
	pipe.Incr(k)
	results, err := pipe.Exec(ctx)
	if err != nil || len(results) == 0 || results[0].Err != nil {
		// Store trouble never blocks the caller: allow with default quota.
		logger.Warn("rate-limit store error, allowing request", "identifier", identifier)
		return Result{Allowed: true, Limit: profile.Max, Remaining: profile.Max - 1, ResetAt: now.Add(profile.Window), Message: profile.Message}
	}
	count := results[0].Int

	var resetAt time.Time
	if count == 1 {
		if err := l.store.Expire(ctx, k, profile.Window); err != nil {
			logger.Warn("rate-limit expire error", "identifier", identifier)
		}
		resetAt = now.Add(profile.Window)
	} else {
		ttl, err := l.store.PTTL(ctx, k)
		if err != nil || ttl <= 0 {
			// Key exists without a TTL (lost expiry); re-arm the window.
			l.store.Expire(ctx, k, profile.Window)
			ttl = profile.Window
		}
		resetAt = now.Add(ttl)
	}

	return l.outcome(int(count), profile, now, resetAt)
}

// checkLocal runs the in-process fixed window under a per-key mutex.
func (l *Limiter) checkLocal(identifier string, profile Profile) Result {
	k := key(profile, identifier)
	now := time.Now()

	l.mu.Lock()
	b, ok := l.buckets[k]
	if !ok {
		b = &bucket{}
		l.buckets[k] = b
	}
	l.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.resetAt.IsZero() || !now.Before(b.resetAt) {
		b.count = 1
		b.resetAt = now.Add(profile.Window)
		return l.outcome(1, profile, now, b.resetAt)
	}
	if b.count >= profile.Max {
		return l.outcome(b.count+1, profile, now, b.resetAt)
	}
	b.count++
	return l.outcome(b.count, profile, now, b.resetAt)
}

func (l *Limiter) outcome(count int, profile Profile, now, resetAt time.Time) Result {
	res := Result{
		Limit:   profile.Max,
		ResetAt: resetAt,
		Message: profile.Message,
	}
	if count > profile.Max {
		res.Allowed = false
		res.Remaining = 0
		res.RetryAfterSec = int(math.Ceil(time.Until(resetAt).Seconds()))
		if res.RetryAfterSec < 1 {
			res.RetryAfterSec = 1
		}
		return res
	}
	res.Allowed = true
	res.Remaining = profile.Max - count
	return res
}

// Reset deletes the window for (identifier, profile).
func (l *Limiter) Reset(ctx context.Context, identifier, profileName string) error {
	profile, _ := Lookup(profileName)
	k := key(profile, identifier)

	l.mu.Lock()
	delete(l.buckets, k)
	l.mu.Unlock()

	return l.store.Del(ctx, k)
}

// Remaining reports the quota left in the current window without counting
// a hit.
func (l *Limiter) Remaining(ctx context.Context, identifier, profileName string) int {
	profile, _ := Lookup(profileName)
	k := key(profile, identifier)

	if l.store.Ready() {
		val, ok, err := l.store.Get(ctx, k)
		if err != nil || !ok {
			return profile.Max
		}
		count, _ := strconv.Atoi(val)
		if count >= profile.Max {
			return 0
		}
		return profile.Max - count
	}

	l.mu.Lock()
	b, ok := l.buckets[k]
	l.mu.Unlock()
	if !ok {
		return profile.Max
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !time.Now().Before(b.resetAt) {
		return profile.Max
	}
	if b.count >= profile.Max {
		return 0
	}
	return profile.Max - b.count
}

// ResetAt reports when the current window ends. For an idle identifier it
// reports one window from now.
func (l *Limiter) ResetAt(ctx context.Context, identifier, profileName string) time.Time {
	profile, _ := Lookup(profileName)
	k := key(profile, identifier)
	now := time.Now()

	if l.store.Ready() {
		ttl, err := l.store.PTTL(ctx, k)
		if err != nil || ttl <= 0 {
			return now.Add(profile.Window)
		}
		return now.Add(ttl)
	}

	l.mu.Lock()
	b, ok := l.buckets[k]
	l.mu.Unlock()
	if !ok {
		return now.Add(profile.Window)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if now.Before(b.resetAt) {
		return b.resetAt
	}
	return now.Add(profile.Window)
}
