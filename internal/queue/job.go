// Package queue implements the durable job queue: named queues with bounded
// concurrency, priority dispatch, delays, retries with exponential backoff,
// heartbeat-based stall reclaim and per-job lifecycle accounting. Job state
// is mirrored into the shared store for observability.
package queue

import (
	"context"
	"encoding/json"
	"time"
)

// State is a job lifecycle state.
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateStalled   State = "stalled"
)

// Backoff configures retry spacing. Only exponential is recognized.
type Backoff struct {
	Kind   string `json:"kind"`
	BaseMs int    `json:"base_ms"`
}

// DefaultBackoff is applied when options omit one.
var DefaultBackoff = Backoff{Kind: "exponential", BaseMs: 2000}

// Options control one job's scheduling. Zero values inherit queue defaults.
type Options struct {
	// Priority orders dispatch; lower value runs first.
	Priority int
	// Delay postpones the first run.
	Delay time.Duration
	// Attempts caps total tries (default 3).
	Attempts int
	Backoff  Backoff
	// GroupID ties sibling batch jobs to one run for group cancellation.
	GroupID string
}

// Job is one unit of work on a named queue.
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload"`
	Priority    int             `json:"priority"`
	GroupID     string          `json:"group_id,omitempty"`
	DelayUntil  time.Time       `json:"delay_until,omitempty"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Backoff     Backoff         `json:"backoff"`
	State       State           `json:"state"`
	Progress    int             `json:"progress"`
	ProgressMsg string          `json:"progress_msg,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	LastError   string          `json:"last_error,omitempty"`

	// runtime state, never serialized
	seq       uint64
	heartbeat time.Time
	cancel    context.CancelFunc
	ctxForRun context.Context
	removed   bool
	reclaimed bool
}

// ProgressFunc reports handler progress. Calling it renews the heartbeat.
type ProgressFunc func(pct int, msg string, data map[string]interface{})

// Handler executes one job. Returning an error consumes an attempt; a
// context cancellation is a non-error terminal outcome.
type Handler func(ctx context.Context, job *Job, progress ProgressFunc) error

// backoffDelay is the wait before attempt n+1 (attemptIndex counts made
// attempts, starting at 1 after the first failure).
func backoffDelay(b Backoff, attemptIndex int) time.Duration {
	base := b.BaseMs
	if base <= 0 {
		base = DefaultBackoff.BaseMs
	}
	if attemptIndex < 1 {
		attemptIndex = 1
	}
	shift := attemptIndex - 1
	if shift > 20 {
		shift = 20
	}
	return time.Duration(base<<shift) * time.Millisecond
}

// snapshot returns a caller-safe copy without runtime fields.
func (j *Job) snapshot() *Job {
	cp := *j
	cp.cancel = nil
	cp.ctxForRun = nil
	return &cp
}
