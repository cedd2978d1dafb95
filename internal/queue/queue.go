package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/nftecnologia/mailgenius/internal/domain"
)

// Config tunes one named queue.
type Config struct {
	// Concurrency bounds the worker pool (default 1).
	Concurrency int
	// MaxQueueSize rejects adds beyond this many pending jobs (0 = unbounded).
	MaxQueueSize int
	// RemoveOnComplete keeps only the most recent N completed jobs (0 = keep all).
	RemoveOnComplete int
	// RemoveOnFail keeps only the most recent N failed jobs (0 = keep all).
	RemoveOnFail int
	// StallTimeout declares an active job stalled when its heartbeat is
	// older than this (default 30s).
	StallTimeout time.Duration
	// DefaultOptions fill in zero-valued job options.
	DefaultOptions Options
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = 30 * time.Second
	}
	if c.DefaultOptions.Attempts <= 0 {
		c.DefaultOptions.Attempts = 3
	}
	if c.DefaultOptions.Backoff.BaseMs <= 0 {
		c.DefaultOptions.Backoff = DefaultBackoff
	}
	return c
}

// Stats is a point-in-time queue census. Completed and Failed are
// cumulative totals.
type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
}

// Errors surfaced by queue operations.
var (
	ErrQueueFull   = domain.E(domain.KindRateLimited, "QUEUE_FULL", "queue is at capacity")
	ErrJobNotFound = domain.E(domain.KindNotFound, "JOB_NOT_FOUND", "job not found")
	ErrJobActive   = domain.E(domain.KindValidation, "JOB_ACTIVE", "job is active and cannot be removed")
	ErrNoHandler   = domain.E(domain.KindInternal, "NO_HANDLER", "queue has no registered handler")
)

// Queue is one named queue. All state transitions happen under its mutex;
// handler execution does not hold it.
type Queue struct {
	name   string
	cfg    Config
	engine *Engine

	// guarded by engine.mu
	jobs           map[string]*Job
	completedOrder []string
	failedOrder    []string
	totalCompleted int
	totalFailed    int
	paused         bool
	handler        Handler
	activeCount    int

	wake chan struct{}
}

func newQueue(name string, cfg Config, e *Engine) *Queue {
	return &Queue{
		name:   name,
		cfg:    cfg.withDefaults(),
		engine: e,
		jobs:   make(map[string]*Job),
		wake:   make(chan struct{}, 1),
	}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Add enqueues one job. opts may be nil to inherit queue defaults.
func (q *Queue) Add(name string, payload interface{}, opts *Options) (*Job, error) {
	jobs, err := q.AddBulk([]BulkItem{{Name: name, Payload: payload, Opts: opts}})
	if err != nil {
		return nil, err
	}
	return jobs[0], nil
}

// BulkItem is one entry of an AddBulk call.
type BulkItem struct {
	Name    string
	Payload interface{}
	Opts    *Options
}

// AddBulk enqueues a batch atomically, preserving insertion order among
// equal priorities. Either every job is accepted or none is.
func (q *Queue) AddBulk(items []BulkItem) ([]*Job, error) {
	now := time.Now()
	built := make([]*Job, 0, len(items))

	for _, item := range items {
		opts := q.cfg.DefaultOptions
		if item.Opts != nil {
			opts = *item.Opts
			if opts.Attempts <= 0 {
				opts.Attempts = q.cfg.DefaultOptions.Attempts
			}
			if opts.Backoff.BaseMs <= 0 {
				opts.Backoff = q.cfg.DefaultOptions.Backoff
			}
		}

		payload, err := json.Marshal(item.Payload)
		if err != nil {
			return nil, domain.Wrap(domain.KindValidation, "BAD_PAYLOAD", "job payload is not serializable", err)
		}

		job := &Job{
			ID:          uuid.New().String(),
			Queue:       q.name,
			Name:        item.Name,
			Payload:     payload,
			Priority:    opts.Priority,
			GroupID:     opts.GroupID,
			Attempts:    0,
			MaxAttempts: opts.Attempts,
			Backoff:     opts.Backoff,
			State:       StateWaiting,
			CreatedAt:   now,
			seq:         q.engine.nextSeq(),
		}
		if opts.Delay > 0 {
			job.State = StateDelayed
			job.DelayUntil = now.Add(opts.Delay)
		}
		built = append(built, job)
	}

	q.engine.mu.Lock()
	if q.cfg.MaxQueueSize > 0 && q.pendingLocked()+len(built) > q.cfg.MaxQueueSize {
		q.engine.mu.Unlock()
		return nil, ErrQueueFull
	}
	for _, job := range built {
		q.jobs[job.ID] = job
	}
	q.engine.mu.Unlock()

	for _, job := range built {
		q.engine.persistJob(job)
	}
	q.signal()

	out := make([]*Job, len(built))
	for i, job := range built {
		out[i] = job.snapshot()
	}
	return out, nil
}

// pendingLocked counts jobs that still occupy capacity.
func (q *Queue) pendingLocked() int {
	n := 0
	for _, j := range q.jobs {
		switch j.State {
		case StateWaiting, StateDelayed, StateActive:
			n++
		}
	}
	return n
}

// Process registers the handler. Dispatch begins when the engine starts.
func (q *Queue) Process(handler Handler) {
	q.engine.mu.Lock()
	q.handler = handler
	q.engine.mu.Unlock()
	q.signal()
}

// Pause stops dispatching. Active jobs keep running.
func (q *Queue) Pause() {
	q.engine.mu.Lock()
	q.paused = true
	q.engine.mu.Unlock()
	log.Printf("[Queue %s] paused", q.name)
}

// Resume restarts dispatching.
func (q *Queue) Resume() {
	q.engine.mu.Lock()
	q.paused = false
	q.engine.mu.Unlock()
	log.Printf("[Queue %s] resumed", q.name)
	q.signal()
}

// Stats reports the current census.
func (q *Queue) Stats() Stats {
	q.engine.mu.Lock()
	defer q.engine.mu.Unlock()

	s := Stats{Completed: q.totalCompleted, Failed: q.totalFailed}
	for _, j := range q.jobs {
		switch j.State {
		case StateWaiting, StateStalled:
			s.Waiting++
		case StateDelayed:
			s.Delayed++
		case StateActive:
			s.Active++
		}
	}
	return s
}

// GetJob returns a snapshot of one job.
func (q *Queue) GetJob(id string) (*Job, bool) {
	q.engine.mu.Lock()
	defer q.engine.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return nil, false
	}
	return j.snapshot(), true
}

// Retry re-queues a failed job for another run.
func (q *Queue) Retry(id string) error {
	q.engine.mu.Lock()
	j, ok := q.jobs[id]
	if !ok {
		q.engine.mu.Unlock()
		return ErrJobNotFound
	}
	if j.State != StateFailed {
		q.engine.mu.Unlock()
		return domain.E(domain.KindValidation, "JOB_NOT_FAILED", fmt.Sprintf("job is %s, only failed jobs can be retried", j.State))
	}
	j.State = StateWaiting
	j.MaxAttempts = j.Attempts + 1
	j.FinishedAt = nil
	q.removeFromOrderLocked(&q.failedOrder, id)
	q.engine.mu.Unlock()

	q.engine.persistJob(j)
	q.signal()
	return nil
}

// Remove deletes a non-active job.
func (q *Queue) Remove(id string) error {
	q.engine.mu.Lock()
	j, ok := q.jobs[id]
	if !ok {
		q.engine.mu.Unlock()
		return ErrJobNotFound
	}
	if j.State == StateActive {
		q.engine.mu.Unlock()
		return ErrJobActive
	}
	delete(q.jobs, id)
	q.removeFromOrderLocked(&q.completedOrder, id)
	q.removeFromOrderLocked(&q.failedOrder, id)
	q.engine.mu.Unlock()

	q.engine.forgetJob(id, q.name)
	return nil
}

// RemoveGroup removes every waiting or delayed job of a group and cancels
// the group's active jobs at their next suspension point. It returns the
// number of jobs affected.
func (q *Queue) RemoveGroup(groupID string) int {
	if groupID == "" {
		return 0
	}

	var cancelled []context.CancelFunc
	var dropped []string

	q.engine.mu.Lock()
	for id, j := range q.jobs {
		if j.GroupID != groupID {
			continue
		}
		switch j.State {
		case StateWaiting, StateDelayed, StateStalled:
			delete(q.jobs, id)
			dropped = append(dropped, id)
		case StateActive:
			j.removed = true
			if j.cancel != nil {
				cancelled = append(cancelled, j.cancel)
			}
			dropped = append(dropped, id)
		}
	}
	q.engine.mu.Unlock()

	for _, cancel := range cancelled {
		cancel()
	}
	for _, id := range dropped {
		q.engine.forgetJob(id, q.name)
	}
	return len(dropped)
}

// Clean removes terminal jobs in state older than grace. It returns the
// number removed.
func (q *Queue) Clean(grace time.Duration, state State) int {
	cutoff := time.Now().Add(-grace)
	var dropped []string

	q.engine.mu.Lock()
	for id, j := range q.jobs {
		if j.State != state {
			continue
		}
		if j.FinishedAt == nil || j.FinishedAt.After(cutoff) {
			continue
		}
		delete(q.jobs, id)
		dropped = append(dropped, id)
	}
	for _, id := range dropped {
		q.removeFromOrderLocked(&q.completedOrder, id)
		q.removeFromOrderLocked(&q.failedOrder, id)
	}
	q.engine.mu.Unlock()

	for _, id := range dropped {
		q.engine.forgetJob(id, q.name)
	}
	return len(dropped)
}

func (q *Queue) removeFromOrderLocked(order *[]string, id string) {
	for i, existing := range *order {
		if existing == id {
			*order = append((*order)[:i], (*order)[i+1:]...)
			return
		}
	}
}

// next claims the highest-priority runnable job, or nil. Equal priorities
// dispatch FIFO by enqueue sequence.
func (q *Queue) next(parent context.Context) *Job {
	q.engine.mu.Lock()
	defer q.engine.mu.Unlock()

	if q.paused || q.handler == nil || q.activeCount >= q.cfg.Concurrency {
		return nil
	}

	now := time.Now()
	var candidates []*Job
	for _, j := range q.jobs {
		switch j.State {
		case StateWaiting, StateStalled:
			candidates = append(candidates, j)
		case StateDelayed:
			if !now.Before(j.DelayUntil) {
				candidates = append(candidates, j)
			}
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority < candidates[k].Priority
		}
		return candidates[i].seq < candidates[k].seq
	})

	job := candidates[0]
	job.State = StateActive
	started := now
	job.StartedAt = &started
	job.heartbeat = now
	jobCtx, cancel := context.WithCancel(parent)
	job.cancel = cancel
	job.ctxForRun = jobCtx
	q.activeCount++
	return job
}

// nextDelay reports how long until the earliest delayed job becomes
// runnable, for the dispatch loop's sleep.
func (q *Queue) nextDelay() time.Duration {
	q.engine.mu.Lock()
	defer q.engine.mu.Unlock()

	wait := 250 * time.Millisecond
	now := time.Now()
	for _, j := range q.jobs {
		if j.State != StateDelayed {
			continue
		}
		if d := j.DelayUntil.Sub(now); d > 0 && d < wait {
			wait = d
		}
	}
	if wait < 5*time.Millisecond {
		wait = 5 * time.Millisecond
	}
	return wait
}

// run executes one claimed job and records the outcome.
func (q *Queue) run(job *Job) {
	defer q.engine.wg.Done()

	ctx := job.ctxForRun
	handler := q.handler

	progress := func(pct int, msg string, data map[string]interface{}) {
		q.engine.mu.Lock()
		if pct >= 0 && pct <= 100 {
			job.Progress = pct
		}
		if msg != "" {
			job.ProgressMsg = msg
		}
		job.heartbeat = time.Now()
		q.engine.mu.Unlock()
	}

	// Background heartbeat keeps long record loops from being reclaimed
	// while the handler is alive.
	hbDone := make(chan struct{})
	go func() {
		interval := q.cfg.StallTimeout / 3
		if interval < 10*time.Millisecond {
			interval = 10 * time.Millisecond
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbDone:
				return
			case <-ticker.C:
				q.engine.mu.Lock()
				if !job.removed && job.State == StateActive {
					job.heartbeat = time.Now()
				}
				q.engine.mu.Unlock()
			}
		}
	}()

	err := handler(ctx, job, progress)
	close(hbDone)

	now := time.Now()
	q.engine.mu.Lock()
	job.cancel = nil

	if job.reclaimed {
		// The stall reclaimer already requeued or failed this job and
		// adjusted accounting; this goroutine just exits.
		job.reclaimed = false
		q.engine.mu.Unlock()
		return
	}
	q.activeCount--

	if job.removed {
		// Group cancellation won the race: the job is already forgotten.
		delete(q.jobs, job.ID)
		q.engine.mu.Unlock()
		return
	}

	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		// Shutdown or group cancellation reached the handler. Terminal,
		// no retry.
		job.State = StateFailed
		job.LastError = "cancelled"
		job.FinishedAt = &now
		q.totalFailed++
		q.failedOrder = append(q.failedOrder, job.ID)
		q.capRetentionLocked(&q.failedOrder, q.cfg.RemoveOnFail)
		q.engine.mu.Unlock()
		q.engine.persistJob(job)
		return
	}

	if err == nil {
		job.State = StateCompleted
		job.Progress = 100
		job.FinishedAt = &now
		job.Attempts++
		q.totalCompleted++
		q.completedOrder = append(q.completedOrder, job.ID)
		q.capRetentionLocked(&q.completedOrder, q.cfg.RemoveOnComplete)
		q.engine.mu.Unlock()
		q.engine.persistJob(job)
		q.signal()
		return
	}

	job.Attempts++
	job.LastError = err.Error()

	if job.Attempts < job.MaxAttempts {
		delay := backoffDelay(job.Backoff, job.Attempts)
		// Up to 10% jitter spreads synchronized retries.
		delay += time.Duration(rand.Int63n(int64(delay)/10 + 1))
		job.State = StateDelayed
		job.DelayUntil = now.Add(delay)
		job.StartedAt = nil
		q.engine.mu.Unlock()
		log.Printf("[Queue %s] job %s attempt %d/%d failed, retrying in %s: %v",
			q.name, job.ID, job.Attempts, job.MaxAttempts, delay.Round(time.Millisecond), err)
		q.engine.persistJob(job)
		q.signal()
		return
	}

	job.State = StateFailed
	job.FinishedAt = &now
	q.totalFailed++
	q.failedOrder = append(q.failedOrder, job.ID)
	q.capRetentionLocked(&q.failedOrder, q.cfg.RemoveOnFail)
	q.engine.mu.Unlock()
	log.Printf("[Queue %s] job %s failed after %d attempts: %v", q.name, job.ID, job.Attempts, err)
	q.engine.persistJob(job)
	q.signal()
}

// capRetentionLocked drops the oldest terminal jobs beyond the cap.
func (q *Queue) capRetentionLocked(order *[]string, cap int) {
	if cap <= 0 {
		return
	}
	for len(*order) > cap {
		oldest := (*order)[0]
		*order = (*order)[1:]
		delete(q.jobs, oldest)
	}
}

// loop dispatches runnable jobs until the engine stops.
func (q *Queue) loop(ctx context.Context) {
	defer q.engine.wg.Done()

	for {
		for {
			if q.engine.stopping.Load() {
				return
			}
			job := q.next(ctx)
			if job == nil {
				break
			}
			q.engine.wg.Add(1)
			go q.run(job)
		}

		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-time.After(q.nextDelay()):
		}
	}
}
