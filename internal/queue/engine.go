package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nftecnologia/mailgenius/internal/pkg/logger"
	"github.com/nftecnologia/mailgenius/internal/store"
)

// jobMirrorTTL bounds how long finished job snapshots stay visible in the
// shared store.
const jobMirrorTTL = 24 * time.Hour

// Engine owns every named queue, the dispatch goroutines and the stall
// reclaimer. One engine per process.
type Engine struct {
	store store.Store

	mu     sync.Mutex
	queues map[string]*Queue
	seq    atomic.Uint64

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopping atomic.Bool
	started  bool

	reclaimInterval time.Duration
}

// NewEngine creates an engine backed by the shared store. Call Start to
// begin dispatching.
func NewEngine(st store.Store) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:           st,
		queues:          make(map[string]*Queue),
		ctx:             ctx,
		cancel:          cancel,
		reclaimInterval: 10 * time.Second,
	}
}

// Queue returns the named queue, creating it with cfg on first use. The
// config of an existing queue is not changed.
func (e *Engine) Queue(name string, cfg Config) *Queue {
	e.mu.Lock()
	defer e.mu.Unlock()

	if q, ok := e.queues[name]; ok {
		return q
	}
	q := newQueue(name, cfg, e)
	e.queues[name] = q
	if e.started {
		e.wg.Add(1)
		go q.loop(e.ctx)
	}
	return q
}

// Start launches dispatch loops for every registered queue plus the stall
// reclaimer. Idempotent.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	queues := make([]*Queue, 0, len(e.queues))
	for _, q := range e.queues {
		queues = append(queues, q)
	}
	e.mu.Unlock()

	for _, q := range queues {
		e.wg.Add(1)
		go q.loop(e.ctx)
	}
	e.wg.Add(1)
	go e.reclaimLoop()

	logger.Info("queue engine started", "queues", fmt.Sprintf("%d", len(queues)))
}

// Stop drains the engine. Dispatch halts immediately; active jobs get
// grace to finish, then their contexts are cancelled.
func (e *Engine) Stop(grace time.Duration) {
	if !e.stopping.CompareAndSwap(false, true) {
		return
	}
	logger.Info("queue engine stopping", "grace", grace.String())

	e.mu.Lock()
	for _, q := range e.queues {
		q.signal()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		logger.Warn("queue engine grace elapsed, cancelling active jobs")
		e.cancel()
		<-done
	}
	e.cancel()
	logger.Info("queue engine stopped")
}

// Stopping reports whether Stop has been called.
func (e *Engine) Stopping() bool { return e.stopping.Load() }

// AllStats returns per-queue stats keyed by queue name.
func (e *Engine) AllStats() map[string]Stats {
	e.mu.Lock()
	queues := make([]*Queue, 0, len(e.queues))
	for _, q := range e.queues {
		queues = append(queues, q)
	}
	e.mu.Unlock()

	out := make(map[string]Stats, len(queues))
	for _, q := range queues {
		out[q.name] = q.Stats()
	}
	return out
}

func (e *Engine) nextSeq() uint64 { return e.seq.Add(1) }

// persistJob mirrors a job snapshot into the store. Mirror failures are
// logged and swallowed; the in-process state stays authoritative.
func (e *Engine) persistJob(j *Job) {
	e.mu.Lock()
	snap := j.snapshot()
	e.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.store.Set(ctx, jobKey(snap.Queue, snap.ID), string(data), jobMirrorTTL); err != nil {
		logger.Debug("job mirror write failed", "job_id", snap.ID, "error", err.Error())
	}
}

func (e *Engine) forgetJob(id, queueName string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = e.store.Del(ctx, jobKey(queueName, id))
}

func jobKey(queueName, id string) string {
	return fmt.Sprintf("queue:%s:job:%s", queueName, id)
}

// reclaimLoop periodically sweeps every queue for stalled actives.
func (e *Engine) reclaimLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.reclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if e.stopping.Load() {
				return
			}
			e.reclaimStalled()
		}
	}
}

// reclaimStalled requeues active jobs whose heartbeat went silent. A stall
// consumes an attempt; a job out of attempts fails.
func (e *Engine) reclaimStalled() {
	now := time.Now()

	e.mu.Lock()
	type reclaimed struct {
		q      *Queue
		job    *Job
		cancel context.CancelFunc
	}
	var hits []reclaimed

	for _, q := range e.queues {
		for _, j := range q.jobs {
			if j.State != StateActive {
				continue
			}
			if now.Sub(j.heartbeat) <= q.cfg.StallTimeout {
				continue
			}
			cancel := j.cancel
			j.cancel = nil
			j.reclaimed = true
			j.Attempts++
			j.LastError = "stalled"
			j.StartedAt = nil
			q.activeCount--

			if j.Attempts >= j.MaxAttempts {
				j.State = StateFailed
				finished := now
				j.FinishedAt = &finished
				q.totalFailed++
				q.failedOrder = append(q.failedOrder, j.ID)
				q.capRetentionLocked(&q.failedOrder, q.cfg.RemoveOnFail)
			} else {
				j.State = StateWaiting
			}
			hits = append(hits, reclaimed{q: q, job: j, cancel: cancel})
		}
	}
	e.mu.Unlock()

	for _, h := range hits {
		if h.cancel != nil {
			h.cancel()
		}
		logger.Warn("stalled job reclaimed",
			"queue", h.q.name, "job_id", h.job.ID, "state", string(h.job.State))
		e.persistJob(h.job)
		h.q.signal()
	}
}
