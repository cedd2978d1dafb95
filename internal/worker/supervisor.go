package worker

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nftecnologia/mailgenius/internal/domain"
	"github.com/nftecnologia/mailgenius/internal/pkg/logger"
	"github.com/nftecnologia/mailgenius/internal/queue"
)

// DefaultShutdownGrace is how long active jobs get to drain on stop.
const DefaultShutdownGrace = 30 * time.Second

// Supervisor owns the queue engine lifecycle for the worker process.
type Supervisor struct {
	engine *queue.Engine
	grace  time.Duration

	mu      sync.Mutex
	running bool
	started time.Time
	sigCh   chan os.Signal
}

// NewSupervisor wraps an engine whose queues are already registered.
func NewSupervisor(engine *queue.Engine, grace time.Duration) *Supervisor {
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}
	return &Supervisor{engine: engine, grace: grace}
}

// Start launches dispatching and installs SIGINT/SIGTERM handling.
// Idempotent.
func (s *Supervisor) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.started = time.Now()
	s.sigCh = make(chan os.Signal, 1)
	s.mu.Unlock()

	s.engine.Start()

	signal.Notify(s.sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig, ok := <-s.sigCh
		if !ok {
			return
		}
		logger.Info("shutdown signal received", "signal", sig.String())
		s.Stop()
	}()

	logger.Info("worker supervisor started", "grace", s.grace.String())
}

// Stop drains the engine within the grace window, then force-cancels.
// Idempotent.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	signal.Stop(s.sigCh)
	close(s.sigCh)
	s.mu.Unlock()

	s.engine.Stop(s.grace)
}

// Status reports whether the supervisor is dispatching and for how long.
func (s *Supervisor) Status() (running bool, uptime time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false, 0
	}
	return true, time.Since(s.started)
}

// Stats returns the per-queue census.
func (s *Supervisor) Stats() map[string]queue.Stats {
	return s.engine.AllStats()
}

// Pause stops dispatch on one queue.
func (s *Supervisor) Pause(queueName string) error {
	q, err := s.lookup(queueName)
	if err != nil {
		return err
	}
	q.Pause()
	return nil
}

// Resume restarts dispatch on one queue.
func (s *Supervisor) Resume(queueName string) error {
	q, err := s.lookup(queueName)
	if err != nil {
		return err
	}
	q.Resume()
	return nil
}

// Clean removes completed and failed jobs older than grace from one queue
// and returns how many were dropped.
func (s *Supervisor) Clean(queueName string, grace time.Duration) (int, error) {
	q, err := s.lookup(queueName)
	if err != nil {
		return 0, err
	}
	n := q.Clean(grace, queue.StateCompleted)
	n += q.Clean(grace, queue.StateFailed)
	return n, nil
}

func (s *Supervisor) lookup(queueName string) (*queue.Queue, error) {
	if stats := s.engine.AllStats(); stats != nil {
		if _, ok := stats[queueName]; !ok {
			return nil, domain.E(domain.KindNotFound, "QUEUE_UNKNOWN", "no such queue: "+queueName)
		}
	}
	// Config is ignored for existing queues.
	return s.engine.Queue(queueName, queue.Config{}), nil
}
