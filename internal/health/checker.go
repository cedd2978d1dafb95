// Package health probes the process dependencies. The alert manager reads
// the overall status directly, and the HTTP surface exposes it.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/nftecnologia/mailgenius/internal/store"
)

// Pinger is anything with a liveness probe. *sql.DB and the store adapter
// both fit via small wrappers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Check is one dependency's probe result.
type Check struct {
	Name    string        `json:"name"`
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// Status is the aggregate health report.
type Status struct {
	Healthy   bool      `json:"healthy"`
	Checks    []Check   `json:"checks"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker probes a fixed set of named dependencies.
type Checker struct {
	timeout time.Duration

	mu     sync.Mutex
	probes []probe
	last   Status
}

type probe struct {
	name   string
	pinger Pinger
}

// New creates a checker with a per-probe timeout (default 5s).
func New(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{timeout: timeout}
}

// RegisterStore adds the shared-store probe.
func (c *Checker) RegisterStore(st store.Store) {
	c.Register("shared-store", PingFunc(st.Ping))
}

// Register adds a named dependency probe.
func (c *Checker) Register(name string, p Pinger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes = append(c.probes, probe{name: name, pinger: p})
}

// Run probes every dependency and caches the aggregate.
func (c *Checker) Run(ctx context.Context) Status {
	c.mu.Lock()
	probes := make([]probe, len(c.probes))
	copy(probes, c.probes)
	c.mu.Unlock()

	status := Status{Healthy: true, CheckedAt: time.Now()}
	for _, p := range probes {
		check := Check{Name: p.name, Healthy: true}
		start := time.Now()

		probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := p.pinger.Ping(probeCtx)
		cancel()

		check.Latency = time.Since(start)
		if err != nil {
			check.Healthy = false
			check.Error = err.Error()
			status.Healthy = false
		}
		status.Checks = append(status.Checks, check)
	}

	c.mu.Lock()
	c.last = status
	c.mu.Unlock()
	return status
}

// Value reports the aggregate as a metric: 1 healthy, 0 unhealthy. This is
// the distinguished health.status read used by alert evaluation.
func (c *Checker) Value(ctx context.Context) float64 {
	if c.Run(ctx).Healthy {
		return 1
	}
	return 0
}

// Last returns the most recent aggregate without probing.
func (c *Checker) Last() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
