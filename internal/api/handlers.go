// Package api is the HTTP surface of the control plane. Handlers translate
// between the JSON envelope protocol and the services; no business rules
// live here.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nftecnologia/mailgenius/internal/alerts"
	"github.com/nftecnologia/mailgenius/internal/apikey"
	"github.com/nftecnologia/mailgenius/internal/health"
	"github.com/nftecnologia/mailgenius/internal/logindex"
	"github.com/nftecnologia/mailgenius/internal/metrics"
	"github.com/nftecnologia/mailgenius/internal/progress"
	"github.com/nftecnologia/mailgenius/internal/ratelimit"
	"github.com/nftecnologia/mailgenius/internal/worker"
)

// Deps are the services the HTTP surface exposes. Monitor is optional.
type Deps struct {
	Keys       *apikey.Service
	Limiter    *ratelimit.Limiter
	Monitor    *ratelimit.Monitor
	Importer   *worker.Importer
	Sender     *worker.Sender
	Tracker    *progress.Tracker
	Metrics    *metrics.Collector
	Alerts     *alerts.Manager
	Logs       *logindex.Index
	Health     *health.Checker
	Supervisor *worker.Supervisor
}

// Handlers carries the wired services for the route handlers.
type Handlers struct {
	keys       *apikey.Service
	limiter    *ratelimit.Limiter
	monitor    *ratelimit.Monitor
	importer   *worker.Importer
	sender     *worker.Sender
	tracker    *progress.Tracker
	metrics    *metrics.Collector
	alerts     *alerts.Manager
	logs       *logindex.Index
	health     *health.Checker
	supervisor *worker.Supervisor
}

func NewHandlers(d Deps) *Handlers {
	return &Handlers{
		keys:       d.Keys,
		limiter:    d.Limiter,
		monitor:    d.Monitor,
		importer:   d.Importer,
		sender:     d.Sender,
		tracker:    d.Tracker,
		metrics:    d.Metrics,
		alerts:     d.Alerts,
		logs:       d.Logs,
		health:     d.Health,
		supervisor: d.Supervisor,
	}
}

// HealthCheck probes every registered dependency. Degraded state answers
// 503 so that load balancers rotate the instance out.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := h.health.Run(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	JSON(w, code, status)
}

func (h *Handlers) WorkerStatus(w http.ResponseWriter, r *http.Request) {
	running, uptime := h.supervisor.Status()
	OK(w, map[string]any{
		"running":        running,
		"uptime_seconds": int(uptime.Seconds()),
	})
}

func (h *Handlers) WorkerStats(w http.ResponseWriter, r *http.Request) {
	OK(w, h.supervisor.Stats())
}

// StartWorkers is idempotent; starting a running supervisor is a no-op.
func (h *Handlers) StartWorkers(w http.ResponseWriter, r *http.Request) {
	h.supervisor.Start()
	OK(w, map[string]string{"status": "started"})
}

func (h *Handlers) StopWorkers(w http.ResponseWriter, r *http.Request) {
	h.supervisor.Stop()
	OK(w, map[string]string{"status": "stopped"})
}

func (h *Handlers) RestartWorkers(w http.ResponseWriter, r *http.Request) {
	h.supervisor.Stop()
	h.supervisor.Start()
	OK(w, map[string]string{"status": "restarted"})
}

func (h *Handlers) PauseQueue(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.supervisor.Pause(name); err != nil {
		Fail(w, err)
		return
	}
	OK(w, map[string]string{"queue": name, "state": "paused"})
}

func (h *Handlers) ResumeQueue(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.supervisor.Resume(name); err != nil {
		Fail(w, err)
		return
	}
	OK(w, map[string]string{"queue": name, "state": "running"})
}

func (h *Handlers) CleanQueue(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	grace := 24 * time.Hour
	if raw := r.URL.Query().Get("grace"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d >= 0 {
			grace = d
		}
	}
	removed, err := h.supervisor.Clean(name, grace)
	if err != nil {
		Fail(w, err)
		return
	}
	OK(w, map[string]any{"queue": name, "removed": removed})
}
