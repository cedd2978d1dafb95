package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nftecnologia/mailgenius/internal/alerts"
	"github.com/nftecnologia/mailgenius/internal/logindex"
	"github.com/nftecnologia/mailgenius/internal/metrics"
	"github.com/nftecnologia/mailgenius/internal/ratelimit"
)

func intQuery(r *http.Request, name string, def int) int {
	if n, err := strconv.Atoi(r.URL.Query().Get(name)); err == nil && n > 0 {
		return n
	}
	return def
}

func (h *Handlers) GetMetric(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	hours := intQuery(r, "hours", 1)
	points := h.metrics.Get(r.Context(), name, hours)
	OK(w, map[string]any{"name": name, "points": points, "count": len(points)})
}

func (h *Handlers) MetricSummary(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	hours := intQuery(r, "hours", 1)
	points := h.metrics.Get(r.Context(), name, hours)
	OK(w, metrics.Summarize(points))
}

// MetricWindow aggregates the series into fixed minute buckets.
func (h *Handlers) MetricWindow(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	minutes := intQuery(r, "minutes", 5)
	count := intQuery(r, "count", 12)
	OK(w, map[string]any{"name": name, "windows": h.metrics.Window(r.Context(), name, minutes, count)})
}

func (h *Handlers) ListAlertRules(w http.ResponseWriter, r *http.Request) {
	rules := h.alerts.Rules()
	OK(w, map[string]any{"rules": rules, "count": len(rules)})
}

func (h *Handlers) CreateAlertRule(w http.ResponseWriter, r *http.Request) {
	var rule alerts.Rule
	if !Decode(w, r, &rule) {
		return
	}
	if err := h.alerts.RegisterRule(rule); err != nil {
		Fail(w, err)
		return
	}
	JSON(w, http.StatusCreated, rule)
}

type ruleEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *Handlers) SetAlertRuleEnabled(w http.ResponseWriter, r *http.Request) {
	var req ruleEnabledRequest
	if !Decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.alerts.SetRuleEnabled(id, req.Enabled); err != nil {
		Fail(w, err)
		return
	}
	OK(w, map[string]any{"id": id, "enabled": req.Enabled})
}

func (h *Handlers) ListIncidents(w http.ResponseWriter, r *http.Request) {
	incidents := h.alerts.Incidents()
	OK(w, map[string]any{"incidents": incidents, "count": len(incidents)})
}

type incidentActionRequest struct {
	By string `json:"by"`
}

func (h *Handlers) AcknowledgeIncident(w http.ResponseWriter, r *http.Request) {
	var req incidentActionRequest
	_ = decodeOptional(r, &req)
	id := chi.URLParam(r, "id")
	if err := h.alerts.Acknowledge(id, req.By); err != nil {
		Fail(w, err)
		return
	}
	OK(w, map[string]string{"id": id, "status": "acknowledged"})
}

func (h *Handlers) ResolveIncident(w http.ResponseWriter, r *http.Request) {
	var req incidentActionRequest
	_ = decodeOptional(r, &req)
	id := chi.URLParam(r, "id")
	if err := h.alerts.Resolve(id, req.By); err != nil {
		Fail(w, err)
		return
	}
	OK(w, map[string]string{"id": id, "status": "resolved"})
}

func (h *Handlers) ListNotifications(w http.ResponseWriter, r *http.Request) {
	notifications := h.alerts.Notifications()
	OK(w, map[string]any{"notifications": notifications, "count": len(notifications)})
}

// SearchLogs queries the log index. Every filter is optional; paging is
// offset based.
func (h *Handlers) SearchLogs(w http.ResponseWriter, r *http.Request) {
	q := logindex.Query{
		Level:     r.URL.Query().Get("level"),
		Service:   r.URL.Query().Get("service"),
		Component: r.URL.Query().Get("component"),
		TraceID:   r.URL.Query().Get("trace_id"),
		UserID:    r.URL.Query().Get("user_id"),
		Search:    r.URL.Query().Get("search"),
		Offset:    intQuery(r, "offset", 0),
		Limit:     intQuery(r, "limit", 0),
	}
	if tags, ok := r.URL.Query()["tag"]; ok {
		q.Tags = tags
	}
	if raw := r.URL.Query().Get("start_time"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			q.StartTime = t
		}
	}
	if raw := r.URL.Query().Get("end_time"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			q.EndTime = t
		}
	}

	entries, total, err := h.logs.Search(r.Context(), q)
	if err != nil {
		Fail(w, err)
		return
	}
	OK(w, map[string]any{"entries": entries, "total": total})
}

func (h *Handlers) LogCounts(w http.ResponseWriter, r *http.Request) {
	hour := time.Now()
	if raw := r.URL.Query().Get("hour"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			hour = t
		}
	}
	counts, err := h.logs.Counts(r.Context(), hour)
	if err != nil {
		Fail(w, err)
		return
	}
	OK(w, counts)
}

func (h *Handlers) RateLimitProfiles(w http.ResponseWriter, r *http.Request) {
	OK(w, ratelimit.Profiles())
}

// RateLimitTop reports the current-minute traffic leaderboards.
func (h *Handlers) RateLimitTop(w http.ResponseWriter, r *http.Request) {
	if h.monitor == nil {
		OK(w, map[string]any{"by_requests": []ratelimit.RankedIdentifier{}, "by_blocks": []ratelimit.RankedIdentifier{}})
		return
	}
	OK(w, map[string]any{
		"by_requests": h.monitor.TopByRequests(),
		"by_blocks":   h.monitor.TopByBlocks(),
	})
}

// RateLimitStatus reports the caller's standing against one profile
// without counting a hit.
func (h *Handlers) RateLimitStatus(w http.ResponseWriter, r *http.Request) {
	profile := chi.URLParam(r, "profile")
	identity := IdentityFrom(r.Context())
	OK(w, map[string]any{
		"profile":   profile,
		"remaining": h.limiter.Remaining(r.Context(), identity.OwnerID, profile),
		"reset_at":  h.limiter.ResetAt(r.Context(), identity.OwnerID, profile).UTC().Format(time.RFC3339),
	})
}
