package alerts

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nftecnologia/mailgenius/internal/domain"
	"github.com/nftecnologia/mailgenius/internal/metrics"
	"github.com/nftecnologia/mailgenius/internal/pkg/logger"
)

// DefaultEvalInterval is the rule evaluation tick.
const DefaultEvalInterval = 60 * time.Second

// maxNotificationHistory caps the in-memory delivery log.
const maxNotificationHistory = 500

// HealthSource supplies the distinguished health.status reading. The
// health checker's Value method fits.
type HealthSource func(ctx context.Context) float64

// Manager owns rules, incidents and channel dispatch.
type Manager struct {
	collector *metrics.Collector
	health    HealthSource
	interval  time.Duration

	mu            sync.Mutex
	rules         map[string]*Rule
	incidents     map[string]*Incident
	notifications []Notification
	notifiers     map[string]Notifier

	evaluating atomic.Bool
}

// NewManager creates a manager with default notifiers and the default
// rule set registered.
func NewManager(collector *metrics.Collector) *Manager {
	m := &Manager{
		collector: collector,
		interval:  DefaultEvalInterval,
		rules:     make(map[string]*Rule),
		incidents: make(map[string]*Incident),
		notifiers: map[string]Notifier{
			"email":   &EmailNotifier{},
			"webhook": &WebhookNotifier{},
			"chat":    &ChatNotifier{},
		},
	}
	for _, r := range DefaultRules() {
		rule := r
		m.rules[rule.ID] = &rule
	}
	return m
}

// SetHealthSource installs the health.status reader. Without one the
// service-down rule is skipped.
func (m *Manager) SetHealthSource(src HealthSource) {
	m.mu.Lock()
	m.health = src
	m.mu.Unlock()
}

// SetNotifier replaces the notifier for a channel type.
func (m *Manager) SetNotifier(channelType string, n Notifier) {
	m.mu.Lock()
	m.notifiers[channelType] = n
	m.mu.Unlock()
}

// SetInterval overrides the evaluation tick.
func (m *Manager) SetInterval(d time.Duration) {
	if d > 0 {
		m.interval = d
	}
}

// RegisterRule adds or replaces a rule.
func (m *Manager) RegisterRule(r Rule) error {
	if r.ID == "" || r.Metric == "" {
		return domain.E(domain.KindValidation, "RULE_INVALID", "rule id and metric are required")
	}
	m.mu.Lock()
	rule := r
	m.rules[rule.ID] = &rule
	m.mu.Unlock()
	return nil
}

// SetRuleEnabled toggles a rule.
func (m *Manager) SetRuleEnabled(id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.Enabled = enabled
	return nil
}

// Rules returns a snapshot sorted by id.
func (m *Manager) Rules() []Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Rule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Incidents returns every incident, newest first.
func (m *Manager) Incidents() []Incident {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Incident, 0, len(m.incidents))
	for _, i := range m.incidents {
		out = append(out, *i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].OpenedAt.After(out[b].OpenedAt) })
	return out
}

// Notifications returns the recent delivery log, newest last.
func (m *Manager) Notifications() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Notification, len(m.notifications))
	copy(out, m.notifications)
	return out
}

// Acknowledge moves an open incident to acknowledged.
func (m *Manager) Acknowledge(id, by string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[id]
	if !ok {
		return domain.ErrNotFound
	}
	return inc.acknowledge(by, time.Now())
}

// Resolve moves an open or acknowledged incident to resolved.
func (m *Manager) Resolve(id, by string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[id]
	if !ok {
		return domain.ErrNotFound
	}
	return inc.resolve(by, time.Now())
}

// Run evaluates on the tick until ctx is cancelled. It blocks.
func (m *Manager) Run(ctx context.Context) {
	logger.Info("alert manager started",
		"interval", m.interval.String(), "rules", fmt.Sprintf("%d", len(m.Rules())))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.EvaluateAll(ctx)
		}
	}
}

// EvaluateAll runs one evaluation pass over every enabled rule. Rules run
// in parallel; a pass that overlaps a still-running one is skipped.
func (m *Manager) EvaluateAll(ctx context.Context) {
	if !m.evaluating.CompareAndSwap(false, true) {
		logger.Warn("alert evaluation still running, skipping tick")
		return
	}
	defer m.evaluating.Store(false)

	now := time.Now()
	m.mu.Lock()
	var due []*Rule
	for _, r := range m.rules {
		if !r.Enabled || r.inCooldown(now) {
			continue
		}
		due = append(due, r)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, rule := range due {
		wg.Add(1)
		go func(r *Rule) {
			defer wg.Done()
			m.evaluate(ctx, r, now)
		}(rule)
	}
	wg.Wait()
}

func (m *Manager) evaluate(ctx context.Context, r *Rule, now time.Time) {
	var value float64
	var ok bool

	if r.Metric == metrics.HealthStatus {
		m.mu.Lock()
		src := m.health
		m.mu.Unlock()
		if src == nil {
			return
		}
		value, ok = src(ctx), true
	} else {
		value, ok = m.collector.WindowAverage(ctx, r.Metric, r.DurationMinutes)
	}

	m.mu.Lock()
	r.LastChecked = now
	m.mu.Unlock()

	if !ok || !r.Condition.Holds(value, r.Threshold) {
		return
	}

	m.mu.Lock()
	r.LastTriggered = now
	var existing *Incident
	for _, inc := range m.incidents {
		if inc.RuleID == r.ID && inc.Status != IncidentResolved {
			existing = inc
			break
		}
	}
	if existing != nil {
		m.mu.Unlock()
		logger.Debug("rule firing with open incident, not reopening",
			"rule", r.ID, "incident", existing.ID)
		return
	}

	inc := &Incident{
		ID:        uuid.New().String(),
		RuleID:    r.ID,
		RuleName:  r.Name,
		Metric:    r.Metric,
		Severity:  r.Severity,
		Value:     value,
		Threshold: r.Threshold,
		Status:    IncidentOpen,
		OpenedAt:  now,
	}
	m.incidents[inc.ID] = inc
	channels := make([]ChannelConfig, len(r.Channels))
	copy(channels, r.Channels)
	snapshot := *inc
	m.mu.Unlock()

	logger.Warn("alert incident opened",
		"rule", r.ID, "metric", r.Metric,
		"value", fmt.Sprintf("%.2f", value), "threshold", fmt.Sprintf("%.2f", r.Threshold))

	m.dispatch(ctx, &snapshot, channels)
}

// dispatch notifies every channel; one failing channel never blocks the
// others.
func (m *Manager) dispatch(ctx context.Context, inc *Incident, channels []ChannelConfig) {
	for _, ch := range channels {
		if !ch.Enabled {
			continue
		}
		m.mu.Lock()
		notifier := m.notifiers[ch.Type]
		m.mu.Unlock()

		rec := Notification{
			IncidentID:  inc.ID,
			ChannelType: ch.Type,
			Target:      ch.Target,
			Success:     true,
			SentAt:      time.Now(),
		}
		if notifier == nil {
			rec.Success = false
			rec.Error = "unknown channel type"
		} else if err := notifier.Notify(ctx, inc, ch.Target); err != nil {
			rec.Success = false
			rec.Error = err.Error()
			logger.Warn("alert notification failed",
				"incident", inc.ID, "channel", ch.Type, "error", err.Error())
		}

		m.mu.Lock()
		m.notifications = append(m.notifications, rec)
		if len(m.notifications) > maxNotificationHistory {
			m.notifications = m.notifications[len(m.notifications)-maxNotificationHistory:]
		}
		m.mu.Unlock()
	}
}
