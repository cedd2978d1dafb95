// Package alerts evaluates metric-driven alert rules on a periodic tick,
// opens incidents with a forward-only lifecycle, and fans notifications out
// to email, webhook and team-chat channels.
package alerts

import (
	"time"

	"github.com/nftecnologia/mailgenius/internal/metrics"
)

// Severity ranks how urgent a firing rule is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Condition compares the observed window average against the threshold.
type Condition string

const (
	CondGT  Condition = "gt"
	CondLT  Condition = "lt"
	CondEQ  Condition = "eq"
	CondNE  Condition = "ne"
	CondGTE Condition = "gte"
	CondLTE Condition = "lte"
)

// Holds reports whether value satisfies the condition against threshold.
func (c Condition) Holds(value, threshold float64) bool {
	switch c {
	case CondGT:
		return value > threshold
	case CondLT:
		return value < threshold
	case CondEQ:
		return value == threshold
	case CondNE:
		return value != threshold
	case CondGTE:
		return value >= threshold
	case CondLTE:
		return value <= threshold
	}
	return false
}

// ChannelConfig names one notification destination on a rule. A disabled
// channel stays configured but receives nothing.
type ChannelConfig struct {
	Type    string `json:"type" yaml:"type"` // email, webhook, chat
	Target  string `json:"target" yaml:"target"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

// Rule is one alert definition.
type Rule struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Metric          string          `json:"metric"`
	Condition       Condition       `json:"condition"`
	Threshold       float64         `json:"threshold"`
	DurationMinutes int             `json:"duration_minutes"`
	Severity        Severity        `json:"severity"`
	Enabled         bool            `json:"enabled"`
	CooldownMinutes int             `json:"cooldown_minutes"`
	Channels        []ChannelConfig `json:"channels"`

	LastChecked   time.Time `json:"last_checked,omitempty"`
	LastTriggered time.Time `json:"last_triggered,omitempty"`
}

func (r Rule) inCooldown(now time.Time) bool {
	if r.CooldownMinutes <= 0 || r.LastTriggered.IsZero() {
		return false
	}
	return now.Sub(r.LastTriggered) < time.Duration(r.CooldownMinutes)*time.Minute
}

// DefaultRules are registered on boot.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID: "high-api-latency", Name: "High API latency",
			Metric: metrics.APILatency, Condition: CondGT, Threshold: 2000,
			DurationMinutes: 2, Severity: SeverityMedium, Enabled: true, CooldownMinutes: 15,
		},
		{
			ID: "high-error-rate", Name: "High API error rate",
			Metric: metrics.APIError, Condition: CondGT, Threshold: 5,
			DurationMinutes: 5, Severity: SeverityCritical, Enabled: true, CooldownMinutes: 15,
		},
		{
			ID: "memory-warning", Name: "Memory usage warning",
			Metric: metrics.SystemUsagePercent, Condition: CondGT, Threshold: 85,
			DurationMinutes: 5, Severity: SeverityMedium, Enabled: true, CooldownMinutes: 30,
		},
		{
			ID: "memory-critical", Name: "Memory usage critical",
			Metric: metrics.SystemUsagePercent, Condition: CondGT, Threshold: 95,
			DurationMinutes: 2, Severity: SeverityCritical, Enabled: true, CooldownMinutes: 10,
		},
		{
			ID: "webhook-burst", Name: "Webhook traffic burst",
			Metric: metrics.RateLimitHits, Condition: CondGT, Threshold: 100,
			DurationMinutes: 1, Severity: SeverityLow, Enabled: true, CooldownMinutes: 10,
		},
		{
			ID: "email-bounce-rate", Name: "Email bounce rate high",
			Metric: metrics.EmailBounced, Condition: CondGT, Threshold: 10,
			DurationMinutes: 10, Severity: SeverityMedium, Enabled: true, CooldownMinutes: 30,
		},
		{
			ID: "service-down", Name: "Service health check failing",
			Metric: metrics.HealthStatus, Condition: CondEQ, Threshold: 0,
			DurationMinutes: 1, Severity: SeverityCritical, Enabled: true, CooldownMinutes: 5,
		},
	}
}
