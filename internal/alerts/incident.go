package alerts

import (
	"fmt"
	"time"

	"github.com/nftecnologia/mailgenius/internal/domain"
)

// IncidentStatus moves forward only: open, acknowledged, resolved.
type IncidentStatus string

const (
	IncidentOpen         IncidentStatus = "open"
	IncidentAcknowledged IncidentStatus = "acknowledged"
	IncidentResolved     IncidentStatus = "resolved"
)

// Incident is one firing of a rule.
type Incident struct {
	ID             string         `json:"id"`
	RuleID         string         `json:"rule_id"`
	RuleName       string         `json:"rule_name"`
	Metric         string         `json:"metric"`
	Severity       Severity       `json:"severity"`
	Value          float64        `json:"value"`
	Threshold      float64        `json:"threshold"`
	Status         IncidentStatus `json:"status"`
	OpenedAt       time.Time      `json:"opened_at"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string         `json:"acknowledged_by,omitempty"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy     string         `json:"resolved_by,omitempty"`
}

func (i *Incident) acknowledge(by string, now time.Time) error {
	if i.Status != IncidentOpen {
		return domain.E(domain.KindValidation, "INCIDENT_NOT_OPEN",
			fmt.Sprintf("incident %s is %s, only open incidents can be acknowledged", i.ID, i.Status))
	}
	i.Status = IncidentAcknowledged
	i.AcknowledgedAt = &now
	i.AcknowledgedBy = by
	return nil
}

func (i *Incident) resolve(by string, now time.Time) error {
	if i.Status == IncidentResolved {
		return domain.E(domain.KindValidation, "INCIDENT_RESOLVED",
			fmt.Sprintf("incident %s is already resolved", i.ID))
	}
	i.Status = IncidentResolved
	i.ResolvedAt = &now
	i.ResolvedBy = by
	return nil
}
