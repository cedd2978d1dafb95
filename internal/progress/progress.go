// Package progress tracks long-running user-facing operations (imports,
// campaign sends). Records live in a shared-store cache with a durable
// repository behind it, and every change is published for live UIs.
package progress

import (
	"math"
	"time"
)

// Kind classifies what operation a record tracks.
type Kind string

const (
	KindImport   Kind = "import"
	KindEmail    Kind = "email"
	KindCampaign Kind = "campaign"
)

// Status is the record lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Record is the authoritative state of one tracked operation.
type Record struct {
	ID        string                 `json:"id"`
	Kind      Kind                   `json:"kind"`
	OwnerID   string                 `json:"owner_id"`
	Status    Status                 `json:"status"`
	Progress  int                    `json:"progress"`
	Total     int                    `json:"total"`
	Processed int                    `json:"processed"`
	Failed    int                    `json:"failed"`
	Message   string                 `json:"message,omitempty"`
	StartedAt time.Time              `json:"started_at"`
	EndedAt   *time.Time             `json:"ended_at,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Errors    []string               `json:"errors,omitempty"`
}

// Patch updates a record. Nil fields are left untouched. Counters carry
// absolute values computed by the single producer, not deltas.
type Patch struct {
	Progress  *int
	Processed *int
	Failed    *int
	Message   *string
	Status    *Status
	Metadata  map[string]interface{}
	Errors    []string
}

// apply merges p into r and recomputes derived fields.
func (p Patch) apply(r *Record) {
	if p.Processed != nil {
		r.Processed = *p.Processed
	}
	if p.Failed != nil {
		r.Failed = *p.Failed
	}
	if p.Message != nil {
		r.Message = *p.Message
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.Metadata != nil {
		if r.Metadata == nil {
			r.Metadata = make(map[string]interface{}, len(p.Metadata))
		}
		for k, v := range p.Metadata {
			r.Metadata[k] = v
		}
	}
	if len(p.Errors) > 0 {
		r.Errors = append(r.Errors, p.Errors...)
	}

	if p.Progress != nil {
		r.Progress = clampPct(*p.Progress)
	} else if r.Total > 0 {
		r.Progress = clampPct(int(math.Round(float64(r.Processed+r.Failed) / float64(r.Total) * 100)))
	}

	if p.Status != nil && p.Status.Terminal() && r.EndedAt == nil {
		now := time.Now()
		r.EndedAt = &now
	}
}

func clampPct(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// StatusCounts is the per-owner census returned by Stats.
type StatusCounts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}
