package progress

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Repo is the durable progress store. The postgres implementation lives in
// the repository package; MemoryRepo backs tests and DB-less deployments.
type Repo interface {
	Save(ctx context.Context, r *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Record, error)
	Delete(ctx context.Context, id string) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	CountByStatus(ctx context.Context, ownerID string) (StatusCounts, error)
}

// MemoryRepo is a map-backed Repo.
type MemoryRepo struct {
	mu      sync.Mutex
	records map[string]*Record
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{records: make(map[string]*Record)}
}

func (m *MemoryRepo) Save(ctx context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.records[r.ID] = &cp
	return nil
}

func (m *MemoryRepo) Get(ctx context.Context, id string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryRepo) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Record
	for _, r := range m.records {
		if r.OwnerID == ownerID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepo) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *MemoryRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, r := range m.records {
		if r.StartedAt.Before(cutoff) {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepo) CountByStatus(ctx context.Context, ownerID string) (StatusCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var c StatusCounts
	for _, r := range m.records {
		if r.OwnerID != ownerID {
			continue
		}
		c.Total++
		switch r.Status {
		case StatusPending:
			c.Pending++
		case StatusProcessing:
			c.Processing++
		case StatusCompleted:
			c.Completed++
		case StatusFailed:
			c.Failed++
		case StatusCancelled:
			c.Cancelled++
		}
	}
	return c, nil
}
