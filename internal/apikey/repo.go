package apikey

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Repo is the durable key store. The postgres implementation lives in the
// repository package; MemoryRepo backs tests and DB-less deployments.
type Repo interface {
	Insert(ctx context.Context, k *APIKey) error
	GetByHash(ctx context.Context, hash string) (*APIKey, error)
	GetByID(ctx context.Context, id, ownerID string) (*APIKey, error)
	Update(ctx context.Context, k *APIKey) error
	ListByOwner(ctx context.Context, ownerID string, includeRevoked bool) ([]*APIKey, error)
	ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]*APIKey, error)
	AppendAudit(ctx context.Context, a *AuditLog) error
	ListAudit(ctx context.Context, keyID string, limit int) ([]*AuditLog, error)
}

// MemoryRepo is a map-backed Repo.
type MemoryRepo struct {
	mu     sync.Mutex
	keys   map[string]*APIKey
	byHash map[string]string
	audits map[string][]*AuditLog
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		keys:   make(map[string]*APIKey),
		byHash: make(map[string]string),
		audits: make(map[string][]*AuditLog),
	}
}

func (m *MemoryRepo) Insert(ctx context.Context, k *APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *k
	m.keys[k.ID] = &cp
	m.byHash[k.KeyHash] = k.ID
	return nil
}

func (m *MemoryRepo) GetByHash(ctx context.Context, hash string) (*APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byHash[hash]
	if !ok {
		return nil, nil
	}
	cp := *m.keys[id]
	return &cp, nil
}

func (m *MemoryRepo) GetByID(ctx context.Context, id, ownerID string) (*APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok || k.OwnerID != ownerID {
		return nil, nil
	}
	cp := *k
	return &cp, nil
}

func (m *MemoryRepo) Update(ctx context.Context, k *APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *k
	m.keys[k.ID] = &cp
	return nil
}

func (m *MemoryRepo) ListByOwner(ctx context.Context, ownerID string, includeRevoked bool) ([]*APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*APIKey
	for _, k := range m.keys {
		if k.OwnerID != ownerID {
			continue
		}
		if !includeRevoked && k.Status == StatusRevoked {
			continue
		}
		cp := *k
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRepo) ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]*APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*APIKey
	for _, k := range m.keys {
		if k.Status == StatusActive && k.ExpiresAt.Before(cutoff) {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryRepo) AppendAudit(ctx context.Context, a *AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.audits[a.KeyID] = append(m.audits[a.KeyID], &cp)
	return nil
}

func (m *MemoryRepo) ListAudit(ctx context.Context, keyID string, limit int) ([]*AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.audits[keyID]
	out := make([]*AuditLog, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		cp := *rows[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
