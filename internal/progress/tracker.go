package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nftecnologia/mailgenius/internal/domain"
	"github.com/nftecnologia/mailgenius/internal/pkg/logger"
	"github.com/nftecnologia/mailgenius/internal/store"
)

// DefaultCacheTTL bounds how long a cached record outlives the durable row.
const DefaultCacheTTL = time.Hour

// Tracker is the progress service. Updates for one id must come from a
// single producer; the tracker serializes nothing across callers.
type Tracker struct {
	store    store.Store
	repo     Repo
	cacheTTL time.Duration
}

// NewTracker wires the cache and the durable repo.
func NewTracker(st store.Store, repo Repo) *Tracker {
	return &Tracker{store: st, repo: repo, cacheTTL: DefaultCacheTTL}
}

func cacheKey(id string) string { return "progress:record:" + id }

// Channel is the pub/sub channel carrying one owner's updates.
func Channel(ownerID string) string { return "progress:" + ownerID }

// Create registers a new record in pending state. Reusing an id resets the
// run it tracked before.
func (t *Tracker) Create(ctx context.Context, id string, kind Kind, ownerID string, total int, metadata map[string]interface{}) (*Record, error) {
	if id == "" || ownerID == "" {
		return nil, domain.E(domain.KindValidation, "PROGRESS_INVALID", "id and ownerId are required")
	}

	rec := &Record{
		ID:        id,
		Kind:      kind,
		OwnerID:   ownerID,
		Status:    StatusPending,
		Total:     total,
		StartedAt: time.Now(),
		Metadata:  metadata,
	}
	t.persist(ctx, rec)
	return rec, nil
}

// Update applies a patch and returns the merged record.
func (t *Tracker) Update(ctx context.Context, id string, patch Patch) (*Record, error) {
	rec, err := t.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, domain.ErrNotFound
	}

	patch.apply(rec)
	t.persist(ctx, rec)
	return rec, nil
}

// Get reads through: cache first, durable store on miss, nil on both missing.
func (t *Tracker) Get(ctx context.Context, id string) (*Record, error) {
	raw, ok, err := t.store.Get(ctx, cacheKey(id))
	if err == nil && ok {
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err == nil {
			return &rec, nil
		}
	}

	rec, err := t.repo.Get(ctx, id)
	if err != nil {
		return nil, domain.Wrap(domain.KindTransientDependency, "PROGRESS_READ", "durable progress read failed", err)
	}
	if rec != nil {
		t.writeCache(ctx, rec)
	}
	return rec, nil
}

// ListByOwner returns up to 50 most recent records for one owner.
func (t *Tracker) ListByOwner(ctx context.Context, ownerID string) ([]*Record, error) {
	return t.repo.ListByOwner(ctx, ownerID, 50)
}

// Delete drops the record from cache and durable store.
func (t *Tracker) Delete(ctx context.Context, id string) error {
	if err := t.store.Del(ctx, cacheKey(id)); err != nil {
		logger.Debug("progress cache delete failed", "id", id, "error", err.Error())
	}
	return t.repo.Delete(ctx, id)
}

// CleanupOlderThan removes records started before now-age.
func (t *Tracker) CleanupOlderThan(ctx context.Context, age time.Duration) (int, error) {
	return t.repo.DeleteOlderThan(ctx, time.Now().Add(-age))
}

// Stats counts one owner's records by status.
func (t *Tracker) Stats(ctx context.Context, ownerID string) (StatusCounts, error) {
	return t.repo.CountByStatus(ctx, ownerID)
}

// Subscribe streams an owner's updates to onEvent until the returned
// unsubscribe function is called.
func (t *Tracker) Subscribe(ctx context.Context, ownerID string, onEvent func(*Record)) (func(), error) {
	sub, err := t.store.Subscribe(ctx, Channel(ownerID))
	if err != nil {
		return nil, domain.Wrap(domain.KindTransientDependency, "PROGRESS_SUBSCRIBE",
			fmt.Sprintf("cannot subscribe to owner %s", ownerID), err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case msg, ok := <-sub.Messages():
				if !ok {
					return
				}
				var rec Record
				if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
					logger.Warn("malformed progress event dropped", "channel", msg.Channel)
					continue
				}
				onEvent(&rec)
			}
		}
	}()

	var once bool
	return func() {
		if once {
			return
		}
		once = true
		close(done)
		_ = sub.Close()
	}, nil
}

// persist writes cache, then durable store, then publishes. Cache is
// authoritative for up to cacheTTL if the durable write fails; publish
// failures are logged and swallowed.
func (t *Tracker) persist(ctx context.Context, rec *Record) {
	t.writeCache(ctx, rec)

	if err := t.repo.Save(ctx, rec); err != nil {
		logger.Warn("durable progress write failed", "id", rec.ID, "error", err.Error())
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := t.store.Publish(ctx, Channel(rec.OwnerID), string(data)); err != nil {
		logger.Debug("progress publish failed", "id", rec.ID, "error", err.Error())
	}
}

func (t *Tracker) writeCache(ctx context.Context, rec *Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := t.store.Set(ctx, cacheKey(rec.ID), string(data), t.cacheTTL); err != nil {
		logger.Debug("progress cache write failed", "id", rec.ID, "error", err.Error())
	}
}
