package progress

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nftecnologia/mailgenius/internal/store"
)

func testTracker(t *testing.T) (*Tracker, *MemoryRepo, store.Store) {
	t.Helper()
	st := store.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	repo := NewMemoryRepo()
	return NewTracker(st, repo), repo, st
}

func intp(v int) *int          { return &v }
func strp(v string) *string    { return &v }
func statusp(v Status) *Status { return &v }

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	tr, _, _ := testTracker(t)

	rec, err := tr.Create(ctx, "imp-1", KindImport, "tenant-a", 1000, map[string]interface{}{"file": "leads.csv"})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, 0, rec.Progress)
	assert.Equal(t, 1000, rec.Total)

	got, err := tr.Get(ctx, "imp-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "tenant-a", got.OwnerID)
	assert.Equal(t, "leads.csv", got.Metadata["file"])

	_, err = tr.Create(ctx, "", KindImport, "tenant-a", 0, nil)
	assert.Error(t, err)
}

func TestGetMissingReturnsNil(t *testing.T) {
	ctx := context.Background()
	tr, _, _ := testTracker(t)

	got, err := tr.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdateRecomputesProgress(t *testing.T) {
	ctx := context.Background()
	tr, _, _ := testTracker(t)

	_, err := tr.Create(ctx, "imp-2", KindImport, "tenant-a", 200, nil)
	require.NoError(t, err)

	rec, err := tr.Update(ctx, "imp-2", Patch{
		Status:    statusp(StatusProcessing),
		Processed: intp(90),
		Failed:    intp(10),
		Message:   strp("halfway"),
	})
	require.NoError(t, err)
	assert.Equal(t, 50, rec.Progress)
	assert.Equal(t, "halfway", rec.Message)
	assert.Nil(t, rec.EndedAt)

	// Explicit progress wins over recomputation.
	rec, err = tr.Update(ctx, "imp-2", Patch{Progress: intp(75)})
	require.NoError(t, err)
	assert.Equal(t, 75, rec.Progress)
}

func TestTerminalStatusStampsEndedAt(t *testing.T) {
	ctx := context.Background()
	tr, _, _ := testTracker(t)

	_, err := tr.Create(ctx, "imp-3", KindImport, "tenant-a", 2, nil)
	require.NoError(t, err)

	rec, err := tr.Update(ctx, "imp-3", Patch{
		Status:    statusp(StatusCompleted),
		Processed: intp(2),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, 100, rec.Progress)
	require.NotNil(t, rec.EndedAt)

	first := *rec.EndedAt
	rec, err = tr.Update(ctx, "imp-3", Patch{Message: strp("done")})
	require.NoError(t, err)
	assert.Equal(t, first, *rec.EndedAt)
}

func TestCancelledRecordCarriesEndedAt(t *testing.T) {
	ctx := context.Background()
	tr, _, _ := testTracker(t)

	_, err := tr.Create(ctx, "imp-c", KindImport, "tenant-a", 10, nil)
	require.NoError(t, err)
	_, err = tr.Update(ctx, "imp-c", Patch{Status: statusp(StatusProcessing), Processed: intp(3)})
	require.NoError(t, err)

	rec, err := tr.Update(ctx, "imp-c", Patch{Status: statusp(StatusCancelled)})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, rec.Status)
	require.NotNil(t, rec.EndedAt)

	// Failure is terminal too.
	_, err = tr.Create(ctx, "imp-f", KindImport, "tenant-a", 10, nil)
	require.NoError(t, err)
	rec, err = tr.Update(ctx, "imp-f", Patch{Status: statusp(StatusFailed)})
	require.NoError(t, err)
	require.NotNil(t, rec.EndedAt)
}

func TestUpdateMissingRecord(t *testing.T) {
	ctx := context.Background()
	tr, _, _ := testTracker(t)

	_, err := tr.Update(ctx, "ghost", Patch{Message: strp("x")})
	assert.Error(t, err)
}

func TestCacheMissFallsBackToDurable(t *testing.T) {
	ctx := context.Background()
	tr, _, st := testTracker(t)

	_, err := tr.Create(ctx, "imp-4", KindImport, "tenant-a", 10, nil)
	require.NoError(t, err)

	// Drop the cache entry; the durable row must still serve reads.
	require.NoError(t, st.Del(ctx, "progress:record:imp-4"))

	got, err := tr.Get(ctx, "imp-4")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 10, got.Total)

	// The read-through repopulated the cache.
	_, ok, err := st.Get(ctx, "progress:record:imp-4")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListByOwnerIsBoundedAndRecentFirst(t *testing.T) {
	ctx := context.Background()
	tr, repo, _ := testTracker(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 55; i++ {
		require.NoError(t, repo.Save(ctx, &Record{
			ID:        fmt.Sprintf("r-%02d", i),
			OwnerID:   "tenant-a",
			Status:    StatusCompleted,
			StartedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, repo.Save(ctx, &Record{ID: "other", OwnerID: "tenant-b", StartedAt: time.Now()}))

	out, err := tr.ListByOwner(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, out, 50)
	assert.Equal(t, "r-54", out[0].ID)
}

func TestStatsCountsByStatus(t *testing.T) {
	ctx := context.Background()
	tr, repo, _ := testTracker(t)

	statuses := []Status{StatusPending, StatusProcessing, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled}
	for i, s := range statuses {
		require.NoError(t, repo.Save(ctx, &Record{ID: fmt.Sprintf("s-%d", i), OwnerID: "tenant-a", Status: s}))
	}

	counts, err := tr.Stats(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, StatusCounts{Total: 6, Pending: 1, Processing: 2, Completed: 1, Failed: 1, Cancelled: 1}, counts)
}

func TestCleanupOlderThan(t *testing.T) {
	ctx := context.Background()
	tr, repo, _ := testTracker(t)

	require.NoError(t, repo.Save(ctx, &Record{ID: "old", OwnerID: "t", StartedAt: time.Now().Add(-48 * time.Hour)}))
	require.NoError(t, repo.Save(ctx, &Record{ID: "fresh", OwnerID: "t", StartedAt: time.Now()}))

	n, err := tr.CleanupOlderThan(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := repo.Get(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	ctx := context.Background()
	tr, _, _ := testTracker(t)

	var mu sync.Mutex
	var events []*Record
	unsub, err := tr.Subscribe(ctx, "tenant-a", func(r *Record) {
		mu.Lock()
		events = append(events, r)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsub()

	_, err = tr.Create(ctx, "imp-5", KindImport, "tenant-a", 4, nil)
	require.NoError(t, err)
	_, err = tr.Update(ctx, "imp-5", Patch{Processed: intp(2)})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, StatusPending, events[0].Status)
	assert.Equal(t, 50, events[1].Progress)

	// Double unsubscribe is safe.
	unsub()
	unsub()
}
