package logindex

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nftecnologia/mailgenius/internal/store"
)

func testIndex(t *testing.T) *Index {
	t.Helper()
	st := store.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	return New(st)
}

func TestWriteAndSearchByServiceComponent(t *testing.T) {
	ctx := context.Background()
	ix := testIndex(t)

	ix.Write(ctx, Entry{Level: "info", Service: "api", Component: "imports", Message: "import accepted"})
	ix.Write(ctx, Entry{Level: "error", Service: "api", Component: "imports", Message: "import rejected"})
	ix.Write(ctx, Entry{Level: "info", Service: "worker", Component: "send", Message: "batch sent"})

	entries, total, err := ix.Search(ctx, Query{Service: "api", Component: "imports"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, entries, 2)
	// Newest first.
	assert.Equal(t, "import rejected", entries[0].Message)
	assert.Equal(t, "ERROR", entries[0].Level)
}

func TestSecondaryIndexes(t *testing.T) {
	ctx := context.Background()
	ix := testIndex(t)

	ix.Write(ctx, Entry{Level: "error", Service: "api", Component: "keys", Message: "boom", TraceID: "tr-1", UserID: "u-9"})
	ix.Write(ctx, Entry{Level: "error", Service: "api", Component: "keys", Message: "other", TraceID: "tr-2"})

	byTrace, total, err := ix.Search(ctx, Query{TraceID: "tr-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "boom", byTrace[0].Message)

	byUser, _, err := ix.Search(ctx, Query{UserID: "u-9"})
	require.NoError(t, err)
	require.Len(t, byUser, 1)

	byLevel, _, err := ix.Search(ctx, Query{Level: "error"})
	require.NoError(t, err)
	assert.Len(t, byLevel, 2)
}

func TestSearchFilters(t *testing.T) {
	ctx := context.Background()
	ix := testIndex(t)

	old := time.Now().Add(-2 * time.Hour)
	ix.Write(ctx, Entry{Level: "info", Service: "api", Component: "a", Message: "stale entry", Timestamp: old, Tags: []string{"slow"}})
	ix.Write(ctx, Entry{Level: "info", Service: "api", Component: "a", Message: "fresh entry", Tags: []string{"slow", "db"}})

	entries, _, err := ix.Search(ctx, Query{Service: "api", Component: "a", StartTime: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "fresh entry", entries[0].Message)

	entries, _, err = ix.Search(ctx, Query{Service: "api", Component: "a", Search: "STALE"})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entries, _, err = ix.Search(ctx, Query{Service: "api", Component: "a", Tags: []string{"slow", "db"}})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "fresh entry", entries[0].Message)
}

func TestPagination(t *testing.T) {
	ctx := context.Background()
	ix := testIndex(t)

	for i := 0; i < 10; i++ {
		ix.Write(ctx, Entry{Level: "info", Service: "api", Component: "p", Message: fmt.Sprintf("line %d", i)})
	}

	page, total, err := ix.Search(ctx, Query{Service: "api", Component: "p", Offset: 3, Limit: 4})
	require.NoError(t, err)
	assert.Equal(t, 10, total)
	require.Len(t, page, 4)
	assert.Equal(t, "line 6", page[0].Message)

	// Offset beyond the result set is an empty page, not an error.
	page, total, err = ix.Search(ctx, Query{Service: "api", Component: "p", Offset: 50})
	require.NoError(t, err)
	assert.Equal(t, 10, total)
	assert.Empty(t, page)
}

func TestWriteSanitizes(t *testing.T) {
	ctx := context.Background()
	ix := testIndex(t)

	ix.Write(ctx, Entry{
		Level: "info", Service: "api", Component: "auth",
		Message: "key es_live_abcdef0123456789abcdef0123456789 used by ops@example.com",
		Fields:  map[string]string{"password": "hunter2", "path": "/api/keys"},
	})

	entries, _, err := ix.Search(ctx, Query{Service: "api", Component: "auth"})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.NotContains(t, e.Message, "es_live_abcdef")
	assert.NotContains(t, e.Message, "ops@example.com")
	assert.Equal(t, "[REDACTED]", e.Fields["password"])
	assert.Equal(t, "/api/keys", e.Fields["path"])
}

func TestHourlyCounts(t *testing.T) {
	ctx := context.Background()
	ix := testIndex(t)

	now := time.Now()
	ix.Write(ctx, Entry{Level: "info", Service: "api", Component: "x", Message: "a", Timestamp: now})
	ix.Write(ctx, Entry{Level: "info", Service: "api", Component: "x", Message: "b", Timestamp: now})
	ix.Write(ctx, Entry{Level: "error", Service: "worker", Component: "y", Message: "c", Timestamp: now})

	counts, err := ix.Counts(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["api:INFO"])
	assert.Equal(t, int64(1), counts["worker:ERROR"])
}

func TestListCap(t *testing.T) {
	ctx := context.Background()
	ix := testIndex(t)
	ix.maxEntries = 5

	for i := 0; i < 9; i++ {
		ix.Write(ctx, Entry{Level: "info", Service: "api", Component: "cap", Message: fmt.Sprintf("m%d", i)})
	}

	entries, total, err := ix.Search(ctx, Query{Service: "api", Component: "cap"})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Equal(t, "m8", entries[0].Message)
}
