// Package logindex mirrors sanitized log entries into the shared store:
// a primary list per service/component, secondary lists by level, trace and
// user, and per-hour counters. Queries filter and paginate over the best
// matching list.
package logindex

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nftecnologia/mailgenius/internal/pkg/logger"
	"github.com/nftecnologia/mailgenius/internal/store"
)

// Defaults for list caps and expiry.
const (
	DefaultMaxEntries = 1000
	DefaultRetention  = 7 * 24 * time.Hour
)

// Entry is one indexed log record. Message and field values are sanitized
// before they reach the store.
type Entry struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Level     string            `json:"level"`
	Service   string            `json:"service"`
	Component string            `json:"component"`
	Message   string            `json:"message"`
	TraceID   string            `json:"trace_id,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Query selects and paginates entries. Zero values mean "any".
type Query struct {
	Level     string
	Service   string
	Component string
	TraceID   string
	UserID    string
	Search    string
	Tags      []string
	StartTime time.Time
	EndTime   time.Time
	Offset    int
	Limit     int
}

// Index is the write and query surface.
type Index struct {
	store      store.Store
	maxEntries int
	retention  time.Duration
}

func New(st store.Store) *Index {
	return &Index{store: st, maxEntries: DefaultMaxEntries, retention: DefaultRetention}
}

func primaryKey(service, component string) string {
	return fmt.Sprintf("logs:%s:%s", service, component)
}

func levelKey(level string) string   { return "logs:level:" + level }
func traceKey(traceID string) string { return "logs:trace:" + traceID }
func userKey(userID string) string   { return "logs:user:" + userID }

func countKey(hour time.Time) string {
	return "logs:counts:" + hour.UTC().Format("2006010215")
}

// Write sanitizes and indexes one entry. Indexing failures are logged and
// swallowed; the caller's own log sink already has the line.
func (ix *Index) Write(ctx context.Context, e Entry) string {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e.Level = strings.ToUpper(e.Level)
	e.Message = logger.Sanitize(e.Message)
	for k, v := range e.Fields {
		if logger.IsSensitiveKey(k) {
			e.Fields[k] = "[REDACTED]"
		} else {
			e.Fields[k] = logger.Sanitize(v)
		}
	}

	data, err := json.Marshal(e)
	if err != nil {
		return e.ID
	}
	line := string(data)

	keys := []string{primaryKey(e.Service, e.Component), levelKey(e.Level)}
	if e.TraceID != "" {
		keys = append(keys, traceKey(e.TraceID))
	}
	if e.UserID != "" {
		keys = append(keys, userKey(e.UserID))
	}

	pipe := ix.store.Pipeline()
	for _, key := range keys {
		pipe.LPush(key, line)
		pipe.LTrim(key, 0, int64(ix.maxEntries-1))
		pipe.Expire(key, ix.retention)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Debug("log index write failed", "service", e.Service, "error", err.Error())
		return e.ID
	}

	ck := countKey(e.Timestamp)
	if _, err := ix.store.HIncrBy(ctx, ck, e.Service+":"+e.Level, 1); err == nil {
		_ = ix.store.Expire(ctx, ck, ix.retention)
	}
	return e.ID
}

// Counts returns the per-service, per-level counters for one hour bucket.
func (ix *Index) Counts(ctx context.Context, hour time.Time) (map[string]int64, error) {
	raw, err := ix.store.HGetAll(ctx, countKey(hour))
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for field, v := range raw {
		var n int64
		fmt.Sscanf(v, "%d", &n)
		out[field] = n
	}
	return out, nil
}

// Search reads the most selective index list for q, applies the remaining
// filters in memory and paginates. It returns the page and the total match
// count before pagination.
func (ix *Index) Search(ctx context.Context, q Query) ([]Entry, int, error) {
	key := ix.listFor(q)

	lines, err := ix.store.LRange(ctx, key, 0, int64(ix.maxEntries-1))
	if err != nil {
		return nil, 0, err
	}

	var matched []Entry
	for _, line := range lines {
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		if q.matches(e) {
			matched = append(matched, e)
		}
	}

	total := len(matched)
	offset := q.Offset
	if offset > total {
		offset = total
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

// listFor picks the narrowest list that covers the query.
func (ix *Index) listFor(q Query) string {
	switch {
	case q.TraceID != "":
		return traceKey(q.TraceID)
	case q.UserID != "":
		return userKey(q.UserID)
	case q.Service != "" && q.Component != "":
		return primaryKey(q.Service, q.Component)
	case q.Level != "":
		return levelKey(strings.ToUpper(q.Level))
	default:
		return levelKey("INFO")
	}
}

func (q Query) matches(e Entry) bool {
	if q.Level != "" && !strings.EqualFold(q.Level, e.Level) {
		return false
	}
	if q.Service != "" && q.Service != e.Service {
		return false
	}
	if q.Component != "" && q.Component != e.Component {
		return false
	}
	if q.TraceID != "" && q.TraceID != e.TraceID {
		return false
	}
	if q.UserID != "" && q.UserID != e.UserID {
		return false
	}
	if q.Search != "" && !strings.Contains(strings.ToLower(e.Message), strings.ToLower(q.Search)) {
		return false
	}
	if !q.StartTime.IsZero() && e.Timestamp.Before(q.StartTime) {
		return false
	}
	if !q.EndTime.IsZero() && e.Timestamp.After(q.EndTime) {
		return false
	}
	for _, want := range q.Tags {
		found := false
		for _, tag := range e.Tags {
			if tag == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
