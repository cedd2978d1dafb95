// Package metrics implements the time-series collector: tagged points in a
// per-name ring buffer, mirrored into the shared store for cross-process
// reads, with bounded retention.
package metrics

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nftecnologia/mailgenius/internal/pkg/logger"
	"github.com/nftecnologia/mailgenius/internal/store"
)

// Point is one tagged sample of a named metric.
type Point struct {
	Name      string            `json:"name"`
	Timestamp time.Time         `json:"timestamp"`
	Value     float64           `json:"value"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// Aggregate summarizes a point set.
type Aggregate struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	Sum   float64 `json:"sum"`
	Count int     `json:"count"`
}

const (
	// DefaultMaxPoints caps each per-name ring buffer.
	DefaultMaxPoints = 1000
	// DefaultRetention is how long mirrored series live in the store.
	DefaultRetention = 24 * time.Hour
)

// Collector records metric points. Writes go to the in-memory ring first,
// then mirror into the shared store; store trouble never fails a caller.
type Collector struct {
	store     store.Store
	maxPoints int
	retention time.Duration

	mu     sync.Mutex
	series map[string][]Point
}

// New creates a collector with default caps.
func New(st store.Store) *Collector {
	return &Collector{
		store:     st,
		maxPoints: DefaultMaxPoints,
		retention: DefaultRetention,
		series:    make(map[string][]Point),
	}
}

func seriesKey(name string) string { return "metrics:" + name }

// Record appends a point to the ring buffer and mirrors it to the store.
func (c *Collector) Record(name string, value float64, tags map[string]string) {
	point := Point{Name: name, Timestamp: time.Now(), Value: value, Tags: tags}

	c.mu.Lock()
	ring := append(c.series[name], point)
	if len(ring) > c.maxPoints {
		ring = ring[len(ring)-c.maxPoints:]
	}
	c.series[name] = ring
	c.mu.Unlock()

	payload, err := json.Marshal(point)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pipe := c.store.Pipeline()
	pipe.LPush(seriesKey(name), string(payload))
	pipe.LTrim(seriesKey(name), 0, int64(c.maxPoints)-1)
	pipe.Expire(seriesKey(name), c.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Debug("metrics mirror write failed", "metric", name)
	}
}

// Get returns the points of name within the last hoursWindow hours, newest
// first. The store is consulted first; the in-memory ring is the fallback.
func (c *Collector) Get(ctx context.Context, name string, hoursWindow int) []Point {
	cutoff := time.Now().Add(-time.Duration(hoursWindow) * time.Hour)

	raw, err := c.store.LRange(ctx, seriesKey(name), 0, int64(c.maxPoints)-1)
	if err == nil && len(raw) > 0 {
		points := make([]Point, 0, len(raw))
		for _, item := range raw {
			var p Point
			if json.Unmarshal([]byte(item), &p) != nil {
				continue
			}
			if p.Timestamp.Before(cutoff) {
				continue
			}
			points = append(points, p)
		}
		if len(points) > 0 {
			return points
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	ring := c.series[name]
	points := make([]Point, 0, len(ring))
	// Ring is oldest-first; return newest-first to match the store read.
	for i := len(ring) - 1; i >= 0; i-- {
		if ring[i].Timestamp.Before(cutoff) {
			continue
		}
		points = append(points, ring[i])
	}
	return points
}

// Summarize reduces a point set to min/max/avg/sum/count.
func Summarize(points []Point) Aggregate {
	if len(points) == 0 {
		return Aggregate{}
	}
	agg := Aggregate{Min: points[0].Value, Max: points[0].Value, Count: len(points)}
	for _, p := range points {
		if p.Value < agg.Min {
			agg.Min = p.Value
		}
		if p.Value > agg.Max {
			agg.Max = p.Value
		}
		agg.Sum += p.Value
	}
	agg.Avg = agg.Sum / float64(len(points))
	return agg
}

// Window buckets the recent series of name into windowCount buckets of
// windowMinutes each, returning one averaged point per non-empty bucket,
// oldest bucket first.
func (c *Collector) Window(ctx context.Context, name string, windowMinutes, windowCount int) []Point {
	if windowMinutes <= 0 || windowCount <= 0 {
		return nil
	}

	span := time.Duration(windowMinutes*windowCount) * time.Minute
	hours := int(span.Hours()) + 1
	points := c.Get(ctx, name, hours)

	bucketLen := time.Duration(windowMinutes) * time.Minute
	end := time.Now()
	start := end.Add(-span)

	sums := make([]float64, windowCount)
	counts := make([]int, windowCount)
	for _, p := range points {
		if p.Timestamp.Before(start) {
			continue
		}
		idx := int(p.Timestamp.Sub(start) / bucketLen)
		if idx < 0 || idx >= windowCount {
			continue
		}
		sums[idx] += p.Value
		counts[idx]++
	}

	out := make([]Point, 0, windowCount)
	for i := 0; i < windowCount; i++ {
		if counts[i] == 0 {
			continue
		}
		out = append(out, Point{
			Name:      name,
			Timestamp: start.Add(time.Duration(i) * bucketLen),
			Value:     sums[i] / float64(counts[i]),
		})
	}
	return out
}

// WindowAverage is the alert-evaluation read: the mean of name over the
// last durationMinutes. ok is false when the window holds no points.
func (c *Collector) WindowAverage(ctx context.Context, name string, durationMinutes int) (float64, bool) {
	cutoff := time.Now().Add(-time.Duration(durationMinutes) * time.Minute)
	hours := durationMinutes/60 + 1

	var sum float64
	var count int
	for _, p := range c.Get(ctx, name, hours) {
		if p.Timestamp.Before(cutoff) {
			continue
		}
		sum += p.Value
		count++
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}
