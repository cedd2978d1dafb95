package ratelimit

import (
	"sort"
	"sync"
	"time"

	"github.com/nftecnologia/mailgenius/internal/pkg/logger"
)

// MetricSink receives rate-limit counters. The metrics collector satisfies
// this; the indirection keeps the limiter free of a metrics import.
type MetricSink interface {
	Record(name string, value float64, tags map[string]string)
}

// MonitorConfig tunes the suspicious-traffic thresholds.
type MonitorConfig struct {
	// SuspiciousPerMinute flags an identifier whose 1-minute request count
	// exceeds it. Zero disables the check.
	SuspiciousPerMinute int
	// BlockRateThreshold flags a global blocked/total ratio above it,
	// evaluated per minute over at least 20 events. Zero disables.
	BlockRateThreshold float64
	// TopK bounds the leaderboard size.
	TopK int
}

// Monitor records limiter decisions, keeps sliding top-K leaderboards and
// raises local alerts on suspicious traffic.
type Monitor struct {
	cfg  MonitorConfig
	sink MetricSink

	mu      sync.Mutex
	minute  int64
	hits    map[string]int // per-identifier requests in current minute
	blocks  map[string]int // per-identifier denials in current minute
	total   int
	blocked int
	flagged map[string]bool // already alerted this minute
}

// RankedIdentifier is one leaderboard entry.
type RankedIdentifier struct {
	Identifier string `json:"identifier"`
	Count      int    `json:"count"`
}

// NewMonitor creates a monitor. sink may be nil.
func NewMonitor(cfg MonitorConfig, sink MetricSink) *Monitor {
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	return &Monitor{
		cfg:     cfg,
		sink:    sink,
		hits:    make(map[string]int),
		blocks:  make(map[string]int),
		flagged: make(map[string]bool),
	}
}

// Observe records one limiter decision.
func (m *Monitor) Observe(identifier, profile string, allowed bool, latency time.Duration) {
	if m.sink != nil {
		tags := map[string]string{"profile": profile}
		m.sink.Record("ratelimit.hits", 1, tags)
		if !allowed {
			m.sink.Record("ratelimit.blocked", 1, tags)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.rollLocked(time.Now())

	m.hits[identifier]++
	m.total++
	if !allowed {
		m.blocks[identifier]++
		m.blocked++
	}

	if m.cfg.SuspiciousPerMinute > 0 && m.hits[identifier] > m.cfg.SuspiciousPerMinute && !m.flagged[identifier] {
		m.flagged[identifier] = true
		logger.Warn("suspicious request rate for identifier",
			"identifier", identifier,
			"profile", profile,
			"count_1m", m.hits[identifier])
	}

	if m.cfg.BlockRateThreshold > 0 && m.total >= 20 {
		rate := float64(m.blocked) / float64(m.total)
		if rate > m.cfg.BlockRateThreshold && !m.flagged["__global__"] {
			m.flagged["__global__"] = true
			logger.Warn("global block rate above threshold",
				"block_rate", rate,
				"blocked", m.blocked,
				"total", m.total)
		}
	}
}

// rollLocked resets the per-minute windows on minute boundaries.
func (m *Monitor) rollLocked(now time.Time) {
	minute := now.Unix() / 60
	if minute == m.minute {
		return
	}
	m.minute = minute
	m.hits = make(map[string]int)
	m.blocks = make(map[string]int)
	m.flagged = make(map[string]bool)
	m.total = 0
	m.blocked = 0
}

// TopByRequests returns the current-minute leaderboard by request count.
func (m *Monitor) TopByRequests() []RankedIdentifier {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollLocked(time.Now())
	return topK(m.hits, m.cfg.TopK)
}

// TopByBlocks returns the current-minute leaderboard by denial count.
func (m *Monitor) TopByBlocks() []RankedIdentifier {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollLocked(time.Now())
	return topK(m.blocks, m.cfg.TopK)
}

func topK(counts map[string]int, k int) []RankedIdentifier {
	ranked := make([]RankedIdentifier, 0, len(counts))
	for id, n := range counts {
		ranked = append(ranked, RankedIdentifier{Identifier: id, Count: n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Identifier < ranked[j].Identifier
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}
