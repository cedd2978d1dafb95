package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/nftecnologia/mailgenius/internal/pkg/logger"
)

// Sampler records process memory and uptime metrics on a fixed interval.
type Sampler struct {
	collector *Collector
	interval  time.Duration
	started   time.Time
}

// NewSampler creates a system sampler. interval <= 0 defaults to 60s.
func NewSampler(c *Collector, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Sampler{collector: c, interval: interval, started: time.Now()}
}

// Run samples until ctx is cancelled. It blocks; run it in a goroutine.
func (s *Sampler) Run(ctx context.Context) {
	logger.Info("system metric sampler started", "interval", s.interval.String())

	s.sample()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Sampler) sample() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	s.collector.Record(SystemHeapUsed, float64(ms.HeapAlloc), nil)
	s.collector.Record(SystemHeapTotal, float64(ms.HeapSys), nil)
	s.collector.Record(SystemRSS, float64(ms.Sys), nil)
	if ms.HeapSys > 0 {
		s.collector.Record(SystemUsagePercent, float64(ms.HeapAlloc)/float64(ms.HeapSys)*100, nil)
	}
	s.collector.Record(SystemUptime, time.Since(s.started).Seconds(), nil)
}
