package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type captureSink struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *captureSink) Record(name string, value float64, tags map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[name]++
}

func TestMonitorLeaderboards(t *testing.T) {
	m := NewMonitor(MonitorConfig{TopK: 2}, nil)

	for i := 0; i < 5; i++ {
		m.Observe("heavy", APIBurst, true, time.Millisecond)
	}
	for i := 0; i < 3; i++ {
		m.Observe("medium", APIBurst, false, time.Millisecond)
	}
	m.Observe("light", APIBurst, true, time.Millisecond)

	top := m.TopByRequests()
	assert.Len(t, top, 2)
	assert.Equal(t, "heavy", top[0].Identifier)
	assert.Equal(t, 5, top[0].Count)
	assert.Equal(t, "medium", top[1].Identifier)

	blocks := m.TopByBlocks()
	assert.Equal(t, "medium", blocks[0].Identifier)
	assert.Equal(t, 3, blocks[0].Count)
}

func TestMonitorFeedsMetrics(t *testing.T) {
	sink := &captureSink{}
	m := NewMonitor(MonitorConfig{}, sink)

	m.Observe("u1", APIBurst, true, time.Millisecond)
	m.Observe("u1", APIBurst, false, time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, 2, sink.counts["ratelimit.hits"])
	assert.Equal(t, 1, sink.counts["ratelimit.blocked"])
}

func TestMonitorConcurrentObserve(t *testing.T) {
	m := NewMonitor(MonitorConfig{SuspiciousPerMinute: 10}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Observe("busy", WebhookProcessing, true, 0)
		}()
	}
	wg.Wait()

	top := m.TopByRequests()
	assert.Equal(t, 100, top[0].Count)
}
