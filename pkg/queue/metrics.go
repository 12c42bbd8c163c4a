package queue

import (
	"sync"
	"time"
)

// Counter names reported through the Metrics sink.
const (
	MetricEnqueued      = "enqueued"
	MetricProcessed     = "processed"
	MetricFailed        = "failed"
	MetricRetried       = "retried"
	MetricTimeouts      = "timeouts"
	MetricPoolExhausted = "pool_exhausted"
)

// Metrics is the injected sink for the queue's aggregate counters. The
// manager and worker own no counters themselves, so tests and embedding
// applications can substitute their own sink.
type Metrics interface {
	// Inc adds delta to the named counter.
	Inc(name string, delta int64)

	// ObserveProcessTime records one successful handler execution's duration.
	ObserveProcessTime(d time.Duration)

	// SetPoolUtilization records the blocking pool's active/capacity ratio.
	SetPoolUtilization(active, capacity int64)

	// Snapshot returns the counters plus avg_process_time (seconds) and
	// pool_utilization (0..1).
	Snapshot() map[string]any
}

// Counters is the default in-memory Metrics implementation.
type Counters struct {
	mu sync.Mutex

	counts           map[string]int64
	totalProcessTime time.Duration
	observations     int64
	poolActive       int64
	poolCapacity     int64
}

// NewCounters creates an empty metrics sink.
func NewCounters() *Counters {
	return &Counters{counts: make(map[string]int64)}
}

func (c *Counters) Inc(name string, delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[name] += delta
}

func (c *Counters) ObserveProcessTime(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalProcessTime += d
	c.observations++
}

func (c *Counters) SetPoolUtilization(active, capacity int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.poolActive = active
	c.poolCapacity = capacity
}

// Get returns the current value of a single counter.
func (c *Counters) Get(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[name]
}

func (c *Counters) Snapshot() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := make(map[string]any, len(c.counts)+8)
	for name, value := range c.counts {
		snap[name] = value
	}
	// Standard counters report zero even before their first increment.
	for _, name := range []string{
		MetricEnqueued, MetricProcessed, MetricFailed,
		MetricRetried, MetricTimeouts, MetricPoolExhausted,
	} {
		if _, ok := snap[name]; !ok {
			snap[name] = int64(0)
		}
	}

	var avg float64
	if c.observations > 0 {
		avg = (c.totalProcessTime / time.Duration(c.observations)).Seconds()
	}
	snap["avg_process_time"] = avg

	var utilization float64
	if c.poolCapacity > 0 {
		utilization = float64(c.poolActive) / float64(c.poolCapacity)
	}
	snap["pool_utilization"] = utilization

	return snap
}
