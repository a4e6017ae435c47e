package processor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimasrn/sponsorship-gateway/internal/settlement"
)

// ServiceMetrics tracks message handling in the processor process.
type ServiceMetrics struct {
	processed  atomic.Int64
	failed     atomic.Int64
	durationNs atomic.Int64
	startedAt  time.Time
}

func NewServiceMetrics() *ServiceMetrics {
	return &ServiceMetrics{startedAt: time.Now()}
}

func (m *ServiceMetrics) RecordSuccess(duration time.Duration) {
	m.processed.Add(1)
	m.durationNs.Add(int64(duration))
}

func (m *ServiceMetrics) RecordFailure() {
	m.failed.Add(1)
}

func (m *ServiceMetrics) GetStats() map[string]interface{} {
	processed := m.processed.Load()
	elapsed := time.Since(m.startedAt).Seconds()

	rate := 0.0
	if elapsed > 0 {
		rate = float64(processed) / elapsed
	}
	avg := time.Duration(0)
	if processed > 0 {
		avg = time.Duration(m.durationNs.Load() / processed)
	}

	return map[string]interface{}{
		"total_processed": processed,
		"total_failed":    m.failed.Load(),
		"rate_per_second": rate,
		"avg_duration_ms": avg.Milliseconds(),
		"uptime_seconds":  elapsed,
	}
}

// OutcomeCounter counts finished polling runs by outcome.
type OutcomeCounter struct {
	mu     sync.Mutex
	counts map[settlement.Outcome]int64
}

func (c *OutcomeCounter) Record(o settlement.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[settlement.Outcome]int64)
	}
	c.counts[o]++
}

func (c *OutcomeCounter) Count(o settlement.Outcome) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[o]
}
