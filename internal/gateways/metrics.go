package gateway

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

const latencyWindow = 128

// EndpointMetrics tracks one endpoint's outcomes. Counters are lock free;
// the latency window behind P95LatencyMs is a fixed ring.
type EndpointMetrics struct {
	TotalRequests    atomic.Int64
	SuccessfulReqs   atomic.Int64
	FailedReqs       atomic.Int64
	TotalLatencyMs   atomic.Int64
	LastLatencyMs    atomic.Int64
	ConsecutiveFails atomic.Int32
	LastErrorTime    atomic.Int64
	LastSuccessTime  atomic.Int64

	mu      sync.Mutex
	window  [latencyWindow]int64
	next    int
	samples int
}

func NewEndpointMetrics() *EndpointMetrics {
	return &EndpointMetrics{}
}

func (m *EndpointMetrics) RecordSuccess(latencyMs int64) {
	m.TotalRequests.Add(1)
	m.SuccessfulReqs.Add(1)
	m.TotalLatencyMs.Add(latencyMs)
	m.LastLatencyMs.Store(latencyMs)
	m.ConsecutiveFails.Store(0)
	m.LastSuccessTime.Store(time.Now().Unix())

	m.mu.Lock()
	m.window[m.next] = latencyMs
	m.next = (m.next + 1) % latencyWindow
	if m.samples < latencyWindow {
		m.samples++
	}
	m.mu.Unlock()
}

// RecordFailure counts a transport failure or a 5xx. Provider rejections
// are answers and go through RecordSuccess.
func (m *EndpointMetrics) RecordFailure() {
	m.TotalRequests.Add(1)
	m.FailedReqs.Add(1)
	m.ConsecutiveFails.Add(1)
	m.LastErrorTime.Store(time.Now().Unix())
}

func (m *EndpointMetrics) AvgLatencyMs() int64 {
	ok := m.SuccessfulReqs.Load()
	if ok == 0 {
		return 0
	}
	return m.TotalLatencyMs.Load() / ok
}

func (m *EndpointMetrics) SuccessRate() float64 {
	total := m.TotalRequests.Load()
	if total == 0 {
		return 1.0
	}
	return float64(m.SuccessfulReqs.Load()) / float64(total)
}

func (m *EndpointMetrics) P95LatencyMs() int64 {
	m.mu.Lock()
	sorted := slices.Clone(m.window[:m.samples])
	m.mu.Unlock()

	if len(sorted) == 0 {
		return 0
	}
	slices.Sort(sorted)
	idx := len(sorted) * 95 / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
