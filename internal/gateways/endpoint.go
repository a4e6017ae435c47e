package gateway

import (
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
)

type EndpointState int

// slowLatencyMs scores zero for latency.
const slowLatencyMs = 5000.0

const (
	StateHealthy EndpointState = iota
	StateDegraded
	StateUnhealthy
	StateCircuitOpen
)

func (s EndpointState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateUnhealthy:
		return "unhealthy"
	case StateCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Endpoint is one base URL of a payment provider.
type Endpoint struct {
	name             string
	url              string
	client           *fasthttp.Client
	metrics          *EndpointMetrics
	state            atomic.Int32
	weight           atomic.Int32
	lastHealthCheck  atomic.Int64
	circuitOpenUntil atomic.Int64
}

func NewEndpoint(name, url string, weight int, client *fasthttp.Client) *Endpoint {
	e := &Endpoint{
		name:    name,
		url:     url,
		client:  client,
		metrics: NewEndpointMetrics(),
	}
	e.state.Store(int32(StateHealthy))
	e.weight.Store(int32(weight))
	return e
}

func (e *Endpoint) Name() string { return e.name }

func (e *Endpoint) GetState() EndpointState {
	return EndpointState(e.state.Load())
}

func (e *Endpoint) SetState(state EndpointState) {
	e.state.Store(int32(state))
}

func (e *Endpoint) IsAvailable() bool {
	state := e.GetState()
	if state == StateCircuitOpen {
		if time.Now().UnixNano() > e.circuitOpenUntil.Load() {
			e.SetState(StateDegraded)
			return true
		}
		return false
	}
	return state != StateUnhealthy
}

// Score ranks endpoints, higher is better. Recent latency counts, so the
// p95 of the window is used rather than the lifetime average.
func (e *Endpoint) Score() float64 {
	if !e.IsAvailable() {
		return 0
	}
	m := e.metrics

	latencyScore := 100.0
	if p95 := m.P95LatencyMs(); p95 > 0 {
		latencyScore = max(0, 100*(1-float64(p95)/slowLatencyMs))
	}
	failPenalty := max(0.1, 1-float64(m.ConsecutiveFails.Load())*0.1)

	statePenalty := 1.0
	switch e.GetState() {
	case StateDegraded:
		statePenalty = 0.5
	case StateUnhealthy, StateCircuitOpen:
		statePenalty = 0
	}

	return (m.SuccessRate()*100*0.4 + latencyScore*0.4 + float64(e.weight.Load())*0.2) * failPenalty * statePenalty
}
