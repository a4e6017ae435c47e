package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nimasrn/sponsorship-gateway/pkg/logger"
	"github.com/nimasrn/sponsorship-gateway/pkg/prom"
	"github.com/valyala/fasthttp"
)

var (
	ErrNoAvailableEndpoints = errors.New("no available provider endpoints")
	// ErrRejected is a definitive answer from the provider (4xx), never retried.
	ErrRejected = errors.New("provider rejected the request")
	// ErrUnavailable covers network failures and 5xx answers.
	ErrUnavailable = errors.New("provider unavailable")
)

// ProviderError carries the provider's answer for logs. Its message is
// never shown to donors.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
	kind       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.kind, e.StatusCode, e.Body)
}

func (e *ProviderError) Unwrap() error { return e.kind }

type EndpointConfig struct {
	Name   string
	URL    string
	Weight int // base priority weight (1-100)
}

type PoolConfig struct {
	Provider                string
	Endpoints               []EndpointConfig
	Timeout                 time.Duration
	MaxRetries              int
	RetryDelay              time.Duration
	MaxConns                int
	HealthCheckInterval     time.Duration
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
	// Dial replaces the TCP dialer, tests use an in-memory listener.
	Dial fasthttp.DialFunc
}

func (c *PoolConfig) withDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 200 * time.Millisecond
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 64
	}
	if c.CircuitBreakerThreshold <= 0 {
		c.CircuitBreakerThreshold = 5
	}
	if c.CircuitBreakerTimeout <= 0 {
		c.CircuitBreakerTimeout = 30 * time.Second
	}
}

// Pool spreads requests for one provider across its endpoints, picking the
// best scoring one and opening a circuit on repeated failures.
type Pool struct {
	config    PoolConfig
	endpoints []*Endpoint
	mu        sync.RWMutex
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

type Request struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
	// ContentType defaults to application/json.
	ContentType string
}

type Response struct {
	StatusCode int
	Body       []byte
	Endpoint   string
}

func NewPool(config PoolConfig) (*Pool, error) {
	if config.Provider == "" {
		return nil, errors.New("provider name is required")
	}
	if len(config.Endpoints) == 0 {
		return nil, errors.New("at least one endpoint is required")
	}
	config.withDefaults()

	p := &Pool{
		config:    config,
		endpoints: make([]*Endpoint, 0, len(config.Endpoints)),
		stopCh:    make(chan struct{}),
	}

	for _, ec := range config.Endpoints {
		httpClient := &fasthttp.Client{
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
			Dial:                config.Dial,
		}
		p.endpoints = append(p.endpoints, NewEndpoint(ec.Name, ec.URL, ec.Weight, httpClient))
		logger.Info("provider endpoint initialized", "provider", config.Provider, "name", ec.Name, "url", ec.URL, "weight", ec.Weight)
	}

	if config.HealthCheckInterval > 0 {
		p.wg.Add(1)
		go p.healthChecker()
	}

	return p, nil
}

func (p *Pool) SelectBest() (*Endpoint, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var best *Endpoint
	var bestScore float64
	for _, e := range p.endpoints {
		if !e.IsAvailable() {
			continue
		}
		if score := e.Score(); best == nil || score > bestScore {
			bestScore = score
			best = e
		}
	}
	if best == nil {
		return nil, ErrNoAvailableEndpoints
	}
	return best, nil
}

// Do sends the request to the best endpoint, retrying other attempts only
// when the provider was unavailable. Callers make requests idempotent with
// their own reference headers.
func (p *Pool) Do(ctx context.Context, req Request) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.config.RetryDelay):
			}
		}

		endpoint, err := p.SelectBest()
		if err != nil {
			lastErr = err
			continue
		}

		start := time.Now()
		resp, err := p.doRequest(ctx, endpoint, req)
		elapsed := time.Since(start)
		latency := elapsed.Milliseconds()
		prom.ObserveGatewayLatency(p.config.Provider, elapsed)

		if err != nil {
			if errors.Is(err, ErrRejected) {
				// the endpoint answered, it is healthy
				endpoint.metrics.RecordSuccess(latency)
				prom.IncGatewayRequest(p.config.Provider, "rejected")
				return nil, err
			}
			endpoint.metrics.RecordFailure()
			p.checkCircuitBreaker(endpoint)
			prom.IncGatewayRequest(p.config.Provider, "error")
			logger.Warn("provider request failed", "provider", p.config.Provider, "endpoint", endpoint.name, "path", req.Path, "attempt", attempt+1, "error", err)
			lastErr = err
			continue
		}

		endpoint.metrics.RecordSuccess(latency)
		prom.IncGatewayRequest(p.config.Provider, "ok")
		logger.Debug("provider request done", "provider", p.config.Provider, "endpoint", endpoint.name, "path", req.Path, "status", resp.StatusCode, "latency_ms", latency)
		return resp, nil
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", p.config.MaxRetries+1, lastErr)
}

// DoJSON sends v as JSON and decodes the answer into out when out is non nil.
func (p *Pool) DoJSON(ctx context.Context, method, path string, headers map[string]string, v any, out any) (*Response, error) {
	var body []byte
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = b
	}
	resp, err := p.Do(ctx, Request{Method: method, Path: path, Headers: headers, Body: body})
	if err != nil {
		return nil, err
	}
	if out != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return resp, nil
}

func (p *Pool) doRequest(ctx context.Context, endpoint *Endpoint, r Request) (*Response, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(endpoint.url + r.Path)
	req.Header.SetMethod(r.Method)
	contentType := r.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.SetContentType(contentType)
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	if r.Body != nil {
		req.SetBody(r.Body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(p.config.Timeout)
	}

	if err := endpoint.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, &ProviderError{Provider: p.config.Provider, Body: err.Error(), kind: ErrUnavailable}
	}

	status := resp.StatusCode()
	switch {
	case status >= 200 && status < 300:
	case status >= 400 && status < 500 && status != fasthttp.StatusTooManyRequests && status != fasthttp.StatusRequestTimeout:
		return nil, &ProviderError{Provider: p.config.Provider, StatusCode: status, Body: string(resp.Body()), kind: ErrRejected}
	default:
		return nil, &ProviderError{Provider: p.config.Provider, StatusCode: status, Body: string(resp.Body()), kind: ErrUnavailable}
	}

	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())
	return &Response{StatusCode: status, Body: body, Endpoint: endpoint.name}, nil
}

func (p *Pool) checkCircuitBreaker(endpoint *Endpoint) {
	fails := endpoint.metrics.ConsecutiveFails.Load()
	if fails >= int32(p.config.CircuitBreakerThreshold) {
		endpoint.SetState(StateCircuitOpen)
		endpoint.circuitOpenUntil.Store(time.Now().Add(p.config.CircuitBreakerTimeout).UnixNano())
		logger.Warn("circuit breaker opened", "provider", p.config.Provider, "endpoint", endpoint.name, "consecutive_fails", fails, "timeout", p.config.CircuitBreakerTimeout)
	}
}

func (p *Pool) healthChecker() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.PerformHealthChecks(context.Background())
		case <-p.stopCh:
			return
		}
	}
}

// PerformHealthChecks probes GET /health on every endpoint and updates its
// state.
func (p *Pool) PerformHealthChecks(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	p.mu.RLock()
	endpoints := make([]*Endpoint, len(p.endpoints))
	copy(endpoints, p.endpoints)
	p.mu.RUnlock()

	for _, e := range endpoints {
		healthy := p.checkHealth(ctx, e)
		e.lastHealthCheck.Store(time.Now().Unix())

		oldState := e.GetState()
		newState := oldState
		if healthy {
			if oldState == StateUnhealthy || oldState == StateDegraded {
				newState = StateHealthy
			}
		} else {
			newState = StateUnhealthy
		}

		if newState != oldState {
			e.SetState(newState)
			logger.Info("provider endpoint state changed", "provider", p.config.Provider, "endpoint", e.name, "old_state", oldState.String(), "new_state", newState.String())
		}
	}
}

func (p *Pool) checkHealth(ctx context.Context, e *Endpoint) bool {
	resp, err := p.doRequest(ctx, e, Request{Method: fasthttp.MethodGet, Path: "/health"})
	if err != nil {
		return false
	}
	var health struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(resp.Body, &health); err != nil {
		return false
	}
	return health.Status == "healthy"
}

type EndpointStats struct {
	Provider         string  `json:"provider"`
	Name             string  `json:"name"`
	URL              string  `json:"url"`
	State            string  `json:"state"`
	Score            float64 `json:"score"`
	TotalRequests    int64   `json:"total_requests"`
	FailedReqs       int64   `json:"failed_requests"`
	SuccessRate      float64 `json:"success_rate"`
	AvgLatencyMs     int64   `json:"avg_latency_ms"`
	P95LatencyMs     int64   `json:"p95_latency_ms"`
	ConsecutiveFails int32   `json:"consecutive_fails"`
}

func (p *Pool) Stats() []EndpointStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := make([]EndpointStats, 0, len(p.endpoints))
	for _, e := range p.endpoints {
		stats = append(stats, EndpointStats{
			Provider:         p.config.Provider,
			Name:             e.name,
			URL:              e.url,
			State:            e.GetState().String(),
			Score:            e.Score(),
			TotalRequests:    e.metrics.TotalRequests.Load(),
			FailedReqs:       e.metrics.FailedReqs.Load(),
			SuccessRate:      e.metrics.SuccessRate(),
			AvgLatencyMs:     e.metrics.AvgLatencyMs(),
			P95LatencyMs:     e.metrics.P95LatencyMs(),
			ConsecutiveFails: e.metrics.ConsecutiveFails.Load(),
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Score > stats[j].Score })
	return stats
}

// Healthy reports whether at least one endpoint can take traffic.
func (p *Pool) Healthy() bool {
	_, err := p.SelectBest()
	return err == nil
}

func (p *Pool) Close() error {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	logger.Info("provider pool closed", "provider", p.config.Provider)
	return nil
}
