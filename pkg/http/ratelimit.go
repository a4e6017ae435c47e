package xhttp

import (
	"sync"
	"time"

	"github.com/nimasrn/sponsorship-gateway/pkg/logger"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
}

func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		idle:     10 * time.Minute,
		now:      time.Now,
	}
}

func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	e, ok := rl.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = e
	}
	e.lastSeen = rl.now()
	rl.mu.Unlock()
	return e.limiter.Allow()
}

// Cleanup drops buckets not used for the idle period.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-rl.idle)
	removed := 0
	for k, e := range rl.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(rl.limiters, k)
			removed++
		}
	}
	return removed
}

// Wrap limits a single handler, keyed by remote IP.
func (rl *RateLimiter) Wrap(next RequestHandler) RequestHandler {
	return func(ctx *RequestCtx) {
		ip := ctx.RemoteIP().String()
		if !rl.Allow(ip) {
			logger.Warn("[xhttp] rate limit exceeded", "ip", ip, "path", string(ctx.Path()))
			writeStatusJSON(ctx, StatusTooManyRequests)
			return
		}
		next(ctx)
	}
}
