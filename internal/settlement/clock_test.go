package settlement

import (
	"sync"
	"time"
)

// instantClock fires every timer immediately and advances virtual time.
type instantClock struct {
	mu  sync.Mutex
	now time.Time
}

func newInstantClock() *instantClock {
	return &instantClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *instantClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *instantClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

type manualWaiter struct {
	at time.Time
	ch chan time.Time
}

// manualClock only fires timers when Advance moves past them.
type manualClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []manualWaiter
	added   chan struct{}
}

func newManualClock() *manualClock {
	return &manualClock{
		now:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		added: make(chan struct{}, 1024),
	}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	c.waiters = append(c.waiters, manualWaiter{at: c.now.Add(d), ch: ch})
	c.added <- struct{}{}
	return ch
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.at.After(c.now) {
			w.ch <- c.now
			continue
		}
		kept = append(kept, w)
	}
	c.waiters = kept
}

// WaitForTimer blocks until some goroutine registered a timer.
func (c *manualClock) WaitForTimer(timeout time.Duration) bool {
	select {
	case <-c.added:
		return true
	case <-time.After(timeout):
		return false
	}
}
