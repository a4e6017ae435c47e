package processor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nimasrn/sponsorship-gateway/internal/lock"
	"github.com/nimasrn/sponsorship-gateway/internal/model"
	"github.com/nimasrn/sponsorship-gateway/internal/queue"
	"github.com/nimasrn/sponsorship-gateway/internal/settlement"
	"github.com/nimasrn/sponsorship-gateway/pkg/redis"
	"github.com/nimasrn/sponsorship-gateway/test/helpers"
	"github.com/stretchr/testify/require"
)

// instantClock fires every poll timer at once.
type instantClock struct {
	mu  sync.Mutex
	now time.Time
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

// scriptedChecker answers Pending until settleAt calls were made.
type scriptedChecker struct {
	calls    atomic.Int32
	settleAt int32
	final    model.DonationStatus
	gate     chan struct{}
}

func (c *scriptedChecker) check(ctx context.Context, _ string) (model.DonationStatus, error) {
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return model.DonationStatusPending, ctx.Err()
		}
	}
	n := c.calls.Add(1)
	if c.settleAt > 0 && n >= c.settleAt {
		return c.final, nil
	}
	return model.DonationStatusPending, nil
}

type processorEnv struct {
	adapter     redis.RedisAdapter
	locker      *lock.RedisLocker
	idempotency *IdempotencyService
	supervisor  *settlement.Supervisor
}

func newProcessorEnv(t *testing.T, maxAttempts int) *processorEnv {
	_, adapter := helpers.SetupTestRedis(t)
	poller := settlement.NewPoller(10*time.Second, maxAttempts, &instantClock{now: time.Now()})
	return &processorEnv{
		adapter:     adapter,
		locker:      lock.NewRedisLocker(adapter),
		idempotency: NewIdempotencyService(adapter, IdempotencyConfig{MaxRestarts: 2}),
		supervisor:  settlement.NewSupervisor(poller),
	}
}

func (e *processorEnv) processor(checker settlement.Checker) *SettlementProcessor {
	return NewSettlementProcessor(e.supervisor, checker, e.idempotency, e.locker, time.Minute)
}

func settlementMessage(t *testing.T, donationID string) *queue.Message {
	t.Helper()
	data, err := jsonBytes(model.SettlementRequest{DonationID: donationID, TransactionID: "ref-" + donationID})
	require.NoError(t, err)
	return &queue.Message{ID: "1-0", Data: data, PublishedAt: time.Now(), Deliveries: 1}
}
