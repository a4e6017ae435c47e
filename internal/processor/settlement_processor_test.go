package processor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nimasrn/sponsorship-gateway/internal/model"
	"github.com/nimasrn/sponsorship-gateway/internal/queue"
	"github.com/nimasrn/sponsorship-gateway/internal/settlement"
	"github.com/nimasrn/sponsorship-gateway/test/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonBytes(v any) ([]byte, error) { return json.Marshal(v) }

func TestSettlementProcessor_SettlesAndMarks(t *testing.T) {
	env := newProcessorEnv(t, 30)
	checker := &scriptedChecker{settleAt: 3, final: model.DonationStatusCompleted}
	p := env.processor(checker.check)
	defer p.Stop()
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, settlementMessage(t, "don-1")))

	helpers.AssertEventually(t, 2*time.Second, func() bool {
		return p.Outcomes().Count(settlement.OutcomeCompleted) == 1
	}, "polling did not complete")
	assert.Equal(t, int32(3), checker.calls.Load())

	helpers.AssertEventually(t, time.Second, func() bool {
		held, err := env.locker.Held(ctx, "settle:don-1")
		return err == nil && !held
	}, "settle lock not released")

	outcome, err := env.idempotency.Outcome(ctx, "don-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", outcome)

	// a redelivered request is acknowledged without polling
	require.NoError(t, p.Process(ctx, settlementMessage(t, "don-1")))
	assert.Zero(t, env.supervisor.Active())
	assert.Equal(t, int32(3), checker.calls.Load())
}

func TestSettlementProcessor_LockHeldElsewhere(t *testing.T) {
	env := newProcessorEnv(t, 30)
	checker := &scriptedChecker{settleAt: 1, final: model.DonationStatusCompleted}
	p := env.processor(checker.check)
	defer p.Stop()
	ctx := context.Background()

	lease, err := env.locker.Acquire(ctx, "settle:don-2", time.Minute)
	require.NoError(t, err)
	defer lease.Release(ctx)

	require.NoError(t, p.Process(ctx, settlementMessage(t, "don-2")))
	assert.Zero(t, env.supervisor.Active())
	assert.Zero(t, checker.calls.Load())
}

func TestSettlementProcessor_DuplicateOnSameInstance(t *testing.T) {
	env := newProcessorEnv(t, 30)
	checker := &scriptedChecker{settleAt: 1, final: model.DonationStatusFailed, gate: make(chan struct{})}
	p := env.processor(checker.check)
	defer p.Stop()
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, settlementMessage(t, "don-3")))
	require.NoError(t, p.Process(ctx, settlementMessage(t, "don-3")))
	assert.Equal(t, 1, env.supervisor.Active())

	close(checker.gate)
	helpers.AssertEventually(t, 2*time.Second, func() bool {
		return p.Outcomes().Count(settlement.OutcomeFailed) == 1
	}, "polling did not fail")
	assert.Equal(t, int32(1), checker.calls.Load())
}

func TestSettlementProcessor_TimeoutKeepsDonationOpen(t *testing.T) {
	env := newProcessorEnv(t, 4)
	checker := &scriptedChecker{}
	p := env.processor(checker.check)
	defer p.Stop()
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, settlementMessage(t, "don-4")))
	helpers.AssertEventually(t, 2*time.Second, func() bool {
		return p.Outcomes().Count(settlement.OutcomeTimeout) == 1
	}, "polling did not time out")
	assert.Equal(t, int32(4), checker.calls.Load())

	helpers.AssertEventually(t, time.Second, func() bool {
		n, err := env.idempotency.Restarts(ctx, "don-4")
		return err == nil && n == 1
	}, "timeout not recorded")

	done, err := env.idempotency.IsProcessed(ctx, "don-4")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestSettlementProcessor_MalformedMessage(t *testing.T) {
	env := newProcessorEnv(t, 30)
	p := env.processor((&scriptedChecker{}).check)
	defer p.Stop()

	err := p.Process(context.Background(), &queue.Message{ID: "1-0", Data: []byte("{not json")})
	assert.NoError(t, err)
	err = p.Process(context.Background(), &queue.Message{ID: "2-0", Data: []byte(`{"donation_id":""}`)})
	assert.NoError(t, err)
	assert.Zero(t, env.supervisor.Active())
	assert.Equal(t, "settlement", p.GetType())
}

func TestSettlementProcessor_StopCancelsPolling(t *testing.T) {
	env := newProcessorEnv(t, 30)
	checker := &scriptedChecker{gate: make(chan struct{})}
	p := env.processor(checker.check)

	require.NoError(t, p.Process(context.Background(), settlementMessage(t, "don-5")))
	p.Stop()

	assert.Equal(t, int64(1), p.Outcomes().Count(settlement.OutcomeCancelled))
	assert.Zero(t, env.supervisor.Active())
}
