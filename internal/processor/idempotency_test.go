package processor

import (
	"context"
	"testing"
	"time"

	"github.com/nimasrn/sponsorship-gateway/test/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotency_ProcessedMarker(t *testing.T) {
	mr, adapter := helpers.SetupTestRedis(t)
	svc := NewIdempotencyService(adapter, IdempotencyConfig{ProcessedTTL: time.Hour})
	ctx := context.Background()

	done, err := svc.IsProcessed(ctx, "don-1")
	require.NoError(t, err)
	assert.False(t, done)

	outcome, err := svc.Outcome(ctx, "don-1")
	require.NoError(t, err)
	assert.Empty(t, outcome)

	require.NoError(t, svc.MarkProcessed(ctx, "don-1", "completed"))

	done, err = svc.IsProcessed(ctx, "don-1")
	require.NoError(t, err)
	assert.True(t, done)

	outcome, err = svc.Outcome(ctx, "don-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", outcome)

	mr.FastForward(2 * time.Hour)
	done, err = svc.IsProcessed(ctx, "don-1")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestIdempotency_Restarts(t *testing.T) {
	_, adapter := helpers.SetupTestRedis(t)
	svc := NewIdempotencyService(adapter, IdempotencyConfig{MaxRestarts: 2})
	ctx := context.Background()

	n, err := svc.Restarts(ctx, "don-2")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = svc.RecordTimeout(ctx, "don-2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	exhausted, err := svc.Exhausted(ctx, "don-2")
	require.NoError(t, err)
	assert.False(t, exhausted)

	n, err = svc.RecordTimeout(ctx, "don-2")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	exhausted, err = svc.Exhausted(ctx, "don-2")
	require.NoError(t, err)
	assert.True(t, exhausted)

	// a terminal outcome clears the counter
	require.NoError(t, svc.MarkProcessed(ctx, "don-2", "failed"))
	n, err = svc.Restarts(ctx, "don-2")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIdempotency_Defaults(t *testing.T) {
	_, adapter := helpers.SetupTestRedis(t)
	svc := NewIdempotencyService(adapter, IdempotencyConfig{})

	def := DefaultIdempotencyConfig()
	assert.Equal(t, def, svc.config)
}
