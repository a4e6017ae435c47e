package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nimasrn/sponsorship-gateway/internal/model"
	"github.com/nimasrn/sponsorship-gateway/internal/queue"
	"github.com/nimasrn/sponsorship-gateway/test/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProcessor struct {
	mu       sync.Mutex
	seen     []string
	failOnce map[string]bool
}

func (p *recordingProcessor) GetType() string { return "recording" }

func (p *recordingProcessor) Process(_ context.Context, msg *queue.Message) error {
	var req model.SettlementRequest
	if err := msg.Decode(&req); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOnce[req.DonationID] {
		delete(p.failOnce, req.DonationID)
		return errors.New("transient")
	}
	p.seen = append(p.seen, req.DonationID)
	return nil
}

func (p *recordingProcessor) donations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}

func testServiceConfig(name string) ServiceConfig {
	return ServiceConfig{
		Queue: queue.QueueConfig{
			Name:              name,
			ConsumerGroup:     "settlement-processors",
			ConsumerName:      "test",
			MaxRetries:        3,
			VisibilityTimeout: 200 * time.Millisecond,
			PollInterval:      20 * time.Millisecond,
			BatchSize:         10,
			EnableDLQ:         true,
		},
		Consumers:       2,
		Workers:         4,
		WorkerQueueSize: 16,
	}
}

func TestProcessorService_DeliversQueuedRequests(t *testing.T) {
	_, adapter := helpers.SetupTestRedis(t)
	rec := &recordingProcessor{failOnce: map[string]bool{"don-b": true}}

	svc, err := NewProcessorService(adapter, rec, testServiceConfig("settlement"))
	require.NoError(t, err)
	require.NoError(t, svc.Start())

	producer, err := queue.NewQueue(adapter, queue.QueueConfig{Name: "settlement", ConsumerGroup: "settlement-processors"})
	require.NoError(t, err)

	ctx := context.Background()
	for _, id := range []string{"don-a", "don-b", "don-c"} {
		_, err := producer.PublishJSON(ctx, model.SettlementRequest{DonationID: id}, nil)
		require.NoError(t, err)
	}

	helpers.AssertEventually(t, 3*time.Second, func() bool {
		return len(rec.donations()) == 3
	}, "requests not processed")
	assert.ElementsMatch(t, []string{"don-a", "don-b", "don-c"}, rec.donations())

	svc.Stop()

	stats := svc.Metrics().GetStats()
	assert.Equal(t, int64(3), stats["total_processed"])
	assert.Equal(t, int64(1), stats["total_failed"])
}

func TestNewProcessorService_Validation(t *testing.T) {
	_, adapter := helpers.SetupTestRedis(t)

	_, err := NewProcessorService(nil, &recordingProcessor{}, ServiceConfig{})
	assert.Error(t, err)

	_, err = NewProcessorService(adapter, nil, ServiceConfig{})
	assert.Error(t, err)

	svc, err := NewProcessorService(adapter, &recordingProcessor{}, ServiceConfig{})
	require.NoError(t, err)
	assert.Equal(t, 1, svc.config.Consumers)
	assert.Equal(t, 16, svc.config.Workers)
}
