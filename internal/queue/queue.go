package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nimasrn/sponsorship-gateway/pkg/logger"
	"github.com/nimasrn/sponsorship-gateway/pkg/redis"
)

const metaPrefix = "meta_"

// Message is one stream entry handed to a handler.
type Message struct {
	ID       string
	Data     []byte
	Metadata map[string]string
	// PublishedAt is when the producer added the entry.
	PublishedAt time.Time
	// Deliveries counts how often the entry was handed out, this one included.
	Deliveries int64
}

// Decode unmarshals the JSON payload into v.
func (m *Message) Decode(v any) error {
	return json.Unmarshal(m.Data, v)
}

// MessageHandler returns nil to acknowledge the message. Any error leaves
// it pending, it is claimed again once the visibility timeout passed.
type MessageHandler func(ctx context.Context, msg *Message) error

type QueueConfig struct {
	Name              string
	ConsumerGroup     string
	ConsumerName      string
	MaxRetries        int
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	BatchSize         int64
	MaxLen            int64
	EnableDLQ         bool
}

// Queue is a redis stream consumed through a consumer group.
type Queue struct {
	adapter redis.RedisAdapter
	config  QueueConfig
	handler MessageHandler
	log     *logger.ZapLogger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

type QueueStats struct {
	TotalMessages   int64
	PendingMessages int64
	ConsumerCount   int64
	DeadLetters     int64
}

func NewQueue(adapter redis.RedisAdapter, config QueueConfig) (*Queue, error) {
	if adapter == nil {
		return nil, errors.New("redis adapter is required")
	}
	if config.Name == "" {
		return nil, errors.New("queue name is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "default-group"
	}
	if config.ConsumerName == "" {
		config.ConsumerName = fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = 30 * time.Second
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		adapter: adapter,
		config:  config,
		log:     logger.Named("queue").With("queue", config.Name),
		ctx:     ctx,
		cancel:  cancel,
	}

	if err := adapter.XGroupCreateMkStream(ctx, config.Name, config.ConsumerGroup, "0"); err != nil {
		cancel()
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return q, nil
}

func (q *Queue) Name() string { return q.config.Name }

func (q *Queue) Publish(ctx context.Context, data []byte, metadata map[string]string) (string, error) {
	values := map[string]interface{}{
		"data":      string(data),
		"timestamp": time.Now().UnixMilli(),
	}
	for k, v := range metadata {
		values[metaPrefix+k] = v
	}

	id, err := q.adapter.XAdd(ctx, q.config.Name, values)
	if err != nil {
		return "", fmt.Errorf("failed to publish message: %w", err)
	}
	if q.config.MaxLen > 0 {
		if err := q.adapter.XTrimApprox(ctx, q.config.Name, q.config.MaxLen); err != nil {
			q.log.Warn("stream trim failed", "error", err)
		}
	}
	return id, nil
}

func (q *Queue) PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return q.Publish(ctx, b, metadata)
}

// Consume starts the poll loop. It can only be called once.
func (q *Queue) Consume(handler MessageHandler) error {
	if handler == nil {
		return errors.New("message handler is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return errors.New("queue is already consuming")
	}
	q.started = true
	q.handler = handler

	q.wg.Add(1)
	go q.consumeLoop()
	q.log.Info("queue consuming", "group", q.config.ConsumerGroup, "consumer", q.config.ConsumerName)
	return nil
}

func (q *Queue) consumeLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.readNew()
			q.claimStuck()
		}
	}
}

func (q *Queue) readNew() {
	messages, err := q.adapter.XReadGroup(q.ctx, q.config.ConsumerGroup, q.config.ConsumerName, q.config.Name, ">", q.config.BatchSize)
	if err != nil {
		if !errors.Is(err, redis.NilError) && q.ctx.Err() == nil {
			q.log.Warn("stream read failed", "error", err)
		}
		return
	}
	for _, sm := range messages {
		msg := toMessage(sm)
		msg.Deliveries = 1
		q.handle(msg)
	}
}

// claimStuck takes over entries another consumer (or this one) read but
// never acknowledged within the visibility timeout.
func (q *Queue) claimStuck() {
	pending, err := q.adapter.XPendingExt(q.ctx, q.config.Name, q.config.ConsumerGroup, "-", "+", 100)
	if err != nil || len(pending) == 0 {
		return
	}

	deliveries := make(map[string]int64, len(pending))
	var ids []string
	for _, p := range pending {
		if p.Idle >= q.config.VisibilityTimeout {
			ids = append(ids, p.ID)
			deliveries[p.ID] = p.RetryCount
		}
	}
	if len(ids) == 0 {
		return
	}

	messages, err := q.adapter.XClaim(q.ctx, q.config.Name, q.config.ConsumerGroup, q.config.ConsumerName, q.config.VisibilityTimeout, ids...)
	if err != nil {
		q.log.Warn("stream claim failed", "error", err, "count", len(ids))
		return
	}
	for _, sm := range messages {
		msg := toMessage(sm)
		// XCLAIM counts as one more delivery
		msg.Deliveries = deliveries[sm.ID] + 1
		q.handle(msg)
	}
}

func (q *Queue) handle(msg *Message) {
	if msg.Deliveries > int64(q.config.MaxRetries) {
		q.deadLetter(msg)
		q.ack(msg.ID)
		return
	}

	ctx, cancel := context.WithTimeout(q.ctx, q.config.VisibilityTimeout)
	defer cancel()

	if err := q.handler(ctx, msg); err != nil {
		q.log.Warn("message handler failed", "message_id", msg.ID, "deliveries", msg.Deliveries, "error", err)
		return
	}
	q.ack(msg.ID)
}

func (q *Queue) ack(id string) {
	if err := q.adapter.XAck(q.ctx, q.config.Name, q.config.ConsumerGroup, id); err != nil {
		q.log.Warn("message ack failed", "message_id", id, "error", err)
	}
}

func (q *Queue) deadLetterName() string { return q.config.Name + ":dlq" }

func (q *Queue) deadLetter(msg *Message) {
	if !q.config.EnableDLQ {
		q.log.Warn("dropping message after max retries", "message_id", msg.ID, "deliveries", msg.Deliveries)
		return
	}
	values := map[string]interface{}{
		"data":           string(msg.Data),
		"original_id":    msg.ID,
		"deliveries":     msg.Deliveries,
		"failed_at":      time.Now().UnixMilli(),
		"original_queue": q.config.Name,
	}
	for k, v := range msg.Metadata {
		values[metaPrefix+k] = v
	}
	if _, err := q.adapter.XAdd(q.ctx, q.deadLetterName(), values); err != nil {
		q.log.Error("dead letter publish failed", "message_id", msg.ID, "error", err)
		return
	}
	q.log.Warn("message moved to dead letter queue", "message_id", msg.ID, "deliveries", msg.Deliveries)
}

func toMessage(sm redis.StreamMessage) *Message {
	msg := &Message{ID: sm.ID, Metadata: make(map[string]string)}
	for k, v := range sm.Values {
		s, _ := v.(string)
		switch {
		case k == "data":
			msg.Data = []byte(s)
		case k == "timestamp":
			if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
				msg.PublishedAt = time.UnixMilli(ms)
			}
		case strings.HasPrefix(k, metaPrefix):
			msg.Metadata[strings.TrimPrefix(k, metaPrefix)] = s
		}
	}
	if msg.PublishedAt.IsZero() {
		msg.PublishedAt = time.Now()
	}
	return msg
}

// Stop ends consumption and waits for the message in flight.
func (q *Queue) Stop(timeout time.Duration) error {
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("timeout waiting for queue to stop")
	}
}

func (q *Queue) GetStats(ctx context.Context) (*QueueStats, error) {
	total, err := q.adapter.XLen(ctx, q.config.Name)
	if err != nil {
		return nil, err
	}
	stats := &QueueStats{TotalMessages: total}

	if pending, err := q.adapter.XPending(ctx, q.config.Name, q.config.ConsumerGroup); err == nil && pending != nil {
		stats.PendingMessages = pending.Count
		stats.ConsumerCount = int64(len(pending.Consumers))
	}
	if dlq, err := q.adapter.XLen(ctx, q.deadLetterName()); err == nil {
		stats.DeadLetters = dlq
	}
	return stats, nil
}
