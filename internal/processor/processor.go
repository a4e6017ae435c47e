package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nimasrn/sponsorship-gateway/internal/queue"
	"github.com/nimasrn/sponsorship-gateway/pkg/logger"
	"github.com/nimasrn/sponsorship-gateway/pkg/prom"
	"github.com/nimasrn/sponsorship-gateway/pkg/redis"
	"github.com/nimasrn/sponsorship-gateway/pkg/worker"
)

const ProcessingTimeout = time.Second * 5
const HealthInterval = time.Second * 30
const ShutdownTimeout = time.Minute

// Processor handles one kind of queued message.
type Processor interface {
	Process(ctx context.Context, message *queue.Message) error
	GetType() string
}

type ServiceConfig struct {
	Queue           queue.QueueConfig
	Consumers       int
	Workers         int
	WorkerQueueSize int
	MetricsInterval time.Duration
}

// ProcessorService consumes the settlement stream and fans messages out to
// a worker pool.
type ProcessorService struct {
	adapter   redis.RedisAdapter
	config    ServiceConfig
	queues    []*queue.Queue
	processor Processor
	metrics   *ServiceMetrics
	worker    *worker.WorkerManager
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewProcessorService(adapter redis.RedisAdapter, processor Processor, config ServiceConfig) (*ProcessorService, error) {
	if adapter == nil {
		return nil, errors.New("redis adapter is required")
	}
	if processor == nil {
		return nil, errors.New("processor is required")
	}
	if config.Consumers <= 0 {
		config.Consumers = 1
	}
	if config.Workers <= 0 {
		config.Workers = 16
	}
	if config.WorkerQueueSize <= 0 {
		config.WorkerQueueSize = 256
	}
	if config.MetricsInterval <= 0 {
		config.MetricsInterval = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessorService{
		adapter:   adapter,
		config:    config,
		processor: processor,
		metrics:   NewServiceMetrics(),
		ctx:       ctx,
		cancel:    cancel,
		worker:    worker.NewWorkerManager(config.WorkerQueueSize, config.Workers, nil),
	}, nil
}

func (s *ProcessorService) Start() error {
	logger.Info("starting processor service", "type", s.processor.GetType())

	s.worker.SetWorker(s.workerHandler)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.worker.Start(); err != nil && !errors.Is(err, worker.ErrStopped) {
			logger.Error("worker manager stopped", "error", err)
		}
	}()

	for i := 0; i < s.config.Consumers; i++ {
		queueConfig := s.config.Queue
		if queueConfig.ConsumerName == "" {
			queueConfig.ConsumerName = "settlement"
		}
		queueConfig.ConsumerName = fmt.Sprintf("%s-instance-%d", queueConfig.ConsumerName, i)

		q, err := queue.NewQueue(s.adapter, queueConfig)
		if err != nil {
			return fmt.Errorf("failed to create queue %d: %w", i, err)
		}
		if err := q.Consume(s.messageHandler); err != nil {
			return fmt.Errorf("failed to start consumer %d: %w", i, err)
		}
		s.queues = append(s.queues, q)
	}

	s.wg.Add(2)
	go s.metricsReporter()
	go s.healthChecker()

	logger.Info("processor service started", "consumers", len(s.queues), "workers", s.config.Workers)
	return nil
}

func (s *ProcessorService) metricsReporter() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reportMetrics()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ProcessorService) reportMetrics() {
	stats := s.metrics.GetStats()
	logger.Info("processor metrics",
		"total_processed", stats["total_processed"],
		"total_failed", stats["total_failed"],
		"rate_per_second", stats["rate_per_second"],
		"avg_duration_ms", stats["avg_duration_ms"],
		"worker_backlog", s.worker.GetUnreadCount())

	if len(s.queues) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if qStats, err := s.queues[0].GetStats(ctx); err == nil {
		prom.SetSettlementQueue("total", qStats.TotalMessages)
		prom.SetSettlementQueue("pending", qStats.PendingMessages)
		prom.SetSettlementQueue("dead", qStats.DeadLetters)
		logger.Info("queue stats", "queue", s.queues[0].Name(), "total", qStats.TotalMessages, "pending", qStats.PendingMessages, "dead_letters", qStats.DeadLetters)
	}
}

func (s *ProcessorService) healthChecker() {
	defer s.wg.Done()

	ticker := time.NewTicker(HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.performHealthCheck()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ProcessorService) performHealthCheck() {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	if err := s.adapter.Ping(ctx); err != nil {
		logger.Error("health check failed: redis unreachable", "error", err)
		return
	}
	if len(s.queues) > 0 {
		stats, err := s.queues[0].GetStats(ctx)
		if err != nil {
			logger.Warn("health check: queue stats unavailable", "error", err)
			return
		}
		if stats.PendingMessages > 10000 {
			logger.Warn("health check: settlement queue lagging", "pending_messages", stats.PendingMessages)
		}
	}
	logger.Debug("health check ok")
}

// Stop drains consumers first so no new work reaches the pool.
func (s *ProcessorService) Stop() {
	logger.Info("shutting down processor service")
	s.cancel()

	var wg sync.WaitGroup
	for _, q := range s.queues {
		wg.Add(1)
		go func(q *queue.Queue) {
			defer wg.Done()
			if err := q.Stop(ShutdownTimeout); err != nil {
				logger.Error("error stopping queue", "consumer", q.Name(), "error", err)
			}
		}(q)
	}
	wg.Wait()

	s.worker.Exit()
	s.wg.Wait()

	if st, ok := s.processor.(interface{ Stop() }); ok {
		st.Stop()
	}

	s.reportMetrics()
	logger.Info("processor service stopped")
}

func (s *ProcessorService) Metrics() *ServiceMetrics { return s.metrics }

type jobResult struct {
	msg        *queue.Message
	resultChan chan error
	ctx        context.Context
}

// messageHandler hands the message to the pool and waits for the verdict,
// which decides between ack and redelivery.
func (s *ProcessorService) messageHandler(ctx context.Context, msg *queue.Message) error {
	resultChan := make(chan error, 1)

	msgCtx, cancel := context.WithTimeout(ctx, ProcessingTimeout+time.Second)
	defer cancel()

	job := &jobResult{
		msg:        msg,
		resultChan: resultChan,
		ctx:        msgCtx,
	}
	if !s.worker.Enqueue(job) {
		return worker.ErrStopped
	}

	select {
	case err := <-resultChan:
		return err
	case <-msgCtx.Done():
		return fmt.Errorf("timeout waiting for worker to process message: %w", msgCtx.Err())
	}
}

func (s *ProcessorService) workerHandler(workerIndex int, job interface{}) {
	jobRes, ok := job.(*jobResult)
	if !ok {
		logger.Error("invalid job type in worker", "worker", workerIndex)
		return
	}

	select {
	case <-jobRes.ctx.Done():
		logger.Warn("job context cancelled before processing started", "worker", workerIndex)
		return
	default:
	}

	start := time.Now()
	err := s.processor.Process(jobRes.ctx, jobRes.msg)
	if err != nil {
		s.metrics.RecordFailure()
		logger.Error("failed to process message", "worker", workerIndex, "message_id", jobRes.msg.ID, "error", err)
	} else {
		s.metrics.RecordSuccess(time.Since(start))
	}

	// the handler may have timed out already
	select {
	case jobRes.resultChan <- err:
	case <-jobRes.ctx.Done():
		logger.Warn("message handler timed out before result was delivered", "worker", workerIndex)
	}
}
