package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/sponsorship-gateway/internal/lock"
	"github.com/nimasrn/sponsorship-gateway/internal/model"
	"github.com/nimasrn/sponsorship-gateway/internal/queue"
	"github.com/nimasrn/sponsorship-gateway/internal/settlement"
	"github.com/nimasrn/sponsorship-gateway/pkg/logger"
)

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*lock.Lease, error)
}

// SettlementProcessor turns queued settlement requests into polling tasks.
// A task is owned by whichever instance holds the settle lock of the
// donation, the others acknowledge the request and move on.
type SettlementProcessor struct {
	supervisor  *settlement.Supervisor
	checker     settlement.Checker
	idempotency *IdempotencyService
	locker      Locker
	lockTTL     time.Duration
	outcomes    OutcomeCounter

	// polling outlives the message that started it
	ctx    context.Context
	cancel context.CancelFunc
}

func NewSettlementProcessor(
	supervisor *settlement.Supervisor,
	checker settlement.Checker,
	idempotency *IdempotencyService,
	locker Locker,
	lockTTL time.Duration,
) *SettlementProcessor {
	ctx, cancel := context.WithCancel(context.Background())
	return &SettlementProcessor{
		supervisor:  supervisor,
		checker:     checker,
		idempotency: idempotency,
		locker:      locker,
		lockTTL:     lockTTL,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (p *SettlementProcessor) GetType() string {
	return "settlement"
}

func (p *SettlementProcessor) Process(ctx context.Context, msg *queue.Message) error {
	var req model.SettlementRequest
	if err := msg.Decode(&req); err != nil || req.DonationID == "" {
		// a malformed request never gets better
		logger.Error("dropping malformed settlement request", "message_id", msg.ID, "error", err)
		return nil
	}
	log := logger.Named("settlement-processor").With("donation_id", req.DonationID, "message_id", msg.ID)

	done, err := p.idempotency.IsProcessed(ctx, req.DonationID)
	if err != nil {
		return fmt.Errorf("check settled marker: %w", err)
	}
	if done {
		log.Debug("donation already settled")
		return nil
	}

	lease, err := p.locker.Acquire(ctx, "settle:"+req.DonationID, p.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			log.Debug("donation polled elsewhere")
			return nil
		}
		return err
	}

	_, started := p.supervisor.Watch(p.ctx, req.DonationID, p.checker, func(res settlement.Result) {
		p.finish(res, lease)
	})
	if !started {
		_ = lease.Release(context.Background())
		log.Debug("donation already polled by this instance")
		return nil
	}
	log.Info("settlement polling started", "queued_for", time.Since(msg.PublishedAt).String())
	return nil
}

func (p *SettlementProcessor) finish(res settlement.Result, lease *lock.Lease) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	defer func() { _ = lease.Release(ctx) }()

	p.outcomes.Record(res.Outcome)
	log := logger.Named("settlement-processor").With("donation_id", res.OrderID, "attempts", res.Attempts)
	switch res.Outcome {
	case settlement.OutcomeCompleted, settlement.OutcomeFailed:
		_ = p.idempotency.MarkProcessed(ctx, res.OrderID, string(res.Outcome))
	case settlement.OutcomeTimeout:
		n, err := p.idempotency.RecordTimeout(ctx, res.OrderID)
		if err != nil {
			log.Warn("failed to record settlement timeout", "error", err)
			return
		}
		log.Warn("settlement timed out, donation stays pending", "runs", n)
	case settlement.OutcomeCancelled:
		log.Info("settlement polling cancelled")
	}
}

func (p *SettlementProcessor) Outcomes() *OutcomeCounter { return &p.outcomes }

// Stop cancels every running poll and waits for them to return.
func (p *SettlementProcessor) Stop() {
	p.cancel()
	p.supervisor.Wait()
}
