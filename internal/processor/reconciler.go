package processor

import (
	"context"
	"sync"
	"time"

	"github.com/nimasrn/sponsorship-gateway/internal/model"
	"github.com/nimasrn/sponsorship-gateway/pkg/logger"
	"github.com/robfig/cron/v3"
)

type StaleDonationLister interface {
	ListStalePending(ctx context.Context, method model.PaymentMethod, before time.Time, limit int) ([]*model.Donation, error)
}

type Publisher interface {
	PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error)
}

type LockInspector interface {
	Held(ctx context.Context, key string) (bool, error)
}

type ReconcilerConfig struct {
	Spec string
	// StaleAfter is how old a pending mobile money donation must be before
	// it is queued again.
	StaleAfter time.Duration
	BatchSize  int
}

// Reconciler periodically re-queues mobile money donations that are still
// pending and not polled by anyone, e.g. after a processor restart.
type Reconciler struct {
	donations   StaleDonationLister
	publisher   Publisher
	idempotency *IdempotencyService
	locks       LockInspector
	config      ReconcilerConfig
	now         func() time.Time

	cron *cron.Cron
	mu   sync.Mutex
}

func NewReconciler(donations StaleDonationLister, publisher Publisher, idempotency *IdempotencyService, locks LockInspector, config ReconcilerConfig) *Reconciler {
	if config.Spec == "" {
		config.Spec = "@every 5m"
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = 10 * time.Minute
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	return &Reconciler{
		donations:   donations,
		publisher:   publisher,
		idempotency: idempotency,
		locks:       locks,
		config:      config,
		now:         time.Now,
		cron:        cron.New(),
	}
}

func (r *Reconciler) Start() error {
	_, err := r.cron.AddFunc(r.config.Spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := r.RunOnce(ctx); err != nil {
			logger.Error("settlement reconcile failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	logger.Info("settlement reconciler scheduled", "spec", r.config.Spec)
	return nil
}

func (r *Reconciler) Stop() {
	<-r.cron.Stop().Done()
}

// RunOnce queues every eligible stale donation and returns how many were
// queued.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	// overlapping cron ticks would queue the same donations twice
	r.mu.Lock()
	defer r.mu.Unlock()

	stale, err := r.donations.ListStalePending(ctx, model.PaymentMethodMobileMoney, r.now().Add(-r.config.StaleAfter), r.config.BatchSize)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, d := range stale {
		log := logger.Named("reconciler").With("donation_id", d.ID)

		held, err := r.locks.Held(ctx, "settle:"+d.ID)
		if err != nil {
			log.Warn("lock lookup failed", "error", err)
			continue
		}
		if held {
			continue
		}
		exhausted, err := r.idempotency.Exhausted(ctx, d.ID)
		if err != nil {
			log.Warn("restart counter lookup failed", "error", err)
			continue
		}
		if exhausted {
			log.Debug("donation out of polling runs, left pending")
			continue
		}

		req := model.SettlementRequest{DonationID: d.ID, TransactionID: d.ProviderOrderID, RequestedAt: r.now().UTC()}
		if _, err := r.publisher.PublishJSON(ctx, req, map[string]string{"source": "reconciler"}); err != nil {
			return queued, err
		}
		queued++
	}
	if queued > 0 {
		logger.Info("stale donations queued for settlement", "count", queued)
	}
	return queued, nil
}
