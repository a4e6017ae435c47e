package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nimasrn/sponsorship-gateway/internal/model"
	"github.com/nimasrn/sponsorship-gateway/pkg/logger"
	"github.com/nimasrn/sponsorship-gateway/pkg/prom"
)

const (
	DefaultInterval    = 10 * time.Second
	DefaultMaxAttempts = 30
)

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	// OutcomeTimeout means the attempt budget ran out. The order is left
	// as it is and may still settle out-of-band.
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCancelled Outcome = "cancelled"
)

var ErrTimeout = errors.New("payment status unknown, check again later")

// Checker reports the current status of an order. Errors are treated as
// transient.
type Checker func(ctx context.Context, orderID string) (model.DonationStatus, error)

// Result is delivered once per task.
type Result struct {
	OrderID  string
	Outcome  Outcome
	Attempts int
	Status   model.DonationStatus
	Message  string
	Err      error
}

type NotifyFunc func(Result)

type Poller struct {
	Interval    time.Duration
	MaxAttempts int
	Clock       Clock
}

func NewPoller(interval time.Duration, maxAttempts int, clock Clock) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if clock == nil {
		clock = RealClock
	}
	return &Poller{Interval: interval, MaxAttempts: maxAttempts, Clock: clock}
}

// Task is one polling sequence for one order.
type Task struct {
	OrderID string

	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	result   Result
	attempts int
}

func (t *Task) Cancel() { t.cancel() }

func (t *Task) Done() <-chan struct{} { return t.done }

// Outcome blocks until the task is finished.
func (t *Task) Outcome() Result {
	<-t.done
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

func (t *Task) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// Start launches the polling loop and returns immediately.
func (p *Poller) Start(ctx context.Context, orderID string, check Checker, notify NotifyFunc) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		OrderID: orderID,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go func() {
		defer cancel()
		res := p.run(ctx, t, check)

		t.mu.Lock()
		t.result = res
		t.mu.Unlock()
		close(t.done)

		prom.ObserveSettlement(string(res.Outcome), res.Attempts)
		if notify != nil {
			notify(res)
		}
	}()
	return t
}

// Run polls synchronously until a terminal outcome.
func (p *Poller) Run(ctx context.Context, orderID string, check Checker) Result {
	return p.Start(ctx, orderID, check, nil).Outcome()
}

func (p *Poller) run(ctx context.Context, t *Task, check Checker) Result {
	log := logger.Named("settlement").With("order_id", t.OrderID)
	res := Result{OrderID: t.OrderID, Status: model.DonationStatusPending}

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			res.Outcome = OutcomeCancelled
			res.Err = ctx.Err()
			return res
		case <-p.Clock.After(p.Interval):
		}

		// cancellation that raced the tick still wins
		if ctx.Err() != nil {
			res.Outcome = OutcomeCancelled
			res.Err = ctx.Err()
			return res
		}

		t.mu.Lock()
		t.attempts = attempt
		t.mu.Unlock()
		res.Attempts = attempt

		status, err := check(ctx, t.OrderID)
		if err != nil {
			if ctx.Err() != nil {
				res.Outcome = OutcomeCancelled
				res.Err = ctx.Err()
				return res
			}
			log.Warn("settlement check failed", "attempt", attempt, "error", err)
			continue
		}

		switch status {
		case model.DonationStatusCompleted:
			res.Outcome = OutcomeCompleted
			res.Status = status
			res.Message = "payment completed"
			log.Info("settlement completed", "attempt", attempt)
			return res
		case model.DonationStatusFailed:
			res.Outcome = OutcomeFailed
			res.Status = status
			res.Message = "payment failed, please try again"
			log.Info("settlement failed", "attempt", attempt)
			return res
		default:
			log.Debug("settlement still pending", "attempt", attempt, "status", status.String())
		}
	}

	res.Outcome = OutcomeTimeout
	res.Message = "payment status unknown, please check again later"
	res.Err = fmt.Errorf("%w: %d attempts", ErrTimeout, p.MaxAttempts)
	log.Warn("settlement timed out", "attempts", p.MaxAttempts)
	return res
}
