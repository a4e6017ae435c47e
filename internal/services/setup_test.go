package services

import (
	"context"
	"sync"
	"testing"
	"time"

	gateway "github.com/nimasrn/sponsorship-gateway/internal/gateways"
	"github.com/nimasrn/sponsorship-gateway/internal/lock"
	"github.com/nimasrn/sponsorship-gateway/internal/model"
	"github.com/nimasrn/sponsorship-gateway/internal/repository"
	"github.com/nimasrn/sponsorship-gateway/pkg/pg"
	"github.com/nimasrn/sponsorship-gateway/pkg/redis"
	"github.com/nimasrn/sponsorship-gateway/test/helpers"
	"github.com/stretchr/testify/mock"
)

type MockPayPal struct {
	mock.Mock
}

func (m *MockPayPal) CreateOrder(ctx context.Context, donationID string, amount model.Cents, currency string) (*gateway.PayPalOrder, error) {
	args := m.Called(ctx, donationID, amount, currency)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.PayPalOrder), args.Error(1)
}

func (m *MockPayPal) CaptureOrder(ctx context.Context, orderID string) (*gateway.PayPalCapture, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.PayPalCapture), args.Error(1)
}

type MockMobileMoney struct {
	mock.Mock
}

func (m *MockMobileMoney) RequestToPay(ctx context.Context, p gateway.RequestToPayParams) (string, error) {
	args := m.Called(ctx, p)
	return args.String(0), args.Error(1)
}

func (m *MockMobileMoney) TransactionStatus(ctx context.Context, referenceID string) (*gateway.MobileMoneyStatus, error) {
	args := m.Called(ctx, referenceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.MobileMoneyStatus), args.Error(1)
}

// recordingPublisher keeps published settlement requests in memory.
type recordingPublisher struct {
	mu   sync.Mutex
	sent []model.SettlementRequest
	err  error
}

func (p *recordingPublisher) PublishJSON(_ context.Context, data interface{}, _ map[string]string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.sent = append(p.sent, data.(model.SettlementRequest))
	return "1-0", nil
}

func (p *recordingPublisher) requests() []model.SettlementRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.SettlementRequest(nil), p.sent...)
}

type testEnv struct {
	db           *pg.DB
	redis        redis.RedisAdapter
	apps         *repository.ApplicationRepository
	students     *repository.StudentRepository
	donations    *repository.DonationRepository
	handles      *repository.HandleStore
	paypal       *MockPayPal
	mobileMoney  *MockMobileMoney
	publisher    *recordingPublisher
	applications *ApplicationService
	publication  *PublicationService
	payments     *PaymentService
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	db := helpers.SetupTestDB(t)
	_, rdb := helpers.SetupTestRedis(t)

	apps := repository.NewApplicationRepository(db)
	students := repository.NewStudentRepository(db)
	donations := repository.NewDonationRepository(db, students)
	handles := repository.NewHandleStore(rdb, time.Hour)

	env := &testEnv{
		db:          db,
		redis:       rdb,
		apps:        apps,
		students:    students,
		donations:   donations,
		handles:     handles,
		paypal:      new(MockPayPal),
		mobileMoney: new(MockMobileMoney),
		publisher:   &recordingPublisher{},
	}
	env.applications = NewApplicationService(apps)
	env.publication = NewPublicationService(db, apps, students, lock.NewRedisLocker(rdb), time.Minute)
	env.payments = NewPaymentService(donations, students, handles, env.paypal, env.mobileMoney, env.publisher, PaymentConfig{})
	return env
}

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
