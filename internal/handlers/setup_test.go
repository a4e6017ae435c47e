package handlers

import (
	"context"
	"encoding/json"
	"net"
	"testing"

	"github.com/nimasrn/sponsorship-gateway/internal/model"
	xhttp "github.com/nimasrn/sponsorship-gateway/pkg/http"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

type MockApplicationService struct {
	mock.Mock
}

func (m *MockApplicationService) app(args mock.Arguments) (*model.Application, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Application), args.Error(1)
}

func (m *MockApplicationService) Submit(ctx context.Context, actor model.Actor, payload model.ApplicationPayload) (*model.Application, error) {
	return m.app(m.Called(ctx, actor, payload))
}

func (m *MockApplicationService) Resubmit(ctx context.Context, actor model.Actor, id string, payload model.ApplicationPayload) (*model.Application, error) {
	return m.app(m.Called(ctx, actor, id, payload))
}

func (m *MockApplicationService) StartReview(ctx context.Context, actor model.Actor, id string) (*model.Application, error) {
	return m.app(m.Called(ctx, actor, id))
}

func (m *MockApplicationService) Approve(ctx context.Context, actor model.Actor, id string) (*model.Application, error) {
	return m.app(m.Called(ctx, actor, id))
}

func (m *MockApplicationService) Reject(ctx context.Context, actor model.Actor, id, reason string) (*model.Application, error) {
	return m.app(m.Called(ctx, actor, id, reason))
}

func (m *MockApplicationService) MarkIncomplete(ctx context.Context, actor model.Actor, id, reason string) (*model.Application, error) {
	return m.app(m.Called(ctx, actor, id, reason))
}

func (m *MockApplicationService) Forward(ctx context.Context, actor model.Actor, id string) (*model.Application, error) {
	return m.app(m.Called(ctx, actor, id))
}

func (m *MockApplicationService) Delete(ctx context.Context, actor model.Actor, id string, confirmed bool) error {
	return m.Called(ctx, actor, id, confirmed).Error(0)
}

func (m *MockApplicationService) Get(ctx context.Context, actor model.Actor, id string) (*model.Application, error) {
	return m.app(m.Called(ctx, actor, id))
}

func (m *MockApplicationService) List(ctx context.Context, actor model.Actor, filter model.ApplicationFilter) ([]*model.Application, error) {
	args := m.Called(ctx, actor, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Application), args.Error(1)
}

func (m *MockApplicationService) History(ctx context.Context, actor model.Actor, id string) ([]*model.StatusHistory, error) {
	args := m.Called(ctx, actor, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.StatusHistory), args.Error(1)
}

type MockPublicationService struct {
	mock.Mock
}

func (m *MockPublicationService) Publish(ctx context.Context, actor model.Actor, applicationID string) (*model.StudentProfile, error) {
	args := m.Called(ctx, actor, applicationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.StudentProfile), args.Error(1)
}

func (m *MockPublicationService) Student(ctx context.Context, id string) (*model.StudentProfile, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.StudentProfile), args.Error(1)
}

type MockPaymentService struct {
	mock.Mock
}

func (m *MockPaymentService) donation(args mock.Arguments) (*model.Donation, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Donation), args.Error(1)
}

func (m *MockPaymentService) CreateOrder(ctx context.Context, req model.CreateOrderRequest) (*model.PaymentOrder, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PaymentOrder), args.Error(1)
}

func (m *MockPaymentService) CaptureOrder(ctx context.Context, donorID, handle string) (*model.Donation, error) {
	return m.donation(m.Called(ctx, donorID, handle))
}

func (m *MockPaymentService) CompleteGuestDonation(ctx context.Context, donationID, handle string) (*model.Donation, error) {
	return m.donation(m.Called(ctx, donationID, handle))
}

func (m *MockPaymentService) GetDonation(ctx context.Context, id string) (*model.Donation, error) {
	return m.donation(m.Called(ctx, id))
}

func (m *MockPaymentService) MobileMoneyStatus(ctx context.Context, transactionID string) (*model.Donation, error) {
	return m.donation(m.Called(ctx, transactionID))
}

type testServer struct {
	apps     *MockApplicationService
	pub      *MockPublicationService
	payments *MockPaymentService
	router   *xhttp.Router
}

func newTestServer(limiter *xhttp.RateLimiter) *testServer {
	s := &testServer{
		apps:     new(MockApplicationService),
		pub:      new(MockPublicationService),
		payments: new(MockPaymentService),
		router:   xhttp.CreateDefaultRouter(),
	}
	g := s.router.Group("/api/v1")
	RegisterApplicationRoutes(g, NewApplicationHandler(s.apps, s.pub))
	RegisterDonationRoutes(g, NewDonationHandler(s.payments, limiter))
	RegisterPaymentRoutes(g, NewPaymentHandler(s.payments))
	return s
}

type request struct {
	method string
	path   string
	body   any
	actor  *model.Actor
	ip     string
}

func (s *testServer) do(t *testing.T, r request) *fasthttp.Response {
	t.Helper()
	var req fasthttp.Request
	req.Header.SetMethod(r.method)
	req.SetRequestURI(r.path)
	if r.body != nil {
		switch b := r.body.(type) {
		case string:
			req.SetBodyString(b)
		default:
			raw, err := json.Marshal(b)
			require.NoError(t, err)
			req.SetBody(raw)
		}
	}
	if r.actor != nil {
		req.Header.Set(HeaderActorID, r.actor.ID)
		req.Header.Set(HeaderActorRole, string(r.actor.Role))
	}
	ip := r.ip
	if ip == "" {
		ip = "10.0.0.1"
	}
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, &net.TCPAddr{IP: net.ParseIP(ip), Port: 40000}, nil)

	s.router.Handler(ctx)

	resp := &fasthttp.Response{}
	ctx.Response.CopyTo(resp)
	return resp
}

func decodeBody(t *testing.T, resp *fasthttp.Response, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(resp.Body(), v))
}

func errorBody(t *testing.T, resp *fasthttp.Response) string {
	t.Helper()
	var body map[string]string
	decodeBody(t, resp, &body)
	return body["error"]
}
