package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/nimasrn/sponsorship-gateway/internal/model"
	"github.com/nimasrn/sponsorship-gateway/internal/services"
	xhttp "github.com/nimasrn/sponsorship-gateway/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

var donor = &model.Actor{ID: "donor-1", Role: model.RoleDonor}

func TestDonationHandler_CreateGuestDonation(t *testing.T) {
	t.Run("mobile money accepts numeric amount", func(t *testing.T) {
		s := newTestServer(nil)
		s.payments.On("CreateOrder", mock.Anything, model.CreateOrderRequest{
			StudentID:   "stu-1",
			Amount:      "50",
			Method:      model.PaymentMethodMobileMoney,
			Donor:       model.GuestDonor(),
			PhoneNumber: "250788123456",
		}).Return(&model.PaymentOrder{
			DonationID:    "don-1",
			Method:        model.PaymentMethodMobileMoney,
			Status:        model.DonationStatusPending,
			TransactionID: "ref-1",
			Message:       services.MobileMoneyPendingMessage,
		}, nil)

		resp := s.do(t, request{method: "POST", path: "/api/v1/donations/guest", body: `{"studentId":"stu-1","amount":50,"paymentMethod":"MobileMoney","phoneNumber":"250788123456"}`})

		assert.Equal(t, 201, resp.StatusCode())
		var body map[string]any
		decodeBody(t, resp, &body)
		assert.Equal(t, "don-1", body["id"])
		assert.Equal(t, "Pending", body["status"])
		assert.Equal(t, "ref-1", body["transactionId"])
		s.payments.AssertExpectations(t)
	})

	t.Run("paypal with string amount", func(t *testing.T) {
		s := newTestServer(nil)
		s.payments.On("CreateOrder", mock.Anything, mock.MatchedBy(func(r model.CreateOrderRequest) bool {
			return r.Amount == "25.50" && r.Method == model.PaymentMethodPayPal && r.Donor.Kind == model.DonorGuest
		})).Return(&model.PaymentOrder{
			DonationID:  "don-2",
			Method:      model.PaymentMethodPayPal,
			Status:      model.DonationStatusPending,
			Handle:      "ORDER-1",
			ApprovalURL: "https://paypal.test/approve",
		}, nil)

		resp := s.do(t, request{method: "POST", path: "/api/v1/donations/guest", body: map[string]any{"studentId": "stu-1", "amount": "25.50", "paymentMethod": "paypal"}})

		assert.Equal(t, 201, resp.StatusCode())
		var body map[string]any
		decodeBody(t, resp, &body)
		assert.Equal(t, "ORDER-1", body["orderId"])
		assert.Equal(t, "https://paypal.test/approve", body["approvalUrl"])
	})

	t.Run("negative amount is a validation error", func(t *testing.T) {
		s := newTestServer(nil)
		s.payments.On("CreateOrder", mock.Anything, mock.Anything).Return(nil, fmtValidation("amount must be a positive number"))

		resp := s.do(t, request{method: "POST", path: "/api/v1/donations/guest", body: `{"studentId":"stu-1","amount":"-5","paymentMethod":"paypal"}`})
		assert.Equal(t, 400, resp.StatusCode())
	})

	t.Run("unknown method", func(t *testing.T) {
		s := newTestServer(nil)
		resp := s.do(t, request{method: "POST", path: "/api/v1/donations/guest", body: `{"studentId":"stu-1","amount":"5","paymentMethod":"cheque"}`})
		assert.Equal(t, 400, resp.StatusCode())
		s.payments.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
	})

	t.Run("provider failure hides details", func(t *testing.T) {
		s := newTestServer(nil)
		s.payments.On("CreateOrder", mock.Anything, mock.Anything).Return(nil, services.ErrProvider)

		resp := s.do(t, request{method: "POST", path: "/api/v1/donations/guest", body: `{"studentId":"stu-1","amount":"5","paymentMethod":"paypal"}`})
		assert.Equal(t, 502, resp.StatusCode())
		assert.Equal(t, "payment provider unavailable, please retry", errorBody(t, resp))
	})

	t.Run("rate limited per ip", func(t *testing.T) {
		s := newTestServer(xhttp.NewRateLimiter(0.001, 1))
		s.payments.On("CreateOrder", mock.Anything, mock.Anything).Return(&model.PaymentOrder{DonationID: "don-3"}, nil)
		body := `{"studentId":"stu-1","amount":"5","paymentMethod":"paypal"}`

		first := s.do(t, request{method: "POST", path: "/api/v1/donations/guest", body: body, ip: "10.0.0.7"})
		second := s.do(t, request{method: "POST", path: "/api/v1/donations/guest", body: body, ip: "10.0.0.7"})
		other := s.do(t, request{method: "POST", path: "/api/v1/donations/guest", body: body, ip: "10.0.0.8"})

		assert.Equal(t, 201, first.StatusCode())
		assert.Equal(t, 429, second.StatusCode())
		assert.Equal(t, 201, other.StatusCode())
	})
}

func TestDonationHandler_Complete(t *testing.T) {
	t.Run("completed", func(t *testing.T) {
		s := newTestServer(nil)
		s.payments.On("CompleteGuestDonation", mock.Anything, "don-1", "ORDER-1").
			Return(&model.Donation{ID: "don-1", Status: model.DonationStatusCompleted, Amount: 5000}, nil)

		resp := s.do(t, request{method: "PUT", path: "/api/v1/donations/don-1/complete", body: completeRequest{OrderID: "ORDER-1"}})
		assert.Equal(t, 200, resp.StatusCode())

		var body map[string]any
		decodeBody(t, resp, &body)
		assert.Equal(t, "Completed", body["status"])
		assert.Equal(t, "50.00", body["amount"])
	})

	t.Run("wrong handle", func(t *testing.T) {
		s := newTestServer(nil)
		s.payments.On("CompleteGuestDonation", mock.Anything, "don-1", "ORDER-X").Return(nil, services.ErrInvalidHandle)

		resp := s.do(t, request{method: "PUT", path: "/api/v1/donations/don-1/complete", body: completeRequest{OrderID: "ORDER-X"}})
		assert.Equal(t, 404, resp.StatusCode())
	})

	t.Run("finalized", func(t *testing.T) {
		s := newTestServer(nil)
		s.payments.On("CompleteGuestDonation", mock.Anything, "don-1", "ORDER-1").Return(nil, services.ErrDonationFinalized)

		resp := s.do(t, request{method: "PUT", path: "/api/v1/donations/don-1/complete", body: completeRequest{OrderID: "ORDER-1"}})
		assert.Equal(t, 409, resp.StatusCode())
	})
}

func TestDonationHandler_GetDonation(t *testing.T) {
	s := newTestServer(nil)
	s.payments.On("GetDonation", mock.Anything, "don-1").Return(&model.Donation{ID: "don-1", Status: model.DonationStatusPending}, nil)
	s.payments.On("GetDonation", mock.Anything, "missing").Return(nil, services.ErrDonationNotFound)

	resp := s.do(t, request{method: "GET", path: "/api/v1/donations/don-1"})
	assert.Equal(t, 200, resp.StatusCode())

	resp = s.do(t, request{method: "GET", path: "/api/v1/donations/missing"})
	assert.Equal(t, 404, resp.StatusCode())
}

func TestPaymentHandler_Registered(t *testing.T) {
	t.Run("paypal order uses actor as donor", func(t *testing.T) {
		s := newTestServer(nil)
		s.payments.On("CreateOrder", mock.Anything, mock.MatchedBy(func(r model.CreateOrderRequest) bool {
			return r.Donor == model.RegisteredDonor("donor-1") && r.Method == model.PaymentMethodPayPal
		})).Return(&model.PaymentOrder{DonationID: "don-4", Status: model.DonationStatusCreated, Handle: "ORDER-4"}, nil)

		resp := s.do(t, request{method: "POST", path: "/api/v1/payments/paypal/create-order", body: `{"studentId":"stu-1","amount":"10"}`, actor: donor})
		assert.Equal(t, 201, resp.StatusCode())
		s.payments.AssertExpectations(t)
	})

	t.Run("anonymous caller", func(t *testing.T) {
		s := newTestServer(nil)
		resp := s.do(t, request{method: "POST", path: "/api/v1/payments/paypal/create-order", body: `{"studentId":"stu-1","amount":"10"}`})
		assert.Equal(t, 403, resp.StatusCode())
	})

	t.Run("capture", func(t *testing.T) {
		s := newTestServer(nil)
		s.payments.On("CaptureOrder", mock.Anything, "donor-1", "ORDER-4").Return(&model.Donation{ID: "don-4", Status: model.DonationStatusCompleted}, nil)

		resp := s.do(t, request{method: "POST", path: "/api/v1/payments/paypal/capture-order", body: completeRequest{OrderID: "ORDER-4"}, actor: donor})
		assert.Equal(t, 200, resp.StatusCode())
	})

	t.Run("only donors place or capture orders", func(t *testing.T) {
		s := newTestServer(nil)
		for _, a := range []*model.Actor{
			{ID: "student-1", Role: model.RoleStudent},
			{ID: "manager-1", Role: model.RoleManager},
			{ID: "admin-1", Role: model.RoleAdmin},
		} {
			resp := s.do(t, request{method: "POST", path: "/api/v1/payments/paypal/create-order", body: `{"studentId":"stu-1","amount":"10"}`, actor: a})
			assert.Equal(t, 403, resp.StatusCode(), a.Role)

			resp = s.do(t, request{method: "POST", path: "/api/v1/payments/mtn/initiate", body: `{"studentId":"stu-1","amount":"50","phoneNumber":"250788123456"}`, actor: a})
			assert.Equal(t, 403, resp.StatusCode(), a.Role)

			resp = s.do(t, request{method: "POST", path: "/api/v1/payments/paypal/capture-order", body: completeRequest{OrderID: "ORDER-4"}, actor: a})
			assert.Equal(t, 403, resp.StatusCode(), a.Role)
		}
		s.payments.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
		s.payments.AssertNotCalled(t, "CaptureOrder", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("capture of someone else's order", func(t *testing.T) {
		s := newTestServer(nil)
		s.payments.On("CaptureOrder", mock.Anything, "donor-1", "ORDER-9").Return(nil, services.ErrForbidden)

		resp := s.do(t, request{method: "POST", path: "/api/v1/payments/paypal/capture-order", body: completeRequest{OrderID: "ORDER-9"}, actor: donor})
		assert.Equal(t, 403, resp.StatusCode())
	})

	t.Run("capture needs order id", func(t *testing.T) {
		s := newTestServer(nil)
		resp := s.do(t, request{method: "POST", path: "/api/v1/payments/paypal/capture-order", body: completeRequest{}, actor: donor})
		assert.Equal(t, 400, resp.StatusCode())
	})

	t.Run("mobile money initiate and status", func(t *testing.T) {
		s := newTestServer(nil)
		s.payments.On("CreateOrder", mock.Anything, mock.MatchedBy(func(r model.CreateOrderRequest) bool {
			return r.Method == model.PaymentMethodMobileMoney && r.PhoneNumber == "250788123456"
		})).Return(&model.PaymentOrder{DonationID: "don-5", Status: model.DonationStatusPending, TransactionID: "ref-5"}, nil)
		s.payments.On("MobileMoneyStatus", mock.Anything, "ref-5").Return(&model.Donation{ID: "don-5", Status: model.DonationStatusCompleted}, nil)

		resp := s.do(t, request{method: "POST", path: "/api/v1/payments/mtn/initiate", body: `{"studentId":"stu-1","amount":"50","phoneNumber":"250788123456"}`, actor: donor})
		assert.Equal(t, 201, resp.StatusCode())

		resp = s.do(t, request{method: "GET", path: "/api/v1/payments/mtn/status/ref-5", actor: donor})
		assert.Equal(t, 200, resp.StatusCode())
	})
}

func TestWriteServiceError_Unknown(t *testing.T) {
	s := newTestServer(nil)
	s.payments.On("GetDonation", mock.Anything, "don-1").Return(nil, errors.New("connection reset"))

	resp := s.do(t, request{method: "GET", path: "/api/v1/donations/don-1"})
	assert.Equal(t, 500, resp.StatusCode())
	assert.NotContains(t, string(resp.Body()), "connection reset")
}

func TestHealthHandler(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("dial tcp: refused") }

	router := xhttp.CreateDefaultRouter()
	RegisterHealthRoutes(router.Group("/api/v1"), NewHealthHandler(map[string]HealthCheck{"postgres": ok, "redis": ok}))
	s := &testServer{router: router}
	resp := s.do(t, request{method: "GET", path: "/api/v1/health"})
	assert.Equal(t, 200, resp.StatusCode())
	assert.JSONEq(t, `{"status":"healthy","dependencies":{"postgres":"ok","redis":"ok"}}`, string(resp.Body()))

	router = xhttp.CreateDefaultRouter()
	RegisterHealthRoutes(router.Group("/api/v1"), NewHealthHandler(map[string]HealthCheck{"redis": down}))
	s = &testServer{router: router}
	resp = s.do(t, request{method: "GET", path: "/api/v1/health"})
	assert.Equal(t, 503, resp.StatusCode())
}

// fmtValidation builds an error of the validation kind the way services do.
func fmtValidation(msg string) error {
	return errors.Join(services.ErrValidation, errors.New(msg))
}
