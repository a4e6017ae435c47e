package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/nimasrn/sponsorship-gateway/internal/model"
	xhttp "github.com/nimasrn/sponsorship-gateway/pkg/http"
)

type PaymentService interface {
	CreateOrder(ctx context.Context, req model.CreateOrderRequest) (*model.PaymentOrder, error)
	CaptureOrder(ctx context.Context, donorID, handle string) (*model.Donation, error)
	CompleteGuestDonation(ctx context.Context, donationID, handle string) (*model.Donation, error)
	GetDonation(ctx context.Context, id string) (*model.Donation, error)
	MobileMoneyStatus(ctx context.Context, transactionID string) (*model.Donation, error)
}

// DonationHandler serves donors without an account.
type DonationHandler struct {
	payments PaymentService
	limiter  *xhttp.RateLimiter
}

func RegisterDonationRoutes(e *router.Group, h *DonationHandler) {
	create := h.CreateGuestDonation
	if h.limiter != nil {
		create = h.limiter.Wrap(create)
	}
	e.POST("/donations/guest", create)
	e.PUT("/donations/{id}/complete", h.CompleteGuestDonation)
	e.GET("/donations/{id}", h.GetDonation)
}

func NewDonationHandler(payments PaymentService, limiter *xhttp.RateLimiter) *DonationHandler {
	return &DonationHandler{payments: payments, limiter: limiter}
}

type guestDonationRequest struct {
	StudentID     string      `json:"studentId"`
	Amount        amountField `json:"amount"`
	PaymentMethod string      `json:"paymentMethod"`
	PhoneNumber   string      `json:"phoneNumber"`
}

type completeRequest struct {
	OrderID string `json:"orderId"`
}

// orderResponse adds the donation id under the name guest clients poll with.
type orderResponse struct {
	ID string `json:"id"`
	*model.PaymentOrder
}

func (h *DonationHandler) CreateGuestDonation(ctx *xhttp.RequestCtx) {
	var req guestDonationRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	method, err := model.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
		return
	}
	order, err := h.payments.CreateOrder(ctx, model.CreateOrderRequest{
		StudentID:   req.StudentID,
		Amount:      string(req.Amount),
		Method:      method,
		Donor:       model.GuestDonor(),
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusCreated, orderResponse{ID: order.DonationID, PaymentOrder: order})
}

func (h *DonationHandler) CompleteGuestDonation(ctx *xhttp.RequestCtx) {
	var req completeRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	d, err := h.payments.CompleteGuestDonation(ctx, pathParam(ctx, "id"), req.OrderID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, d)
}

func (h *DonationHandler) GetDonation(ctx *xhttp.RequestCtx) {
	d, err := h.payments.GetDonation(ctx, pathParam(ctx, "id"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, d)
}
