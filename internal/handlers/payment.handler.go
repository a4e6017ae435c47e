package handlers

import (
	"github.com/fasthttp/router"
	"github.com/nimasrn/sponsorship-gateway/internal/model"
	xhttp "github.com/nimasrn/sponsorship-gateway/pkg/http"
)

// PaymentHandler serves signed in donors. The donor id is the actor id.
type PaymentHandler struct {
	payments PaymentService
}

func RegisterPaymentRoutes(e *router.Group, h *PaymentHandler) {
	e.POST("/payments/paypal/create-order", h.CreatePayPalOrder)
	e.POST("/payments/paypal/capture-order", h.CapturePayPalOrder)
	e.POST("/payments/mtn/initiate", h.InitiateMobileMoney)
	e.GET("/payments/mtn/status/{transactionId}", h.MobileMoneyStatus)
}

func NewPaymentHandler(payments PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

type orderRequest struct {
	StudentID   string      `json:"studentId"`
	Amount      amountField `json:"amount"`
	PhoneNumber string      `json:"phoneNumber"`
}

func (h *PaymentHandler) CreatePayPalOrder(ctx *xhttp.RequestCtx) {
	h.createOrder(ctx, model.PaymentMethodPayPal)
}

func (h *PaymentHandler) InitiateMobileMoney(ctx *xhttp.RequestCtx) {
	h.createOrder(ctx, model.PaymentMethodMobileMoney)
}

// requireDonor admits signed in donors only.
func requireDonor(ctx *xhttp.RequestCtx) (model.Actor, bool) {
	a, ok := requireActor(ctx)
	if !ok {
		return model.Actor{}, false
	}
	if !a.Is(model.RoleDonor) {
		writeError(ctx, xhttp.StatusForbidden, "only donors can make registered donations")
		return model.Actor{}, false
	}
	return a, true
}

func (h *PaymentHandler) createOrder(ctx *xhttp.RequestCtx, method model.PaymentMethod) {
	a, ok := requireDonor(ctx)
	if !ok {
		return
	}
	var req orderRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	order, err := h.payments.CreateOrder(ctx, model.CreateOrderRequest{
		StudentID:   req.StudentID,
		Amount:      string(req.Amount),
		Method:      method,
		Donor:       model.RegisteredDonor(a.ID),
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusCreated, order)
}

func (h *PaymentHandler) CapturePayPalOrder(ctx *xhttp.RequestCtx) {
	a, ok := requireDonor(ctx)
	if !ok {
		return
	}
	var req completeRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.OrderID == "" {
		writeError(ctx, xhttp.StatusBadRequest, "orderId is required")
		return
	}
	d, err := h.payments.CaptureOrder(ctx, a.ID, req.OrderID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, d)
}

func (h *PaymentHandler) MobileMoneyStatus(ctx *xhttp.RequestCtx) {
	if _, ok := requireActor(ctx); !ok {
		return
	}
	d, err := h.payments.MobileMoneyStatus(ctx, pathParam(ctx, "transactionId"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, d)
}
