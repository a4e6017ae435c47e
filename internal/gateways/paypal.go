package gateway

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/nimasrn/sponsorship-gateway/internal/model"
	"github.com/nimasrn/sponsorship-gateway/pkg/logger"
	"github.com/valyala/fasthttp"
)

const ProviderPayPal = "paypal"

type PayPalConfig struct {
	Pool         PoolConfig
	ClientID     string
	ClientSecret string
	ReturnURL    string
	CancelURL    string
}

// PayPalClient speaks the PayPal checkout orders API: create an order the
// donor approves in the browser, then capture it.
type PayPalClient struct {
	pool      *Pool
	tokens    *tokenSource
	returnURL string
	cancelURL string
}

func NewPayPalClient(cfg PayPalConfig) (*PayPalClient, error) {
	cfg.Pool.Provider = ProviderPayPal
	pool, err := NewPool(cfg.Pool)
	if err != nil {
		return nil, err
	}
	return &PayPalClient{
		pool: pool,
		tokens: &tokenSource{
			pool:        pool,
			path:        "/v1/oauth2/token",
			headers:     map[string]string{"Authorization": basicAuth(cfg.ClientID, cfg.ClientSecret)},
			body:        []byte(url.Values{"grant_type": {"client_credentials"}}.Encode()),
			contentType: "application/x-www-form-urlencoded",
			now:         time.Now,
		},
		returnURL: cfg.ReturnURL,
		cancelURL: cfg.CancelURL,
	}, nil
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalPurchaseUnit struct {
	ReferenceID string       `json:"reference_id"`
	CustomID    string       `json:"custom_id,omitempty"`
	Description string       `json:"description,omitempty"`
	Amount      paypalAmount `json:"amount"`
}

type paypalCreateOrderRequest struct {
	Intent             string               `json:"intent"`
	PurchaseUnits      []paypalPurchaseUnit `json:"purchase_units"`
	ApplicationContext struct {
		ReturnURL  string `json:"return_url,omitempty"`
		CancelURL  string `json:"cancel_url,omitempty"`
		UserAction string `json:"user_action"`
	} `json:"application_context"`
}

type paypalLink struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method"`
}

type paypalOrderResponse struct {
	ID            string       `json:"id"`
	Status        string       `json:"status"`
	Links         []paypalLink `json:"links"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

type PayPalOrder struct {
	ID          string
	Status      model.DonationStatus
	RawStatus   string
	ApprovalURL string
}

type PayPalCapture struct {
	OrderID   string
	CaptureID string
	Status    model.DonationStatus
	RawStatus string
}

// CreateOrder opens an order for the donation. The donation id doubles as
// the PayPal-Request-Id so a retried call never opens a second order.
func (c *PayPalClient) CreateOrder(ctx context.Context, donationID string, amount model.Cents, currency string) (*PayPalOrder, error) {
	body := paypalCreateOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []paypalPurchaseUnit{{
			ReferenceID: donationID,
			CustomID:    donationID,
			Description: "Student sponsorship donation",
			Amount:      paypalAmount{CurrencyCode: currency, Value: amount.String()},
		}},
	}
	body.ApplicationContext.ReturnURL = c.returnURL
	body.ApplicationContext.CancelURL = c.cancelURL
	body.ApplicationContext.UserAction = "PAY_NOW"

	var out paypalOrderResponse
	if err := c.authorized(ctx, fasthttp.MethodPost, "/v2/checkout/orders", donationID, body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, errors.New("paypal returned an order without id")
	}

	order := &PayPalOrder{
		ID:        out.ID,
		RawStatus: out.Status,
		Status:    NormalizeProviderStatus(out.Status),
	}
	for _, l := range out.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			order.ApprovalURL = l.Href
			break
		}
	}
	logger.Info("paypal order created", "donation_id", donationID, "order_id", order.ID, "status", out.Status)
	return order, nil
}

func (c *PayPalClient) CaptureOrder(ctx context.Context, orderID string) (*PayPalCapture, error) {
	var out paypalOrderResponse
	path := "/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture"
	if err := c.authorized(ctx, fasthttp.MethodPost, path, "capture-"+orderID, struct{}{}, &out); err != nil {
		return nil, err
	}

	capture := &PayPalCapture{
		OrderID:   orderID,
		RawStatus: out.Status,
		Status:    NormalizeProviderStatus(out.Status),
	}
	for _, pu := range out.PurchaseUnits {
		for _, cp := range pu.Payments.Captures {
			capture.CaptureID = cp.ID
			// a declined capture fails the order even if the order itself
			// reports COMPLETED
			if NormalizeProviderStatus(cp.Status) == model.DonationStatusFailed {
				capture.Status = model.DonationStatusFailed
				capture.RawStatus = cp.Status
			}
		}
	}
	logger.Info("paypal order captured", "order_id", orderID, "status", capture.RawStatus, "capture_id", capture.CaptureID)
	return capture, nil
}

func (c *PayPalClient) authorized(ctx context.Context, method, path, requestID string, body, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	headers := map[string]string{
		"Authorization":     "Bearer " + token,
		"PayPal-Request-Id": requestID,
		"Prefer":            "return=representation",
	}
	_, err = c.pool.DoJSON(ctx, method, path, headers, body, out)
	var perr *ProviderError
	if errors.As(err, &perr) && perr.StatusCode == fasthttp.StatusUnauthorized {
		c.tokens.invalidate()
	}
	return err
}

func (c *PayPalClient) Pool() *Pool { return c.pool }

func (c *PayPalClient) Close() error { return c.pool.Close() }
