package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/nimasrn/sponsorship-gateway/internal/model"
	"github.com/nimasrn/sponsorship-gateway/pkg/logger"
	"github.com/valyala/fasthttp"
)

const ProviderMobileMoney = "mobilemoney"

type MobileMoneyConfig struct {
	Pool              PoolConfig
	SubscriptionKey   string
	APIUser           string
	APIKey            string
	TargetEnvironment string
}

// MobileMoneyClient speaks the MTN MoMo collection API: a push to the
// payer's phone followed by status queries.
type MobileMoneyClient struct {
	pool            *Pool
	tokens          *tokenSource
	subscriptionKey string
	targetEnv       string
}

func NewMobileMoneyClient(cfg MobileMoneyConfig) (*MobileMoneyClient, error) {
	cfg.Pool.Provider = ProviderMobileMoney
	pool, err := NewPool(cfg.Pool)
	if err != nil {
		return nil, err
	}
	if cfg.TargetEnvironment == "" {
		cfg.TargetEnvironment = "sandbox"
	}
	return &MobileMoneyClient{
		pool: pool,
		tokens: &tokenSource{
			pool: pool,
			path: "/collection/token/",
			headers: map[string]string{
				"Authorization":             basicAuth(cfg.APIUser, cfg.APIKey),
				"Ocp-Apim-Subscription-Key": cfg.SubscriptionKey,
			},
			now: time.Now,
		},
		subscriptionKey: cfg.SubscriptionKey,
		targetEnv:       cfg.TargetEnvironment,
	}, nil
}

type RequestToPayParams struct {
	// ReferenceID is the X-Reference-Id; the provider answers status
	// queries under it.
	ReferenceID  string
	ExternalID   string
	Amount       model.Cents
	Currency     string
	Phone        string
	PayerMessage string
}

type momoParty struct {
	PartyIDType string `json:"partyIdType"`
	PartyID     string `json:"partyId"`
}

type momoRequestToPay struct {
	Amount       string    `json:"amount"`
	Currency     string    `json:"currency"`
	ExternalID   string    `json:"externalId"`
	Payer        momoParty `json:"payer"`
	PayerMessage string    `json:"payerMessage"`
	PayeeNote    string    `json:"payeeNote"`
}

type MobileMoneyStatus struct {
	ReferenceID            string
	Status                 model.DonationStatus
	RawStatus              string
	Reason                 string
	FinancialTransactionID string
}

// RequestToPay pushes a payment prompt to the payer's phone and returns the
// reference id. The answer carries no status, settlement is polled.
func (c *MobileMoneyClient) RequestToPay(ctx context.Context, p RequestToPayParams) (string, error) {
	if p.ReferenceID == "" {
		return "", errors.New("reference id is required")
	}
	body := momoRequestToPay{
		Amount:       p.Amount.String(),
		Currency:     p.Currency,
		ExternalID:   p.ExternalID,
		Payer:        momoParty{PartyIDType: "MSISDN", PartyID: normalizeMSISDN(p.Phone)},
		PayerMessage: p.PayerMessage,
		PayeeNote:    "sponsorship donation " + p.ExternalID,
	}
	if err := c.authorized(ctx, fasthttp.MethodPost, "/collection/v1_0/requesttopay", p.ReferenceID, body, nil); err != nil {
		return "", err
	}
	logger.Info("mobile money request to pay sent", "reference_id", p.ReferenceID, "external_id", p.ExternalID)
	return p.ReferenceID, nil
}

type momoStatusResponse struct {
	FinancialTransactionID string          `json:"financialTransactionId"`
	ExternalID             string          `json:"externalId"`
	Status                 string          `json:"status"`
	Reason                 json.RawMessage `json:"reason"`
}

func (c *MobileMoneyClient) TransactionStatus(ctx context.Context, referenceID string) (*MobileMoneyStatus, error) {
	var out momoStatusResponse
	path := "/collection/v1_0/requesttopay/" + url.PathEscape(referenceID)
	if err := c.authorized(ctx, fasthttp.MethodGet, path, "", nil, &out); err != nil {
		return nil, err
	}
	return &MobileMoneyStatus{
		ReferenceID:            referenceID,
		Status:                 NormalizeProviderStatus(out.Status),
		RawStatus:              out.Status,
		Reason:                 decodeReason(out.Reason),
		FinancialTransactionID: out.FinancialTransactionID,
	}, nil
}

func (c *MobileMoneyClient) authorized(ctx context.Context, method, path, referenceID string, body, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	headers := map[string]string{
		"Authorization":             "Bearer " + token,
		"X-Target-Environment":      c.targetEnv,
		"Ocp-Apim-Subscription-Key": c.subscriptionKey,
	}
	if referenceID != "" {
		headers["X-Reference-Id"] = referenceID
	}
	_, err = c.pool.DoJSON(ctx, method, path, headers, body, out)
	var perr *ProviderError
	if errors.As(err, &perr) && perr.StatusCode == fasthttp.StatusUnauthorized {
		c.tokens.invalidate()
	}
	return err
}

func (c *MobileMoneyClient) Pool() *Pool { return c.pool }

func (c *MobileMoneyClient) Close() error { return c.pool.Close() }

// reason is either a bare string or {"code": ..., "message": ...}
func decodeReason(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		return obj.Code
	}
	return string(raw)
}

func normalizeMSISDN(phone string) string {
	return strings.TrimPrefix(strings.Join(strings.Fields(phone), ""), "+")
}
