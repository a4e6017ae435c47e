package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type DonationStatus int

// The numeric values are the legacy encoding and must not be reordered.
const (
	DonationStatusCreated DonationStatus = iota
	DonationStatusPending
	DonationStatusCompleted
	DonationStatusFailed
)

var donationStatusNames = [...]string{
	DonationStatusCreated:   "Created",
	DonationStatusPending:   "Pending",
	DonationStatusCompleted: "Completed",
	DonationStatusFailed:    "Failed",
}

var donationStatusByToken = func() map[string]DonationStatus {
	m := make(map[string]DonationStatus, len(donationStatusNames))
	for i, name := range donationStatusNames {
		m[normalizeToken(name)] = DonationStatus(i)
	}
	return m
}()

func (s DonationStatus) Valid() bool {
	return s >= DonationStatusCreated && s <= DonationStatusFailed
}

func (s DonationStatus) String() string {
	if !s.Valid() {
		return fmt.Sprintf("DonationStatus(%d)", int(s))
	}
	return donationStatusNames[s]
}

func (s DonationStatus) Terminal() bool {
	return s == DonationStatusCompleted || s == DonationStatusFailed
}

func ParseDonationStatus(raw string) (DonationStatus, error) {
	if n, ok := parseLegacyInt(raw); ok {
		if s := DonationStatus(n); s.Valid() {
			return s, nil
		}
		return 0, fmt.Errorf("unknown donation status %q", raw)
	}
	if s, ok := donationStatusByToken[normalizeToken(raw)]; ok {
		return s, nil
	}
	return 0, fmt.Errorf("unknown donation status %q", raw)
}

func (s DonationStatus) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid donation status %d", int(s))
	}
	return json.Marshal(s.String())
}

func (s *DonationStatus) UnmarshalJSON(data []byte) error {
	parsed, err := ParseDonationStatus(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type PaymentMethod string

const (
	PaymentMethodPayPal      PaymentMethod = "PayPal"
	PaymentMethodMobileMoney PaymentMethod = "MobileMoney"
)

// ParsePaymentMethod accepts the canonical names plus the "mtn" and
// "momo" aliases used by the legacy clients.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch normalizeToken(raw) {
	case "paypal":
		return PaymentMethodPayPal, nil
	case "mobilemoney", "mtn", "momo", "mtnmomo":
		return PaymentMethodMobileMoney, nil
	}
	return "", fmt.Errorf("unknown payment method %q", raw)
}

type DonorKind string

const (
	DonorGuest      DonorKind = "Guest"
	DonorRegistered DonorKind = "Registered"
)

type Donor struct {
	Kind DonorKind
	ID   string
}

func GuestDonor() Donor { return Donor{Kind: DonorGuest} }

func RegisteredDonor(id string) Donor { return Donor{Kind: DonorRegistered, ID: id} }

const (
	DefaultCurrency = "USD"
	MinPhoneLength  = 10
)

type Donation struct {
	ID                    string         `json:"id"`
	StudentID             string         `json:"studentId"`
	Amount                Cents          `json:"amount"`
	Currency              string         `json:"currency"`
	Method                PaymentMethod  `json:"paymentMethod"`
	DonorKind             DonorKind      `json:"donorKind"`
	DonorID               *string        `json:"donorId,omitempty"`
	PhoneNumber           string         `json:"phoneNumber,omitempty"`
	Status                DonationStatus `json:"status"`
	ProviderOrderID       string         `json:"providerOrderId,omitempty"`
	ProviderTransactionID *string        `json:"providerTransactionId,omitempty"`
	FailureReason         string         `json:"failureReason,omitempty"`
	AttributedAt          *time.Time     `json:"attributedAt,omitempty"`
	CreatedAt             time.Time      `json:"createdAt"`
	UpdatedAt             time.Time      `json:"updatedAt"`
}

var (
	ErrPhoneTooShort  = errors.New("mobile money phone number must be at least 10 characters")
	ErrDonorIDMissing = errors.New("registered donors need an id")
	ErrStudentMissing = errors.New("studentId is required")
)

type CreateOrderRequest struct {
	StudentID   string
	Amount      string
	Method      PaymentMethod
	Donor       Donor
	PhoneNumber string
}

// Validate checks everything that can be rejected without a provider
// round trip and returns the parsed amount.
func (r CreateOrderRequest) Validate() (Cents, error) {
	if strings.TrimSpace(r.StudentID) == "" {
		return 0, ErrStudentMissing
	}
	amount, err := ParseAmount(r.Amount)
	if err != nil {
		return 0, err
	}
	switch r.Method {
	case PaymentMethodPayPal:
	case PaymentMethodMobileMoney:
		if len(strings.TrimSpace(r.PhoneNumber)) < MinPhoneLength {
			return 0, ErrPhoneTooShort
		}
	default:
		return 0, fmt.Errorf("unknown payment method %q", r.Method)
	}
	switch r.Donor.Kind {
	case DonorGuest:
	case DonorRegistered:
		if strings.TrimSpace(r.Donor.ID) == "" {
			return 0, ErrDonorIDMissing
		}
	default:
		return 0, fmt.Errorf("unknown donor kind %q", r.Donor.Kind)
	}
	return amount, nil
}

// PaymentOrder is what the engine hands back after creating an order.
type PaymentOrder struct {
	DonationID    string         `json:"donationId"`
	Method        PaymentMethod  `json:"paymentMethod"`
	Status        DonationStatus `json:"status"`
	Handle        string         `json:"orderId,omitempty"`
	ApprovalURL   string         `json:"approvalUrl,omitempty"`
	TransactionID string         `json:"transactionId,omitempty"`
	Message       string         `json:"message,omitempty"`
}

// SettlementRequest is the queue payload asking the processor to poll a
// mobile money order until it settles.
type SettlementRequest struct {
	DonationID    string    `json:"donation_id"`
	TransactionID string    `json:"transaction_id"`
	RequestedAt   time.Time `json:"requested_at"`
}

type DonationFilter struct {
	Method        PaymentMethod
	Statuses      []DonationStatus
	CreatedBefore *time.Time
	Limit         int
}
