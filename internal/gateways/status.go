package gateway

import (
	"strings"

	"github.com/nimasrn/sponsorship-gateway/internal/model"
)

// provider vocabularies from PayPal order/capture and MobileMoney
// request-to-pay answers
var providerStatuses = map[string]model.DonationStatus{
	"COMPLETED":             model.DonationStatusCompleted,
	"SUCCESSFUL":            model.DonationStatusCompleted,
	"SUCCESS":               model.DonationStatusCompleted,
	"FAILED":                model.DonationStatusFailed,
	"REJECTED":              model.DonationStatusFailed,
	"TIMEOUT":               model.DonationStatusFailed,
	"DECLINED":              model.DonationStatusFailed,
	"VOIDED":                model.DonationStatusFailed,
	"CANCELLED":             model.DonationStatusFailed,
	"EXPIRED":               model.DonationStatusFailed,
	"CREATED":               model.DonationStatusCreated,
	"SAVED":                 model.DonationStatusCreated,
	"PENDING":               model.DonationStatusPending,
	"ONGOING":               model.DonationStatusPending,
	"APPROVED":              model.DonationStatusPending,
	"PAYER_ACTION_REQUIRED": model.DonationStatusPending,
}

// NormalizeProviderStatus maps a provider status onto the donation enum.
// Anything unknown is still pending.
func NormalizeProviderStatus(raw string) model.DonationStatus {
	key := strings.ToUpper(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.ReplaceAll(key, " ", "_")
	if s, ok := providerStatuses[key]; ok {
		return s
	}
	return model.DonationStatusPending
}
