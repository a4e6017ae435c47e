package repository

import (
	"time"

	"github.com/nimasrn/sponsorship-gateway/internal/model"
	"github.com/nimasrn/sponsorship-gateway/pkg/pg"
)

type DonationEntity struct {
	pg.Model
	StudentID             string     `gorm:"column:student_id;type:varchar(36);not null;index"`
	Amount                int64      `gorm:"column:amount;not null"`
	Currency              string     `gorm:"column:currency;type:varchar(3);not null"`
	Method                string     `gorm:"column:method;type:varchar(16);not null"`
	DonorKind             string     `gorm:"column:donor_kind;type:varchar(16);not null"`
	DonorID               *string    `gorm:"column:donor_id"`
	PhoneNumber           string     `gorm:"column:phone_number;not null;default:''"`
	Status                string     `gorm:"column:status;type:varchar(16);not null;index"`
	ProviderOrderID       string     `gorm:"column:provider_order_id;not null;default:''"`
	ProviderTransactionID *string    `gorm:"column:provider_transaction_id"`
	FailureReason         string     `gorm:"column:failure_reason;not null;default:''"`
	AttributedAt          *time.Time `gorm:"column:attributed_at"`
}

func (DonationEntity) TableName() string {
	return "donations"
}

func toDonationEntity(d *model.Donation) *DonationEntity {
	return &DonationEntity{
		Model:                 pg.Model{ID: d.ID},
		StudentID:             d.StudentID,
		Amount:                int64(d.Amount),
		Currency:              d.Currency,
		Method:                string(d.Method),
		DonorKind:             string(d.DonorKind),
		DonorID:               d.DonorID,
		PhoneNumber:           d.PhoneNumber,
		Status:                d.Status.String(),
		ProviderOrderID:       d.ProviderOrderID,
		ProviderTransactionID: d.ProviderTransactionID,
		FailureReason:         d.FailureReason,
		AttributedAt:          d.AttributedAt,
	}
}

func toDonationModel(e *DonationEntity) *model.Donation {
	if e == nil {
		return nil
	}
	status, _ := model.ParseDonationStatus(e.Status)
	return &model.Donation{
		ID:                    e.ID,
		StudentID:             e.StudentID,
		Amount:                model.Cents(e.Amount),
		Currency:              e.Currency,
		Method:                model.PaymentMethod(e.Method),
		DonorKind:             model.DonorKind(e.DonorKind),
		DonorID:               e.DonorID,
		PhoneNumber:           e.PhoneNumber,
		Status:                status,
		ProviderOrderID:       e.ProviderOrderID,
		ProviderTransactionID: e.ProviderTransactionID,
		FailureReason:         e.FailureReason,
		AttributedAt:          e.AttributedAt,
		CreatedAt:             e.CreatedAt,
		UpdatedAt:             e.UpdatedAt,
	}
}

func toDonationModels(entities []*DonationEntity) []*model.Donation {
	models := make([]*model.Donation, len(entities))
	for i, e := range entities {
		models[i] = toDonationModel(e)
	}
	return models
}
