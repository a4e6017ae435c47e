package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/sponsorship-gateway/internal/model"
	"github.com/nimasrn/sponsorship-gateway/pkg/pg"
	"gorm.io/gorm"
)

type DonationRepository struct {
	*pg.DB
	students *StudentRepository
	now      func() time.Time
}

func NewDonationRepository(db *pg.DB, students *StudentRepository) *DonationRepository {
	return &DonationRepository{
		DB:       db,
		students: students,
		now:      time.Now,
	}
}

// FinalizeParams is a terminal write for a donation.
type FinalizeParams struct {
	ID                    string
	Status                model.DonationStatus
	FailureReason         string
	ProviderTransactionID string
}

// FinalizeResult tells the caller whether this call moved the donation,
// and whether it was the one that attributed the funds.
type FinalizeResult struct {
	Donation   *model.Donation
	Applied    bool
	Attributed bool
}

func (r *DonationRepository) Create(ctx context.Context, d *model.Donation) (*model.Donation, error) {
	entity := toDonationEntity(d)
	if entity.Currency == "" {
		entity.Currency = model.DefaultCurrency
	}
	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toDonationModel(entity), nil
}

func (r *DonationRepository) Get(ctx context.Context, id string) (*model.Donation, error) {
	var entity DonationEntity
	if err := r.Read(ctx).Where("id = ?", id).First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDonationNotFound
		}
		return nil, err
	}
	return toDonationModel(&entity), nil
}

func (r *DonationRepository) GetByProviderTransactionID(ctx context.Context, transactionID string) (*model.Donation, error) {
	var entity DonationEntity
	if err := r.Read(ctx).Where("provider_transaction_id = ?", transactionID).First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDonationNotFound
		}
		return nil, err
	}
	return toDonationModel(&entity), nil
}

// GetByProviderOrderID finds a donation by the order id its provider issued.
func (r *DonationRepository) GetByProviderOrderID(ctx context.Context, method model.PaymentMethod, orderID string) (*model.Donation, error) {
	var entity DonationEntity
	err := r.Read(ctx).
		Where("method = ? AND provider_order_id = ?", string(method), orderID).
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDonationNotFound
		}
		return nil, err
	}
	return toDonationModel(&entity), nil
}

// MarkPending records the provider references once the provider accepted
// the order. Only Created or Pending donations are touched.
func (r *DonationRepository) MarkPending(ctx context.Context, id, providerOrderID, providerTransactionID string) (*model.Donation, error) {
	updates := map[string]any{
		"status":            model.DonationStatusPending.String(),
		"provider_order_id": providerOrderID,
	}
	if providerTransactionID != "" {
		updates["provider_transaction_id"] = providerTransactionID
	}
	res := r.Write(ctx).Model(&DonationEntity{}).
		Where("id = ? AND status IN ?", id, []string{model.DonationStatusCreated.String(), model.DonationStatusPending.String()}).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: cannot mark pending", ErrDonationFinalized)
	}
	return r.Get(ctx, id)
}

// Finalize moves a donation to a terminal status. Writing the status the
// donation already has is a no-op; writing the other terminal status is
// ErrDonationFinalized. Completion attributes the amount to the student in
// the same transaction, exactly once.
func (r *DonationRepository) Finalize(ctx context.Context, p FinalizeParams) (*FinalizeResult, error) {
	if !p.Status.Terminal() {
		return nil, fmt.Errorf("finalize to non terminal status %s", p.Status)
	}

	const maxRetries = 3
	const baseDelay = 2 * time.Millisecond

	for attempt := 0; attempt <= maxRetries; attempt++ {
		res, err := r.finalizeAttempt(ctx, p)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrConcurrentUpdate) {
			return nil, err
		}
		if attempt < maxRetries {
			delay := baseDelay * time.Duration(1<<attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return nil, fmt.Errorf("%w: finalize donation %s", ErrMaxRetriesExceeded, p.ID)
}

func (r *DonationRepository) finalizeAttempt(ctx context.Context, p FinalizeParams) (*FinalizeResult, error) {
	result := &FinalizeResult{}
	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		var current DonationEntity
		if err := r.Write(ctx).Where("id = ?", p.ID).First(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrDonationNotFound
			}
			return err
		}

		status, _ := model.ParseDonationStatus(current.Status)
		if status.Terminal() {
			if status != p.Status {
				return fmt.Errorf("%w: %s over %s", ErrDonationFinalized, p.Status, status)
			}
			result.Donation = toDonationModel(&current)
			return nil
		}

		updates := map[string]any{
			"status":         p.Status.String(),
			"failure_reason": p.FailureReason,
		}
		if p.ProviderTransactionID != "" && current.ProviderTransactionID == nil {
			updates["provider_transaction_id"] = p.ProviderTransactionID
		}
		res := r.Write(ctx).Model(&DonationEntity{}).
			Where("id = ? AND status = ?", p.ID, current.Status).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConcurrentUpdate
		}
		result.Applied = true

		if p.Status == model.DonationStatusCompleted {
			attributed, err := r.attribute(ctx, &current)
			if err != nil {
				return err
			}
			result.Attributed = attributed
		}

		var updated DonationEntity
		if err := r.Write(ctx).Where("id = ?", p.ID).First(&updated).Error; err != nil {
			return err
		}
		result.Donation = toDonationModel(&updated)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// attribute stamps attributed_at and bumps the student totals. The stamp is
// conditional on attributed_at being empty, so only one writer ever adds
// the funds.
func (r *DonationRepository) attribute(ctx context.Context, d *DonationEntity) (bool, error) {
	res := r.Write(ctx).Model(&DonationEntity{}).
		Where("id = ? AND attributed_at IS NULL", d.ID).
		Update("attributed_at", r.now().UTC())
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	if err := r.students.Attribute(ctx, d.StudentID, model.Cents(d.Amount)); err != nil {
		return false, err
	}
	return true, nil
}

// ListStalePending returns Pending donations of the given method created
// before the cutoff, oldest first.
func (r *DonationRepository) ListStalePending(ctx context.Context, method model.PaymentMethod, before time.Time, limit int) ([]*model.Donation, error) {
	if limit <= 0 {
		limit = 100
	}
	var entities []*DonationEntity
	err := r.Read(ctx).
		Where("method = ? AND status = ? AND created_at < ?", string(method), model.DonationStatusPending.String(), before).
		Order("created_at ASC").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toDonationModels(entities), nil
}
