package repository

import (
	"context"
	"errors"

	"github.com/nimasrn/sponsorship-gateway/internal/model"
	"github.com/nimasrn/sponsorship-gateway/pkg/pg"
	"gorm.io/gorm"
)

type StudentRepository struct {
	*pg.DB
}

func NewStudentRepository(db *pg.DB) *StudentRepository {
	return &StudentRepository{
		db,
	}
}

// Create inserts the profile. The unique application_id index turns a
// second publication of the same application into ErrAlreadyPosted.
func (r *StudentRepository) Create(ctx context.Context, profile *model.StudentProfile) (*model.StudentProfile, error) {
	entity := toStudentProfileEntity(profile)
	if err := r.Write(ctx).Create(entity).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyPosted
		}
		return nil, err
	}
	return toStudentProfileModel(entity), nil
}

func (r *StudentRepository) Get(ctx context.Context, id string) (*model.StudentProfile, error) {
	var entity StudentProfileEntity
	if err := r.Read(ctx).Where("id = ?", id).First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStudentNotFound
		}
		return nil, err
	}
	return toStudentProfileModel(&entity), nil
}

func (r *StudentRepository) GetByApplicationID(ctx context.Context, applicationID string) (*model.StudentProfile, error) {
	var entity StudentProfileEntity
	if err := r.Read(ctx).Where("application_id = ?", applicationID).First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStudentNotFound
		}
		return nil, err
	}
	return toStudentProfileModel(&entity), nil
}

func (r *StudentRepository) CountByApplicationID(ctx context.Context, applicationID string) (int64, error) {
	var n int64
	err := r.Read(ctx).Model(&StudentProfileEntity{}).Where("application_id = ?", applicationID).Count(&n).Error
	return n, err
}

// Attribute adds a completed donation to the running totals.
func (r *StudentRepository) Attribute(ctx context.Context, studentID string, amount model.Cents) error {
	res := r.Write(ctx).Model(&StudentProfileEntity{}).
		Where("id = ?", studentID).
		Updates(map[string]any{
			"amount_raised": gorm.Expr("amount_raised + ?", int64(amount)),
			"donor_count":   gorm.Expr("donor_count + ?", 1),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStudentNotFound
	}
	return nil
}
