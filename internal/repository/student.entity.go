package repository

import (
	"github.com/nimasrn/sponsorship-gateway/internal/model"
	"github.com/nimasrn/sponsorship-gateway/pkg/pg"
)

type StudentProfileEntity struct {
	pg.Model
	ApplicationID  string `gorm:"column:application_id;type:varchar(36);not null;uniqueIndex"`
	FullName       string `gorm:"column:full_name;not null"`
	Institution    string `gorm:"column:institution;not null"`
	FieldOfStudy   string `gorm:"column:field_of_study;not null;default:''"`
	FundingPurpose string `gorm:"column:funding_purpose;not null"`
	FundingTarget  int64  `gorm:"column:funding_target;not null"`
	AmountRaised   int64  `gorm:"column:amount_raised;not null;default:0"`
	DonorCount     int64  `gorm:"column:donor_count;not null;default:0"`
}

func (StudentProfileEntity) TableName() string {
	return "student_profiles"
}

func toStudentProfileEntity(p *model.StudentProfile) *StudentProfileEntity {
	return &StudentProfileEntity{
		Model:          pg.Model{ID: p.ID},
		ApplicationID:  p.ApplicationID,
		FullName:       p.FullName,
		Institution:    p.Institution,
		FieldOfStudy:   p.FieldOfStudy,
		FundingPurpose: p.FundingPurpose,
		FundingTarget:  int64(p.FundingTarget),
		AmountRaised:   int64(p.AmountRaised),
		DonorCount:     p.DonorCount,
	}
}

func toStudentProfileModel(e *StudentProfileEntity) *model.StudentProfile {
	if e == nil {
		return nil
	}
	return &model.StudentProfile{
		ID:             e.ID,
		ApplicationID:  e.ApplicationID,
		FullName:       e.FullName,
		Institution:    e.Institution,
		FieldOfStudy:   e.FieldOfStudy,
		FundingPurpose: e.FundingPurpose,
		FundingTarget:  model.Cents(e.FundingTarget),
		AmountRaised:   model.Cents(e.AmountRaised),
		DonorCount:     e.DonorCount,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}
