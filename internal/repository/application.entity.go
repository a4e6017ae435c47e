package repository

import (
	"time"

	"github.com/nimasrn/sponsorship-gateway/internal/model"
	"github.com/nimasrn/sponsorship-gateway/pkg/pg"
	"gorm.io/datatypes"
)

type ApplicationEntity struct {
	pg.Model
	StudentID           string                      `gorm:"column:student_id;type:varchar(64);not null;index"`
	FirstName           string                      `gorm:"column:first_name;not null"`
	LastName            string                      `gorm:"column:last_name;not null"`
	Email               string                      `gorm:"column:email;not null;uniqueIndex"`
	Phone               string                      `gorm:"column:phone;not null;default:''"`
	DateOfBirth         string                      `gorm:"column:date_of_birth;not null;default:''"`
	Gender              string                      `gorm:"column:gender;not null;default:''"`
	Country             string                      `gorm:"column:country;not null;default:''"`
	City                string                      `gorm:"column:city;not null;default:''"`
	FamilyBackground    string                      `gorm:"column:family_background;not null;default:''"`
	HouseholdSize       int                         `gorm:"column:household_size;not null;default:0"`
	Institution         string                      `gorm:"column:institution;not null"`
	FieldOfStudy        string                      `gorm:"column:field_of_study;not null;default:''"`
	AcademicLevel       string                      `gorm:"column:academic_level;not null;default:''"`
	GPA                 string                      `gorm:"column:gpa;not null;default:''"`
	FundingPurpose      string                      `gorm:"column:funding_purpose;not null"`
	FundingRequested    int64                       `gorm:"column:funding_requested;not null"`
	Documents           datatypes.JSONSlice[string] `gorm:"column:documents"`
	Gallery             datatypes.JSONSlice[string] `gorm:"column:gallery"`
	Status              string                      `gorm:"column:status;type:varchar(16);not null;index"`
	RejectionReason     *string                     `gorm:"column:rejection_reason"`
	ReviewedByManagerID *string                     `gorm:"column:reviewed_by_manager_id"`
	ReviewedByAdminID   *string                     `gorm:"column:reviewed_by_admin_id"`
	ForwardedAt         *time.Time                  `gorm:"column:forwarded_at"`
	IsPostedAsStudent   bool                        `gorm:"column:is_posted_as_student;not null;default:false"`
	SubmittedAt         time.Time                   `gorm:"column:submitted_at;not null"`
}

func (ApplicationEntity) TableName() string {
	return "applications"
}

func toApplicationEntity(a *model.Application) *ApplicationEntity {
	if a == nil {
		return nil
	}
	e := &ApplicationEntity{
		Model:               pg.Model{ID: a.ID, CreatedAt: a.SubmittedAt, UpdatedAt: a.UpdatedAt},
		StudentID:           a.StudentID,
		Status:              a.Status.String(),
		RejectionReason:     a.RejectionReason,
		ReviewedByManagerID: a.ReviewedByManagerID,
		ReviewedByAdminID:   a.ReviewedByAdminID,
		ForwardedAt:         a.ForwardedAt,
		IsPostedAsStudent:   a.IsPostedAsStudent,
		SubmittedAt:         a.SubmittedAt,
	}
	applyPayload(e, a.ApplicationPayload)
	return e
}

func applyPayload(e *ApplicationEntity, p model.ApplicationPayload) {
	e.FirstName = p.FirstName
	e.LastName = p.LastName
	e.Email = p.Email
	e.Phone = p.Phone
	e.DateOfBirth = p.DateOfBirth
	e.Gender = p.Gender
	e.Country = p.Country
	e.City = p.City
	e.FamilyBackground = p.FamilyBackground
	e.HouseholdSize = p.HouseholdSize
	e.Institution = p.Institution
	e.FieldOfStudy = p.FieldOfStudy
	e.AcademicLevel = p.AcademicLevel
	e.GPA = p.GPA
	e.FundingPurpose = p.FundingPurpose
	e.FundingRequested = int64(p.FundingRequested)
	e.Documents = nonNilStrings(p.Documents)
	e.Gallery = nonNilStrings(p.Gallery)
}

// payloadColumns is the column set replaced on resubmission.
func payloadColumns(p model.ApplicationPayload) map[string]any {
	e := &ApplicationEntity{}
	applyPayload(e, p)
	return map[string]any{
		"first_name":        e.FirstName,
		"last_name":         e.LastName,
		"email":             e.Email,
		"phone":             e.Phone,
		"date_of_birth":     e.DateOfBirth,
		"gender":            e.Gender,
		"country":           e.Country,
		"city":              e.City,
		"family_background": e.FamilyBackground,
		"household_size":    e.HouseholdSize,
		"institution":       e.Institution,
		"field_of_study":    e.FieldOfStudy,
		"academic_level":    e.AcademicLevel,
		"gpa":               e.GPA,
		"funding_purpose":   e.FundingPurpose,
		"funding_requested": e.FundingRequested,
		"documents":         e.Documents,
		"gallery":           e.Gallery,
	}
}

func toApplicationModel(e *ApplicationEntity) *model.Application {
	if e == nil {
		return nil
	}
	status, _ := model.ParseApplicationStatus(e.Status)
	return &model.Application{
		ID:                  e.ID,
		StudentID:           e.StudentID,
		Status:              status,
		RejectionReason:     e.RejectionReason,
		ReviewedByManagerID: e.ReviewedByManagerID,
		ReviewedByAdminID:   e.ReviewedByAdminID,
		ForwardedAt:         e.ForwardedAt,
		IsPostedAsStudent:   e.IsPostedAsStudent,
		SubmittedAt:         e.SubmittedAt,
		UpdatedAt:           e.UpdatedAt,
		ApplicationPayload: model.ApplicationPayload{
			FirstName:        e.FirstName,
			LastName:         e.LastName,
			Email:            e.Email,
			Phone:            e.Phone,
			DateOfBirth:      e.DateOfBirth,
			Gender:           e.Gender,
			Country:          e.Country,
			City:             e.City,
			FamilyBackground: e.FamilyBackground,
			HouseholdSize:    e.HouseholdSize,
			Institution:      e.Institution,
			FieldOfStudy:     e.FieldOfStudy,
			AcademicLevel:    e.AcademicLevel,
			GPA:              e.GPA,
			FundingPurpose:   e.FundingPurpose,
			FundingRequested: model.Cents(e.FundingRequested),
			Documents:        []string(e.Documents),
			Gallery:          []string(e.Gallery),
		},
	}
}

func toApplicationModels(entities []*ApplicationEntity) []*model.Application {
	models := make([]*model.Application, len(entities))
	for i, e := range entities {
		models[i] = toApplicationModel(e)
	}
	return models
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

type StatusHistoryEntity struct {
	pg.Model
	ApplicationID string `gorm:"column:application_id;type:varchar(36);not null;index"`
	FromStatus    string `gorm:"column:from_status;type:varchar(16);not null"`
	ToStatus      string `gorm:"column:to_status;type:varchar(16);not null"`
	ActorID       string `gorm:"column:actor_id;type:varchar(64);not null"`
	ActorRole     string `gorm:"column:actor_role;type:varchar(16);not null"`
	Reason        string `gorm:"column:reason;not null;default:''"`
}

func (StatusHistoryEntity) TableName() string {
	return "application_status_history"
}

func toStatusHistoryModel(e *StatusHistoryEntity) *model.StatusHistory {
	from, _ := model.ParseApplicationStatus(e.FromStatus)
	to, _ := model.ParseApplicationStatus(e.ToStatus)
	return &model.StatusHistory{
		ID:            e.ID,
		ApplicationID: e.ApplicationID,
		FromStatus:    from,
		ToStatus:      to,
		ActorID:       e.ActorID,
		ActorRole:     model.Role(e.ActorRole),
		Reason:        e.Reason,
		CreatedAt:     e.CreatedAt,
	}
}
