package model

import "time"

// StudentProfile is the published snapshot of an approved application.
type StudentProfile struct {
	ID             string    `json:"id"`
	ApplicationID  string    `json:"applicationId"`
	FullName       string    `json:"fullName"`
	Institution    string    `json:"institution"`
	FieldOfStudy   string    `json:"fieldOfStudy"`
	FundingPurpose string    `json:"fundingPurpose"`
	FundingTarget  Cents     `json:"fundingTarget"`
	AmountRaised   Cents     `json:"amountRaised"`
	DonorCount     int64     `json:"donorCount"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func NewStudentProfile(app *Application) *StudentProfile {
	return &StudentProfile{
		ApplicationID:  app.ID,
		FullName:       app.FullName(),
		Institution:    app.Institution,
		FieldOfStudy:   app.FieldOfStudy,
		FundingPurpose: app.FundingPurpose,
		FundingTarget:  app.FundingRequested,
	}
}
