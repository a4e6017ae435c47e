package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type ApplicationStatus int

// The numeric values are the legacy encoding and must not be reordered.
const (
	ApplicationStatusPending ApplicationStatus = iota
	ApplicationStatusUnderReview
	ApplicationStatusApproved
	ApplicationStatusRejected
	ApplicationStatusIncomplete
)

var applicationStatusNames = [...]string{
	ApplicationStatusPending:     "Pending",
	ApplicationStatusUnderReview: "UnderReview",
	ApplicationStatusApproved:    "Approved",
	ApplicationStatusRejected:    "Rejected",
	ApplicationStatusIncomplete:  "Incomplete",
}

var applicationStatusByToken = func() map[string]ApplicationStatus {
	m := make(map[string]ApplicationStatus, len(applicationStatusNames))
	for i, name := range applicationStatusNames {
		m[normalizeToken(name)] = ApplicationStatus(i)
	}
	return m
}()

func (s ApplicationStatus) Valid() bool {
	return s >= ApplicationStatusPending && s <= ApplicationStatusIncomplete
}

func (s ApplicationStatus) String() string {
	if !s.Valid() {
		return fmt.Sprintf("ApplicationStatus(%d)", int(s))
	}
	return applicationStatusNames[s]
}

// ParseApplicationStatus accepts the canonical name in any casing or
// separator style, or the legacy integer.
func ParseApplicationStatus(raw string) (ApplicationStatus, error) {
	if n, ok := parseLegacyInt(raw); ok {
		if s := ApplicationStatus(n); s.Valid() {
			return s, nil
		}
		return 0, fmt.Errorf("unknown application status %q", raw)
	}
	if s, ok := applicationStatusByToken[normalizeToken(raw)]; ok {
		return s, nil
	}
	return 0, fmt.Errorf("unknown application status %q", raw)
}

func (s ApplicationStatus) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid application status %d", int(s))
	}
	return json.Marshal(s.String())
}

func (s *ApplicationStatus) UnmarshalJSON(data []byte) error {
	parsed, err := ParseApplicationStatus(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// CanResubmit reports whether a student may replace the payload from this state.
func (s ApplicationStatus) CanResubmit() bool {
	return s == ApplicationStatusRejected || s == ApplicationStatusIncomplete
}

type Application struct {
	ID                  string            `json:"id"`
	StudentID           string            `json:"studentId"`
	Status              ApplicationStatus `json:"status"`
	RejectionReason     *string           `json:"rejectionReason"`
	ReviewedByManagerID *string           `json:"reviewedByManagerId"`
	ReviewedByAdminID   *string           `json:"reviewedByAdminId"`
	ForwardedAt         *time.Time        `json:"forwardedAt"`
	IsPostedAsStudent   bool              `json:"isPostedAsStudent"`
	SubmittedAt         time.Time         `json:"submittedAt"`
	UpdatedAt           time.Time         `json:"updatedAt"`
	ApplicationPayload
}

// ApplicationPayload is the student supplied, mutable part of an application.
// Resubmission replaces all of it.
type ApplicationPayload struct {
	FirstName        string   `json:"firstName"`
	LastName         string   `json:"lastName"`
	Email            string   `json:"email"`
	Phone            string   `json:"phone"`
	DateOfBirth      string   `json:"dateOfBirth"`
	Gender           string   `json:"gender"`
	Country          string   `json:"country"`
	City             string   `json:"city"`
	FamilyBackground string   `json:"familyBackground"`
	HouseholdSize    int      `json:"householdSize"`
	Institution      string   `json:"institution"`
	FieldOfStudy     string   `json:"fieldOfStudy"`
	AcademicLevel    string   `json:"academicLevel"`
	GPA              string   `json:"gpa"`
	FundingPurpose   string   `json:"fundingPurpose"`
	FundingRequested Cents    `json:"fundingRequested"`
	Documents        []string `json:"documents"`
	Gallery          []string `json:"gallery"`
}

func (p *ApplicationPayload) Normalize() {
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
}

func (p ApplicationPayload) Validate() error {
	if p.FirstName == "" || p.LastName == "" {
		return fmt.Errorf("first and last name are required")
	}
	if p.Email == "" || !strings.Contains(p.Email, "@") {
		return fmt.Errorf("a valid email is required")
	}
	if p.Institution == "" {
		return fmt.Errorf("institution is required")
	}
	if p.FundingPurpose == "" {
		return fmt.Errorf("funding purpose is required")
	}
	if p.FundingRequested <= 0 {
		return fmt.Errorf("funding requested must be positive")
	}
	if p.HouseholdSize < 0 {
		return fmt.Errorf("household size cannot be negative")
	}
	return nil
}

func (a *Application) FullName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// ApplicationFilter controls List queries.
type ApplicationFilter struct {
	Statuses []ApplicationStatus
	Limit    int // default 50
	Offset   int
}

// ParseStatusList splits a comma separated status query value.
func ParseStatusList(raw string) ([]ApplicationStatus, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]ApplicationStatus, 0, len(parts))
	for _, p := range parts {
		s, err := ParseApplicationStatus(p)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

type StatusHistory struct {
	ID            string            `json:"id"`
	ApplicationID string            `json:"applicationId"`
	FromStatus    ApplicationStatus `json:"fromStatus"`
	ToStatus      ApplicationStatus `json:"toStatus"`
	ActorID       string            `json:"actorId"`
	ActorRole     Role              `json:"actorRole"`
	Reason        string            `json:"reason,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
}
