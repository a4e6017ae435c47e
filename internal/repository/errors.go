package repository

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrApplicationNotFound = errors.New("application not found")
	ErrInvalidTransition   = errors.New("transition not allowed from current status")
	ErrDuplicateEmail      = errors.New("an application with this email already exists")
	ErrAlreadyPosted       = errors.New("application already posted as student")
	ErrNotApproved         = errors.New("application is not approved")
	ErrStudentNotFound     = errors.New("student profile not found")
	ErrDonationNotFound    = errors.New("donation not found")
	ErrDonationFinalized   = errors.New("donation already finalized with a different status")
	ErrConcurrentUpdate    = errors.New("concurrent update detected")
	ErrMaxRetriesExceeded  = errors.New("max retries exceeded")
)

// isUniqueViolation matches duplicate key errors from postgres and sqlite,
// which gorm only translates when TranslateError is enabled.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint failed")
}
