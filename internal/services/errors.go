package services

import (
	"errors"

	"github.com/nimasrn/sponsorship-gateway/internal/repository"
)

// Error kinds. Handlers map them to HTTP statuses with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrForbidden  = errors.New("forbidden")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrProvider   = errors.New("payment provider unavailable, please retry")
	ErrTimeout    = errors.New("timed out")
)

var (
	ErrReasonRequired           = kind(ErrValidation, "a non-empty reason is required")
	ErrConfirmationRequired     = kind(ErrValidation, "deletion must be confirmed")
	ErrInvalidTransition        = kind(ErrValidation, "transition not allowed from the current status")
	ErrNotResubmittable         = kind(ErrValidation, "only rejected or incomplete applications can be resubmitted")
	ErrApplicationNotFound      = kind(ErrNotFound, "application not found")
	ErrStudentNotFound          = kind(ErrNotFound, "student not found")
	ErrDonationNotFound         = kind(ErrNotFound, "donation not found")
	ErrApplicationUnderReview   = kind(ErrConflict, "your application is under review, please wait")
	ErrApplicationAlreadyPosted = kind(ErrConflict, "your application was already posted, it cannot be resubmitted")
	ErrAlreadyPosted            = kind(ErrConflict, "application already posted as student")
	ErrNotApproved              = kind(ErrValidation, "application is not approved")
	ErrPublishInProgress        = kind(ErrConflict, "publication already in progress")
	ErrDonationFinalized        = kind(ErrConflict, "donation already finalized")
	ErrInvalidHandle            = kind(ErrNotFound, "unknown payment order")
)

// kindError is a specific error that also matches its kind.
type kindError struct {
	kind error
	msg  string
}

func kind(k error, msg string) error { return &kindError{kind: k, msg: msg} }

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Is(target error) bool { return target == e.kind }

// mapRepositoryError translates repository sentinels into service kinds.
func mapRepositoryError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrApplicationNotFound):
		return ErrApplicationNotFound
	case errors.Is(err, repository.ErrStudentNotFound):
		return ErrStudentNotFound
	case errors.Is(err, repository.ErrDonationNotFound):
		return ErrDonationNotFound
	case errors.Is(err, repository.ErrInvalidTransition):
		return ErrInvalidTransition
	case errors.Is(err, repository.ErrAlreadyPosted):
		return ErrAlreadyPosted
	case errors.Is(err, repository.ErrNotApproved):
		return ErrNotApproved
	case errors.Is(err, repository.ErrDonationFinalized):
		return ErrDonationFinalized
	case errors.Is(err, repository.ErrDuplicateEmail):
		return ErrApplicationUnderReview
	case errors.Is(err, repository.ErrHandleNotFound):
		return ErrInvalidHandle
	case errors.Is(err, repository.ErrMaxRetriesExceeded):
		return kind(ErrConflict, err.Error())
	}
	return err
}
