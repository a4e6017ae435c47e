package services

import (
	"context"
	"errors"
	"strings"

	"github.com/nimasrn/sponsorship-gateway/internal/model"
	"github.com/nimasrn/sponsorship-gateway/internal/repository"
	"github.com/nimasrn/sponsorship-gateway/pkg/logger"
	"github.com/nimasrn/sponsorship-gateway/pkg/prom"
)

type ApplicationRepository interface {
	Create(ctx context.Context, app *model.Application, actor model.Actor) (*model.Application, error)
	Get(ctx context.Context, id string) (*model.Application, error)
	GetByEmail(ctx context.Context, email string) (*model.Application, error)
	List(ctx context.Context, filter model.ApplicationFilter) ([]*model.Application, error)
	History(ctx context.Context, id string) ([]*model.StatusHistory, error)
	Apply(ctx context.Context, t repository.Transition) (*model.Application, error)
	Resubmit(ctx context.Context, id string, payload model.ApplicationPayload, actor model.Actor) (*model.Application, error)
	Forward(ctx context.Context, id string, actor model.Actor) (*model.Application, error)
	Delete(ctx context.Context, id string) error
}

// ApplicationService enforces who may move an application and where to.
// Every transition is a conditional update in the repository, so two
// reviewers acting at once cannot both win.
type ApplicationService struct {
	apps ApplicationRepository
}

func NewApplicationService(apps ApplicationRepository) *ApplicationService {
	return &ApplicationService{apps: apps}
}

var reviewable = []model.ApplicationStatus{model.ApplicationStatusPending, model.ApplicationStatusUnderReview}

// Submit creates the student's application. An email that already has one
// either resumes it (Rejected, Incomplete) or is turned away.
func (s *ApplicationService) Submit(ctx context.Context, actor model.Actor, payload model.ApplicationPayload) (*model.Application, error) {
	if !actor.Is(model.RoleStudent) {
		return nil, ErrForbidden
	}
	payload.Normalize()
	if err := payload.Validate(); err != nil {
		return nil, kind(ErrValidation, err.Error())
	}

	existing, err := s.apps.GetByEmail(ctx, payload.Email)
	switch {
	case err == nil:
		switch {
		case existing.Status.CanResubmit():
			return s.Resubmit(ctx, actor, existing.ID, payload)
		case existing.Status == model.ApplicationStatusApproved && existing.IsPostedAsStudent:
			return nil, ErrApplicationAlreadyPosted
		default:
			return nil, ErrApplicationUnderReview
		}
	case !errors.Is(err, repository.ErrApplicationNotFound):
		return nil, err
	}

	app, err := s.apps.Create(ctx, &model.Application{StudentID: actor.ID, ApplicationPayload: payload}, actor)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	prom.IncApplicationTransition(model.ApplicationStatusPending.String())
	logger.Info("application submitted", "application_id", app.ID, "student_id", actor.ID)
	return app, nil
}

// Resubmit replaces the whole payload of the student's own Rejected or
// Incomplete application and sends it back to Pending.
func (s *ApplicationService) Resubmit(ctx context.Context, actor model.Actor, id string, payload model.ApplicationPayload) (*model.Application, error) {
	if !actor.Is(model.RoleStudent) {
		return nil, ErrForbidden
	}
	payload.Normalize()
	if err := payload.Validate(); err != nil {
		return nil, kind(ErrValidation, err.Error())
	}

	app, err := s.apps.Get(ctx, id)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	if app.StudentID != actor.ID {
		return nil, ErrForbidden
	}
	if !app.Status.CanResubmit() {
		return nil, ErrNotResubmittable
	}

	updated, err := s.apps.Resubmit(ctx, id, payload, actor)
	if err != nil {
		// the status moved under us, e.g. the application was deleted
		if errors.Is(err, repository.ErrInvalidTransition) {
			return nil, ErrNotResubmittable
		}
		return nil, mapRepositoryError(err)
	}
	prom.IncApplicationTransition(model.ApplicationStatusPending.String())
	logger.Info("application resubmitted", "application_id", id, "previous_status", app.Status.String())
	return updated, nil
}

func (s *ApplicationService) StartReview(ctx context.Context, actor model.Actor, id string) (*model.Application, error) {
	if !actor.Is(model.RoleManager) {
		return nil, ErrForbidden
	}
	return s.transition(ctx, repository.Transition{
		ID:    id,
		From:  []model.ApplicationStatus{model.ApplicationStatusPending},
		To:    model.ApplicationStatusUnderReview,
		Actor: actor,
	})
}

func (s *ApplicationService) Approve(ctx context.Context, actor model.Actor, id string) (*model.Application, error) {
	if !actor.IsStaff() {
		return nil, ErrForbidden
	}
	return s.transition(ctx, repository.Transition{
		ID:    id,
		From:  reviewable,
		To:    model.ApplicationStatusApproved,
		Actor: actor,
		Set:   reviewerColumns(actor),
	})
}

func (s *ApplicationService) Reject(ctx context.Context, actor model.Actor, id, reason string) (*model.Application, error) {
	return s.closeWithReason(ctx, actor, id, reason, model.ApplicationStatusRejected)
}

func (s *ApplicationService) MarkIncomplete(ctx context.Context, actor model.Actor, id, reason string) (*model.Application, error) {
	return s.closeWithReason(ctx, actor, id, reason, model.ApplicationStatusIncomplete)
}

func (s *ApplicationService) closeWithReason(ctx context.Context, actor model.Actor, id, reason string, to model.ApplicationStatus) (*model.Application, error) {
	if !actor.IsStaff() {
		return nil, ErrForbidden
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}
	set := reviewerColumns(actor)
	set["rejection_reason"] = reason
	return s.transition(ctx, repository.Transition{
		ID:     id,
		From:   reviewable,
		To:     to,
		Actor:  actor,
		Reason: reason,
		Set:    set,
	})
}

// Forward hands an application under review over to the admins.
func (s *ApplicationService) Forward(ctx context.Context, actor model.Actor, id string) (*model.Application, error) {
	if !actor.Is(model.RoleManager) {
		return nil, ErrForbidden
	}
	app, err := s.apps.Forward(ctx, id, actor)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	logger.Info("application forwarded", "application_id", id, "manager_id", actor.ID)
	return app, nil
}

// Delete removes a Rejected application for good.
func (s *ApplicationService) Delete(ctx context.Context, actor model.Actor, id string, confirmed bool) error {
	if !actor.IsStaff() {
		return ErrForbidden
	}
	if !confirmed {
		return ErrConfirmationRequired
	}
	if err := s.apps.Delete(ctx, id); err != nil {
		return mapRepositoryError(err)
	}
	logger.Info("application deleted", "application_id", id, "actor_id", actor.ID)
	return nil
}

func (s *ApplicationService) Get(ctx context.Context, actor model.Actor, id string) (*model.Application, error) {
	app, err := s.apps.Get(ctx, id)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	if !canView(actor, app) {
		return nil, ErrForbidden
	}
	return app, nil
}

func (s *ApplicationService) List(ctx context.Context, actor model.Actor, filter model.ApplicationFilter) ([]*model.Application, error) {
	if !actor.IsStaff() {
		return nil, ErrForbidden
	}
	return s.apps.List(ctx, filter)
}

func (s *ApplicationService) History(ctx context.Context, actor model.Actor, id string) ([]*model.StatusHistory, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.apps.History(ctx, id)
}

func (s *ApplicationService) transition(ctx context.Context, t repository.Transition) (*model.Application, error) {
	app, err := s.apps.Apply(ctx, t)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	prom.IncApplicationTransition(t.To.String())
	logger.Info("application transitioned",
		"application_id", t.ID,
		"to", t.To.String(),
		"actor_id", t.Actor.ID,
		"actor_role", string(t.Actor.Role),
	)
	return app, nil
}

func reviewerColumns(actor model.Actor) map[string]any {
	if actor.Is(model.RoleAdmin) {
		return map[string]any{"reviewed_by_admin_id": actor.ID}
	}
	return map[string]any{"reviewed_by_manager_id": actor.ID}
}

func canView(actor model.Actor, app *model.Application) bool {
	if actor.IsStaff() {
		return true
	}
	return actor.Is(model.RoleStudent) && actor.ID == app.StudentID
}
