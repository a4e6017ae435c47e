package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/nimasrn/sponsorship-gateway/internal/model"
	"github.com/nimasrn/sponsorship-gateway/pkg/pg"
	"gorm.io/gorm"
)

type ApplicationRepository struct {
	*pg.DB
	now func() time.Time
}

func NewApplicationRepository(db *pg.DB) *ApplicationRepository {
	return &ApplicationRepository{
		DB:  db,
		now: time.Now,
	}
}

// Transition describes a guarded status change. The update only lands when
// the row is still in one of From.
type Transition struct {
	ID     string
	From   []model.ApplicationStatus
	To     model.ApplicationStatus
	Actor  model.Actor
	Reason string
	// Set holds extra column updates applied together with the status.
	Set map[string]any
}

func (r *ApplicationRepository) Create(ctx context.Context, app *model.Application, actor model.Actor) (*model.Application, error) {
	entity := toApplicationEntity(app)
	entity.ID = ""
	entity.Status = model.ApplicationStatusPending.String()
	entity.IsPostedAsStudent = false
	entity.SubmittedAt = r.now().UTC()

	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := r.Write(ctx).Create(entity).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateEmail
			}
			return err
		}
		return r.appendHistory(ctx, entity.ID, model.ApplicationStatusPending, model.ApplicationStatusPending, actor, "submitted")
	})
	if err != nil {
		return nil, err
	}
	return toApplicationModel(entity), nil
}

func (r *ApplicationRepository) Get(ctx context.Context, id string) (*model.Application, error) {
	var entity ApplicationEntity
	err := r.Read(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrApplicationNotFound
		}
		return nil, err
	}
	return toApplicationModel(&entity), nil
}

func (r *ApplicationRepository) GetByEmail(ctx context.Context, email string) (*model.Application, error) {
	var entity ApplicationEntity
	err := r.Read(ctx).Where("email = ?", email).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrApplicationNotFound
		}
		return nil, err
	}
	return toApplicationModel(&entity), nil
}

func (r *ApplicationRepository) List(ctx context.Context, filter model.ApplicationFilter) ([]*model.Application, error) {
	q := r.Read(ctx).Model(&ApplicationEntity{})
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN ?", statusNames(filter.Statuses))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	var entities []*ApplicationEntity
	err := q.Order("submitted_at ASC").Limit(limit).Offset(filter.Offset).Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toApplicationModels(entities), nil
}

func (r *ApplicationRepository) History(ctx context.Context, applicationID string) ([]*model.StatusHistory, error) {
	var entities []*StatusHistoryEntity
	err := r.Read(ctx).
		Where("application_id = ?", applicationID).
		Order("created_at ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	out := make([]*model.StatusHistory, len(entities))
	for i, e := range entities {
		out[i] = toStatusHistoryModel(e)
	}
	return out, nil
}

// Apply performs the transition, retrying when another writer moved the
// row between the read and the conditional update.
func (r *ApplicationRepository) Apply(ctx context.Context, t Transition) (*model.Application, error) {
	const maxRetries = 3
	const baseDelay = 2 * time.Millisecond

	for attempt := 0; attempt <= maxRetries; attempt++ {
		app, err := r.applyAttempt(ctx, t)
		if err == nil {
			return app, nil
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
	return nil, fmt.Errorf("%w: transition %s -> %s", ErrMaxRetriesExceeded, t.ID, t.To)
}

func (r *ApplicationRepository) applyAttempt(ctx context.Context, t Transition) (*model.Application, error) {
	var result *model.Application
	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		var current ApplicationEntity
		if err := r.Write(ctx).Where("id = ?", t.ID).First(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrApplicationNotFound
			}
			return err
		}

		from, _ := model.ParseApplicationStatus(current.Status)
		if current.IsPostedAsStudent || !slices.Contains(t.From, from) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, t.To)
		}

		updates := make(map[string]any, len(t.Set)+1)
		for k, v := range t.Set {
			updates[k] = v
		}
		updates["status"] = t.To.String()

		res := r.Write(ctx).Model(&ApplicationEntity{}).
			Where("id = ? AND status = ? AND is_posted_as_student = ?", t.ID, current.Status, false).
			Updates(updates)
		if res.Error != nil {
			if isUniqueViolation(res.Error) {
				return ErrDuplicateEmail
			}
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConcurrentUpdate
		}

		if err := r.appendHistory(ctx, t.ID, from, t.To, t.Actor, t.Reason); err != nil {
			return err
		}

		var updated ApplicationEntity
		if err := r.Write(ctx).Where("id = ?", t.ID).First(&updated).Error; err != nil {
			return err
		}
		result = toApplicationModel(&updated)
		return nil
	})
	return result, err
}

// Resubmit replaces the payload of a Rejected or Incomplete application and
// puts it back to Pending with the review trail cleared.
func (r *ApplicationRepository) Resubmit(ctx context.Context, id string, payload model.ApplicationPayload, actor model.Actor) (*model.Application, error) {
	set := payloadColumns(payload)
	set["rejection_reason"] = nil
	set["reviewed_by_manager_id"] = nil
	set["reviewed_by_admin_id"] = nil
	set["forwarded_at"] = nil
	set["submitted_at"] = r.now().UTC()

	return r.Apply(ctx, Transition{
		ID:     id,
		From:   []model.ApplicationStatus{model.ApplicationStatusRejected, model.ApplicationStatusIncomplete},
		To:     model.ApplicationStatusPending,
		Actor:  actor,
		Reason: "resubmitted",
		Set:    set,
	})
}

// Forward records the manager hand-off without changing the status.
func (r *ApplicationRepository) Forward(ctx context.Context, id string, actor model.Actor) (*model.Application, error) {
	return r.Apply(ctx, Transition{
		ID:     id,
		From:   []model.ApplicationStatus{model.ApplicationStatusUnderReview},
		To:     model.ApplicationStatusUnderReview,
		Actor:  actor,
		Reason: "forwarded to admin",
		Set: map[string]any{
			"reviewed_by_manager_id": actor.ID,
			"forwarded_at":           r.now().UTC(),
		},
	})
}

// Delete removes a Rejected application together with its history.
func (r *ApplicationRepository) Delete(ctx context.Context, id string) error {
	return r.WithinTransaction(ctx, func(ctx context.Context) error {
		var current ApplicationEntity
		if err := r.Write(ctx).Where("id = ?", id).First(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrApplicationNotFound
			}
			return err
		}
		if current.Status != model.ApplicationStatusRejected.String() {
			return fmt.Errorf("%w: delete from %s", ErrInvalidTransition, current.Status)
		}

		res := r.Write(ctx).
			Where("id = ? AND status = ?", id, model.ApplicationStatusRejected.String()).
			Delete(&ApplicationEntity{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: application changed before delete", ErrInvalidTransition)
		}
		return r.Write(ctx).Where("application_id = ?", id).Delete(&StatusHistoryEntity{}).Error
	})
}

// MarkPosted flips is_posted_as_student for an Approved, not yet posted
// application. Callers run it inside the transaction that creates the
// student profile.
func (r *ApplicationRepository) MarkPosted(ctx context.Context, id string, actor model.Actor) error {
	res := r.Write(ctx).Model(&ApplicationEntity{}).
		Where("id = ? AND status = ? AND is_posted_as_student = ?", id, model.ApplicationStatusApproved.String(), false).
		Updates(map[string]any{"is_posted_as_student": true})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return r.appendHistory(ctx, id, model.ApplicationStatusApproved, model.ApplicationStatusApproved, actor, "posted as student")
	}

	var current ApplicationEntity
	if err := r.Write(ctx).Where("id = ?", id).First(&current).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrApplicationNotFound
		}
		return err
	}
	if current.IsPostedAsStudent {
		return ErrAlreadyPosted
	}
	return ErrNotApproved
}

func (r *ApplicationRepository) appendHistory(ctx context.Context, id string, from, to model.ApplicationStatus, actor model.Actor, reason string) error {
	return r.Write(ctx).Create(&StatusHistoryEntity{
		ApplicationID: id,
		FromStatus:    from.String(),
		ToStatus:      to.String(),
		ActorID:       actor.ID,
		ActorRole:     string(actor.Role),
		Reason:        reason,
	}).Error
}

func statusNames(statuses []model.ApplicationStatus) []string {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = s.String()
	}
	return names
}
