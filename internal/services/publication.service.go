package services

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/sponsorship-gateway/internal/lock"
	"github.com/nimasrn/sponsorship-gateway/internal/model"
	"github.com/nimasrn/sponsorship-gateway/pkg/logger"
)

type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type PublicationApplicationRepository interface {
	Get(ctx context.Context, id string) (*model.Application, error)
	MarkPosted(ctx context.Context, id string, actor model.Actor) error
}

type StudentRepository interface {
	Create(ctx context.Context, profile *model.StudentProfile) (*model.StudentProfile, error)
	Get(ctx context.Context, id string) (*model.StudentProfile, error)
	GetByApplicationID(ctx context.Context, applicationID string) (*model.StudentProfile, error)
}

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*lock.Lease, error)
}

// PublicationService turns an approved application into a public student
// profile, exactly once.
type PublicationService struct {
	tx       Transactor
	apps     PublicationApplicationRepository
	students StudentRepository
	locker   Locker
	keyed    *lock.KeyedMutex
	lockTTL  time.Duration
	lockWait time.Duration
}

func NewPublicationService(tx Transactor, apps PublicationApplicationRepository, students StudentRepository, locker Locker, lockTTL time.Duration) *PublicationService {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &PublicationService{
		tx:       tx,
		apps:     apps,
		students: students,
		locker:   locker,
		keyed:    lock.NewKeyedMutex(),
		lockTTL:  lockTTL,
		lockWait: 2 * time.Second,
	}
}

// Publish posts the application as a student. Callers for one application
// queue on an in-process mutex and, across instances, on a redis lock; the
// posted flag and the profile row are written in one transaction, so
// whoever comes second sees ErrAlreadyPosted.
func (s *PublicationService) Publish(ctx context.Context, actor model.Actor, applicationID string) (*model.StudentProfile, error) {
	if !actor.Is(model.RoleAdmin) {
		return nil, ErrForbidden
	}

	unlock := s.keyed.Lock(applicationID)
	defer unlock()

	lease, err := s.acquire(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = lease.Release(context.WithoutCancel(ctx))
	}()

	app, err := s.apps.Get(ctx, applicationID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	if app.IsPostedAsStudent {
		return nil, ErrAlreadyPosted
	}
	if app.Status != model.ApplicationStatusApproved {
		return nil, ErrNotApproved
	}

	var profile *model.StudentProfile
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.apps.MarkPosted(ctx, applicationID, actor); err != nil {
			return err
		}
		created, err := s.students.Create(ctx, model.NewStudentProfile(app))
		if err != nil {
			return err
		}
		profile = created
		return nil
	})
	if err != nil {
		return nil, mapRepositoryError(err)
	}

	logger.Info("application posted as student", "application_id", applicationID, "student_id", profile.ID, "admin_id", actor.ID)
	return profile, nil
}

// acquire waits a little for another instance to finish publishing the
// same application before giving up.
func (s *PublicationService) acquire(ctx context.Context, applicationID string) (*lock.Lease, error) {
	if s.locker == nil {
		return nil, nil
	}
	key := "publish:" + applicationID
	deadline := time.Now().Add(s.lockWait)
	delay := 10 * time.Millisecond
	for {
		lease, err := s.locker.Acquire(ctx, key, s.lockTTL)
		if err == nil {
			return lease, nil
		}
		if !errors.Is(err, lock.ErrNotAcquired) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, ErrPublishInProgress
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		if delay < 200*time.Millisecond {
			delay *= 2
		}
	}
}

// Student returns a published profile with its running totals.
func (s *PublicationService) Student(ctx context.Context, id string) (*model.StudentProfile, error) {
	profile, err := s.students.Get(ctx, id)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return profile, nil
}

func (s *PublicationService) StudentByApplication(ctx context.Context, applicationID string) (*model.StudentProfile, error) {
	profile, err := s.students.GetByApplicationID(ctx, applicationID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return profile, nil
}
