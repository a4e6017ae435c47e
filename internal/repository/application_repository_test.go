package repository

import (
	"context"
	"testing"

	"github.com/nimasrn/sponsorship-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	studentActor = model.Actor{ID: "stu-1", Role: model.RoleStudent}
	managerActor = model.Actor{ID: "mgr-1", Role: model.RoleManager}
	adminActor   = model.Actor{ID: "adm-1", Role: model.RoleAdmin}
)

func newApplication(email string) *model.Application {
	return &model.Application{
		StudentID: "stu-1",
		ApplicationPayload: model.ApplicationPayload{
			FirstName:        "Amina",
			LastName:         "Uwase",
			Email:            email,
			Institution:      "University of Rwanda",
			FieldOfStudy:     "Medicine",
			FundingPurpose:   "tuition",
			FundingRequested: 150000,
			Documents:        []string{"https://blob.example/transcript.pdf"},
		},
	}
}

func TestApplicationRepository_Create(t *testing.T) {
	repo := NewApplicationRepository(NewTestDB(t))
	ctx := context.Background()

	t.Run("created pending with history", func(t *testing.T) {
		app, err := repo.Create(ctx, newApplication("a@example.org"), studentActor)
		require.NoError(t, err)
		assert.NotEmpty(t, app.ID)
		assert.Equal(t, model.ApplicationStatusPending, app.Status)
		assert.False(t, app.IsPostedAsStudent)

		got, err := repo.Get(ctx, app.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"https://blob.example/transcript.pdf"}, got.Documents)
		assert.Equal(t, model.Cents(150000), got.FundingRequested)

		history, err := repo.History(ctx, app.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "submitted", history[0].Reason)
	})

	t.Run("duplicate email", func(t *testing.T) {
		_, err := repo.Create(ctx, newApplication("dup@example.org"), studentActor)
		require.NoError(t, err)
		_, err = repo.Create(ctx, newApplication("dup@example.org"), studentActor)
		assert.ErrorIs(t, err, ErrDuplicateEmail)
	})

	t.Run("get by email", func(t *testing.T) {
		_, err := repo.GetByEmail(ctx, "a@example.org")
		assert.NoError(t, err)
		_, err = repo.GetByEmail(ctx, "missing@example.org")
		assert.ErrorIs(t, err, ErrApplicationNotFound)
	})
}

func TestApplicationRepository_Apply(t *testing.T) {
	repo := NewApplicationRepository(NewTestDB(t))
	ctx := context.Background()

	app, err := repo.Create(ctx, newApplication("t@example.org"), studentActor)
	require.NoError(t, err)

	t.Run("allowed transition", func(t *testing.T) {
		updated, err := repo.Apply(ctx, Transition{
			ID:    app.ID,
			From:  []model.ApplicationStatus{model.ApplicationStatusPending},
			To:    model.ApplicationStatusUnderReview,
			Actor: managerActor,
		})
		require.NoError(t, err)
		assert.Equal(t, model.ApplicationStatusUnderReview, updated.Status)
	})

	t.Run("disallowed transition leaves status", func(t *testing.T) {
		_, err := repo.Apply(ctx, Transition{
			ID:    app.ID,
			From:  []model.ApplicationStatus{model.ApplicationStatusPending},
			To:    model.ApplicationStatusUnderReview,
			Actor: managerActor,
		})
		assert.ErrorIs(t, err, ErrInvalidTransition)

		got, err := repo.Get(ctx, app.ID)
		require.NoError(t, err)
		assert.Equal(t, model.ApplicationStatusUnderReview, got.Status)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := repo.Apply(ctx, Transition{
			ID:   "missing",
			From: []model.ApplicationStatus{model.ApplicationStatusPending},
			To:   model.ApplicationStatusApproved,
		})
		assert.ErrorIs(t, err, ErrApplicationNotFound)
	})

	t.Run("reject with reason then resubmit", func(t *testing.T) {
		reason := "missing transcript"
		rejected, err := repo.Apply(ctx, Transition{
			ID:     app.ID,
			From:   []model.ApplicationStatus{model.ApplicationStatusPending, model.ApplicationStatusUnderReview},
			To:     model.ApplicationStatusIncomplete,
			Actor:  managerActor,
			Reason: reason,
			Set:    map[string]any{"rejection_reason": reason, "reviewed_by_manager_id": managerActor.ID},
		})
		require.NoError(t, err)
		require.NotNil(t, rejected.RejectionReason)
		assert.Equal(t, reason, *rejected.RejectionReason)

		payload := newApplication("t@example.org").ApplicationPayload
		payload.Documents = []string{"https://blob.example/transcript-v2.pdf"}
		resubmitted, err := repo.Resubmit(ctx, app.ID, payload, studentActor)
		require.NoError(t, err)
		assert.Equal(t, app.ID, resubmitted.ID)
		assert.Equal(t, model.ApplicationStatusPending, resubmitted.Status)
		assert.Nil(t, resubmitted.RejectionReason)
		assert.Nil(t, resubmitted.ReviewedByManagerID)
		assert.Equal(t, payload.Documents, resubmitted.Documents)
	})

	t.Run("history records every step", func(t *testing.T) {
		history, err := repo.History(ctx, app.ID)
		require.NoError(t, err)
		require.Len(t, history, 4)
		assert.Equal(t, model.ApplicationStatusIncomplete, history[2].ToStatus)
		assert.Equal(t, model.ApplicationStatusPending, history[3].ToStatus)
	})
}

func TestApplicationRepository_Forward(t *testing.T) {
	repo := NewApplicationRepository(NewTestDB(t))
	ctx := context.Background()

	app, err := repo.Create(ctx, newApplication("f@example.org"), studentActor)
	require.NoError(t, err)

	_, err = repo.Forward(ctx, app.ID, managerActor)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = repo.Apply(ctx, Transition{ID: app.ID, From: []model.ApplicationStatus{model.ApplicationStatusPending}, To: model.ApplicationStatusUnderReview, Actor: managerActor})
	require.NoError(t, err)

	forwarded, err := repo.Forward(ctx, app.ID, managerActor)
	require.NoError(t, err)
	assert.Equal(t, model.ApplicationStatusUnderReview, forwarded.Status)
	require.NotNil(t, forwarded.ReviewedByManagerID)
	assert.Equal(t, managerActor.ID, *forwarded.ReviewedByManagerID)
	assert.NotNil(t, forwarded.ForwardedAt)
}

func TestApplicationRepository_Delete(t *testing.T) {
	repo := NewApplicationRepository(NewTestDB(t))
	ctx := context.Background()

	app, err := repo.Create(ctx, newApplication("d@example.org"), studentActor)
	require.NoError(t, err)

	t.Run("only from rejected", func(t *testing.T) {
		assert.ErrorIs(t, repo.Delete(ctx, app.ID), ErrInvalidTransition)
	})

	t.Run("rejected is removed", func(t *testing.T) {
		_, err := repo.Apply(ctx, Transition{
			ID:   app.ID,
			From: []model.ApplicationStatus{model.ApplicationStatusPending},
			To:   model.ApplicationStatusRejected,
			Set:  map[string]any{"rejection_reason": "not eligible"},
		})
		require.NoError(t, err)

		require.NoError(t, repo.Delete(ctx, app.ID))
		_, err = repo.Get(ctx, app.ID)
		assert.ErrorIs(t, err, ErrApplicationNotFound)

		history, err := repo.History(ctx, app.ID)
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("missing", func(t *testing.T) {
		assert.ErrorIs(t, repo.Delete(ctx, "missing"), ErrApplicationNotFound)
	})
}

func TestApplicationRepository_MarkPosted(t *testing.T) {
	db := NewTestDB(t)
	repo := NewApplicationRepository(db)
	ctx := context.Background()

	app, err := repo.Create(ctx, newApplication("p@example.org"), studentActor)
	require.NoError(t, err)

	assert.ErrorIs(t, repo.MarkPosted(ctx, app.ID, adminActor), ErrNotApproved)
	assert.ErrorIs(t, repo.MarkPosted(ctx, "missing", adminActor), ErrApplicationNotFound)

	_, err = repo.Apply(ctx, Transition{ID: app.ID, From: []model.ApplicationStatus{model.ApplicationStatusPending}, To: model.ApplicationStatusApproved, Actor: adminActor})
	require.NoError(t, err)

	require.NoError(t, repo.MarkPosted(ctx, app.ID, adminActor))
	assert.ErrorIs(t, repo.MarkPosted(ctx, app.ID, adminActor), ErrAlreadyPosted)

	got, err := repo.Get(ctx, app.ID)
	require.NoError(t, err)
	assert.True(t, got.IsPostedAsStudent)
	assert.Equal(t, model.ApplicationStatusApproved, got.Status)

	// posted applications are frozen
	_, err = repo.Apply(ctx, Transition{ID: app.ID, From: []model.ApplicationStatus{model.ApplicationStatusApproved}, To: model.ApplicationStatusRejected})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestApplicationRepository_List(t *testing.T) {
	repo := NewApplicationRepository(NewTestDB(t))
	ctx := context.Background()

	a, err := repo.Create(ctx, newApplication("l1@example.org"), studentActor)
	require.NoError(t, err)
	_, err = repo.Create(ctx, newApplication("l2@example.org"), studentActor)
	require.NoError(t, err)
	_, err = repo.Apply(ctx, Transition{ID: a.ID, From: []model.ApplicationStatus{model.ApplicationStatusPending}, To: model.ApplicationStatusUnderReview})
	require.NoError(t, err)

	all, err := repo.List(ctx, model.ApplicationFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	review, err := repo.List(ctx, model.ApplicationFilter{Statuses: []model.ApplicationStatus{model.ApplicationStatusUnderReview}})
	require.NoError(t, err)
	require.Len(t, review, 1)
	assert.Equal(t, a.ID, review[0].ID)

	both, err := repo.List(ctx, model.ApplicationFilter{Statuses: []model.ApplicationStatus{model.ApplicationStatusUnderReview, model.ApplicationStatusPending}})
	require.NoError(t, err)
	assert.Len(t, both, 2)
}
