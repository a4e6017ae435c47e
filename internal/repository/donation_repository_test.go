package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nimasrn/sponsorship-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type donationFixture struct {
	students  *StudentRepository
	donations *DonationRepository
	student   *model.StudentProfile
}

func setupDonations(t *testing.T) *donationFixture {
	db := NewTestDB(t)
	apps := NewApplicationRepository(db)
	students := NewStudentRepository(db)
	return &donationFixture{
		students:  students,
		donations: NewDonationRepository(db, students),
		student:   seedStudent(t, apps, students, "donations@example.org"),
	}
}

func (f *donationFixture) create(t *testing.T, method model.PaymentMethod, status model.DonationStatus) *model.Donation {
	t.Helper()
	d, err := f.donations.Create(context.Background(), &model.Donation{
		StudentID:   f.student.ID,
		Amount:      5000,
		Method:      method,
		DonorKind:   model.DonorGuest,
		PhoneNumber: "250788123456",
		Status:      status,
	})
	require.NoError(t, err)
	return d
}

func TestDonationRepository_Create(t *testing.T) {
	f := setupDonations(t)
	d := f.create(t, model.PaymentMethodPayPal, model.DonationStatusPending)

	assert.NotEmpty(t, d.ID)
	assert.Equal(t, "USD", d.Currency)

	got, err := f.donations.Get(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DonationStatusPending, got.Status)
	assert.Equal(t, model.Cents(5000), got.Amount)

	_, err = f.donations.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrDonationNotFound)
}

func TestDonationRepository_MarkPending(t *testing.T) {
	f := setupDonations(t)
	ctx := context.Background()
	d := f.create(t, model.PaymentMethodMobileMoney, model.DonationStatusCreated)

	updated, err := f.donations.MarkPending(ctx, d.ID, "order-1", "tx-1")
	require.NoError(t, err)
	assert.Equal(t, model.DonationStatusPending, updated.Status)
	assert.Equal(t, "order-1", updated.ProviderOrderID)
	require.NotNil(t, updated.ProviderTransactionID)

	byTx, err := f.donations.GetByProviderTransactionID(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, d.ID, byTx.ID)

	byOrder, err := f.donations.GetByProviderOrderID(ctx, model.PaymentMethodMobileMoney, "order-1")
	require.NoError(t, err)
	assert.Equal(t, d.ID, byOrder.ID)
	_, err = f.donations.GetByProviderOrderID(ctx, model.PaymentMethodPayPal, "order-1")
	assert.ErrorIs(t, err, ErrDonationNotFound)

	_, err = f.donations.Finalize(ctx, FinalizeParams{ID: d.ID, Status: model.DonationStatusFailed})
	require.NoError(t, err)
	_, err = f.donations.MarkPending(ctx, d.ID, "order-2", "")
	assert.ErrorIs(t, err, ErrDonationFinalized)
}

func TestDonationRepository_Finalize(t *testing.T) {
	ctx := context.Background()

	t.Run("completed attributes once", func(t *testing.T) {
		f := setupDonations(t)
		d := f.create(t, model.PaymentMethodPayPal, model.DonationStatusPending)

		res, err := f.donations.Finalize(ctx, FinalizeParams{ID: d.ID, Status: model.DonationStatusCompleted})
		require.NoError(t, err)
		assert.True(t, res.Applied)
		assert.True(t, res.Attributed)
		assert.NotNil(t, res.Donation.AttributedAt)

		again, err := f.donations.Finalize(ctx, FinalizeParams{ID: d.ID, Status: model.DonationStatusCompleted})
		require.NoError(t, err)
		assert.False(t, again.Applied)
		assert.False(t, again.Attributed)
		assert.Equal(t, model.DonationStatusCompleted, again.Donation.Status)

		student, err := f.students.Get(ctx, f.student.ID)
		require.NoError(t, err)
		assert.Equal(t, model.Cents(5000), student.AmountRaised)
		assert.Equal(t, int64(1), student.DonorCount)
	})

	t.Run("conflicting terminal write", func(t *testing.T) {
		f := setupDonations(t)
		d := f.create(t, model.PaymentMethodPayPal, model.DonationStatusPending)

		_, err := f.donations.Finalize(ctx, FinalizeParams{ID: d.ID, Status: model.DonationStatusCompleted})
		require.NoError(t, err)

		_, err = f.donations.Finalize(ctx, FinalizeParams{ID: d.ID, Status: model.DonationStatusFailed, FailureReason: "late failure"})
		assert.ErrorIs(t, err, ErrDonationFinalized)

		got, err := f.donations.Get(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, model.DonationStatusCompleted, got.Status)
	})

	t.Run("failed does not attribute", func(t *testing.T) {
		f := setupDonations(t)
		d := f.create(t, model.PaymentMethodMobileMoney, model.DonationStatusPending)

		res, err := f.donations.Finalize(ctx, FinalizeParams{ID: d.ID, Status: model.DonationStatusFailed, FailureReason: "insufficient funds", ProviderTransactionID: "tx-9"})
		require.NoError(t, err)
		assert.True(t, res.Applied)
		assert.False(t, res.Attributed)
		assert.Equal(t, "insufficient funds", res.Donation.FailureReason)
		assert.Nil(t, res.Donation.AttributedAt)

		student, err := f.students.Get(ctx, f.student.ID)
		require.NoError(t, err)
		assert.Equal(t, model.Cents(0), student.AmountRaised)
	})

	t.Run("non terminal target", func(t *testing.T) {
		f := setupDonations(t)
		d := f.create(t, model.PaymentMethodPayPal, model.DonationStatusPending)
		_, err := f.donations.Finalize(ctx, FinalizeParams{ID: d.ID, Status: model.DonationStatusPending})
		assert.Error(t, err)
	})

	t.Run("missing", func(t *testing.T) {
		f := setupDonations(t)
		_, err := f.donations.Finalize(ctx, FinalizeParams{ID: "missing", Status: model.DonationStatusCompleted})
		assert.ErrorIs(t, err, ErrDonationNotFound)
	})

	t.Run("concurrent completions attribute once", func(t *testing.T) {
		f := setupDonations(t)
		d := f.create(t, model.PaymentMethodPayPal, model.DonationStatusPending)

		var wg sync.WaitGroup
		var mu sync.Mutex
		attributed := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := f.donations.Finalize(ctx, FinalizeParams{ID: d.ID, Status: model.DonationStatusCompleted})
				if assert.NoError(t, err) && res.Attributed {
					mu.Lock()
					attributed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, attributed)
		student, err := f.students.Get(ctx, f.student.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), student.DonorCount)
	})
}

func TestDonationRepository_ListStalePending(t *testing.T) {
	f := setupDonations(t)
	ctx := context.Background()

	stale := f.create(t, model.PaymentMethodMobileMoney, model.DonationStatusPending)
	f.create(t, model.PaymentMethodPayPal, model.DonationStatusPending)
	done := f.create(t, model.PaymentMethodMobileMoney, model.DonationStatusPending)
	_, err := f.donations.Finalize(ctx, FinalizeParams{ID: done.ID, Status: model.DonationStatusCompleted})
	require.NoError(t, err)

	list, err := f.donations.ListStalePending(ctx, model.PaymentMethodMobileMoney, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, stale.ID, list[0].ID)

	none, err := f.donations.ListStalePending(ctx, model.PaymentMethodMobileMoney, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
