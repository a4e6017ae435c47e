package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	gateway "github.com/nimasrn/sponsorship-gateway/internal/gateways"
	"github.com/nimasrn/sponsorship-gateway/internal/lock"
	"github.com/nimasrn/sponsorship-gateway/internal/model"
	"github.com/nimasrn/sponsorship-gateway/internal/repository"
	"github.com/nimasrn/sponsorship-gateway/internal/settlement"
	"github.com/nimasrn/sponsorship-gateway/pkg/logger"
	"github.com/nimasrn/sponsorship-gateway/pkg/prom"
	pkgerrors "github.com/pkg/errors"
)

const MobileMoneyPendingMessage = "check your phone to approve the payment"

type PayPalProvider interface {
	CreateOrder(ctx context.Context, donationID string, amount model.Cents, currency string) (*gateway.PayPalOrder, error)
	CaptureOrder(ctx context.Context, orderID string) (*gateway.PayPalCapture, error)
}

type MobileMoneyProvider interface {
	RequestToPay(ctx context.Context, p gateway.RequestToPayParams) (string, error)
	TransactionStatus(ctx context.Context, referenceID string) (*gateway.MobileMoneyStatus, error)
}

type DonationRepository interface {
	Create(ctx context.Context, d *model.Donation) (*model.Donation, error)
	Get(ctx context.Context, id string) (*model.Donation, error)
	GetByProviderTransactionID(ctx context.Context, transactionID string) (*model.Donation, error)
	GetByProviderOrderID(ctx context.Context, method model.PaymentMethod, orderID string) (*model.Donation, error)
	MarkPending(ctx context.Context, id, providerOrderID, providerTransactionID string) (*model.Donation, error)
	Finalize(ctx context.Context, p repository.FinalizeParams) (*repository.FinalizeResult, error)
}

type StudentLookup interface {
	Get(ctx context.Context, id string) (*model.StudentProfile, error)
}

type HandleStore interface {
	Bind(ctx context.Context, handle, donationID string) error
	Resolve(ctx context.Context, handle string) (string, error)
	Forget(ctx context.Context, handle string) error
}

type SettlementPublisher interface {
	PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error)
}

type PaymentConfig struct {
	// MobileMoneyCurrency is what the MobileMoney provider is billed in.
	// Donations are always recorded in USD.
	MobileMoneyCurrency string
}

// PaymentService turns a pledge into a settled donation. Every terminal
// write goes through DonationRepository.Finalize, which makes completion
// idempotent and attributes funds once.
type PaymentService struct {
	donations   DonationRepository
	students    StudentLookup
	handles     HandleStore
	paypal      PayPalProvider
	mobileMoney MobileMoneyProvider
	settlements SettlementPublisher
	cfg         PaymentConfig
	completing  *lock.KeyedMutex
	newID       func() string
}

func NewPaymentService(
	donations DonationRepository,
	students StudentLookup,
	handles HandleStore,
	paypal PayPalProvider,
	mobileMoney MobileMoneyProvider,
	settlements SettlementPublisher,
	cfg PaymentConfig,
) *PaymentService {
	if cfg.MobileMoneyCurrency == "" {
		cfg.MobileMoneyCurrency = model.DefaultCurrency
	}
	return &PaymentService{
		donations:   donations,
		students:    students,
		handles:     handles,
		paypal:      paypal,
		mobileMoney: mobileMoney,
		settlements: settlements,
		cfg:         cfg,
		completing:  lock.NewKeyedMutex(),
		newID:       uuid.NewString,
	}
}

// CreateOrder validates the pledge locally, records the donation and opens
// the order with the provider.
func (s *PaymentService) CreateOrder(ctx context.Context, req model.CreateOrderRequest) (*model.PaymentOrder, error) {
	amount, err := req.Validate()
	if err != nil {
		return nil, kind(ErrValidation, err.Error())
	}
	student, err := s.students.Get(ctx, req.StudentID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}

	d := &model.Donation{
		StudentID: student.ID,
		Amount:    amount,
		Currency:  model.DefaultCurrency,
		Method:    req.Method,
		DonorKind: req.Donor.Kind,
		Status:    model.DonationStatusPending,
	}
	if req.Donor.Kind == model.DonorRegistered {
		donorID := req.Donor.ID
		d.DonorID = &donorID
	}

	var order *model.PaymentOrder
	switch req.Method {
	case model.PaymentMethodPayPal:
		order, err = s.createPayPalOrder(ctx, d)
	case model.PaymentMethodMobileMoney:
		d.PhoneNumber = req.PhoneNumber
		order, err = s.createMobileMoneyOrder(ctx, d, student)
	}
	if err != nil {
		return nil, err
	}
	prom.IncDonationOrder(string(req.Method), string(req.Donor.Kind))
	return order, nil
}

// CreateGuestDonation is CreateOrder for a donor without an account.
func (s *PaymentService) CreateGuestDonation(ctx context.Context, studentID, amount string, method model.PaymentMethod, phone string) (*model.PaymentOrder, error) {
	return s.CreateOrder(ctx, model.CreateOrderRequest{
		StudentID:   studentID,
		Amount:      amount,
		Method:      method,
		Donor:       model.GuestDonor(),
		PhoneNumber: phone,
	})
}

func (s *PaymentService) createPayPalOrder(ctx context.Context, d *model.Donation) (*model.PaymentOrder, error) {
	// registered donors only reach Pending once PayPal accepted the order
	if d.DonorKind == model.DonorRegistered {
		d.Status = model.DonationStatusCreated
	}
	created, err := s.donations.Create(ctx, d)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "create donation")
	}
	log := logger.Named("payments").With("donation_id", created.ID, "method", string(created.Method))

	order, err := s.paypal.CreateOrder(ctx, created.ID, created.Amount, created.Currency)
	if err != nil {
		log.Error("paypal order creation failed", "error", err)
		s.fail(ctx, created.ID, "provider rejected order")
		return nil, ErrProvider
	}

	if _, err := s.donations.MarkPending(ctx, created.ID, order.ID, ""); err != nil {
		return nil, pkgerrors.Wrap(mapRepositoryError(err), "mark donation pending")
	}
	if err := s.handles.Bind(ctx, order.ID, created.ID); err != nil {
		return nil, pkgerrors.Wrap(err, "bind payment handle")
	}

	log.Info("paypal order opened", "order_id", order.ID, "donor_kind", string(created.DonorKind))
	return &model.PaymentOrder{
		DonationID:  created.ID,
		Method:      model.PaymentMethodPayPal,
		Status:      model.DonationStatusPending,
		Handle:      order.ID,
		ApprovalURL: order.ApprovalURL,
	}, nil
}

func (s *PaymentService) createMobileMoneyOrder(ctx context.Context, d *model.Donation, student *model.StudentProfile) (*model.PaymentOrder, error) {
	created, err := s.donations.Create(ctx, d)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "create donation")
	}
	log := logger.Named("payments").With("donation_id", created.ID, "method", string(created.Method))

	reference := s.newID()
	_, err = s.mobileMoney.RequestToPay(ctx, gateway.RequestToPayParams{
		ReferenceID:  reference,
		ExternalID:   created.ID,
		Amount:       created.Amount,
		Currency:     s.cfg.MobileMoneyCurrency,
		Phone:        created.PhoneNumber,
		PayerMessage: "Donation to " + student.FullName,
	})
	if err != nil {
		log.Error("mobile money request to pay failed", "error", err)
		s.fail(ctx, created.ID, "provider rejected payment request")
		return nil, ErrProvider
	}

	if _, err := s.donations.MarkPending(ctx, created.ID, reference, reference); err != nil {
		return nil, pkgerrors.Wrap(mapRepositoryError(err), "mark donation pending")
	}

	if s.settlements != nil {
		req := model.SettlementRequest{DonationID: created.ID, TransactionID: reference, RequestedAt: time.Now().UTC()}
		if _, err := s.settlements.PublishJSON(ctx, req, map[string]string{"donation_id": created.ID}); err != nil {
			// the reconciler picks up pending orders nobody polls
			log.Warn("failed to enqueue settlement", "error", err)
		}
	}

	log.Info("mobile money payment requested", "transaction_id", reference)
	return &model.PaymentOrder{
		DonationID:    created.ID,
		Method:        model.PaymentMethodMobileMoney,
		Status:        model.DonationStatusPending,
		TransactionID: reference,
		Message:       MobileMoneyPendingMessage,
	}, nil
}

// CaptureOrder captures a PayPal order a registered donor approved. Only the
// donor who opened the order may capture it. Capturing again returns the
// finalized donation.
func (s *PaymentService) CaptureOrder(ctx context.Context, donorID, handle string) (*model.Donation, error) {
	d, err := s.donationForHandle(ctx, handle)
	if err != nil {
		return nil, err
	}
	if d.DonorKind != model.DonorRegistered || d.DonorID == nil || *d.DonorID != donorID {
		return nil, ErrForbidden
	}
	return s.completeWithRecovery(ctx, d.ID, handle)
}

// donationForHandle resolves a PayPal order id. The binding is dropped once
// the order is captured or expires, after which the recorded order id is
// used.
func (s *PaymentService) donationForHandle(ctx context.Context, handle string) (*model.Donation, error) {
	donationID, err := s.handles.Resolve(ctx, handle)
	switch {
	case err == nil:
		return s.GetDonation(ctx, donationID)
	case !errors.Is(err, repository.ErrHandleNotFound):
		return nil, mapRepositoryError(err)
	}

	d, err := s.donations.GetByProviderOrderID(ctx, model.PaymentMethodPayPal, handle)
	if err != nil {
		if errors.Is(err, repository.ErrDonationNotFound) {
			return nil, ErrInvalidHandle
		}
		return nil, err
	}
	return d, nil
}

// CompleteGuestDonation captures a guest's PayPal order. When two
// completions race, the loser's capture fails at PayPal; it then finds the
// donation Completed and reports success as well.
func (s *PaymentService) CompleteGuestDonation(ctx context.Context, donationID, handle string) (*model.Donation, error) {
	if handle == "" {
		return nil, kind(ErrValidation, "orderId is required")
	}
	d, err := s.donations.Get(ctx, donationID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	if d.DonorKind != model.DonorGuest {
		return nil, ErrForbidden
	}
	return s.completeWithRecovery(ctx, donationID, handle)
}

// completeWithRecovery runs one capture per donation at a time in this
// process. A capture that lost to another instance is recovered by
// re-reading the donation. Requests rejected before reaching PayPal are
// never recovered.
func (s *PaymentService) completeWithRecovery(ctx context.Context, donationID, handle string) (*model.Donation, error) {
	unlock := s.completing.Lock(donationID)
	defer unlock()

	d, err := s.capture(ctx, donationID, handle)
	if err == nil {
		return d, nil
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden) {
		return nil, err
	}

	current, qerr := s.donations.Get(ctx, donationID)
	if qerr == nil && current.Status == model.DonationStatusCompleted {
		logger.Info("capture race recovered", "donation_id", donationID, "order_id", handle, "capture_error", err)
		return current, nil
	}
	if errors.Is(err, ErrConflict) {
		return nil, err
	}
	logger.Error("paypal capture failed", "donation_id", donationID, "order_id", handle, "error", err)
	return nil, ErrProvider
}

func (s *PaymentService) capture(ctx context.Context, donationID, handle string) (*model.Donation, error) {
	d, err := s.donations.Get(ctx, donationID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	if d.Method != model.PaymentMethodPayPal {
		return nil, kind(ErrValidation, "donation is not a paypal order")
	}
	if d.ProviderOrderID != handle {
		return nil, ErrInvalidHandle
	}
	if d.Status.Terminal() {
		return d, nil
	}

	captured, err := s.paypal.CaptureOrder(ctx, handle)
	if err != nil {
		return nil, err
	}
	if !captured.Status.Terminal() {
		return d, nil
	}

	reason := ""
	if captured.Status == model.DonationStatusFailed {
		reason = "capture " + captured.RawStatus
	}
	res, err := s.finalize(ctx, repository.FinalizeParams{
		ID:                    donationID,
		Status:                captured.Status,
		FailureReason:         reason,
		ProviderTransactionID: captured.CaptureID,
	})
	if err != nil {
		return nil, err
	}
	if err := s.handles.Forget(ctx, handle); err != nil {
		logger.Warn("failed to forget payment handle", "order_id", handle, "error", err)
	}
	return res.Donation, nil
}

func (s *PaymentService) GetDonation(ctx context.Context, id string) (*model.Donation, error) {
	d, err := s.donations.Get(ctx, id)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return d, nil
}

// MobileMoneyStatus asks the provider about a transaction and settles the
// donation when the answer is final.
func (s *PaymentService) MobileMoneyStatus(ctx context.Context, transactionID string) (*model.Donation, error) {
	d, err := s.donations.GetByProviderTransactionID(ctx, transactionID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return s.SettleMobileMoney(ctx, d.ID)
}

// SettleMobileMoney polls the provider once for the donation and finalizes
// it on a terminal answer. A still pending donation is returned as is.
func (s *PaymentService) SettleMobileMoney(ctx context.Context, donationID string) (*model.Donation, error) {
	d, err := s.donations.Get(ctx, donationID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	if d.Status.Terminal() {
		return d, nil
	}
	if d.Method != model.PaymentMethodMobileMoney {
		return nil, kind(ErrValidation, "donation is not a mobile money order")
	}
	if d.ProviderOrderID == "" {
		return d, nil
	}

	st, err := s.mobileMoney.TransactionStatus(ctx, d.ProviderOrderID)
	if err != nil {
		logger.Warn("mobile money status query failed", "donation_id", donationID, "error", err)
		return nil, pkgerrors.Wrap(ErrProvider, err.Error())
	}
	if !st.Status.Terminal() {
		return d, nil
	}

	res, err := s.finalize(ctx, repository.FinalizeParams{
		ID:                    donationID,
		Status:                st.Status,
		FailureReason:         st.Reason,
		ProviderTransactionID: st.FinancialTransactionID,
	})
	if err != nil {
		return nil, err
	}
	return res.Donation, nil
}

// SettlementChecker adapts SettleMobileMoney for the settlement poller.
func (s *PaymentService) SettlementChecker() settlement.Checker {
	return func(ctx context.Context, donationID string) (model.DonationStatus, error) {
		d, err := s.SettleMobileMoney(ctx, donationID)
		if err != nil {
			return model.DonationStatusPending, err
		}
		return d.Status, nil
	}
}

func (s *PaymentService) finalize(ctx context.Context, p repository.FinalizeParams) (*repository.FinalizeResult, error) {
	res, err := s.donations.Finalize(ctx, p)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	if res.Applied {
		logger.Info("donation finalized", "donation_id", p.ID, "status", p.Status.String(), "attributed", res.Attributed)
	}
	if res.Attributed {
		prom.AddAttributedCents(int64(res.Donation.Amount))
	}
	return res, nil
}

// fail marks a donation Failed after the provider turned it down. The
// error is only logged, the caller already reports the provider failure.
func (s *PaymentService) fail(ctx context.Context, donationID, reason string) {
	_, err := s.donations.Finalize(context.WithoutCancel(ctx), repository.FinalizeParams{
		ID:            donationID,
		Status:        model.DonationStatusFailed,
		FailureReason: reason,
	})
	if err != nil {
		logger.Error("failed to mark donation failed", "donation_id", donationID, "error", err)
	}
}
