package payment

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/WoPay/WoPay-Gateway/db/store"
	"github.com/WoPay/WoPay-Gateway/services/monitoring/logging"
	"github.com/WoPay/WoPay-Gateway/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStore is the slice of the database layer the payment service needs.
type PaymentStore interface {
	CreatePaymentWithAddress(ctx context.Context, p store.CreatePaymentParams, a store.CreatePaymentAddressParams) (store.Payment, error)
	GetPayment(ctx context.Context, id uuid.UUID) (store.Payment, error)
	GetPaymentForMerchant(ctx context.Context, id, merchantID uuid.UUID) (store.Payment, error)
	ListPayments(ctx context.Context, arg store.ListPaymentsParams) ([]store.Payment, int64, error)
	AdvancePaymentStatus(ctx context.Context, arg store.AdvancePaymentStatusParams) (store.Payment, error)
	MarkExpiredPayments(ctx context.Context) ([]store.Payment, error)
}

// AddressDeriver hands out a fresh deposit address record bound to a payment.
// The record is persisted together with the payment row.
type AddressDeriver interface {
	NewDepositAddress(ctx context.Context, paymentID uuid.UUID) (store.CreatePaymentAddressParams, error)
}

// Notifier queues a merchant notification for a payment state change.
type Notifier interface {
	NotifyPaymentChange(ctx context.Context, p store.Payment)
}

// Watcher begins chain monitoring for a payment's deposit address.
type Watcher interface {
	Watch(p store.Payment)
}

type Service struct {
	store    PaymentStore
	deriver  AddressDeriver
	notifier Notifier
	watcher  Watcher
	chainID  uint64
	logger   *logging.Logger
}

func NewPaymentService(st PaymentStore, deriver AddressDeriver, notifier Notifier, chainID uint64, logger *logging.Logger) *Service {
	return &Service{
		store:    st,
		deriver:  deriver,
		notifier: notifier,
		chainID:  chainID,
		logger:   logger,
	}
}

// SetWatcher attaches the chain watcher after construction. The watcher needs
// this service to record confirmations, so the two are wired in two steps.
func (s *Service) SetWatcher(w Watcher) {
	s.watcher = w
}

type CreateInput struct {
	OrderID   string
	Amount    decimal.Decimal
	Currency  string
	ExpiresIn time.Duration
}

type CreatedPayment struct {
	Payment    store.Payment
	PaymentURI string
}

func (s *Service) Create(ctx context.Context, merchantID uuid.UUID, in CreateInput) (CreatedPayment, error) {
	currency, err := ParseCurrency(in.Currency)
	if err != nil {
		return CreatedPayment{}, err
	}
	if err := utils.ValidateOrderID(in.OrderID); err != nil {
		return CreatedPayment{}, err
	}
	if err := utils.ValidateAmountScale(in.Amount, currency.Decimals()); err != nil {
		return CreatedPayment{}, err
	}
	if in.Amount.LessThan(currency.MinAmount()) {
		return CreatedPayment{}, ErrAmountTooSmall
	}
	if in.Amount.GreaterThan(currency.MaxAmount()) {
		return CreatedPayment{}, ErrAmountTooLarge
	}

	expiresIn := in.ExpiresIn
	if expiresIn == 0 {
		expiresIn = DefaultExpiry
	}
	if expiresIn < time.Minute || expiresIn > MaxExpiry {
		return CreatedPayment{}, ErrInvalidExpiry
	}

	id := uuid.New()
	addr, err := s.deriver.NewDepositAddress(ctx, id)
	if err != nil {
		return CreatedPayment{}, err
	}

	p, err := s.store.CreatePaymentWithAddress(ctx, store.CreatePaymentParams{
		ID:             id,
		MerchantID:     merchantID,
		OrderID:        in.OrderID,
		Amount:         in.Amount,
		Currency:       string(currency),
		PaymentAddress: addr.Address,
		ExpiresAt:      sql.NullTime{Time: time.Now().Add(expiresIn), Valid: true},
	}, addr)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return CreatedPayment{}, ErrOrderIDTaken
		}
		return CreatedPayment{}, err
	}

	s.logger.WithField("payment_id", p.ID).
		WithField("merchant_id", merchantID).
		WithField("currency", p.Currency).
		Info("payment created")

	if s.watcher != nil {
		s.watcher.Watch(p)
	}
	if s.notifier != nil {
		s.notifier.NotifyPaymentChange(ctx, p)
	}

	return CreatedPayment{Payment: p, PaymentURI: s.URI(p)}, nil
}

// URI renders the wallet payment request for a stored payment.
func (s *Service) URI(p store.Payment) string {
	return PaymentURI(Currency(p.Currency), s.chainID, p.PaymentAddress, p.Amount)
}

func (s *Service) Get(ctx context.Context, merchantID, id uuid.UUID) (store.Payment, error) {
	p, err := s.store.GetPaymentForMerchant(ctx, id, merchantID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Payment{}, ErrPaymentNotFound
	}
	return p, err
}

type ListInput struct {
	Status    string
	Currency  string
	StartDate time.Time
	EndDate   time.Time
	Page      int32
	PageSize  int32
}

func (s *Service) List(ctx context.Context, merchantID uuid.UUID, in ListInput) ([]store.Payment, int64, error) {
	if in.Status != "" && !PaymentStatus(in.Status).Valid() {
		return nil, 0, ErrInvalidStatus
	}
	if in.Page < 1 {
		in.Page = 1
	}
	if in.PageSize < 1 || in.PageSize > 100 {
		in.PageSize = 20
	}
	arg := store.ListPaymentsParams{
		MerchantID: merchantID,
		Status:     in.Status,
		Currency:   in.Currency,
		Limit:      in.PageSize,
		Offset:     (in.Page - 1) * in.PageSize,
	}
	if !in.StartDate.IsZero() {
		arg.StartDate = sql.NullTime{Time: in.StartDate, Valid: true}
	}
	if !in.EndDate.IsZero() {
		arg.EndDate = sql.NullTime{Time: in.EndDate, Valid: true}
	}
	return s.store.ListPayments(ctx, arg)
}

// UpdateStatus advances a payment and reports whether anything changed.
// Terminal payments and stale observations are ignored at the database layer,
// so only a real transition triggers a merchant notification.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status PaymentStatus, txHash string, confirmations int32) (store.Payment, bool, error) {
	if !status.Valid() {
		return store.Payment{}, false, ErrInvalidStatus
	}
	arg := store.AdvancePaymentStatusParams{
		ID:     id,
		Status: string(status),
	}
	if txHash != "" {
		arg.TransactionHash = sql.NullString{String: txHash, Valid: true}
	}
	if confirmations >= 0 {
		arg.Confirmations = sql.NullInt32{Int32: confirmations, Valid: true}
	}

	p, err := s.store.AdvancePaymentStatus(ctx, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Payment{}, false, nil
	}
	if err != nil {
		return store.Payment{}, false, err
	}

	s.logger.WithField("payment_id", p.ID).
		WithField("status", p.Status).
		WithField("confirmations", p.Confirmations).
		Info("payment status advanced")

	if s.notifier != nil {
		s.notifier.NotifyPaymentChange(ctx, p)
	}
	return p, true, nil
}

// MarkExpired sweeps overdue pending payments into the expired status and
// notifies merchants. It returns the number of payments expired.
func (s *Service) MarkExpired(ctx context.Context) (int, error) {
	expired, err := s.store.MarkExpiredPayments(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range expired {
		s.logger.WithField("payment_id", p.ID).Info("payment expired")
		if s.notifier != nil {
			s.notifier.NotifyPaymentChange(ctx, p)
		}
	}
	return len(expired), nil
}
