package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const paymentColumns = `id, merchant_id, order_id, amount, currency, payment_address,
	status, transaction_hash, confirmations, expires_at, created_at, updated_at`

func scanPayment(row interface{ Scan(...interface{}) error }) (Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID,
		&p.MerchantID,
		&p.OrderID,
		&p.Amount,
		&p.Currency,
		&p.PaymentAddress,
		&p.Status,
		&p.TransactionHash,
		&p.Confirmations,
		&p.ExpiresAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

type CreatePaymentParams struct {
	ID             uuid.UUID
	MerchantID     uuid.UUID
	OrderID        string
	Amount         decimal.Decimal
	Currency       string
	PaymentAddress string
	ExpiresAt      sql.NullTime
}

// CreatePaymentWithAddress inserts the payment and its deposit address in one
// transaction. A rejected payment (duplicate order ID) rolls back the address
// row too, so no orphaned key material accumulates.
func (s *Store) CreatePaymentWithAddress(ctx context.Context, p CreatePaymentParams, a CreatePaymentAddressParams) (Payment, error) {
	var payment Payment
	err := s.ExecTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO payment_addresses (id, payment_id, address_index, address, private_key_encrypted)
			VALUES ($1, $2, $3, $4, $5)`,
			a.ID, a.PaymentID, a.AddressIndex, a.Address, a.PrivateKeyEncrypted,
		); err != nil {
			return err
		}
		row := tx.QueryRowContext(ctx, `
			INSERT INTO payments (id, merchant_id, order_id, amount, currency, payment_address, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING `+paymentColumns,
			p.ID, p.MerchantID, p.OrderID, p.Amount, p.Currency, p.PaymentAddress, p.ExpiresAt,
		)
		var err error
		payment, err = scanPayment(row)
		return err
	})
	return payment, err
}

func (s *Store) GetPayment(ctx context.Context, id uuid.UUID) (Payment, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	return scanPayment(row)
}

func (s *Store) GetPaymentForMerchant(ctx context.Context, id, merchantID uuid.UUID) (Payment, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1 AND merchant_id = $2`, id, merchantID)
	return scanPayment(row)
}

type ListPaymentsParams struct {
	MerchantID uuid.UUID
	Status     string
	Currency   string
	StartDate  sql.NullTime
	EndDate    sql.NullTime
	Limit      int32
	Offset     int32
}

func (s *Store) ListPayments(ctx context.Context, arg ListPaymentsParams) ([]Payment, int64, error) {
	conditions := []string{"merchant_id = $1"}
	args := []interface{}{arg.MerchantID}

	if arg.Status != "" {
		args = append(args, arg.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if arg.Currency != "" {
		args = append(args, arg.Currency)
		conditions = append(conditions, fmt.Sprintf("currency = $%d", len(args)))
	}
	if arg.StartDate.Valid {
		args = append(args, arg.StartDate.Time)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if arg.EndDate.Valid {
		args = append(args, arg.EndDate.Time)
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	where := strings.Join(conditions, " AND ")

	var total int64
	if err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM payments WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, arg.Limit, arg.Offset)
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE `+where+
			fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		payments = append(payments, p)
	}
	return payments, total, rows.Err()
}

type AdvancePaymentStatusParams struct {
	ID              uuid.UUID
	Status          string
	TransactionHash sql.NullString
	Confirmations   sql.NullInt32
}

// AdvancePaymentStatus applies a status/confirmation update only when it moves
// the payment forward: terminal rows are never touched, confirmations never
// decrease, and a no-op update affects zero rows. Racing writers (per-payment
// watcher, batch confirmation pass, manual triggers) therefore converge
// instead of overwriting each other.
func (s *Store) AdvancePaymentStatus(ctx context.Context, arg AdvancePaymentStatusParams) (Payment, error) {
	row := s.DB.QueryRowContext(ctx, `
		UPDATE payments SET
			status = $2,
			transaction_hash = COALESCE($3, transaction_hash),
			confirmations = GREATEST(confirmations, COALESCE($4, confirmations)),
			updated_at = now()
		WHERE id = $1
		  AND status NOT IN ('completed', 'expired', 'failed')
		  AND (status <> $2 OR confirmations < COALESCE($4, confirmations))
		RETURNING `+paymentColumns,
		arg.ID, arg.Status, arg.TransactionHash, arg.Confirmations,
	)
	return scanPayment(row)
}

// MarkExpiredPayments transitions overdue pending payments to expired and
// returns the affected rows so callers can notify merchants.
func (s *Store) MarkExpiredPayments(ctx context.Context) ([]Payment, error) {
	rows, err := s.DB.QueryContext(ctx, `
		UPDATE payments SET status = 'expired', updated_at = now()
		WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at < now()
		RETURNING `+paymentColumns)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// ListWatchablePayments returns non-terminal, unexpired payments whose
// addresses should have an active watcher. Used to resume watchers on restart.
func (s *Store) ListWatchablePayments(ctx context.Context) ([]Payment, error) {
	return s.queryPayments(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE status IN ('pending', 'confirmed')
		  AND (expires_at IS NULL OR expires_at > now())
		ORDER BY created_at ASC`)
}

// ListConfirmedPayments returns payments awaiting further confirmations.
func (s *Store) ListConfirmedPayments(ctx context.Context) ([]Payment, error) {
	return s.queryPayments(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE status = 'confirmed' AND transaction_hash IS NOT NULL
		ORDER BY created_at ASC`)
}

func (s *Store) queryPayments(ctx context.Context, query string, args ...interface{}) ([]Payment, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}
