package store

import (
	"context"

	"github.com/google/uuid"
)

const addressColumns = `id, payment_id, address_index, address, private_key_encrypted,
	is_collected, created_at, updated_at`

func scanPaymentAddress(row interface{ Scan(...interface{}) error }) (PaymentAddress, error) {
	var a PaymentAddress
	err := row.Scan(
		&a.ID,
		&a.PaymentID,
		&a.AddressIndex,
		&a.Address,
		&a.PrivateKeyEncrypted,
		&a.IsCollected,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	return a, err
}

// NextAddressIndex allocates a fresh derivation index from the durable
// sequence. Sequence values survive restarts and are never reissued, so two
// concurrent callers always receive distinct indexes.
func (s *Store) NextAddressIndex(ctx context.Context) (int64, error) {
	var index int64
	err := s.DB.QueryRowContext(ctx,
		`SELECT nextval('payment_address_index_seq')`).Scan(&index)
	return index, err
}

// CreatePaymentAddressParams is persisted by CreatePaymentWithAddress in the
// same transaction as the payment it belongs to.
type CreatePaymentAddressParams struct {
	ID                  uuid.UUID
	PaymentID           uuid.UUID
	AddressIndex        int64
	Address             string
	PrivateKeyEncrypted []byte
}

func (s *Store) GetPaymentAddress(ctx context.Context, address string) (PaymentAddress, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+addressColumns+` FROM payment_addresses WHERE address = $1`, address)
	return scanPaymentAddress(row)
}

// ListUncollectedAddresses returns addresses still holding funds that have not
// been swept to the treasury.
func (s *Store) ListUncollectedAddresses(ctx context.Context) ([]PaymentAddress, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+addressColumns+` FROM payment_addresses
		WHERE is_collected = false
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var addresses []PaymentAddress
	for rows.Next() {
		a, err := scanPaymentAddress(rows)
		if err != nil {
			return nil, err
		}
		addresses = append(addresses, a)
	}
	return addresses, rows.Err()
}

// ClaimAddress atomically marks an address as collected. It returns false when
// the address was already claimed, which lets concurrent sweep passes agree on
// a single winner before any transaction is submitted.
func (s *Store) ClaimAddress(ctx context.Context, address string) (bool, error) {
	result, err := s.DB.ExecContext(ctx, `
		UPDATE payment_addresses SET is_collected = true, updated_at = now()
		WHERE address = $1 AND is_collected = false`, address)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// ReleaseAddress undoes a claim after a failed sweep submission so a later
// pass can retry the address.
func (s *Store) ReleaseAddress(ctx context.Context, address string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE payment_addresses SET is_collected = false, updated_at = now()
		WHERE address = $1`, address)
	return err
}

type AddressStats struct {
	TotalAddresses     int64
	UncollectedCount   int64
	CollectedCount     int64
	HighestIndexIssued int64
}

func (s *Store) GetAddressStats(ctx context.Context) (AddressStats, error) {
	var st AddressStats
	err := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE is_collected = false),
		       COUNT(*) FILTER (WHERE is_collected = true),
		       COALESCE(MAX(address_index), 0)
		FROM payment_addresses`).Scan(
		&st.TotalAddresses,
		&st.UncollectedCount,
		&st.CollectedCount,
		&st.HighestIndexIssued,
	)
	return st, err
}
