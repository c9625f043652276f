package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RecordChainTransactionParams struct {
	ID          uuid.UUID
	PaymentID   uuid.UUID
	TxHash      string
	FromAddress string
	ToAddress   string
	Amount      decimal.Decimal
	GasUsed     int64
	GasPrice    decimal.Decimal
	BlockNumber int64
	Status      string
}

// RecordChainTransaction stores an observed deposit transaction. The watcher
// can see the same log more than once (resubscribe, poll overlap), so the
// unique hash makes re-recording a no-op.
func (s *Store) RecordChainTransaction(ctx context.Context, arg RecordChainTransactionParams) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO blockchain_transactions
			(id, payment_id, tx_hash, from_address, to_address, amount, gas_used, gas_price, block_number, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tx_hash) DO NOTHING`,
		arg.ID, arg.PaymentID, arg.TxHash, arg.FromAddress, arg.ToAddress,
		arg.Amount, arg.GasUsed, arg.GasPrice, arg.BlockNumber, arg.Status,
	)
	return err
}

func (s *Store) ListChainTransactions(ctx context.Context, paymentID uuid.UUID) ([]BlockchainTransaction, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, payment_id, tx_hash, from_address, to_address, amount,
		       gas_used, gas_price, block_number, status, created_at
		FROM blockchain_transactions
		WHERE payment_id = $1
		ORDER BY created_at ASC`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []BlockchainTransaction
	for rows.Next() {
		var t BlockchainTransaction
		if err := rows.Scan(&t.ID, &t.PaymentID, &t.TxHash, &t.FromAddress, &t.ToAddress,
			&t.Amount, &t.GasUsed, &t.GasPrice, &t.BlockNumber, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
