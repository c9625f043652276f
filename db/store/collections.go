package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RecordCollectionTransactionParams struct {
	ID          uuid.UUID
	FromAddress string
	ToAddress   string
	Amount      decimal.Decimal
	TxHash      string
}

func (s *Store) RecordCollectionTransaction(ctx context.Context, arg RecordCollectionTransactionParams) (CollectionTransaction, error) {
	var t CollectionTransaction
	err := s.DB.QueryRowContext(ctx, `
		INSERT INTO collection_transactions (id, from_address, to_address, amount, tx_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, from_address, to_address, amount, tx_hash, created_at`,
		arg.ID, arg.FromAddress, arg.ToAddress, arg.Amount, arg.TxHash,
	).Scan(&t.ID, &t.FromAddress, &t.ToAddress, &t.Amount, &t.TxHash, &t.CreatedAt)
	return t, err
}

func (s *Store) ListCollectionTransactions(ctx context.Context, limit, offset int32) ([]CollectionTransaction, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, from_address, to_address, amount, tx_hash, created_at
		FROM collection_transactions
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []CollectionTransaction
	for rows.Next() {
		var t CollectionTransaction
		if err := rows.Scan(&t.ID, &t.FromAddress, &t.ToAddress, &t.Amount, &t.TxHash, &t.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// UpsertCollectionStat bumps the daily sweep counter, creating the day's row
// on first use.
func (s *Store) UpsertCollectionStat(ctx context.Context, date time.Time, count int32) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO collection_stats (collection_date, transaction_count)
		VALUES ($1, $2)
		ON CONFLICT (collection_date)
		DO UPDATE SET transaction_count = collection_stats.transaction_count + $2,
		              updated_at = now()`,
		date, count)
	return err
}

func (s *Store) ListCollectionStats(ctx context.Context, since time.Time) ([]CollectionStat, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT collection_date, transaction_count
		FROM collection_stats
		WHERE collection_date >= $1
		ORDER BY collection_date DESC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []CollectionStat
	for rows.Next() {
		var st CollectionStat
		if err := rows.Scan(&st.CollectionDate, &st.TransactionCount); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

func (s *Store) GetWalletConfig(ctx context.Context) (WalletConfig, error) {
	var c WalletConfig
	err := s.DB.QueryRowContext(ctx, `
		SELECT auto_collection_enabled, collection_threshold, collection_interval_minutes, updated_at
		FROM wallet_config WHERE id = 1`).Scan(
		&c.AutoCollectionEnabled,
		&c.CollectionThreshold,
		&c.CollectionIntervalMinutes,
		&c.UpdatedAt,
	)
	return c, err
}

type UpdateWalletConfigParams struct {
	AutoCollectionEnabled     bool
	CollectionThreshold       decimal.Decimal
	CollectionIntervalMinutes int32
}

func (s *Store) UpdateWalletConfig(ctx context.Context, arg UpdateWalletConfigParams) (WalletConfig, error) {
	var c WalletConfig
	err := s.DB.QueryRowContext(ctx, `
		UPDATE wallet_config SET
			auto_collection_enabled = $1,
			collection_threshold = $2,
			collection_interval_minutes = $3,
			updated_at = now()
		WHERE id = 1
		RETURNING auto_collection_enabled, collection_threshold, collection_interval_minutes, updated_at`,
		arg.AutoCollectionEnabled, arg.CollectionThreshold, arg.CollectionIntervalMinutes,
	).Scan(
		&c.AutoCollectionEnabled,
		&c.CollectionThreshold,
		&c.CollectionIntervalMinutes,
		&c.UpdatedAt,
	)
	return c, err
}
