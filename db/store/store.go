package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

const (
	DuplicateEntry pq.ErrorCode = "23505"
	EntryTooLong   pq.ErrorCode = "22001"
)

// Store wraps the database handle and exposes the hand-written query set.
type Store struct {
	DB *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		DB: db,
	}
}

func (s *Store) ExecTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	// initialize transaction
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if txErr := tx.Rollback(); txErr != nil {
			return fmt.Errorf("encountered rollback error: %v", txErr)
		}
		return err
	}

	return tx.Commit()
}

// IsUniqueViolation reports whether err is a postgres unique-constraint error.
func IsUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == DuplicateEntry
	}
	return false
}
