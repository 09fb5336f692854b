package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// runInTx executes fn inside a transaction. The transaction commits when fn
// returns nil and rolls back on error or panic.
func (s *Storage) runInTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.log.WithError(err).Error("failed to begin transaction")
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.log.WithError(rbErr).WithField("panic", p).Error("failed to roll back transaction after panic")
			}
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.WithError(rbErr).WithField("cause", err.Error()).Error("failed to roll back transaction")
			return fmt.Errorf("roll back transaction: %v (original error: %w)", rbErr, err)
		}
		s.log.WithError(err).Debug("rolled back transaction")
		return err
	}

	if err = tx.Commit(); err != nil {
		s.log.WithError(err).Error("failed to commit transaction")
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
