package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"tasks-api/domain"
)

const (
	uniqueViolationCode = "23505"
	checkViolationCode  = "23514"
)

// mapError translates driver errors into the domain error taxonomy.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, domain.ErrNotFound) {
		return domain.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolationCode:
			return fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.ConstraintName)
		case checkViolationCode:
			return fmt.Errorf("%w: check constraint %s", domain.ErrInvalidArgument, pgErr.ConstraintName)
		}
	}
	return &domain.StoreError{Op: op, Err: err}
}
