package errors

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// MapDBError maps database errors from the role store to AppError instances.
//   - sql.ErrNoRows → NotFound
//   - connection, admin-shutdown and serialization failures → Transient
//   - undefined table/column (schema not migrated) → Internal
//   - context timeouts/cancellations → Transient
//
// If the error is not a recognized database error, it returns the original error.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Wrap(err, ErrCodeTransient, "Role lookup timed out. Please try again.")
	}

	if errors.Is(err, sql.ErrNoRows) {
		return Wrap(err, ErrCodeNotFound, "No roles found")
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapPgError(pgErr)
	}

	return err
}

func mapPgError(pgErr *pgconn.PgError) error {
	switch {
	case pgerrcode.IsConnectionException(pgErr.Code),
		pgerrcode.IsOperatorIntervention(pgErr.Code),
		pgErr.Code == pgerrcode.SerializationFailure,
		pgErr.Code == pgerrcode.DeadlockDetected,
		pgErr.Code == pgerrcode.TooManyConnections:
		return Wrap(pgErr, ErrCodeTransient, "The role store is temporarily unavailable.")
	case pgErr.Code == pgerrcode.UndefinedTable, pgErr.Code == pgerrcode.UndefinedColumn:
		return Wrap(pgErr, ErrCodeInternal, "The role store schema is missing; run migrations.")
	default:
		return Wrap(pgErr, ErrCodeInternal, "A database error occurred. Please try again.")
	}
}
