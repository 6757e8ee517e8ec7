package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/a3emond/FortisBankSystem/internal/domain"
)

const (
	pgLockNotAvailable       = "55P03"
	pgDeadlockDetected       = "40P01"
	pgSerializationFailure   = "40001"
	pgUniqueViolation        = "23505"
	idempotencyKeyConstraint = "transactions_idempotency_key_key"
)

var errNoTransaction = errors.New("db: operation requires a transaction")

// mapError translates PostgreSQL errors into ledger errors. Lock waits that
// exceed lock_timeout, deadlocks and serialization failures are retryable.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgLockNotAvailable, pgDeadlockDetected, pgSerializationFailure:
		return fmt.Errorf("%w: %s", domain.ErrBusy, pgErr.Message)
	case pgUniqueViolation:
		if pgErr.ConstraintName == idempotencyKeyConstraint {
			return domain.ErrDuplicateIdempotencyKey
		}
	}
	return err
}
