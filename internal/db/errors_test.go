package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/a3emond/FortisBankSystem/internal/domain"
)

func TestMapError(t *testing.T) {
	plain := errors.New("connection refused")

	tests := []struct {
		name string
		in   error
		want error
	}{
		{"lock timeout", &pgconn.PgError{Code: pgLockNotAvailable, Message: "canceling statement due to lock timeout"}, domain.ErrBusy},
		{"deadlock", &pgconn.PgError{Code: pgDeadlockDetected}, domain.ErrBusy},
		{"serialization", fmt.Errorf("commit: %w", &pgconn.PgError{Code: pgSerializationFailure}), domain.ErrBusy},
		{"idempotency key", &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: idempotencyKeyConstraint}, domain.ErrDuplicateIdempotencyKey},
		{"canceled", context.Canceled, context.Canceled},
		{"other", plain, plain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapError(tt.in); !errors.Is(got, tt.want) {
				t.Errorf("mapError(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}

	other := &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "accounts_pkey"}
	if got := mapError(other); errors.Is(got, domain.ErrDuplicateIdempotencyKey) {
		t.Errorf("primary key violation mapped to %v", got)
	}
	if mapError(nil) != nil {
		t.Error("mapError(nil) should be nil")
	}
}
