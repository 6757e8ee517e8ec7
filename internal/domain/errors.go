package domain

import (
	"context"
	"errors"
)

var (
	// ErrAccountNotFound is returned when an account doesn't exist
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountNotActive is returned when an account involved in a balance change is FROZEN or CLOSED
	ErrAccountNotActive = errors.New("account is not active")

	// ErrInvalidAmount is returned when the amount is not positive or has more than two fractional digits
	ErrInvalidAmount = errors.New("invalid amount: must be positive with at most 2 decimal places")

	// ErrInsufficientFunds is returned when a debit would take the balance below the account minimum
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrSameAccount is returned when source and destination are the same
	ErrSameAccount = errors.New("source and destination must be different accounts")

	// ErrCurrencyMismatch is returned when accounts involved in a transfer hold different currencies
	ErrCurrencyMismatch = errors.New("currency mismatch between accounts")

	// ErrNotReversible is returned when reverse is requested for a record that is not COMPLETED
	ErrNotReversible = errors.New("transaction is not reversible")

	// ErrTransactionNotFound is returned when a transaction record doesn't exist
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrIdempotencyConflict is returned when an idempotency key is reused with a different request
	ErrIdempotencyConflict = errors.New("idempotency key reused with a different request")

	// ErrAccountNotEmpty is returned when closing an account whose balance is not zero
	ErrAccountNotEmpty = errors.New("account balance must be zero to close")

	// ErrInvalidStatusTransition is returned for lifecycle changes the current status does not allow
	ErrInvalidStatusTransition = errors.New("invalid account status transition")

	// ErrInvalidRequest is returned for malformed requests that are not amount related
	ErrInvalidRequest = errors.New("invalid request")

	// ErrBusy is returned when a lock could not be acquired in time; the caller may retry
	ErrBusy = errors.New("ledger busy, retry later")

	// ErrInternal wraps unexpected storage or infrastructure failures
	ErrInternal = errors.New("internal ledger error")

	// ErrDuplicateIdempotencyKey is reported by storage when a record with the same
	// idempotency key was committed concurrently.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrAccountNotFound, "ACCOUNT_NOT_FOUND"},
	{ErrAccountNotActive, "ACCOUNT_NOT_ACTIVE"},
	{ErrInvalidAmount, "INVALID_AMOUNT"},
	{ErrInsufficientFunds, "INSUFFICIENT_FUNDS"},
	{ErrSameAccount, "SAME_ACCOUNT"},
	{ErrCurrencyMismatch, "CURRENCY_MISMATCH"},
	{ErrNotReversible, "NOT_REVERSIBLE"},
	{ErrTransactionNotFound, "TRANSACTION_NOT_FOUND"},
	{ErrIdempotencyConflict, "IDEMPOTENCY_CONFLICT"},
	{ErrAccountNotEmpty, "ACCOUNT_NOT_EMPTY"},
	{ErrInvalidStatusTransition, "INVALID_STATUS_TRANSITION"},
	{ErrInvalidRequest, "INVALID_REQUEST"},
	{ErrBusy, "BUSY"},
	{context.Canceled, "CANCELED"},
	{context.DeadlineExceeded, "DEADLINE_EXCEEDED"},
}

// Code returns a stable code for err. It is stored as the failure reason of
// FAILED records and used as a metric label. Unknown errors map to "INTERNAL".
func Code(err error) string {
	if err == nil {
		return "OK"
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "INTERNAL"
}

// ErrorForCode is the inverse of Code. Used to rebuild the error of a FAILED
// record on idempotent replay.
func ErrorForCode(code string) error {
	for _, ec := range errorCodes {
		if ec.code == code {
			return ec.err
		}
	}
	return ErrInternal
}

// IsRetryable reports whether the operation may succeed if retried unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy)
}

// isDomainError reports whether err already belongs to the ledger error
// taxonomy. ErrDuplicateIdempotencyKey is a storage signal, not a result.
func isDomainError(err error) bool {
	if errors.Is(err, ErrInternal) {
		return true
	}
	return Code(err) != "INTERNAL"
}
