package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/a3emond/FortisBankSystem/internal/domain"
)

// retryAfterSeconds is sent with 503 responses.
const retryAfterSeconds = "1"

func httpStatusForErr(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrSameAccount),
		errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrAccountNotActive),
		errors.Is(err, domain.ErrCurrencyMismatch),
		errors.Is(err, domain.ErrNotReversible),
		errors.Is(err, domain.ErrIdempotencyConflict),
		errors.Is(err, domain.ErrAccountNotEmpty),
		errors.Is(err, domain.ErrInvalidStatusTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrBusy):
		return http.StatusServiceUnavailable

	// Context / timeouts
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout

	default:
		return http.StatusInternalServerError
	}
}

func publicErrMessage(code int, err error) string {
	// Don't leak internals on 5xx.
	if code == http.StatusServiceUnavailable {
		return "ledger busy, retry later"
	}
	if code >= 500 {
		return "internal error"
	}
	return err.Error()
}
