package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestCodeRoundTrip(t *testing.T) {
	for _, ec := range errorCodes {
		wrapped := fmt.Errorf("lock account: %w", ec.err)
		code := Code(wrapped)
		if code != ec.code {
			t.Errorf("Code(%v) = %s, want %s", wrapped, code, ec.code)
		}
		if back := ErrorForCode(code); !errors.Is(back, ec.err) {
			t.Errorf("ErrorForCode(%s) = %v, want %v", code, back, ec.err)
		}
	}

	if got := Code(nil); got != "OK" {
		t.Errorf("Code(nil) = %s, want OK", got)
	}
	if got := Code(errors.New("disk on fire")); got != "INTERNAL" {
		t.Errorf("Code(unknown) = %s, want INTERNAL", got)
	}
	if !errors.Is(ErrorForCode("nonsense"), ErrInternal) {
		t.Error("ErrorForCode(unknown) should be ErrInternal")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(fmt.Errorf("lock: %w", ErrBusy)) {
		t.Error("wrapped ErrBusy should be retryable")
	}
	for _, err := range []error{ErrInsufficientFunds, ErrInternal, context.Canceled, nil} {
		if IsRetryable(err) {
			t.Errorf("IsRetryable(%v) = true, want false", err)
		}
	}
}

func TestClassifyWrapsUnknownErrors(t *testing.T) {
	s := &LedgerService{}
	err := s.classify(errors.New("connection reset"))
	if !errors.Is(err, ErrInternal) {
		t.Errorf("classify(unknown) = %v, want ErrInternal", err)
	}
	dup := s.classify(fmt.Errorf("create transaction record: %w", ErrDuplicateIdempotencyKey))
	if !errors.Is(dup, ErrInternal) || Code(dup) != "INTERNAL" {
		t.Errorf("classify(duplicate key) = %v (%s), want ErrInternal", dup, Code(dup))
	}
	if err := s.classify(ErrSameAccount); err != ErrSameAccount {
		t.Errorf("classify(ErrSameAccount) = %v, want it unchanged", err)
	}
}
