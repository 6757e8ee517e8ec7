package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"100", "100.00", false},
		{"100.5", "100.50", false},
		{" 0.01 ", "0.01", false},
		{"1e2", "100.00", false},
		{"", "", true},
		{"0", "", true},
		{"0.00", "", true},
		{"-1", "", true},
		{"0.001", "", true},
		{"abc", "", true},
		{"9999999999999999.99", "9999999999999999.99", false},
		{"10000000000000000", "", true},
		{"1e16", "", true},
		{"1e100000000", "", true},
		{"1e-100000000", "", true},
		{"5.000000000000000000000", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAmount) {
					t.Fatalf("ParseAmount(%q) error = %v, want ErrInvalidAmount", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount(%q) unexpected error: %v", tt.in, err)
			}
			if FormatAmount(got) != tt.want {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.in, FormatAmount(got), tt.want)
			}
		})
	}
}

func TestValidateAmount_RejectsHugeExponentsQuickly(t *testing.T) {
	start := time.Now()
	for _, in := range []string{"1e3000000", "1e100000000", "-1e100000000", "1e-100000000"} {
		if err := ValidateAmount(decimal.RequireFromString(in)); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("ValidateAmount(%s) error = %v, want ErrInvalidAmount", in, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("validation took %s; oversized values must be rejected before rescaling", elapsed)
	}
}

func TestValidateCurrencyCode(t *testing.T) {
	for _, code := range []string{"RUB", "USD"} {
		if err := ValidateCurrencyCode(code); err != nil {
			t.Errorf("ValidateCurrencyCode(%q) error: %v", code, err)
		}
	}
	for _, code := range []string{"", "rub", "RUBL", "R1B"} {
		if err := ValidateCurrencyCode(code); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("ValidateCurrencyCode(%q) error = %v, want ErrInvalidRequest", code, err)
		}
	}
}

func TestRequestHashIgnoresAmountFormatting(t *testing.T) {
	src, dst := newRecordID(), newRecordID()
	h1, err := hashRequest(newOperationShape(TransactionTypeTransfer, &src, &dst, decimal.RequireFromString("10"), nil))
	if err != nil {
		t.Fatalf("hashRequest() error: %v", err)
	}
	h2, _ := hashRequest(newOperationShape(TransactionTypeTransfer, &src, &dst, decimal.RequireFromString("10.00"), nil))
	h3, _ := hashRequest(newOperationShape(TransactionTypeTransfer, &dst, &src, decimal.RequireFromString("10"), nil))

	if h1 != h2 {
		t.Errorf("equal amounts hash differently: %s vs %s", h1, h2)
	}
	if h1 == h3 {
		t.Error("swapped accounts must hash differently")
	}
}
