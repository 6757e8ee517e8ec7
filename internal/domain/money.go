package domain

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits carried by every balance and amount.
const AmountScale = 2

// MaxAmount is the largest amount and the largest overdraft limit the ledger
// accepts. It fits every storage backend, the narrowest being the archive's
// Decimal(18,2).
var MaxAmount = decimal.RequireFromString("9999999999999999.99")

// maxIntegerDigits and maxFractionDigits bound the shape of a decimal before
// any arithmetic touches it. Rescaling a value like 1e100000000 allocates a
// coefficient with as many digits.
const (
	maxIntegerDigits  = 16
	maxFractionDigits = 18
)

var currencyCodePattern = regexp.MustCompile(`^[A-Z]{3}$`)

// ParseAmount parses a decimal string such as "100.50" into a positive amount.
// Returns ErrInvalidAmount for anything that is not a positive value with at
// most two fractional digits.
func ParseAmount(value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, fmt.Errorf("%w: empty value", ErrInvalidAmount)
	}

	amount, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a decimal", ErrInvalidAmount, value)
	}

	if err := ValidateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// ValidateAmount checks that amount is strictly positive, at most MaxAmount
// and representable with AmountScale fractional digits.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: must be positive", ErrInvalidAmount)
	}
	if int(amount.Exponent()) < -maxFractionDigits {
		return fmt.Errorf("%w: more than %d decimal places", ErrInvalidAmount, AmountScale)
	}
	if !withinMaxAmount(amount) {
		return fmt.Errorf("%w: exceeds %s", ErrInvalidAmount, MaxAmount.String())
	}
	if !amount.Equal(amount.Truncate(AmountScale)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, amount.String(), AmountScale)
	}
	return nil
}

// withinMaxAmount reports whether |d| <= MaxAmount. The digit checks run
// first so that oversized exponents are rejected without rescaling.
func withinMaxAmount(d decimal.Decimal) bool {
	exp := int(d.Exponent())
	if exp < -maxFractionDigits || d.NumDigits()+exp > maxIntegerDigits {
		return false
	}
	return d.Abs().LessThanOrEqual(MaxAmount)
}

// FormatAmount renders an amount with exactly AmountScale fractional digits.
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(AmountScale)
}

// ValidateCurrencyCode checks the ISO 4217 shape of a currency code (e.g. "RUB").
func ValidateCurrencyCode(code string) error {
	if !currencyCodePattern.MatchString(code) {
		return fmt.Errorf("%w: currency code %q must be 3 uppercase letters", ErrInvalidRequest, code)
	}
	return nil
}
