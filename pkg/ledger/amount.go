package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// AmountScale is the number of decimal places money is kept at.
	AmountScale = 2

	// AmountMaxDigits is the total number of digits an amount may carry.
	AmountMaxDigits = 12
)

var maxAmount = decimal.New(1, AmountMaxDigits-AmountScale)

// ValidateAmount checks that amount is positive, has at most two decimal
// places and fits in twelve digits.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if !amount.Equal(amount.Truncate(AmountScale)) {
		return fmt.Errorf("%w: at most %d decimal places", ErrInvalidAmount, AmountScale)
	}
	if amount.GreaterThanOrEqual(maxAmount) {
		return fmt.Errorf("%w: at most %d digits", ErrInvalidAmount, AmountMaxDigits)
	}
	return nil
}

// ParseAmount parses a decimal string and validates it.
func ParseAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, s)
	}
	if err := ValidateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	return amount.Round(AmountScale), nil
}
