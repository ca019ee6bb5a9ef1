package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// BalanceCalculator derives account balances from entry totals.
type BalanceCalculator struct{}

// Balance returns credits minus debits over the account's live entries as
// seen by r. Inside a Tx holding the account lock the result cannot change
// until the unit ends.
func (BalanceCalculator) Balance(ctx context.Context, r TotalsReader, accountID int64) (decimal.Decimal, error) {
	totals, err := r.EntryTotals(ctx, accountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum entries of account %d: %w", accountID, err)
	}
	return totals.Balance().Round(AmountScale), nil
}
