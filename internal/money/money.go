// Package money converts decimal credit amounts to the integer units the
// ledgers and the external account service work in.
package money

import "github.com/shopspring/decimal"

// SubunitExp is the number of decimal places kept by the budget ledger.
const SubunitExp = 2

// ToSubunits converts a credit amount to integer subunits (cents), rounding half away from zero.
func ToSubunits(d decimal.Decimal) int64 {
	return d.Shift(SubunitExp).Round(0).IntPart()
}

// FromSubunits converts integer subunits back to a credit amount.
func FromSubunits(n int64) decimal.Decimal {
	return decimal.New(n, -SubunitExp)
}

// ToQuota converts a credit amount to external balance units.
func ToQuota(d decimal.Decimal, quotaPerUnit int64) int64 {
	return d.Mul(decimal.NewFromInt(quotaPerUnit)).Round(0).IntPart()
}
