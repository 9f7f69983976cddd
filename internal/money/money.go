// Package money centralises decimal precision policy for the engine.
package money

import "github.com/shopspring/decimal"

// Scale is the number of fractional digits persisted for monetary values.
const Scale = 4

// Zero is the canonical zero amount.
var Zero = decimal.Zero

// Round rounds an amount to the persisted scale.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// FromInt builds an amount from an integer number of currency units.
func FromInt(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

// Percent applies pct (expressed as 0..100) to amount at full precision.
// Callers round the result when persisting, not before.
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(decimal.NewFromInt(100))
}

// IsNegative reports whether d is strictly below zero.
func IsNegative(d decimal.Decimal) bool {
	return d.Sign() < 0
}

// IsPositive reports whether d is strictly above zero.
func IsPositive(d decimal.Decimal) bool {
	return d.Sign() > 0
}
