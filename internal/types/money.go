// README: Money helpers shared across modules. Amounts are whole currency units.
package types

import "github.com/shopspring/decimal"

// DefaultCurrency is used when a record carries no currency of its own.
const DefaultCurrency = "VND"

// RoundUnits rounds d half away from zero to a whole currency unit.
func RoundUnits(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}

// MulUnits returns round(amount × factor).
func MulUnits(amount int64, factor float64) int64 {
	return RoundUnits(decimal.NewFromInt(amount).Mul(decimal.NewFromFloat(factor)))
}

// Percent returns part/whole as a percentage rounded to two decimals.
// A zero whole yields 0.
func Percent(part, whole int64) float64 {
	if whole == 0 {
		return 0
	}
	f, _ := decimal.NewFromInt(part).Mul(decimal.NewFromInt(100)).DivRound(decimal.NewFromInt(whole), 2).Float64()
	return f
}
