// Package money holds the percentage arithmetic used for referral commissions and platform fees.
// Amounts are int64 minor units; intermediate math runs on decimals so rounding is explicit.
package money

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Percent returns amount * pct / 100 rounded half-up to the nearest minor unit.
func Percent(amount, pct int64) int64 {
	if amount <= 0 || pct <= 0 {
		return 0
	}
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(pct)).
		Div(hundred).
		Round(0).
		IntPart()
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Ratio returns num/den as a float rounded to four places, or 0 when den is 0.
func Ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	r, _ := decimal.NewFromInt(num).DivRound(decimal.NewFromInt(den), 4).Float64()
	return r
}
