// Package money holds the decimal helpers used for every cash, price and
// P&L computation in a run. Floats only enter at the edges (feeds, ratios).
package money

import (
	"math"

	"github.com/shopspring/decimal"
)

var (
	Zero    = decimal.Zero
	One     = decimal.NewFromInt(1)
	Hundred = decimal.NewFromInt(100)
)

// FromFloat converts a float to a decimal, mapping NaN and Inf to zero.
func FromFloat(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Zero
	}
	return decimal.NewFromFloat(v)
}

// ToFloat converts a decimal to float64 for statistics and reporting.
func ToFloat(v decimal.Decimal) float64 {
	f, _ := v.Float64()
	return f
}

// Pct turns a percentage such as 25 into the fraction 0.25.
func Pct(p float64) decimal.Decimal {
	return FromFloat(p).Div(Hundred)
}

// WithSlippage applies slippage against the trader: up for buys, down for sells.
func WithSlippage(price decimal.Decimal, rate decimal.Decimal, buy bool) decimal.Decimal {
	if buy {
		return price.Mul(One.Add(rate))
	}
	return price.Mul(One.Sub(rate))
}

// Notional is price times an integer quantity.
func Notional(price decimal.Decimal, qty int64) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(qty))
}

// Fee is notional times rate.
func Fee(price decimal.Decimal, qty int64, rate decimal.Decimal) decimal.Decimal {
	return Notional(price, qty).Mul(rate)
}

// Shares returns floor(budget / price), or 0 when the price is not positive.
func Shares(budget, price decimal.Decimal) int64 {
	if !price.IsPositive() || !budget.IsPositive() {
		return 0
	}
	return budget.Div(price).Floor().IntPart()
}

// Ratio returns a/b as a float, and ok=false when b is zero or the result is not finite.
func Ratio(a, b decimal.Decimal) (float64, bool) {
	if b.IsZero() {
		return 0, false
	}
	f := ToFloat(a.Div(b))
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
