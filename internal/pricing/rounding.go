package pricing

import (
	"github.com/shopspring/decimal"
)

var (
	minPrice   = decimal.NewFromInt(1)
	maxPrice   = decimal.NewFromInt(10000)
	hundred    = decimal.NewFromInt(100)
	oneCent    = decimal.New(1, -2)
	ninetyNine = decimal.New(99, -2)
)

// PsychologicalPrice applies deltaPercent to base and snaps the result to a
// price ending in .99, staying on the side of base the delta points to.
//
// Rules:
//   - delta == 0: base rounded to cents
//   - raw = base * (1 + delta/100), clamped to [1, 10000]
//   - delta > 0: ceil(raw) - 0.01, never below 1
//   - delta < 0: floor(raw) + 0.99, or raw itself (at cent precision) once
//     floor(raw) <= 1; when floor(raw) + 0.99 overshoots base the next lower
//     .99 boundary is used
//
// If no price on the requested side exists, base is returned unchanged so the
// effective delta is zero.
func PsychologicalPrice(base, deltaPercent float64) float64 {
	b := decimal.NewFromFloat(base)
	if deltaPercent == 0 {
		return b.Round(2).InexactFloat64()
	}

	factor := decimal.NewFromInt(1).Add(decimal.NewFromFloat(deltaPercent).Div(hundred))
	raw := clampDecimal(b.Mul(factor), minPrice, maxPrice)

	var out decimal.Decimal
	if deltaPercent > 0 {
		out = raw.Ceil().Sub(oneCent)
		if out.LessThan(minPrice) {
			out = minPrice
		}
		if out.LessThan(b) {
			return b.Round(2).InexactFloat64()
		}
		return out.InexactFloat64()
	}

	floor := raw.Floor()
	if floor.LessThanOrEqual(minPrice) {
		out = raw.Round(2)
		if out.LessThan(minPrice) {
			out = minPrice
		}
	} else {
		out = floor.Add(ninetyNine)
		if out.GreaterThan(b) {
			out = floor.Sub(oneCent)
		}
	}
	if out.GreaterThan(b) {
		return b.Round(2).InexactFloat64()
	}
	return out.InexactFloat64()
}

// EffectiveDelta is the realized percentage change from base to price,
// rounded to two decimals. base must be positive.
func EffectiveDelta(base, price float64) float64 {
	b := decimal.NewFromFloat(base)
	p := decimal.NewFromFloat(price)
	return p.Sub(b).Div(b).Mul(hundred).Round(2).InexactFloat64()
}

func clampDecimal(x, lo, hi decimal.Decimal) decimal.Decimal {
	if x.LessThan(lo) {
		return lo
	}
	if x.GreaterThan(hi) {
		return hi
	}
	return x
}
