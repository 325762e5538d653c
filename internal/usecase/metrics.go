package usecase

import "math"

// Derived metrics are pure and recomputed at snapshot time, never cached on
// the record. Nil means undefined.

// PriceDivergence is |b-a|/a. Undefined when either price is missing,
// non-finite, or a is zero.
func PriceDivergence(a, b *float64) *float64 {
	if a == nil || b == nil || !isFinite(*a) || !isFinite(*b) || *a == 0 {
		return nil
	}
	d := math.Abs(*b-*a) / *a
	return &d
}

// FundingDivergence is |b-a|. Undefined when either rate is missing.
func FundingDivergence(a, b *float64) *float64 {
	if a == nil || b == nil || !isFinite(*a) || !isFinite(*b) {
		return nil
	}
	d := math.Abs(*b - *a)
	return &d
}

// ConvertBaseVolume converts a base-currency volume into quote currency.
// Returns false when either input is not a finite number.
func ConvertBaseVolume(baseVol, price float64) (float64, bool) {
	if !isFinite(baseVol) || !isFinite(price) {
		return 0, false
	}
	return baseVol * price, true
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
