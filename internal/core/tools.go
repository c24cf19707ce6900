package core

import "github.com/shopspring/decimal"

// RoundToStep rounds v down to the nearest multiple of step, used when a
// bracket leg's remaining size must be expressed in tradable increments.
func RoundToStep(v, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}

// Clamp bounds v to [min, max].
func Clamp(v, min, max decimal.Decimal) decimal.Decimal {
	if v.LessThan(min) {
		return min
	}
	if v.GreaterThan(max) {
		return max
	}
	return v
}
