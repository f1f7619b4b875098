// Package constraint implements the affine translation and boundary
// handlers shared by every hyperparameter in pkg/hyperparam.
package constraint

import "math"

// Translate maps value from the range [aMin, aMax] onto the range
// [bMin, bMax], preserving the fraction of the span value represents.
func Translate(value, aMin, aMax, bMin, bMax float64) float64 {
	aSpan := aMax - aMin
	bSpan := bMax - bMin
	fraction := (value - aMin) / aSpan
	return bMin + fraction*bSpan
}

// Clip saturates value into [lo, hi].
func Clip(value, lo, hi float64) float64 {
	if value <= lo {
		return lo
	}
	if value >= hi {
		return hi
	}
	return value
}

// Reflect mirrors an out-of-range value back into [lo, hi]. Unlike a
// single mirror, it folds repeatedly so that values with amplitude far
// outside the window still land inside it, equivalent to tracing a
// triangle wave of period 2*(hi-lo) starting at lo.
func Reflect(value, lo, hi float64) float64 {
	span := hi - lo
	if span <= 0 {
		return lo
	}
	period := 2 * span
	offset := math.Mod(value-lo, period)
	if offset < 0 {
		offset += period
	}
	if offset > span {
		offset = period - offset
	}
	return lo + offset
}

// Func is a boundary-constraint policy over [lo, hi].
type Func func(value, lo, hi float64) float64

// ByName resolves a constraint policy by its configuration name.
func ByName(name string) (Func, bool) {
	switch name {
	case "clip":
		return Clip, true
	case "reflect":
		return Reflect, true
	default:
		return nil, false
	}
}
