package fit

import (
	"fmt"
	"math"
)

// Vector is a parameter vector in normalized space. Every component lives
// in [0,1]; the Space maps it to physical values.
type Vector []float64

// Clone returns an independent copy of the vector.
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	return append(Vector(nil), v...)
}

// Interval is a closed range [Low, High].
type Interval struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Width returns High-Low.
func (iv Interval) Width() float64 {
	return iv.High - iv.Low
}

// Contains reports whether x lies inside the closed interval.
func (iv Interval) Contains(x float64) bool {
	return x >= iv.Low && x <= iv.High
}

// Clamp pins x to the interval.
func (iv Interval) Clamp(x float64) float64 {
	return clamp(x, iv.Low, iv.High)
}

// Bounds holds the working interval of every dimension. It is always a
// subset of the absolute range [0,1]^D.
type Bounds []Interval

// UnitBounds returns [0,1] on every one of dim axes.
func UnitBounds(dim int) Bounds {
	b := make(Bounds, dim)
	for i := range b {
		b[i] = Interval{Low: 0, High: 1}
	}
	return b
}

// Clone returns an independent copy.
func (b Bounds) Clone() Bounds {
	return append(Bounds(nil), b...)
}

// Contains reports whether every component of x is inside its interval.
func (b Bounds) Contains(x Vector) bool {
	if len(x) != len(b) {
		return false
	}
	for i, iv := range b {
		if !iv.Contains(x[i]) {
			return false
		}
	}
	return true
}

// Clamp pins x to the bounds in place.
func (b Bounds) Clamp(x Vector) {
	for i := range x {
		x[i] = b[i].Clamp(x[i])
	}
}

// Validate checks low <= high and that every interval sits inside [0,1].
func (b Bounds) Validate() error {
	for i, iv := range b {
		if math.IsNaN(iv.Low) || math.IsNaN(iv.High) {
			return fmt.Errorf("bounds[%d]: NaN endpoint", i)
		}
		if iv.Low > iv.High {
			return fmt.Errorf("bounds[%d]: low %g > high %g", i, iv.Low, iv.High)
		}
		if iv.Low < 0 || iv.High > 1 {
			return fmt.Errorf("bounds[%d]: [%g, %g] outside [0,1]", i, iv.Low, iv.High)
		}
	}
	return nil
}

// Resize re-centers every interval on center with its width multiplied by
// shrink. An interval that would cross 0 or 1 is shifted back inside the
// absolute range, so the new width is preserved whenever it fits.
func (b Bounds) Resize(center Vector, shrink float64) Bounds {
	out := make(Bounds, len(b))
	for i, iv := range b {
		w := math.Min(iv.Width()*shrink, 1)
		lo := center[i] - w/2
		hi := center[i] + w/2
		if lo < 0 {
			lo, hi = 0, w
		}
		if hi > 1 {
			lo, hi = 1-w, 1
		}
		out[i] = Interval{Low: math.Max(lo, 0), High: math.Min(hi, 1)}
	}
	return out
}

func clamp(val, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, val))
}
