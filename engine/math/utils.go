package math

import (
	"github.com/chewxy/math32"
	"golang.org/x/exp/constraints"
)

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

// AlignUp rounds v up to the next multiple of alignment, which must be a power of two.
func AlignUp[T constraints.Unsigned](v, alignment T) T {
	return (v + alignment - 1) &^ (alignment - 1)
}

// WrapDegrees advances angle by step and folds the result back into [0, 360).
// Crossing 360 upwards resets to zero, not to the remainder. Negative angles
// are folded modulo 360 and non-finite ones become zero.
func WrapDegrees(angle, step float32) float32 {
	angle += step
	switch {
	case math32.IsNaN(angle) || math32.IsInf(angle, 0):
		return 0
	case angle >= 360.0:
		return 0
	case angle < 0:
		angle = math32.Mod(angle, 360.0) + 360.0
		if angle >= 360.0 {
			angle = 0
		}
	}
	return angle
}
