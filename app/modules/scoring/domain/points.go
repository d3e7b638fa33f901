package scoringdomain

import "math"

// Points is a validated, whole-number point value.
type Points int

// Quantity is how many times an activity was performed in a single submission. Always >= 1.
type Quantity int

// MaxQuantity caps a submitted quantity. It fits the INTEGER column and is large enough that
// any capped submission with a non-trivial base still clamps to the upper bound.
const MaxQuantity Quantity = 1_000_000

// Bounds is the closed range every calculated point value is clamped into.
type Bounds struct {
	Min Points
	Max Points
}

// DefaultBounds apply when a catalog does not declare its own.
var DefaultBounds = Bounds{Min: -100, Max: 10000}

// Clamp limits raw to the bounds and rounds to the nearest integer (halves round up).
// Non-finite input becomes 0. The second return value reports whether raw was outside the bounds.
func (b Bounds) Clamp(raw float64) (Points, bool) {
	raw = FiniteOr(raw, 0)
	clamped := false
	if raw < float64(b.Min) {
		raw = float64(b.Min)
		clamped = true
	} else if raw > float64(b.Max) {
		raw = float64(b.Max)
		clamped = true
	}
	return Points(math.Floor(raw + 0.5)), clamped
}

// NewPoints validates an arbitrary numeric value into Points within the bounds.
func (b Bounds) NewPoints(raw float64) Points {
	p, _ := b.Clamp(raw)
	return p
}

// FiniteOr returns v, or fallback when v is NaN or infinite.
func FiniteOr(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}

// PointsFromStored converts a nullable stored value into Points. NULL becomes 0.
func PointsFromStored(v *int64) Points {
	if v == nil {
		return 0
	}
	return Points(*v)
}

// NewQuantity validates a submitted quantity. Missing, non-finite or sub-1 values become 1;
// values above MaxQuantity are capped.
func NewQuantity(v float64) Quantity {
	v = FiniteOr(v, 1)
	if v < 1 {
		return 1
	}
	return Quantity(math.Floor(math.Min(v, float64(MaxQuantity)) + 0.5))
}

// QuantityFrom validates an optional quantity.
func QuantityFrom(v *float64) Quantity {
	if v == nil {
		return 1
	}
	return NewQuantity(*v)
}
