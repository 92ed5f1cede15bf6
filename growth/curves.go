// Package growth generates per-step target-value curves.
package growth

import (
	"errors"
	"fmt"
	"math"
)

// ErrUnknownType is returned for an unrecognized curve family.
var ErrUnknownType = errors.New("unknown growth type")

// Curve family names.
const (
	TypeConstant = "constant"
	TypeLinear   = "linear"
	TypeSigmoid  = "sigmoid"
	TypeNorm     = "norm"
	TypeClipped  = "clipped"
	TypeSwitch   = "switch"
)

// family evaluates a shape in [0,1] at window position t in [0,1].
type family struct {
	shape func(t float64, p shapeParams) float64
	// after is the shape held past the window; before is always 0.
	after float64
	// flat families ignore thresholds entirely.
	flat bool
}

type shapeParams struct {
	center    float64
	scale     float64
	steepness float64
}

var families = map[string]family{
	TypeConstant: {shape: func(float64, shapeParams) float64 { return 1 }, after: 1, flat: true},
	TypeLinear:   {shape: func(t float64, _ shapeParams) float64 { return t }, after: 1},
	TypeSigmoid:  {shape: sigmoid, after: 1},
	TypeNorm:     {shape: bell, after: 0},
	TypeClipped:  {shape: clipped, after: 0},
	TypeSwitch:   {shape: step, after: 1},
}

func step(t float64, p shapeParams) float64 {
	if t >= p.center {
		return 1
	}
	return 0
}

// ValidType reports whether name is a known curve family.
func ValidType(name string) error {
	if _, ok := families[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	return nil
}

func logistic(x, k, c float64) float64 {
	return 1 / (1 + math.Exp(-k*(x-c)))
}

// sigmoid is a logistic curve rescaled so that it spans exactly [0,1]
// over the window.
func sigmoid(t float64, p shapeParams) float64 {
	k := 10 * p.steepness
	lo := logistic(0, k, p.center)
	hi := logistic(1, k, p.center)
	if hi-lo < 1e-12 {
		return t
	}
	return (logistic(t, k, p.center) - lo) / (hi - lo)
}

func bell(t float64, p shapeParams) float64 {
	sigma := p.scale / 2
	if sigma <= 0 {
		return 1
	}
	d := t - p.center
	return math.Exp(-d * d / (2 * sigma * sigma))
}

// clipped is a bell amplified by steepness and cut at 1, giving a
// plateau around the center.
func clipped(t float64, p shapeParams) float64 {
	return math.Min(1, 2*p.steepness*bell(t, p))
}
