// Package variation draws bounded multiplicative factors around 1.
package variation

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// ErrInvalid marks a malformed variation block.
var ErrInvalid = errors.New("invalid variation")

// Distribution names.
const (
	Uniform = "uniform"
	Normal  = "normal"
)

// DefaultStdevRange is the number of standard deviations between 1 and a bound
// for normal draws.
const DefaultStdevRange = 3.0

// Spec bounds a factor to [1-Lower, 1+Upper].
type Spec struct {
	Upper        float64 `yaml:"upper" json:"upper"`
	Lower        float64 `yaml:"lower" json:"lower"`
	Distribution string  `yaml:"distribution" json:"distribution"`
	StdevRange   float64 `yaml:"stdev_range,omitempty" json:"stdev_range,omitempty"`
}

// Validate checks that s can be drawn from.
func (s Spec) Validate() error {
	if s.Upper < 0 || s.Lower < 0 {
		return fmt.Errorf("%w: bounds must be non-negative (upper=%v lower=%v)", ErrInvalid, s.Upper, s.Lower)
	}
	if s.Lower > 1 {
		return fmt.Errorf("%w: lower bound %v would allow negative factors", ErrInvalid, s.Lower)
	}
	switch s.Distribution {
	case Uniform, Normal:
	case "":
		return fmt.Errorf("%w: missing distribution", ErrInvalid)
	default:
		return fmt.Errorf("%w: unknown distribution %q", ErrInvalid, s.Distribution)
	}
	if s.StdevRange < 0 {
		return fmt.Errorf("%w: stdev_range must be positive", ErrInvalid)
	}
	return nil
}

// Scaled returns a copy with both bounds multiplied by k. The lower bound
// is capped at 1 so the scaled factor stays non-negative.
func (s Spec) Scaled(k float64) Spec {
	s.Upper *= k
	s.Lower = min(s.Lower*k, 1)
	return s
}

// IsZero reports whether s can only produce 1.
func (s Spec) IsZero() bool {
	return s.Upper == 0 && s.Lower == 0
}

// Draw samples a factor in [max(1-Lower, 0), 1+Upper]. Zero-width specs
// return exactly 1 without consuming randomness.
func Draw(src rand.Source, s Spec) float64 {
	if s.IsZero() {
		return 1
	}
	lo, hi := max(1-s.Lower, 0), 1+s.Upper
	switch s.Distribution {
	case Normal:
		r := s.StdevRange
		if r == 0 {
			r = DefaultStdevRange
		}
		sigma := (s.Upper + s.Lower) / (2 * r)
		d := distuv.Normal{Mu: 1, Sigma: sigma, Src: src}
		return math.Max(lo, math.Min(hi, d.Rand()))
	default:
		d := distuv.Uniform{Min: lo, Max: hi, Src: src}
		return d.Rand()
	}
}
