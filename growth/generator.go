package growth

import (
	"math"

	"github.com/ojrac/opensimplex-go"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Noise tuning.
const (
	NoiseAmplitude = 0.1
	NoiseFrequency = 0.15
)

// Params describes one curve. Thresholds are step indices; MaxThreshold 0
// means "until the end". A zero MaxValue (or one not above MinValue) is
// derived so the curve mean equals AgentValue.
type Params struct {
	AgentValue   float64
	NumValues    int
	Type         string
	MinValue     float64
	MaxValue     float64
	MinThreshold int
	MaxThreshold int
	Center       float64 // fraction of the window; 0 means 0.5
	Noise        bool
	NoiseSeed    int64
	Invert       bool
	Scale        float64 // bell width; 0 means 0.5
	Steepness    float64 // 0 means 1
}

// Generate produces NumValues samples of the requested curve.
func Generate(p Params) ([]float64, error) {
	if err := ValidType(p.Type); err != nil {
		return nil, err
	}
	n := p.NumValues
	if n <= 0 {
		return []float64{}, nil
	}
	fam := families[p.Type]
	sp := shapeParams{center: p.Center, scale: p.Scale, steepness: p.Steepness}
	if sp.center == 0 {
		sp.center = 0.5
	}
	if sp.scale == 0 {
		sp.scale = 0.5
	}
	if sp.steepness == 0 {
		sp.steepness = 1
	}

	lo, hi := window(p.MinThreshold, p.MaxThreshold, n)
	shape := make([]float64, n)
	for i := range shape {
		switch {
		case fam.flat:
			shape[i] = fam.shape(0, sp)
		case i < lo:
			shape[i] = 0
		case i >= hi:
			shape[i] = fam.after
		default:
			t := (float64(i-lo) + 0.5) / float64(hi-lo)
			shape[i] = fam.shape(t, sp)
		}
		if p.Invert && !fam.flat {
			shape[i] = 1 - shape[i]
		}
	}

	out := make([]float64, n)
	if fam.flat {
		for i := range out {
			out[i] = p.AgentValue
		}
		return out, nil
	}

	minV, maxV := p.MinValue, p.MaxValue
	if maxV <= minV {
		meanShape := stat.Mean(shape, nil)
		if meanShape <= 0 {
			for i := range out {
				out[i] = p.AgentValue
			}
			return out, nil
		}
		maxV = minV + (p.AgentValue-minV)/meanShape
	}
	for i, s := range shape {
		out[i] = minV + (maxV-minV)*s
	}

	if p.Noise {
		applyNoise(out, p.NoiseSeed)
	}
	return out, nil
}

// window clamps thresholds into [0,n] and returns the active range.
func window(minT, maxT, n int) (int, int) {
	lo := minT
	if lo < 0 {
		lo = 0
	}
	if lo > n {
		lo = n
	}
	hi := maxT
	if hi <= lo || hi > n {
		hi = n
	}
	if hi <= lo {
		lo = 0
	}
	return lo, hi
}

// applyNoise jitters values multiplicatively, keeping them inside the
// noiseless curve's bounds.
func applyNoise(values []float64, seed int64) {
	lower := math.Max(0, floats.Min(values))
	upper := floats.Max(values)
	ns := opensimplex.New(seed)
	for i, v := range values {
		j := ns.Eval2(float64(i)*NoiseFrequency, 0)
		values[i] = math.Max(lower, math.Min(upper, v*(1+NoiseAmplitude*j)))
	}
}
