package growth

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Curve is a configured growth shape. Thresholds are fractions of the span
// the curve covers: the lifecycle, or a single day for daily curves. For
// daily curves MinValue and MaxValue are factors of that day's mean.
type Curve struct {
	Type         string  `yaml:"type" json:"type"`
	MinValue     float64 `yaml:"min_value,omitempty" json:"min_value,omitempty"`
	MaxValue     float64 `yaml:"max_value,omitempty" json:"max_value,omitempty"`
	MinThreshold float64 `yaml:"min_threshold,omitempty" json:"min_threshold,omitempty"`
	MaxThreshold float64 `yaml:"max_threshold,omitempty" json:"max_threshold,omitempty"`
	Center       float64 `yaml:"center,omitempty" json:"center,omitempty"`
	Scale        float64 `yaml:"scale,omitempty" json:"scale,omitempty"`
	Steepness    float64 `yaml:"steepness,omitempty" json:"steepness,omitempty"`
	Noise        bool    `yaml:"noise,omitempty" json:"noise,omitempty"`
	Invert       bool    `yaml:"invert,omitempty" json:"invert,omitempty"`
}

// Spec pairs an optional lifetime curve with an optional daily overlay.
type Spec struct {
	Lifetime *Curve `yaml:"lifetime,omitempty" json:"lifetime,omitempty"`
	Daily    *Curve `yaml:"daily,omitempty" json:"daily,omitempty"`
}

// Validate checks curve families so a bad name fails at load time.
func (s Spec) Validate() error {
	if s.Lifetime != nil {
		if err := ValidType(s.Lifetime.Type); err != nil {
			return fmt.Errorf("lifetime curve: %w", err)
		}
	}
	if s.Daily != nil {
		if err := ValidType(s.Daily.Type); err != nil {
			return fmt.Errorf("daily curve: %w", err)
		}
	}
	return nil
}

// StepValues builds the per-step target sequence for one flow. seed is
// called once per noisy curve generated.
func StepValues(agentValue float64, nSteps, stepsPerDay int, s Spec, seed func() int64) ([]float64, error) {
	if nSteps <= 0 {
		return []float64{}, nil
	}
	var values []float64
	if lc := s.Lifetime; lc != nil {
		p := Params{
			AgentValue:   agentValue,
			NumValues:    nSteps,
			Type:         lc.Type,
			MinValue:     lc.MinValue,
			MaxValue:     lc.MaxValue,
			MinThreshold: int(lc.MinThreshold * float64(nSteps)),
			MaxThreshold: int(lc.MaxThreshold * float64(nSteps)),
			Center:       lc.Center,
			Noise:        lc.Noise,
			Invert:       lc.Invert,
			Scale:        lc.Scale,
			Steepness:    lc.Steepness,
		}
		if p.Noise && seed != nil {
			p.NoiseSeed = seed()
		}
		var err error
		values, err = Generate(p)
		if err != nil {
			return nil, err
		}
	} else {
		values = make([]float64, nSteps)
		for i := range values {
			values[i] = agentValue
		}
	}

	dc := s.Daily
	if dc == nil || stepsPerDay <= 0 {
		return values, nil
	}
	for i := 0; i < nSteps; i += stepsPerDay {
		end := min(i+stepsPerDay, nSteps)
		day := values[i:end]
		mean := stat.Mean(day, nil)
		dmin, dmax := floats.Min(day), floats.Max(day)

		var start float64
		switch {
		case dc.MinValue != 0:
			start = mean * dc.MinValue
		case dmin < dmax:
			start = dmin
		}
		if start == mean {
			for j := range day {
				day[j] = mean
			}
			continue
		}

		p := Params{
			AgentValue:   mean,
			NumValues:    end - i,
			Type:         dc.Type,
			MinValue:     start,
			MinThreshold: int(dc.MinThreshold * float64(stepsPerDay)),
			MaxThreshold: int(dc.MaxThreshold * float64(stepsPerDay)),
			Center:       dc.Center,
			Noise:        dc.Noise,
			Invert:       dc.Invert,
			Scale:        dc.Scale,
			Steepness:    dc.Steepness,
		}
		if dc.MaxValue != 0 {
			p.MaxValue = mean * dc.MaxValue
		}
		if p.Noise && seed != nil {
			p.NoiseSeed = seed()
		}
		daily, err := Generate(p)
		if err != nil {
			return nil, err
		}
		copy(day, daily)
	}
	return values, nil
}
