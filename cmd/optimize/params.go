// Package main provides CMA-ES calibration of habitat recipe parameters.
package main

import (
	"fmt"
	"math"

	"github.com/pthm-cable/habitat/config"
)

// ParamSpec defines a single optimizable parameter.
type ParamSpec struct {
	Name    string  // Human-readable name
	Target  string  // "amount" or "flow"
	Type    string  // Agent type
	Attr    string  // Flow attr for flow targets
	Min     float64 // Lower bound
	Max     float64 // Upper bound
	Default float64 // Default value
}

// Path is the config location the parameter writes to, for logging.
func (s ParamSpec) Path() string {
	if s.Target == "flow" {
		return fmt.Sprintf("agent_types[%s].flows[%s].value", s.Type, s.Attr)
	}
	return fmt.Sprintf("recipe[%s].amount", s.Type)
}

// ParamVector holds the set of all optimizable parameters.
type ParamVector struct {
	Specs []ParamSpec
}

// NewParamVector builds the parameter set from the optimize section.
func NewParamVector(cfg *config.Config) (*ParamVector, error) {
	pv := &ParamVector{}
	for _, p := range cfg.Optimize.Params {
		spec := ParamSpec{
			Name: p.Name, Target: p.Target, Type: p.Type, Attr: p.Attr,
			Min: p.Min, Max: p.Max, Default: p.Default,
		}
		if spec.Max <= spec.Min {
			return nil, fmt.Errorf("%w: optimize param %s: empty range [%v, %v]", config.ErrInvalid, spec.Name, spec.Min, spec.Max)
		}
		pv.Specs = append(pv.Specs, spec)
	}
	if len(pv.Specs) == 0 {
		return nil, fmt.Errorf("%w: optimize.params is empty", config.ErrInvalid)
	}
	// Fail early on targets the config does not have.
	if err := pv.ApplyToConfig(cfg, pv.ExtractFromConfig(cfg)); err != nil {
		return nil, err
	}
	return pv, nil
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int {
	return len(pv.Specs)
}

// DefaultVector returns the default parameter values as a slice.
func (pv *ParamVector) DefaultVector() []float64 {
	v := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		v[i] = spec.Default
	}
	return v
}

// Normalize converts raw parameter values to [0,1] range.
func (pv *ParamVector) Normalize(raw []float64) []float64 {
	normalized := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		normalized[i] = (raw[i] - spec.Min) / (spec.Max - spec.Min)
	}
	return normalized
}

// Denormalize converts [0,1] values back to raw parameter values.
func (pv *ParamVector) Denormalize(normalized []float64) []float64 {
	raw := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		raw[i] = spec.Min + normalized[i]*(spec.Max-spec.Min)
	}
	return raw
}

// Clamp ensures all values are within bounds.
func (pv *ParamVector) Clamp(v []float64) []float64 {
	clamped := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		clamped[i] = math.Min(math.Max(v[i], spec.Min), spec.Max)
	}
	return clamped
}

// ApplyToConfig writes clamped parameter values into cfg. Amounts are
// rounded and kept at least 1.
func (pv *ParamVector) ApplyToConfig(cfg *config.Config, values []float64) error {
	clamped := pv.Clamp(values)
	for i, spec := range pv.Specs {
		switch spec.Target {
		case "amount":
			entry := recipeEntry(cfg, spec.Type)
			if entry == nil {
				return fmt.Errorf("%w: optimize param %s: %q not in recipe", config.ErrInvalid, spec.Name, spec.Type)
			}
			entry.Amount = max(int(math.Round(clamped[i])), 1)
		case "flow":
			fc := flowConfig(cfg, spec.Type, spec.Attr)
			if fc == nil {
				return fmt.Errorf("%w: optimize param %s: no flow %s on %q", config.ErrInvalid, spec.Name, spec.Attr, spec.Type)
			}
			fc.Value = clamped[i]
		default:
			return fmt.Errorf("%w: optimize param %s: unknown target %q", config.ErrInvalid, spec.Name, spec.Target)
		}
	}
	return nil
}

// ExtractFromConfig reads the current parameter values from cfg. Missing
// targets read as the parameter default.
func (pv *ParamVector) ExtractFromConfig(cfg *config.Config) []float64 {
	v := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		v[i] = spec.Default
		switch spec.Target {
		case "amount":
			if entry := recipeEntry(cfg, spec.Type); entry != nil {
				v[i] = float64(entry.Amount)
			}
		case "flow":
			if fc := flowConfig(cfg, spec.Type, spec.Attr); fc != nil {
				v[i] = fc.Value
			}
		}
	}
	return v
}

// recipeEntry returns the first recipe entry of an agent type.
func recipeEntry(cfg *config.Config, agentType string) *config.RecipeEntry {
	for i := range cfg.Recipe {
		if cfg.Recipe[i].Type == agentType {
			return &cfg.Recipe[i]
		}
	}
	return nil
}

func flowConfig(cfg *config.Config, agentType, attr string) *config.FlowConfig {
	at, ok := cfg.AgentType(agentType)
	if !ok {
		return nil
	}
	for i := range at.Flows {
		if at.Flows[i].Attr == attr {
			return &at.Flows[i]
		}
	}
	return nil
}
