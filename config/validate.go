package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/pthm-cable/habitat/components"
	"github.com/pthm-cable/habitat/currency"
)

// ErrInvalid marks a configuration that fails validation.
var ErrInvalid = errors.New("invalid config")

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "habitat://config.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// DayLengthMinutes returns the solar day of a location.
func DayLengthMinutes(location string) (float64, bool) {
	switch location {
	case "earth":
		return 1440, true
	case "mars":
		return 1479, true
	case "moon":
		return (27*24+7)*60 + 43, true
	}
	return 0, false
}

// TimeUnitHours converts a min, hour, day or year unit into hours for a
// given day length.
func TimeUnitHours(unit string, dayLengthHours float64) (float64, bool) {
	switch unit {
	case "min":
		return 1.0 / 60, true
	case "hour":
		return 1, true
	case "day":
		return dayLengthHours, true
	case "year":
		return dayLengthHours * 365, true
	}
	return 0, false
}

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("loading schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// validateSchema checks the structure of a YAML document before it is
// merged over the defaults.
func validateSchema(data []byte) error {
	s, err := compiledSchema()
	if err != nil {
		return err
	}
	v, err := toJSONValue(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Validate checks cross references the schema cannot express.
func (c *Config) Validate() error {
	cat := c.Derived.Catalog
	if cat == nil {
		return invalidf("derived values not computed")
	}
	for _, tc := range c.Simulation.Termination {
		if tc.Condition != "time" {
			return invalidf("termination condition %q", tc.Condition)
		}
		if _, ok := TimeUnitHours(tc.Unit, c.Derived.DayLengthHours); !ok {
			return invalidf("termination unit %q", tc.Unit)
		}
	}

	seen := make(map[string]bool, len(c.AgentTypes))
	for i := range c.AgentTypes {
		at := &c.AgentTypes[i]
		if seen[at.Name] {
			return invalidf("duplicate agent type %q", at.Name)
		}
		seen[at.Name] = true
		if err := c.validateAgentType(at); err != nil {
			return fmt.Errorf("agent type %s: %w", at.Name, err)
		}
	}
	for _, name := range c.Simulation.TerminateOnExtinction {
		if !seen[name] {
			return invalidf("terminate_on_extinction names unknown type %q", name)
		}
	}

	for _, r := range c.Recipe {
		at, ok := c.AgentType(r.Type)
		if !ok {
			return invalidf("recipe names unknown type %q", r.Type)
		}
		if r.Amount < 1 {
			return invalidf("recipe %s: amount must be at least 1", r.Type)
		}
		if at.Kind != "storage" && !slices.Contains(c.Simulation.Priorities, at.Class) {
			return invalidf("recipe %s: class %q is not in simulation.priorities", r.Type, at.Class)
		}
		for cur, v := range r.Balance {
			if _, ok := cat.Currency(cur); !ok {
				return invalidf("recipe %s: balance of unknown currency %q", r.Type, cur)
			}
			limit, ok := at.Capacity[cur]
			if !ok {
				return invalidf("recipe %s: no capacity for %s", r.Type, cur)
			}
			if v < 0 || v > limit*float64(r.Amount) {
				return invalidf("recipe %s: balance %s=%v outside [0, %v]", r.Type, cur, v, limit*float64(r.Amount))
			}
		}
	}

	for _, p := range c.Optimize.Params {
		if _, ok := c.AgentType(p.Type); !ok {
			return invalidf("optimize param %s: unknown type %q", p.Name, p.Type)
		}
		if p.Min > p.Max {
			return invalidf("optimize param %s: min > max", p.Name)
		}
	}
	return c.validateOutputs()
}

// validateOutputs checks the sections command line flags can override,
// which the schema only sees in the file.
func (c *Config) validateOutputs() error {
	if c.Simulation.MaxSteps < 0 {
		return invalidf("simulation.max_steps %d is negative", c.Simulation.MaxSteps)
	}
	if c.Telemetry.SnapshotEvery < 0 {
		return invalidf("telemetry.snapshot_every %d is negative", c.Telemetry.SnapshotEvery)
	}
	switch c.Persistence.Driver {
	case "":
	case "sqlite", "pgx":
		if c.Persistence.DSN == "" {
			return invalidf("persistence: driver %s needs a dsn", c.Persistence.Driver)
		}
	default:
		return invalidf("persistence: unknown driver %q", c.Persistence.Driver)
	}
	switch c.Archive.Kind {
	case "":
	case "fs":
		if c.Archive.Dir == "" {
			return invalidf("archive: kind fs needs a dir")
		}
	case "s3":
		if c.Archive.Bucket == "" {
			return invalidf("archive: kind s3 needs a bucket")
		}
	default:
		return invalidf("archive: unknown kind %q", c.Archive.Kind)
	}
	return nil
}

func (c *Config) validateAgentType(at *AgentTypeConfig) error {
	cat := c.Derived.Catalog
	if _, ok := components.ParseKind(at.Kind); !ok {
		return invalidf("unknown kind %q", at.Kind)
	}
	if at.Kind == "plant" && at.Plant == nil {
		return invalidf("plant kind needs a plant block")
	}
	for cur, v := range at.Capacity {
		if _, ok := cat.Currency(cur); !ok {
			if _, isClass := cat.Class(cur); !isClass {
				return invalidf("capacity of unknown currency %q", cur)
			}
		}
		if v < 0 {
			return invalidf("negative capacity for %s", cur)
		}
	}

	inputs := make(map[string]bool)
	for _, fl := range at.Flows {
		dir, cur, err := components.ParseAttr(fl.Attr)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		if dir == components.In {
			inputs[cur] = true
		}
	}

	for _, fl := range at.Flows {
		dir, cur, _ := components.ParseAttr(fl.Attr)
		view, err := cat.View(cur)
		if err != nil {
			return invalidf("flow %s: %v", fl.Attr, err)
		}
		if dir == components.Out && view.IsClass() {
			return invalidf("flow %s: outputs must name a single currency", fl.Attr)
		}
		unit, _ := cat.Unit(cur)
		if fl.Unit != "" && !currency.Compatible(fl.Unit, unit) {
			return invalidf("flow %s: unit %q does not measure %s", fl.Attr, fl.Unit, unit)
		}
		if _, ok := TimeUnitHours(fl.Time, c.Derived.DayLengthHours); !ok || fl.Time == "year" {
			return invalidf("flow %s: time unit %q", fl.Attr, fl.Time)
		}
		if len(fl.Connections) == 0 {
			return invalidf("flow %s: no connections", fl.Attr)
		}
		for _, conn := range fl.Connections {
			target, ok := c.AgentType(conn)
			if !ok {
				return invalidf("flow %s: unknown connection %q", fl.Attr, conn)
			}
			if !holdsAny(target, view) {
				return invalidf("flow %s: %s holds no %s", fl.Attr, conn, cur)
			}
		}
		for _, req := range fl.Requires {
			if !inputs[req] {
				return invalidf("flow %s: requires %q without an in_%s flow", fl.Attr, req, req)
			}
		}
		if _, err := components.ParseRequired(fl.Required); err != nil {
			return invalidf("flow %s: %v", fl.Attr, err)
		}
		if fl.Growth != nil {
			if err := fl.Growth.Validate(); err != nil {
				return invalidf("flow %s: %v", fl.Attr, err)
			}
		}
		if fl.Deprive != nil {
			if _, ok := TimeUnitHours(fl.Deprive.Unit, c.Derived.DayLengthHours); !ok {
				return invalidf("flow %s: deprive unit %q", fl.Attr, fl.Deprive.Unit)
			}
		}
	}

	for _, th := range at.Thresholds {
		if th.Kind != "upper" && th.Kind != "lower" {
			return invalidf("threshold kind %q", th.Kind)
		}
	}

	for _, ev := range at.Events {
		if _, err := components.ParseEventKind(ev.Kind); err != nil {
			return invalidf("event %s: %v", ev.Name, err)
		}
		if _, ok := TimeUnitHours(ev.Probability.Unit, c.Derived.DayLengthHours); !ok {
			return invalidf("event %s: probability unit %q", ev.Name, ev.Probability.Unit)
		}
		if ev.Duration != nil {
			if _, ok := TimeUnitHours(ev.Duration.Unit, c.Derived.DayLengthHours); !ok {
				return invalidf("event %s: duration unit %q", ev.Name, ev.Duration.Unit)
			}
		}
		if ev.MagnitudeVariation != nil {
			if err := ev.MagnitudeVariation.Validate(); err != nil {
				return invalidf("event %s magnitude: %v", ev.Name, err)
			}
		}
		if ev.DurationVariation != nil {
			if err := ev.DurationVariation.Validate(); err != nil {
				return invalidf("event %s duration: %v", ev.Name, err)
			}
		}
	}

	if v := at.Variation; v != nil {
		if v.Initial != nil {
			if err := v.Initial.Validate(); err != nil {
				return invalidf("initial variation: %v", err)
			}
			for _, ch := range v.Initial.Characteristics {
				if ch == "lifetime" {
					continue
				}
				if cur, ok := strings.CutPrefix(ch, "capacity_"); ok {
					if _, has := at.Capacity[cur]; has {
						continue
					}
				}
				return invalidf("unknown characteristic %q", ch)
			}
		}
		if v.Step != nil {
			if err := v.Step.Validate(); err != nil {
				return invalidf("step variation: %v", err)
			}
		}
	}

	if p := at.Plant; p != nil {
		if _, ok := TimeUnitHours(p.LifetimeUnit, c.Derived.DayLengthHours); !ok || p.LifetimeUnit == "year" {
			return invalidf("plant lifetime unit %q", p.LifetimeUnit)
		}
		if p.Lifetime <= 0 {
			return invalidf("plant lifetime must be positive")
		}
		if p.GrowthCriteria != "" && !slices.ContainsFunc(at.Flows, func(f FlowConfig) bool { return f.Attr == p.GrowthCriteria }) {
			return invalidf("growth_criteria %q is not a flow", p.GrowthCriteria)
		}
		switch p.CarbonFixation {
		case "", "c3", "c4":
		default:
			return invalidf("carbon_fixation %q", p.CarbonFixation)
		}
	}
	return nil
}

// holdsAny reports whether a storage type has capacity for any currency in
// the view.
func holdsAny(at *AgentTypeConfig, v currency.View) bool {
	if _, ok := at.Capacity[v.Name]; ok {
		return true
	}
	for _, m := range v.Members {
		if _, ok := at.Capacity[m]; ok {
			return true
		}
	}
	return false
}
