package config

import (
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load defaults: %v", err)
	}
	if cfg.Simulation.Location != "mars" {
		t.Errorf("location = %q, want mars", cfg.Simulation.Location)
	}
	if cfg.Derived.HoursPerStep != 1 {
		t.Errorf("HoursPerStep = %v, want 1", cfg.Derived.HoursPerStep)
	}
	if math.Abs(cfg.Derived.DayLengthHours-24.65) > 1e-9 {
		t.Errorf("DayLengthHours = %v, want 24.65", cfg.Derived.DayLengthHours)
	}
	if cfg.Derived.StepsPerDay != 24 {
		t.Errorf("StepsPerDay = %d, want 24", cfg.Derived.StepsPerDay)
	}
	if id := cfg.Derived.AgentTypeID["crew_habitat"]; id != 1 {
		t.Errorf("AgentTypeID[crew_habitat] = %d, want 1", id)
	}
	if _, ok := cfg.AgentType("wheat"); !ok {
		t.Error("wheat agent type missing")
	}
	view, err := cfg.Derived.Catalog.View("water")
	if err != nil {
		t.Fatalf("View(water): %v", err)
	}
	if len(view.Members) != 3 {
		t.Errorf("water members = %v, want 3", view.Members)
	}
}

func TestDayLengths(t *testing.T) {
	tests := []struct {
		location string
		want     float64
	}{
		{"earth", 1440},
		{"mars", 1479},
		{"moon", 42523},
	}
	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			got, ok := DayLengthMinutes(tt.location)
			if !ok || got != tt.want {
				t.Errorf("DayLengthMinutes(%q) = %v, %v, want %v", tt.location, got, ok, tt.want)
			}
		})
	}
	if _, ok := DayLengthMinutes("venus"); ok {
		t.Error("venus should be unknown")
	}
}

func TestParseOverrides(t *testing.T) {
	cfg, err := Parse([]byte("simulation:\n  location: earth\n  minutes_per_step: 30\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Derived.HoursPerStep != 0.5 {
		t.Errorf("HoursPerStep = %v, want 0.5", cfg.Derived.HoursPerStep)
	}
	if cfg.Derived.StepsPerDay != 48 {
		t.Errorf("StepsPerDay = %d, want 48", cfg.Derived.StepsPerDay)
	}
	// Untouched fields keep their defaults.
	if cfg.Simulation.GlobalEntropy != 1 {
		t.Errorf("GlobalEntropy = %v, want default 1", cfg.Simulation.GlobalEntropy)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"schema typo", "simulaton:\n  seed: 3\n", "simulaton"},
		{"bad location", "simulation:\n  location: venus\n", "location"},
		{"negative step", "simulation:\n  minutes_per_step: -5\n", "minutes_per_step"},
		{"unknown recipe type", "recipe:\n  - {type: robot, amount: 1}\n", "robot"},
		{"balance over capacity", "recipe:\n  - {type: food_storage, amount: 1, balance: {wheat: 5000}}\n", "wheat"},
		{"unknown connection", `
agent_types:
  - name: lamp
    class: eclss
    kind: flow
    flows:
      - {attr: in_kwh, value: 1, unit: kWh, time: hour, connections: [battery]}
recipe: []
simulation:
  terminate_on_extinction: []
`, "battery"},
		{"unit mismatch", `
currencies:
  - {name: kwh, unit: kWh}
currency_classes: []
agent_types:
  - name: battery
    kind: storage
    capacity: {kwh: 10}
  - name: lamp
    class: eclss
    kind: flow
    flows:
      - {attr: in_kwh, value: 1, unit: kg, time: hour, connections: [battery]}
recipe: []
simulation:
  terminate_on_extinction: []
`, "unit"},
		{"requires without input", `
currencies:
  - {name: kwh, unit: kWh}
currency_classes: []
agent_types:
  - name: battery
    kind: storage
    capacity: {kwh: 10}
  - name: lamp
    class: eclss
    kind: flow
    flows:
      - {attr: out_kwh, value: 1, time: hour, connections: [battery], requires: [o2]}
recipe: []
simulation:
  terminate_on_extinction: []
`, "requires"},
		{"plant without block", `
currencies:
  - {name: biomass, unit: kg}
currency_classes: []
agent_types:
  - name: fern
    class: plants
    kind: plant
    capacity: {biomass: 1}
recipe: []
simulation:
  terminate_on_extinction: []
`, "plant"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("error %v does not wrap ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestTimeUnitHours(t *testing.T) {
	tests := []struct {
		unit string
		want float64
	}{
		{"min", 1.0 / 60},
		{"hour", 1},
		{"day", 24.65},
		{"year", 24.65 * 365},
	}
	for _, tt := range tests {
		got, ok := TimeUnitHours(tt.unit, 24.65)
		if !ok || math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("TimeUnitHours(%q) = %v, want %v", tt.unit, got, tt.want)
		}
	}
	if _, ok := TimeUnitHours("week", 24); ok {
		t.Error("week should be rejected")
	}
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Simulation.Seed = 99
	path := filepath.Join(t.TempDir(), "effective.yaml")
	if err := cfg.WriteYAML(path); err != nil {
		t.Fatalf("WriteYAML: %v", err)
	}
	back, err := Load(path)
	if err != nil {
		t.Fatalf("Load written config: %v", err)
	}
	if back.Simulation.Seed != 99 {
		t.Errorf("seed = %d, want 99", back.Simulation.Seed)
	}
	if len(back.AgentTypes) != len(cfg.AgentTypes) {
		t.Errorf("agent types = %d, want %d", len(back.AgentTypes), len(cfg.AgentTypes))
	}
}

func TestClone(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cp, err := cfg.Clone()
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	cp.Recipe[0].Amount = 7
	if cfg.Recipe[0].Amount == 7 {
		t.Error("Clone shares recipe storage with the original")
	}
}

func TestWholeSteps(t *testing.T) {
	tests := []struct {
		hours float64
		hps   float64
		want  int
	}{
		{24, 1, 24},
		{10, 1.0 / 6, 60},
		{1, 0.1, 10},
		{24.65, 1, 24},
		{0.05, 0.1, 0},
	}
	for _, tt := range tests {
		if got := WholeSteps(tt.hours, tt.hps); got != tt.want {
			t.Errorf("WholeSteps(%v, %v) = %d, want %d", tt.hours, tt.hps, got, tt.want)
		}
	}
}

func TestValidateOutputs(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string // empty = valid
	}{
		{"defaults", func(*Config) {}, ""},
		{"sqlite", func(c *Config) { c.Persistence.Driver, c.Persistence.DSN = "sqlite", "runs.db" }, ""},
		{"unknown driver", func(c *Config) { c.Persistence.Driver, c.Persistence.DSN = "mysql", "x" }, "driver"},
		{"driver without dsn", func(c *Config) { c.Persistence.Driver = "pgx" }, "dsn"},
		{"s3 without bucket", func(c *Config) { c.Archive.Kind = "s3" }, "bucket"},
		{"fs without dir", func(c *Config) { c.Archive.Kind = "fs" }, "dir"},
		{"unknown archive", func(c *Config) { c.Archive.Kind = "ftp" }, "kind"},
		{"negative max steps", func(c *Config) { c.Simulation.MaxSteps = -1 }, "max_steps"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tt.modify(cfg)
			err = cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("error %v does not wrap ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}
