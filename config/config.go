// Package config provides configuration loading and access for the simulation.
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/habitat/currency"
	"github.com/pthm-cable/habitat/growth"
	"github.com/pthm-cable/habitat/variation"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all simulation configuration parameters.
type Config struct {
	Simulation      SimulationConfig  `yaml:"simulation"`
	Currencies      []CurrencyConfig  `yaml:"currencies"`
	CurrencyClasses []ClassConfig     `yaml:"currency_classes"`
	AgentTypes      []AgentTypeConfig `yaml:"agent_types"`
	Recipe          []RecipeEntry     `yaml:"recipe"`
	Telemetry       TelemetryConfig   `yaml:"telemetry"`
	Persistence     PersistenceConfig `yaml:"persistence"`
	Archive         ArchiveConfig     `yaml:"archive"`
	Metrics         MetricsConfig     `yaml:"metrics"`
	Optimize        OptimizeConfig    `yaml:"optimize"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// SimulationConfig holds model-wide parameters.
type SimulationConfig struct {
	Location              string              `yaml:"location"`         // earth, mars or moon
	MinutesPerStep        float64             `yaml:"minutes_per_step"` // Model time per tick
	Seed                  uint64              `yaml:"seed"`
	GlobalEntropy         float64             `yaml:"global_entropy"` // 0 disables variation and events
	SingleAgent           bool                `yaml:"single_agent"`   // false = one entity per instance
	Priorities            []string            `yaml:"priorities"`     // Agent classes in activation order
	Termination           []TerminationConfig `yaml:"termination"`
	TerminateOnExtinction []string            `yaml:"terminate_on_extinction"` // Stop once all of these types are gone
	MaxSteps              int                 `yaml:"max_steps"`               // 0 = unbounded
}

// TerminationConfig is one stopping rule.
type TerminationConfig struct {
	Condition string  `yaml:"condition"` // only "time"
	Value     float64 `yaml:"value"`
	Unit      string  `yaml:"unit"` // min, hour, day or year
}

// CurrencyConfig declares one tracked substance.
type CurrencyConfig struct {
	Name  string `yaml:"name"`
	Unit  string `yaml:"unit"`
	Class string `yaml:"class"`
}

// ClassConfig overrides the unit of a currency class.
type ClassConfig struct {
	Name string `yaml:"name"`
	Unit string `yaml:"unit"`
}

// AgentTypeConfig describes one kind of agent.
type AgentTypeConfig struct {
	Name           string             `yaml:"name"`
	Class          string             `yaml:"class"` // Priority group, e.g. "inhabitants"
	Kind           string             `yaml:"kind"`  // storage, flow or plant
	Capacity       map[string]float64 `yaml:"capacity,omitempty"`
	Flows          []FlowConfig       `yaml:"flows,omitempty"`
	Thresholds     []ThresholdConfig  `yaml:"thresholds,omitempty"`
	CustomFunction string             `yaml:"custom_function,omitempty"`
	Events         []EventConfig      `yaml:"events,omitempty"`
	Variation      *VariationConfig   `yaml:"variation,omitempty"`
	Plant          *PlantConfig       `yaml:"plant,omitempty"`
}

// FlowConfig declares one input or output.
type FlowConfig struct {
	Attr        string          `yaml:"attr"`  // in_<currency> or out_<currency>
	Value       float64         `yaml:"value"` // Nominal rate per Time
	Unit        string          `yaml:"unit"`
	Time        string          `yaml:"time"` // min, hour or day
	Connections []string        `yaml:"connections"`
	Requires    []string        `yaml:"requires,omitempty"`
	Required    string          `yaml:"is_required,omitempty"` // mandatory or desired
	Criteria    *CriteriaConfig `yaml:"criteria,omitempty"`
	Deprive     *RateConfig     `yaml:"deprive,omitempty"`
	Growth      *growth.Spec    `yaml:"growth,omitempty"`
	Weighted    string          `yaml:"weighted,omitempty"` // Agent property scaling this flow
}

// CriteriaConfig gates a flow.
type CriteriaConfig struct {
	Name   string  `yaml:"name"`  // Property or storage ratio
	Limit  string  `yaml:"limit"` // >, < or =
	Value  float64 `yaml:"value"`
	Buffer float64 `yaml:"buffer,omitempty"` // Steps of grace
}

// RateConfig is a value paired with a time unit.
type RateConfig struct {
	Value float64 `yaml:"value"`
	Unit  string  `yaml:"unit"`
}

// ThresholdConfig kills an agent when a storage ratio crosses Value.
type ThresholdConfig struct {
	Kind     string  `yaml:"kind"` // upper or lower
	Currency string  `yaml:"currency"`
	Value    float64 `yaml:"value"`
}

// EventConfig declares a probabilistic event.
type EventConfig struct {
	Name               string          `yaml:"name"`
	Kind               string          `yaml:"kind"`  // multiplier or termination
	Scope              string          `yaml:"scope"` // group or individual
	Probability        RateConfig      `yaml:"probability"`
	Magnitude          float64         `yaml:"magnitude,omitempty"`
	MagnitudeVariation *variation.Spec `yaml:"magnitude_variation,omitempty"`
	Duration           *RateConfig     `yaml:"duration,omitempty"`
	DurationVariation  *variation.Spec `yaml:"duration_variation,omitempty"`
}

// VariationConfig holds per-instance randomness.
type VariationConfig struct {
	Initial *InitialVariation `yaml:"initial,omitempty"`
	Step    *variation.Spec   `yaml:"step,omitempty"`
}

// InitialVariation is drawn once per agent. Characteristics names extra
// values it scales besides flows: "lifetime" or "capacity_<currency>".
type InitialVariation struct {
	variation.Spec  `yaml:",inline"`
	Characteristics []string `yaml:"characteristics,omitempty"`
}

// PlantConfig holds the growth cycle of a plant type.
type PlantConfig struct {
	Lifetime       float64 `yaml:"lifetime"`
	LifetimeUnit   string  `yaml:"lifetime_unit"` // min, hour or day
	Reproduce      bool    `yaml:"reproduce"`
	GrowthCriteria string  `yaml:"growth_criteria"`           // Flow attr that measures growth
	CarbonFixation string  `yaml:"carbon_fixation,omitempty"` // c3, c4 or empty
}

// RecipeEntry places agents of one type at start.
type RecipeEntry struct {
	Type    string             `yaml:"type"`
	Amount  int                `yaml:"amount"`
	Balance map[string]float64 `yaml:"balance,omitempty"` // Initial total per currency
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	StatsWindow   int    `yaml:"stats_window"`   // Steps per stats window
	PerfWindow    int    `yaml:"perf_window"`    // Ticks per perf window
	OutputDir     string `yaml:"output_dir"`     // CSV output (empty = disabled)
	SnapshotDir   string `yaml:"snapshot_dir"`   // zstd snapshots (empty = disabled)
	SnapshotEvery int    `yaml:"snapshot_every"` // Steps between snapshots
	LogStats      bool   `yaml:"log_stats"`
}

// PersistenceConfig selects the record store.
type PersistenceConfig struct {
	Driver    string `yaml:"driver"` // sqlite, pgx or empty to disable
	DSN       string `yaml:"dsn"`
	BatchSize int    `yaml:"batch_size"` // Steps per write
}

// ArchiveConfig selects where snapshots are archived.
type ArchiveConfig struct {
	Kind         string `yaml:"kind"` // fs, s3 or empty
	Dir          string `yaml:"dir"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// MetricsConfig holds the prometheus endpoint.
type MetricsConfig struct {
	Addr      string `yaml:"addr"` // empty = disabled
	Namespace string `yaml:"namespace"`
}

// OptimizeConfig holds calibration parameters for cmd/optimize.
type OptimizeConfig struct {
	Steps    int             `yaml:"steps"`
	Seeds    int             `yaml:"seeds"`
	MaxEvals int             `yaml:"max_evals"`
	Params   []OptimizeParam `yaml:"params"`
}

// OptimizeParam is one tunable recipe value.
type OptimizeParam struct {
	Name    string  `yaml:"name"`
	Target  string  `yaml:"target"` // amount or flow
	Type    string  `yaml:"type"`
	Attr    string  `yaml:"attr,omitempty"` // For flow targets
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
	Default float64 `yaml:"default"`
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	HoursPerStep     float64
	DayLengthMinutes float64
	DayLengthHours   float64
	StepsPerDay      int
	Catalog          *currency.Catalog
	AgentTypeIndex   map[string]int // name -> index into AgentTypes
	AgentTypeID      map[string]int // name -> 1-based type id
	ClassIndex       map[string]int // priority class -> position in Priorities
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	return Parse(data)
}

// Parse merges YAML over the embedded defaults, validates it and computes
// derived values.
func Parse(data []byte) (*Config, error) {
	if err := validateSchema(defaultsYAML); err != nil {
		return nil, fmt.Errorf("embedded defaults: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if len(data) > 0 {
		if err := validateSchema(data); err != nil {
			return nil, err
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.computeDerived(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Clone returns a deep copy, used when several games tweak one base config.
func (c *Config) Clone() (*Config, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	out := &Config{}
	if err := yaml.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("parsing config copy: %w", err)
	}
	if err := out.computeDerived(); err != nil {
		return nil, err
	}
	return out, nil
}

// WholeSteps is the number of complete steps of hoursPerStep that fit in
// hours. Quotients within float error of an integer count as that integer.
func WholeSteps(hours, hoursPerStep float64) int {
	return int(math.Floor(hours/hoursPerStep + 1e-9))
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() error {
	if c.Simulation.MinutesPerStep <= 0 {
		return invalidf("simulation.minutes_per_step must be positive, got %v", c.Simulation.MinutesPerStep)
	}
	dayMinutes, ok := DayLengthMinutes(c.Simulation.Location)
	if !ok {
		return invalidf("unknown location %q", c.Simulation.Location)
	}
	c.Derived.HoursPerStep = c.Simulation.MinutesPerStep / 60
	c.Derived.DayLengthMinutes = dayMinutes
	c.Derived.DayLengthHours = dayMinutes / 60
	c.Derived.StepsPerDay = max(WholeSteps(c.Derived.DayLengthHours, c.Derived.HoursPerStep), 1)

	currencies := make([]currency.Currency, len(c.Currencies))
	for i, cc := range c.Currencies {
		currencies[i] = currency.Currency{Name: cc.Name, Unit: cc.Unit, Class: cc.Class}
	}
	classes := make([]currency.Class, len(c.CurrencyClasses))
	for i, cl := range c.CurrencyClasses {
		classes[i] = currency.Class{Name: cl.Name, Unit: cl.Unit}
	}
	cat, err := currency.NewCatalog(currencies, classes)
	if err != nil {
		return invalidf("currencies: %v", err)
	}
	c.Derived.Catalog = cat

	c.Derived.AgentTypeIndex = make(map[string]int, len(c.AgentTypes))
	c.Derived.AgentTypeID = make(map[string]int, len(c.AgentTypes))
	for i, at := range c.AgentTypes {
		c.Derived.AgentTypeIndex[at.Name] = i
		c.Derived.AgentTypeID[at.Name] = i + 1
	}
	c.Derived.ClassIndex = make(map[string]int, len(c.Simulation.Priorities))
	for i, class := range c.Simulation.Priorities {
		c.Derived.ClassIndex[class] = i
	}
	return nil
}

// AgentType returns the named agent type.
func (c *Config) AgentType(name string) (*AgentTypeConfig, bool) {
	i, ok := c.Derived.AgentTypeIndex[name]
	if !ok {
		return nil, false
	}
	return &c.AgentTypes[i], true
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// toJSONValue converts decoded YAML into plain JSON values for the schema
// validator.
func toJSONValue(data []byte) (any, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}
	if raw == nil {
		return map[string]any{}, nil
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("converting yaml to json: %w", err)
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return nil, fmt.Errorf("decoding json: %w", err)
	}
	return out, nil
}
