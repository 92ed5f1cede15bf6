package components

import (
	"fmt"
	"strings"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/habitat/currency"
	"github.com/pthm-cable/habitat/variation"
)

// Direction of an exchange relative to the agent.
type Direction uint8

const (
	In Direction = iota
	Out
)

func (d Direction) String() string {
	if d == Out {
		return "out"
	}
	return "in"
}

// ParseAttr splits an exchange attribute such as "in_potable" into its
// direction and currency. It runs once at load time.
func ParseAttr(attr string) (Direction, string, error) {
	prefix, name, ok := strings.Cut(attr, "_")
	if !ok || name == "" {
		return In, "", fmt.Errorf("malformed exchange attribute %q", attr)
	}
	switch prefix {
	case "in":
		return In, name, nil
	case "out":
		return Out, name, nil
	}
	return In, "", fmt.Errorf("exchange attribute %q must start with in_ or out_", attr)
}

// Required marks how an input deficit affects the step.
type Required uint8

const (
	RequiredNone Required = iota
	Mandatory             // abort the rest of the step
	Desired               // stall growth, keep going
)

// ParseRequired maps a config value to Required.
func ParseRequired(s string) (Required, error) {
	switch s {
	case "":
		return RequiredNone, nil
	case "mandatory":
		return Mandatory, nil
	case "desired":
		return Desired, nil
	}
	return RequiredNone, fmt.Errorf("unknown is_required value %q", s)
}

// Criteria gates a flow on an agent property or a storage ratio.
type Criteria struct {
	Source string
	Op     string // ">", "<" or "="
	Value  float64
	Buffer float64
}

// Exchange is one declared input or output, with wiring fixed at creation.
type Exchange struct {
	Attr      string
	Direction Direction
	Currency  string
	View      currency.View
	Unit      string
	Value     float64 // nominal rate after initial variation; 0 keeps a dummy connection

	Storages   []ecs.Entity
	StepValues []float64

	Requires []string
	Required Required
	Criteria *Criteria
	Weighted string

	DepriveValue float64
	DepriveDelta float64 // budget consumed per deprived instance per step
}

// Threshold kills the agent when a connected storage ratio crosses Value.
type Threshold struct {
	Upper    bool
	Currency string
	Value    float64
}

// Transfer is one ledger line: what actually moved this tick.
type Transfer struct {
	Attr        string
	Direction   Direction
	Currency    string
	Storage     ecs.Entity
	StorageID   uint64
	StorageType string
	Amount      float64 // always non-negative
}

// Flow is the exchange state of a flow-capable agent.
type Flow struct {
	Exchanges      []Exchange
	Thresholds     []Threshold
	CustomFunction string

	Events        []EventSpec
	ProcessEvents bool
	Instances     map[string][]EventInstance
	Multipliers   map[string]float64

	StepVariation   *variation.Spec
	StepVariable    float64
	InitialVariable float64

	Buffer  map[string]float64
	Deprive map[string]float64

	AgeSteps       int     // whole steps lived
	Age            float64 // simulated hours, AgeSteps*HoursPerStep
	MissingDesired bool

	Ledger []Transfer
}

// Exchange returns the exchange declared for attr.
func (f *Flow) Exchange(attr string) (*Exchange, bool) {
	for i := range f.Exchanges {
		if f.Exchanges[i].Attr == attr {
			return &f.Exchanges[i], true
		}
	}
	return nil, false
}

// LedgerTotal sums the amounts moved for attr this tick.
func (f *Flow) LedgerTotal(attr string) float64 {
	var total float64
	for _, t := range f.Ledger {
		if t.Attr == attr {
			total += t.Amount
		}
	}
	return total
}

// EventMultiplier is the product of all active event multipliers, taken in
// event declaration order.
func (f *Flow) EventMultiplier() float64 {
	m := 1.0
	for _, ev := range f.Events {
		if v, ok := f.Multipliers[ev.Name]; ok {
			m *= v
		}
	}
	return m
}
