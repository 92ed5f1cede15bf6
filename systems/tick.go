// Package systems implements the per-tick behavior of habitat agents.
package systems

import (
	"math"
	"math/rand/v2"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/habitat/components"
)

// StorageLookup resolves a connected storage entity. ok is false once the
// entity has been removed from the world.
type StorageLookup interface {
	Storage(e ecs.Entity) (s *components.Storage, owner *components.Agent, ok bool)
}

// Tick carries everything an agent step may read besides its own
// components. A new Tick is built by the scheduler for every step.
type Tick struct {
	Step      int
	TimeHours float64

	HoursPerStep   float64
	DayLengthHours float64
	StepsPerDay    int

	GlobalEntropy float64

	Ratios    *RatioSnapshot
	Storages  StorageLookup
	Functions *Functions

	// Src and Rand share one generator so every draw advances the same
	// stream.
	Src  rand.Source
	Rand *rand.Rand

	co2 map[string]CO2Response
}

// NewTick builds a tick context around a shared generator.
func NewTick(step int, timeHours, hoursPerStep, dayLengthHours float64, src rand.Source) *Tick {
	spd := int(math.Floor(dayLengthHours/hoursPerStep + 1e-9))
	if spd < 1 {
		spd = 1
	}
	return &Tick{
		Step:           step,
		TimeHours:      timeHours,
		HoursPerStep:   hoursPerStep,
		DayLengthHours: dayLengthHours,
		StepsPerDay:    spd,
		Src:            src,
		Rand:           rand.New(src),
	}
}

// StepResult is what an agent step asks the scheduler to do.
type StepResult struct {
	Outcome Outcome
	Reason  string
}

// Outcome of one agent step.
type Outcome uint8

const (
	Continue Outcome = iota
	Destroy          // remove the agent at the end of the tick
	Abort            // step stopped early; earlier flows in the step stand
)

func (o Outcome) String() string {
	switch o {
	case Destroy:
		return "destroy"
	case Abort:
		return "abort"
	default:
		return "continue"
	}
}

var resultContinue = StepResult{Outcome: Continue}

func destroyed(reason string) StepResult {
	return StepResult{Outcome: Destroy, Reason: reason}
}
