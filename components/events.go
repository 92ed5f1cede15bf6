package components

import (
	"fmt"

	"github.com/pthm-cable/habitat/variation"
)

// EventKind is what a spawned event instance does.
type EventKind uint8

const (
	EventMultiplier EventKind = iota
	EventTermination
)

// ParseEventKind maps a config value to EventKind.
func ParseEventKind(s string) (EventKind, error) {
	switch s {
	case "multiplier":
		return EventMultiplier, nil
	case "termination":
		return EventTermination, nil
	}
	return EventMultiplier, fmt.Errorf("unknown event kind %q", s)
}

// EventSpec is a resolved event declaration with per-step rates.
type EventSpec struct {
	Name  string
	Kind  EventKind
	Group bool // group scope allows a single instance

	ProbabilityPerStep float64

	Magnitude          float64
	MagnitudeVariation *variation.Spec

	Duration          float64 // 0 means instances never expire
	DurationDelta     float64
	DurationVariation *variation.Spec
}

// MaxInstances is the slot count for a population of amount.
func (e EventSpec) MaxInstances(amount int) int {
	if e.Group {
		return 1
	}
	return amount
}

// EventInstance is one active event.
type EventInstance struct {
	Magnitude   float64 `json:"magnitude"`
	Duration    float64 `json:"duration,omitempty"`
	HasDuration bool    `json:"has_duration,omitempty"`
}
