package game

import (
	"github.com/pthm-cable/habitat/systems"
	"github.com/pthm-cable/habitat/telemetry"
)

// Options holds per-run settings that are not part of the habitat config.
type Options struct {
	Seed     uint64 // 0 = use simulation.seed
	GameID   string // empty = new random id
	ParentID string // set when the game branches from another

	LogStats      bool
	StatsWindow   int // steps per stats window (0 = use config)
	OutputDir     string
	SnapshotDir   string
	SnapshotEvery int // steps between periodic snapshots (0 = use config)

	// Functions overrides the custom function registry (nil = built-ins).
	Functions *systems.Functions

	// StatsCallback is called after each stats window is flushed.
	StatsCallback func(telemetry.WindowStats)
	// DeathCallback is called for every agent removed from the habitat.
	DeathCallback func(telemetry.DeathRecord)
}

// DefaultOptions returns options that take everything from the config.
func DefaultOptions() Options {
	return Options{}
}
