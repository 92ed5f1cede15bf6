// Package game runs a habitat: it builds agents from the recipe, steps them
// in priority order and reports what happened each tick.
package game

import (
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/google/uuid"
	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/habitat/components"
	"github.com/pthm-cable/habitat/config"
	"github.com/pthm-cable/habitat/systems"
	"github.com/pthm-cable/habitat/telemetry"
)

// streamID fixes the PCG stream; the seed picks the position.
const streamID = 0x9e3779b97f4a7c15

// Game holds the complete simulation state of one habitat.
type Game struct {
	cfg   *config.Config
	world *ecs.World

	// Component mappers
	agentMap   *ecs.Map[components.Agent]
	storageMap *ecs.Map[components.Storage]
	flowMap    *ecs.Map[components.Flow]
	plantMap   *ecs.Map[components.Plant]

	agentFilter *ecs.Filter1[components.Agent]

	// One generator drives shuffling, variation and events.
	seed uint64
	src  *rand.PCG
	rng  *rand.Rand

	id       string
	parentID string

	// Agents in creation order. Removed agents are dropped at cleanup.
	order  []ecs.Entity
	byID   map[uint64]ecs.Entity
	nextID uint64

	recipeTypes []string // agent types in first-seen recipe order
	airStorage  ecs.Entity
	hasAir      bool

	functions *systems.Functions
	ratios    *systems.RatioSnapshot
	registry  *systems.SystemRegistry

	// State
	step       int
	timeHours  float64
	terminated bool
	reason     string

	pendingRemoval []ecs.Entity
	stepLedger     []telemetry.ExchangeRecord
	records        []telemetry.StepRecord

	// Telemetry
	collector        *telemetry.Collector
	perfCollector    *telemetry.PerfCollector
	lifetimeTracker  *telemetry.LifetimeTracker
	bookmarkDetector *telemetry.BookmarkDetector
	outputManager    *telemetry.OutputManager
	logStats         bool
	snapshotDir      string
	snapshotEvery    int
	statsCallback    func(telemetry.WindowStats)
	deathCallback    func(telemetry.DeathRecord)
}

// NewGame builds a habitat from cfg's recipe. Every agent is validated
// before the game is returned; configuration problems wrap
// config.ErrInvalid.
func NewGame(cfg *config.Config, opts Options) (*Game, error) {
	seed := opts.Seed
	if seed == 0 {
		seed = cfg.Simulation.Seed
	}
	g, err := newGame(cfg, opts, seed, rand.NewPCG(seed, streamID))
	if err != nil {
		return nil, err
	}
	if err := g.spawnRecipe(); err != nil {
		g.Close()
		return nil, err
	}
	g.locateAir()

	slog.Info("habitat created",
		"game_id", g.id,
		"seed", seed,
		"agents", len(g.order),
		"hours_per_step", cfg.Derived.HoursPerStep,
		"day_length_hours", cfg.Derived.DayLengthHours,
	)
	return g, nil
}

// newGame sets up an empty world and the telemetry around it.
func newGame(cfg *config.Config, opts Options, seed uint64, src *rand.PCG) (*Game, error) {
	world := ecs.NewWorld()

	id := opts.GameID
	if id == "" {
		id = uuid.NewString()
	}
	functions := opts.Functions
	if functions == nil {
		functions = systems.NewFunctions()
	}

	statsWindow := cfg.Telemetry.StatsWindow
	if opts.StatsWindow > 0 {
		statsWindow = opts.StatsWindow
	}
	snapshotDir := cfg.Telemetry.SnapshotDir
	if opts.SnapshotDir != "" {
		snapshotDir = opts.SnapshotDir
	}
	snapshotEvery := cfg.Telemetry.SnapshotEvery
	if opts.SnapshotEvery > 0 {
		snapshotEvery = opts.SnapshotEvery
	}
	outputDir := cfg.Telemetry.OutputDir
	if opts.OutputDir != "" {
		outputDir = opts.OutputDir
	}
	registry := systems.NewSystemRegistry()

	g := &Game{
		cfg:         cfg,
		world:       world,
		agentMap:    ecs.NewMap[components.Agent](world),
		storageMap:  ecs.NewMap[components.Storage](world),
		flowMap:     ecs.NewMap[components.Flow](world),
		plantMap:    ecs.NewMap[components.Plant](world),
		agentFilter: ecs.NewFilter1[components.Agent](world),
		seed:        seed,
		src:         src,
		rng:         rand.New(src),
		id:          id,
		parentID:    opts.ParentID,
		byID:        make(map[uint64]ecs.Entity),
		nextID:      1,
		functions:   functions,
		ratios:      systems.NewRatioSnapshot(),
		registry:    registry,

		collector:        telemetry.NewCollector(statsWindow, cfg.Derived.HoursPerStep),
		perfCollector:    telemetry.NewPerfCollector(cfg.Telemetry.PerfWindow, registry.IDs()),
		lifetimeTracker:  telemetry.NewLifetimeTracker(),
		bookmarkDetector: telemetry.NewBookmarkDetector(10),
		logStats:         opts.LogStats || cfg.Telemetry.LogStats,
		snapshotDir:      snapshotDir,
		snapshotEvery:    snapshotEvery,
		statsCallback:    opts.StatsCallback,
		deathCallback:    opts.DeathCallback,
	}

	om, err := telemetry.NewOutputManager(outputDir)
	if err != nil {
		return nil, fmt.Errorf("output: %w", err)
	}
	if om != nil {
		if err := om.WriteConfig(cfg); err != nil {
			om.Close()
			return nil, fmt.Errorf("output: %w", err)
		}
	}
	g.outputManager = om
	return g, nil
}

// Storage implements systems.StorageLookup.
func (g *Game) Storage(e ecs.Entity) (*components.Storage, *components.Agent, bool) {
	if !g.world.Alive(e) || !g.storageMap.Has(e) {
		return nil, nil, false
	}
	return g.storageMap.Get(e), g.agentMap.Get(e), true
}

// locateAir picks the storage sampled for atmosphere telemetry: the first
// one holding both O2 and CO2.
func (g *Game) locateAir() {
	for _, e := range g.order {
		if !g.storageMap.Has(e) {
			continue
		}
		s := g.storageMap.Get(e)
		if s.Holds("o2") && s.Holds("co2") {
			g.airStorage, g.hasAir = e, true
			return
		}
	}
}

// ID returns the game id used in records and snapshots.
func (g *Game) ID() string { return g.id }

// ParentID returns the id of the game this one branched from, if any.
func (g *Game) ParentID() string { return g.parentID }

// Seed returns the seed the generator started from.
func (g *Game) Seed() uint64 { return g.seed }

// Config returns the habitat config the game was built from.
func (g *Game) Config() *config.Config { return g.cfg }

// CurrentStep returns the number of completed steps.
func (g *Game) CurrentStep() int { return g.step }

// TimeHours returns elapsed model time.
func (g *Game) TimeHours() float64 { return g.timeHours }

// IsTerminated reports whether the game has stopped.
func (g *Game) IsTerminated() bool { return g.terminated }

// TerminationReason explains why the game stopped, or is empty.
func (g *Game) TerminationReason() string { return g.reason }

// Registry returns the tick phase registry.
func (g *Game) Registry() *systems.SystemRegistry { return g.registry }

// Close flushes and closes output files.
func (g *Game) Close() error {
	return g.outputManager.Close()
}
