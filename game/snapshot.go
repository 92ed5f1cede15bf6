package game

import (
	"fmt"
	"maps"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/google/uuid"
	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/habitat/components"
	"github.com/pthm-cable/habitat/config"
	"github.com/pthm-cable/habitat/telemetry"
)

// CreateSnapshot captures everything needed to resume the game. Exchange
// wiring is stored as agent ids; static flow metadata is rebuilt from
// config on restore.
func (g *Game) CreateSnapshot(bookmark *telemetry.Bookmark) (*telemetry.Snapshot, error) {
	rng, err := g.src.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal rng: %w", err)
	}
	snapshot := &telemetry.Snapshot{
		Version:    telemetry.SnapshotVersion,
		GameID:     g.id,
		ParentID:   g.parentID,
		Seed:       g.seed,
		RNG:        rng,
		Step:       g.step,
		TimeHours:  g.timeHours,
		NextID:     g.nextID,
		Terminated: g.terminated,
		Reason:     g.reason,
		Bookmark:   bookmark,
	}

	for _, e := range g.order {
		a := g.agentMap.Get(e)
		state := telemetry.AgentState{
			ID:           a.ID,
			Type:         a.Type,
			Amount:       a.Amount,
			Active:       a.Active,
			CauseOfDeath: a.CauseOfDeath,
		}
		if g.storageMap.Has(e) {
			s := g.storageMap.Get(e)
			state.Capacity = maps.Clone(s.Capacity)
			state.Balance = maps.Clone(s.Balance)
		}
		if g.flowMap.Has(e) {
			state.Flow = g.flowState(g.flowMap.Get(e))
		}
		if g.plantMap.Has(e) {
			p := *g.plantMap.Get(e)
			p.CO2Scale = maps.Clone(p.CO2Scale)
			p.CycleSteps = int(math.Round(p.AgentStepNum / g.cfg.Derived.HoursPerStep))
			state.Plant = &p
		}
		snapshot.Agents = append(snapshot.Agents, state)
	}
	return snapshot, nil
}

func (g *Game) flowState(f *components.Flow) *telemetry.FlowState {
	fs := &telemetry.FlowState{
		Age:             f.Age,
		StepVariable:    f.StepVariable,
		InitialVariable: f.InitialVariable,
		ProcessEvents:   f.ProcessEvents,
		Buffer:          maps.Clone(f.Buffer),
		Deprive:         maps.Clone(f.Deprive),
		Multipliers:     maps.Clone(f.Multipliers),
	}
	if len(f.Instances) > 0 {
		fs.Instances = make(map[string][]components.EventInstance, len(f.Instances))
		for name, list := range f.Instances {
			fs.Instances[name] = slices.Clone(list)
		}
	}
	for _, ex := range f.Exchanges {
		es := telemetry.ExchangeState{
			Attr:       ex.Attr,
			StepValues: slices.Clone(ex.StepValues),
		}
		for _, e := range ex.Storages {
			if g.world.Alive(e) {
				es.Connections = append(es.Connections, g.agentMap.Get(e).ID)
			}
		}
		fs.Exchanges = append(fs.Exchanges, es)
	}
	return fs
}

// Restore rebuilds a game from a snapshot. With branch set the restored
// game gets a new id and records the snapshot's game as its parent.
func Restore(cfg *config.Config, snapshot *telemetry.Snapshot, opts Options, branch bool) (*Game, error) {
	if snapshot.Version != telemetry.SnapshotVersion {
		return nil, fmt.Errorf("snapshot version %d, want %d", snapshot.Version, telemetry.SnapshotVersion)
	}
	src := &rand.PCG{}
	if err := src.UnmarshalBinary(snapshot.RNG); err != nil {
		return nil, fmt.Errorf("restore rng: %w", err)
	}

	switch {
	case branch:
		opts.ParentID = snapshot.GameID
		if opts.GameID == "" {
			opts.GameID = uuid.NewString()
		}
	case opts.GameID == "":
		opts.GameID = snapshot.GameID
		opts.ParentID = snapshot.ParentID
	}

	g, err := newGame(cfg, opts, snapshot.Seed, src)
	if err != nil {
		return nil, err
	}
	if err := g.restoreAgents(snapshot); err != nil {
		g.Close()
		return nil, err
	}
	g.step = snapshot.Step
	g.timeHours = snapshot.TimeHours
	g.nextID = snapshot.NextID
	g.terminated = snapshot.Terminated
	g.reason = snapshot.Reason
	g.collector = telemetry.NewCollector(g.collector.WindowSteps(), cfg.Derived.HoursPerStep)
	g.collector.Flush(g.step, 0, 0) // align the first window with the restored step
	g.locateAir()
	return g, nil
}

func (g *Game) restoreAgents(snapshot *telemetry.Snapshot) error {
	for _, entry := range g.cfg.Recipe {
		if !slices.Contains(g.recipeTypes, entry.Type) {
			g.recipeTypes = append(g.recipeTypes, entry.Type)
		}
	}

	// Pass 1: identities and storages
	for _, state := range snapshot.Agents {
		at, ok := g.cfg.AgentType(state.Type)
		if !ok {
			return fmt.Errorf("%w: snapshot agent %d: unknown type %q", config.ErrInvalid, state.ID, state.Type)
		}
		if !slices.Contains(g.recipeTypes, at.Name) {
			g.recipeTypes = append(g.recipeTypes, at.Name)
		}
		agent := components.Agent{
			ID:           state.ID,
			Type:         at.Name,
			TypeID:       g.cfg.Derived.AgentTypeID[at.Name],
			Class:        at.Class,
			Amount:       state.Amount,
			Active:       state.Active,
			CauseOfDeath: state.CauseOfDeath,
		}
		e := g.agentMap.NewEntity(&agent)
		if state.Capacity != nil {
			s, err := components.NewStorage(g.cfg.Derived.Catalog, g.capacityOrder(state.Capacity), state.Capacity)
			if err != nil {
				return invalid(at.Name, err)
			}
			for c, v := range state.Balance {
				s.Balance[c] = v
			}
			g.storageMap.Add(e, &s)
		}
		g.order = append(g.order, e)
		g.byID[agent.ID] = e
		g.lifetimeTracker.Register(agent.ID, snapshot.Step, agent.Type, agent.Amount)
		if !agent.Active {
			g.pendingRemoval = append(g.pendingRemoval, e)
		}
	}

	// Pass 2: flows, now that every connection target exists
	for i, state := range snapshot.Agents {
		if state.Flow == nil {
			continue
		}
		at, _ := g.cfg.AgentType(state.Type)
		fs := state.Flow
		flow, err := g.flowTemplate(at, fs.InitialVariable)
		if err != nil {
			return invalid(at.Name, err)
		}
		for j := range flow.Exchanges {
			ex := &flow.Exchanges[j]
			es, ok := findExchangeState(fs.Exchanges, ex.Attr)
			if !ok {
				return fmt.Errorf("%w: snapshot agent %d: missing exchange %q", config.ErrInvalid, state.ID, ex.Attr)
			}
			ex.StepValues = slices.Clone(es.StepValues)
			for _, id := range es.Connections {
				if target, ok := g.byID[id]; ok {
					ex.Storages = append(ex.Storages, target)
				}
			}
		}
		flow.Age = fs.Age
		flow.AgeSteps = int(math.Round(fs.Age / g.cfg.Derived.HoursPerStep))
		flow.StepVariable = fs.StepVariable
		flow.ProcessEvents = fs.ProcessEvents
		flow.Buffer = maps.Clone(fs.Buffer)
		flow.Deprive = maps.Clone(fs.Deprive)
		flow.Multipliers = maps.Clone(fs.Multipliers)
		if len(fs.Instances) > 0 {
			flow.Instances = make(map[string][]components.EventInstance, len(fs.Instances))
			for name, list := range fs.Instances {
				flow.Instances[name] = slices.Clone(list)
			}
		}
		if flow.Buffer == nil {
			flow.Buffer = make(map[string]float64)
		}
		if flow.Deprive == nil {
			flow.Deprive = make(map[string]float64)
		}

		e := g.order[i]
		g.flowMap.Add(e, &flow)
		if state.Plant != nil {
			p := *state.Plant
			p.CO2Scale = maps.Clone(p.CO2Scale)
			g.plantMap.Add(e, &p)
		}
	}
	return nil
}

func findExchangeState(states []telemetry.ExchangeState, attr string) (telemetry.ExchangeState, bool) {
	for _, es := range states {
		if es.Attr == attr {
			return es, true
		}
	}
	return telemetry.ExchangeState{}, false
}

// entityOf returns the entity for an agent id.
func (g *Game) entityOf(id uint64) (ecs.Entity, bool) {
	e, ok := g.byID[id]
	return e, ok && g.world.Alive(e)
}
