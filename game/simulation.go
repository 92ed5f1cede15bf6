package game

import (
	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/habitat/components"
	"github.com/pthm-cable/habitat/systems"
	"github.com/pthm-cable/habitat/telemetry"
)

// Step advances the habitat by one tick. It is a no-op once the game has
// terminated.
func (g *Game) Step() {
	if g.terminated {
		return
	}
	d := &g.cfg.Derived
	stepNum := g.step + 1

	g.perfCollector.StartTick()

	g.perfCollector.StartPhase(telemetry.PhaseRatios)
	g.captureRatios()

	g.perfCollector.StartPhase(telemetry.PhaseSchedule)
	batches := g.schedule()

	t := systems.NewTick(stepNum, g.timeHours, d.HoursPerStep, d.DayLengthHours, g.src)
	t.GlobalEntropy = g.cfg.Simulation.GlobalEntropy
	t.Ratios = g.ratios
	t.Storages = g
	t.Functions = g.functions

	g.stepLedger = g.stepLedger[:0]
	for _, batch := range batches {
		for _, e := range batch {
			g.runAgent(t, e, stepNum)
		}
	}

	g.perfCollector.StartPhase(telemetry.PhaseClamp)
	g.clampStorages()
	g.sampleAtmosphere()

	g.step = stepNum
	g.timeHours = float64(stepNum) * d.HoursPerStep

	g.perfCollector.StartPhase(telemetry.PhaseCleanup)
	g.cleanupDestroyed()
	g.checkTermination()

	g.perfCollector.StartPhase(telemetry.PhaseRecords)
	g.records = append(g.records, g.buildRecord())

	g.perfCollector.StartPhase(telemetry.PhaseTelemetry)
	g.flushTelemetry()

	g.perfCollector.EndTick()
}

// Run steps until the game terminates or n steps have run. n <= 0 means
// no step limit. It returns the number of steps taken.
func (g *Game) Run(n int) int {
	taken := 0
	for !g.terminated && (n <= 0 || taken < n) {
		g.Step()
		taken++
	}
	return taken
}

// captureRatios rebuilds the tick's ratio snapshot from the balances the
// previous tick left behind.
func (g *Game) captureRatios() {
	g.ratios.Reset()
	for _, e := range g.order {
		if g.storageMap.Has(e) {
			g.ratios.Capture(e, g.storageMap.Get(e))
		}
	}
}

// schedule groups active flow agents by priority class, in creation order,
// and shuffles each group.
func (g *Game) schedule() [][]ecs.Entity {
	batches := make([][]ecs.Entity, len(g.cfg.Simulation.Priorities))
	for _, e := range g.order {
		if !g.flowMap.Has(e) {
			continue
		}
		a := g.agentMap.Get(e)
		if !a.Active {
			continue
		}
		i, ok := g.cfg.Derived.ClassIndex[a.Class]
		if !ok {
			continue
		}
		batches[i] = append(batches[i], e)
	}
	for _, batch := range batches {
		g.rng.Shuffle(len(batch), func(i, j int) {
			batch[i], batch[j] = batch[j], batch[i]
		})
	}
	return batches
}

// runAgent steps one agent and turns its result into telemetry and
// deferred removal.
func (g *Game) runAgent(t *systems.Tick, e ecs.Entity, stepNum int) {
	a := g.agentMap.Get(e)
	if !a.Active {
		return
	}
	f := g.flowMap.Get(e)
	f.Ledger = f.Ledger[:0]

	var res systems.StepResult
	if g.plantMap.Has(e) {
		g.perfCollector.StartPhase(telemetry.PhasePlants)
		p := g.plantMap.Get(e)
		wasGrown := p.Grown
		res = systems.StepPlant(t, a, f, p)
		if wasGrown && !p.Grown && res.Outcome == systems.Continue {
			g.recordEvent(telemetry.NewRestartEvent(stepNum, a.ID, a.Type))
		}
	} else {
		g.perfCollector.StartPhase(telemetry.PhaseExchange)
		res = systems.StepFlow(t, a, f, nil)
	}

	g.recordLedger(stepNum, a, f.Ledger)

	switch res.Outcome {
	case systems.Destroy:
		g.destroy(e, a, res.Reason)
	case systems.Abort:
		g.recordEvent(telemetry.NewAbortEvent(stepNum, a.ID, a.Type, res.Reason))
	default:
		if f.MissingDesired {
			g.recordEvent(telemetry.NewStallEvent(stepNum, a.ID, a.Type))
		}
	}
	g.lifetimeTracker.UpdateAmount(a.ID, a.Amount)
}

func (g *Game) recordEvent(ev telemetry.Event) {
	g.collector.Record(ev)
	g.lifetimeTracker.Record(ev)
}

// recordLedger copies an agent's transfers into the step's exchange rows.
func (g *Game) recordLedger(stepNum int, a *components.Agent, ledger []components.Transfer) {
	if len(ledger) == 0 {
		return
	}
	g.collector.RecordTransfers(ledger)
	g.lifetimeTracker.RecordTransfers(a.ID, ledger)
	for _, tr := range ledger {
		g.stepLedger = append(g.stepLedger, telemetry.ExchangeRecord{
			GameID:      g.id,
			Step:        stepNum,
			AgentID:     a.ID,
			AgentType:   a.Type,
			Attr:        tr.Attr,
			Currency:    tr.Currency,
			StorageID:   tr.StorageID,
			StorageType: tr.StorageType,
			Amount:      tr.Amount,
		})
	}
}

// clampStorages restores storage bounds after every agent has stepped.
func (g *Game) clampStorages() {
	for _, e := range g.order {
		if g.storageMap.Has(e) {
			g.storageMap.Get(e).Clamp(g.agentMap.Get(e).Amount)
		}
	}
}

func (g *Game) sampleAtmosphere() {
	if !g.hasAir || !g.world.Alive(g.airStorage) {
		return
	}
	ratios := g.storageMap.Get(g.airStorage).Ratios()
	g.collector.RecordAtmosphere(ratios["co2"], ratios["o2"])
}
