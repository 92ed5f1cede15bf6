package game

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/habitat/components"
	"github.com/pthm-cable/habitat/config"
	"github.com/pthm-cable/habitat/telemetry"
)

// Termination reasons.
const (
	ReasonTime       = "time"
	ReasonExtinction = "extinction"
	ReasonMaxSteps   = "max_steps"
)

// destroy deactivates an agent and queues it for removal at the end of
// the tick. Its storage stays reachable until then.
func (g *Game) destroy(e ecs.Entity, a *components.Agent, cause string) {
	if !a.Active {
		return
	}
	a.Active = false
	a.CauseOfDeath = cause
	g.pendingRemoval = append(g.pendingRemoval, e)
}

// cleanupDestroyed removes agents destroyed this tick.
func (g *Game) cleanupDestroyed() {
	if len(g.pendingRemoval) == 0 {
		return
	}

	// First pass: collect records (must complete before modifying)
	type deadInfo struct {
		entity ecs.Entity
		rec    telemetry.DeathRecord
	}
	dead := make([]deadInfo, 0, len(g.pendingRemoval))
	for _, e := range g.pendingRemoval {
		if !g.world.Alive(e) {
			continue
		}
		a := g.agentMap.Get(e)
		stats := g.lifetimeTracker.Remove(a.ID)
		dead = append(dead, deadInfo{
			entity: e,
			rec:    stats.DeathRecord(g.id, g.step, a.ID, a.Type, a.CauseOfDeath),
		})
	}
	g.pendingRemoval = g.pendingRemoval[:0]

	// Second pass: remove entities
	for _, d := range dead {
		slog.Info("agent destroyed",
			"game_id", g.id,
			"step", g.step,
			"agent_id", d.rec.AgentID,
			"agent_type", d.rec.AgentType,
			"cause", d.rec.Cause,
		)
		g.collector.Record(telemetry.NewDeathEvent(g.step, d.rec.AgentID, d.rec.AgentType, d.rec.Cause))
		if err := g.outputManager.WriteDeath(d.rec); err != nil {
			slog.Error("failed to write death", "error", err)
		}
		if g.deathCallback != nil {
			g.deathCallback(d.rec)
		}

		delete(g.byID, d.rec.AgentID)
		g.order = slices.DeleteFunc(g.order, func(e ecs.Entity) bool { return e == d.entity })
		g.world.RemoveEntity(d.entity)
	}
}

// checkTermination stops the game once elapsed time reaches a configured
// limit, the listed agent types are all gone, or the step cap is hit.
func (g *Game) checkTermination() {
	sim := &g.cfg.Simulation
	for _, tc := range sim.Termination {
		if tc.Condition != "time" {
			continue
		}
		hours, ok := config.TimeUnitHours(tc.Unit, g.cfg.Derived.DayLengthHours)
		if !ok {
			continue
		}
		if g.timeHours >= tc.Value*hours {
			g.terminate(ReasonTime)
			return
		}
	}

	if len(sim.TerminateOnExtinction) > 0 && g.extinct(sim.TerminateOnExtinction) {
		g.terminate(ReasonExtinction)
		return
	}

	if sim.MaxSteps > 0 && g.step >= sim.MaxSteps {
		g.terminate(ReasonMaxSteps)
	}
}

// extinct reports whether no active agent of any listed type remains.
func (g *Game) extinct(types []string) bool {
	for _, e := range g.order {
		a := g.agentMap.Get(e)
		if a.Active && a.Amount > 0 && slices.Contains(types, a.Type) {
			return false
		}
	}
	return true
}

func (g *Game) terminate(reason string) {
	g.terminated = true
	g.reason = reason
	slog.Info("habitat terminated",
		"game_id", g.id,
		"step", g.step,
		"time_hours", g.timeHours,
		"reason", reason,
	)
}

// Terminate stops the game from outside, e.g. on a driver timeout.
func (g *Game) Terminate(reason string) error {
	if g.terminated {
		return fmt.Errorf("game %s already terminated: %s", g.id, g.reason)
	}
	g.terminate(reason)
	return nil
}
