package game

import (
	"maps"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/habitat/components"
	"github.com/pthm-cable/habitat/telemetry"
)

// buildRecord assembles the record of the step that just completed.
func (g *Game) buildRecord() telemetry.StepRecord {
	rec := telemetry.StepRecord{
		GameID:            g.id,
		Step:              g.step,
		TimeHours:         g.timeHours,
		HoursPerStep:      g.cfg.Derived.HoursPerStep,
		IsTerminated:      g.terminated,
		TerminationReason: g.reason,
	}

	amounts := make(map[string]int, len(g.recipeTypes))
	counts := make(map[string]int, len(g.recipeTypes))
	for _, e := range g.order {
		a := g.agentMap.Get(e)
		if !a.Active {
			continue
		}
		amounts[a.Type] += a.Amount
		counts[a.Type]++

		if !g.storageMap.Has(e) {
			continue
		}
		s := g.storageMap.Get(e)
		for _, c := range s.Currencies {
			rec.Storages = append(rec.Storages, telemetry.StorageRecord{
				GameID:      g.id,
				Step:        g.step,
				StorageID:   a.ID,
				StorageType: a.Type,
				Currency:    c,
				Balance:     s.Balance[c],
				Capacity:    s.CapacityOf(c, a.Amount),
			})
		}
	}
	for _, name := range g.recipeTypes {
		rec.Populations = append(rec.Populations, telemetry.PopulationRecord{
			GameID:    g.id,
			Step:      g.step,
			AgentType: name,
			Amount:    amounts[name],
			Agents:    counts[name],
		})
	}
	rec.Exchanges = append([]telemetry.ExchangeRecord(nil), g.stepLedger...)

	if err := g.outputManager.WriteStep(rec); err != nil {
		g.logOutputError("step", err)
	}
	return rec
}

// DrainRecords returns the step records produced since the last call.
func (g *Game) DrainRecords() []telemetry.StepRecord {
	out := g.records
	g.records = nil
	return out
}

// AgentView is a read-only copy of one agent's state.
type AgentView struct {
	components.Agent
	Balance  map[string]float64
	Capacity map[string]float64 // total, scaled by amount
	Age      float64
	Plant    *components.Plant
}

func (g *Game) view(e ecs.Entity) AgentView {
	v := AgentView{Agent: *g.agentMap.Get(e)}
	if g.storageMap.Has(e) {
		s := g.storageMap.Get(e)
		v.Balance = maps.Clone(s.Balance)
		v.Capacity = make(map[string]float64, len(s.Currencies))
		for _, c := range s.Currencies {
			v.Capacity[c] = s.CapacityOf(c, v.Amount)
		}
	}
	if g.flowMap.Has(e) {
		v.Age = g.flowMap.Get(e).Age
	}
	if g.plantMap.Has(e) {
		p := *g.plantMap.Get(e)
		p.CO2Scale = maps.Clone(p.CO2Scale)
		v.Plant = &p
	}
	return v
}

// AgentByID returns the agent with the given id.
func (g *Game) AgentByID(id uint64) (AgentView, bool) {
	e, ok := g.entityOf(id)
	if !ok {
		return AgentView{}, false
	}
	return g.view(e), true
}

// AgentsByType returns agents of a type in creation order.
func (g *Game) AgentsByType(agentType string) []AgentView {
	var out []AgentView
	for _, e := range g.order {
		if g.agentMap.Get(e).Type == agentType {
			out = append(out, g.view(e))
		}
	}
	return out
}

// AgentsByClass returns agents of a priority class in creation order.
func (g *Game) AgentsByClass(class string) []AgentView {
	var out []AgentView
	for _, e := range g.order {
		if g.agentMap.Get(e).Class == class {
			out = append(out, g.view(e))
		}
	}
	return out
}

// Population returns the summed instance count and the number of flow
// agents still active. Storages are not counted.
func (g *Game) Population() (amount, agents int) {
	query := g.agentFilter.Query()
	for query.Next() {
		a := query.Get()
		if a.Active && g.flowMap.Has(query.Entity()) {
			amount += a.Amount
			agents++
		}
	}
	return amount, agents
}

// TotalBalance sums a currency over every storage.
func (g *Game) TotalBalance(currency string) float64 {
	var total float64
	for _, e := range g.order {
		if g.storageMap.Has(e) {
			total += g.storageMap.Get(e).BalanceOf(currency)
		}
	}
	return total
}
