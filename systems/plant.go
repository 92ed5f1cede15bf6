package systems

import (
	"math"

	"github.com/pthm-cable/habitat/components"
)

// StepPlant advances a plant through its growth cycle and runs its
// exchanges.
//
// A plant whose cycle position reaches the last step is marked grown and
// runs one final tick in which only flows gated on "grown" fire. On the
// tick after, reproducing plants start a new cycle aligned to the start of
// the next day and the rest are destroyed.
func StepPlant(t *Tick, a *components.Agent, f *components.Flow, p *components.Plant) StepResult {
	if p.DelayStart > 0 {
		p.DelayStart -= t.HoursPerStep
		// Drop the residue left by subtracting fractional step lengths.
		if p.DelayStart < t.HoursPerStep*1e-9 {
			p.DelayStart = 0
		}
		return resultContinue
	}
	if p.Grown {
		if !p.Reproduce {
			return destroyed("lifetime reached")
		}
		resetCycle(t, a, f, p)
		return resultContinue
	}

	last := int(math.Round(p.Lifetime/t.HoursPerStep)) - 1
	if last > 0 && p.CycleSteps >= last {
		p.Grown = true
	} else if p.CarbonFixation != "" {
		r := t.co2Response(p.CarbonFixation, a, f, p)
		next := p.CycleSteps + 1
		p.CO2Scale = CO2Scale(f.Exchanges, next, a.Type, r)
	}

	res := StepFlow(t, a, f, p)
	if res.Outcome != Continue {
		return res
	}
	if f.MissingDesired {
		return res
	}

	p.CycleSteps++
	p.AgentStepNum = float64(p.CycleSteps) * t.HoursPerStep
	if grown := f.LedgerTotal(p.GrowthCriteria); grown > 0 && a.Amount > 0 {
		p.CurrentGrowth += grown / float64(a.Amount)
		if p.TotalGrowth > 0 {
			p.GrowthRate = p.CurrentGrowth / p.TotalGrowth
		}
	}
	return res
}

// resetCycle restarts a reproducing plant with a delay that lines the new
// cycle up with hour 0 of the day.
func resetCycle(t *Tick, a *components.Agent, f *components.Flow, p *components.Plant) {
	day := int(t.DayLengthHours)
	delay := 0.0
	if day > 0 {
		delay = float64(day - int(f.Age)%day - 1)
	}
	f.Age = 0
	f.AgeSteps = 0
	p.CurrentGrowth = 0
	p.GrowthRate = 0
	p.CycleSteps = 0
	p.AgentStepNum = 0
	p.Grown = false
	a.Amount = p.FullAmount
	p.DelayStart = delay
}
