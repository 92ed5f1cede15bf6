package systems

import (
	"fmt"
	"math"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/habitat/components"
	"github.com/pthm-cable/habitat/variation"
)

// LedgerEpsilon is the smallest quantity recorded in the exchange ledger.
const LedgerEpsilon = 1e-12

// conn is one connected storage as seen at the start of a flow.
type conn struct {
	entity  ecs.Entity
	storage *components.Storage
	owner   *components.Agent
	value   float64
}

// StepFlow runs one exchange step for a flow agent. plant is nil for
// agents without a growth cycle.
//
// Effects applied before an Abort or a Destroy are kept.
func StepFlow(t *Tick, a *components.Agent, f *components.Flow, p *components.Plant) StepResult {
	f.Ledger = f.Ledger[:0]

	if r := checkThresholds(t, a, f); r.Outcome != Continue {
		return r
	}

	if f.CustomFunction != "" {
		fn, err := t.Functions.Lookup(f.CustomFunction)
		if err != nil {
			return StepResult{Outcome: Abort, Reason: err.Error()}
		}
		fn(t, a, f)
	}

	if f.ProcessEvents && t.GlobalEntropy != 0 {
		if r := UpdateEvents(t, a, f); r.Outcome != Continue {
			return r
		}
	}

	if f.StepVariation != nil {
		f.StepVariable = variation.Draw(t.Src, *f.StepVariation)
	}

	f.MissingDesired = false
	influx := make(map[string]bool)
	for _, dir := range [...]components.Direction{components.In, components.Out} {
		for i := range f.Exchanges {
			ex := &f.Exchanges[i]
			if ex.Direction != dir {
				continue
			}
			if r := exchange(t, a, f, p, ex, influx); r.Outcome != Continue {
				return r
			}
		}
	}

	f.AgeSteps++
	f.Age = float64(f.AgeSteps) * t.HoursPerStep
	return resultContinue
}

// checkThresholds destroys the agent if any connected storage ratio is out
// of bounds in the tick's ratio snapshot.
func checkThresholds(t *Tick, a *components.Agent, f *components.Flow) StepResult {
	for _, th := range f.Thresholds {
		for _, dir := range [...]components.Direction{components.In, components.Out} {
			ex, ok := f.Exchange(dir.String() + "_" + th.Currency)
			if !ok {
				continue
			}
			for _, e := range ex.Storages {
				ratio := t.Ratios.Ratio(e, th.Currency)
				if (th.Upper && ratio > th.Value) || (!th.Upper && ratio < th.Value) {
					kind := "lower"
					if th.Upper {
						kind = "upper"
					}
					return destroyed(fmt.Sprintf("threshold %s %s", kind, th.Currency))
				}
			}
		}
	}
	return resultContinue
}

// stepIndex picks the curve position: the growth cycle position for plants,
// wall-clock age for everything else. Positions past the curve wrap onto the
// day cycle.
func stepIndex(t *Tick, n int, f *components.Flow, p *components.Plant) int {
	idx := f.AgeSteps
	if p != nil {
		idx = p.CycleSteps
	}
	if idx >= n {
		idx %= t.StepsPerDay
	}
	if idx >= n {
		idx = n - 1
	}
	return idx
}

// stepValue is the per-instance target before variation and events.
func stepValue(t *Tick, ex *components.Exchange, a *components.Agent, f *components.Flow, p *components.Plant) float64 {
	// A grown plant only runs flows gated on being grown.
	if p != nil && p.Grown && (ex.Criteria == nil || ex.Criteria.Source != "grown") {
		return 0
	}
	if !applyCriteria(t, ex, a, f, p) {
		return 0
	}
	if len(ex.StepValues) == 0 {
		return 0
	}
	v := ex.StepValues[stepIndex(t, len(ex.StepValues), f, p)]
	if p != nil {
		if ex.Weighted != "" {
			if prop, ok := properties[ex.Weighted]; ok {
				v *= prop(a, f, p)
			}
		}
		if s, ok := p.CO2Scale[ex.Attr]; ok {
			v *= s
		}
	}
	return v
}

func exchange(t *Tick, a *components.Agent, f *components.Flow, p *components.Plant, ex *components.Exchange, influx map[string]bool) StepResult {
	if ex.Value == 0 {
		return resultContinue
	}
	for _, req := range ex.Requires {
		if !influx[req] {
			return resultContinue
		}
	}

	stepMag := stepValue(t, ex, a, f, p) * f.StepVariable * f.EventMultiplier()
	target := stepMag * float64(a.Amount)
	actual := target

	conns := make([]conn, 0, len(ex.Storages))
	var available float64
	for _, e := range ex.Storages {
		s, owner, ok := t.Storages.Storage(e)
		if !ok {
			continue
		}
		v := s.ViewBalance(ex.View)
		available += v
		conns = append(conns, conn{entity: e, storage: s, owner: owner, value: v})
	}
	if len(conns) == 0 {
		return resultContinue
	}

	deficit := ex.Direction == components.In && available < target
	if deficit {
		switch ex.Required {
		case components.Mandatory:
			return StepResult{Outcome: Abort, Reason: "missing " + ex.Currency}
		case components.Desired:
			f.MissingDesired = true
		}
	}
	if ex.DepriveValue > 0 {
		if f.Deprive == nil {
			f.Deprive = make(map[string]float64)
		}
		if deficit {
			got, r, ok := deprive(a, f, ex, available, stepMag)
			if !ok {
				return r
			}
			actual = got
		} else {
			f.Deprive[ex.Attr] = math.Min(ex.DepriveValue*float64(a.Amount), f.Deprive[ex.Attr]+ex.DepriveValue)
		}
	}

	remaining := actual
	share := actual / float64(len(conns))
	for _, c := range conns {
		var delta float64
		var moved map[string]float64
		var err error
		if ex.Direction == components.In {
			delta = math.Min(remaining, c.value)
			moved, err = c.storage.Increment(ex.View, -delta, c.owner.Amount)
		} else {
			delta = share
			moved, err = c.storage.Increment(ex.View, delta, c.owner.Amount)
		}
		if err != nil {
			return StepResult{Outcome: Abort, Reason: err.Error()}
		}
		remaining -= delta
		if actual < LedgerEpsilon {
			continue
		}
		for _, cur := range ex.View.Members {
			amt, ok := moved[cur]
			if !ok {
				continue
			}
			// Only a real intake satisfies a dependent output.
			if ex.Direction == components.In && math.Abs(amt) >= LedgerEpsilon {
				influx[ex.Currency] = true
			}
			f.Ledger = append(f.Ledger, components.Transfer{
				Attr:        ex.Attr,
				Direction:   ex.Direction,
				Currency:    cur,
				Storage:     c.entity,
				StorageID:   c.owner.ID,
				StorageType: c.owner.Type,
				Amount:      math.Abs(amt),
			})
		}
	}
	return resultContinue
}

// deprive settles a supply gap. Instances that cannot be fed draw on the
// deprivation budget; those the budget cannot cover die. It returns the
// quantity that can actually be consumed, or a Destroy result when the
// whole population is gone.
func deprive(a *components.Agent, f *components.Flow, ex *components.Exchange, available, stepMag float64) (float64, StepResult, bool) {
	nSatisfied := 0
	if stepMag > 0 {
		nSatisfied = int(math.Floor(available / stepMag))
	}
	actual := float64(nSatisfied) * stepMag
	nDeprived := a.Amount - nSatisfied
	maxSurvive := 0
	if ex.DepriveDelta > 0 {
		maxSurvive = int(math.Floor(math.Max(f.Deprive[ex.Attr], 0) / ex.DepriveDelta))
	}
	nSurvive := min(nDeprived, maxSurvive)
	f.Deprive[ex.Attr] -= ex.DepriveDelta * float64(nSurvive)
	a.Amount -= nDeprived - nSurvive
	if a.Amount <= 0 {
		a.Amount = 0
		return 0, destroyed("deprived of " + ex.Currency), false
	}
	return actual, resultContinue, true
}
