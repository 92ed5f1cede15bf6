package systems

import (
	"github.com/pthm-cable/habitat/components"
	"github.com/pthm-cable/habitat/variation"
)

// UpdateEvents ages, trims and spawns event instances, then recomputes the
// multiplier of every event type. It returns Destroy when a termination
// event fires.
func UpdateEvents(t *Tick, a *components.Agent, f *components.Flow) StepResult {
	if f.Instances == nil {
		f.Instances = make(map[string][]components.EventInstance)
	}
	if f.Multipliers == nil {
		f.Multipliers = make(map[string]float64)
	}

	for i := range f.Events {
		ev := &f.Events[i]

		// Age and drop expired instances in place.
		kept := f.Instances[ev.Name][:0]
		for _, inst := range f.Instances[ev.Name] {
			if inst.HasDuration {
				inst.Duration -= ev.DurationDelta
				if inst.Duration <= 0 {
					continue
				}
			}
			kept = append(kept, inst)
		}
		if len(kept) > a.Amount {
			kept = kept[:max(a.Amount, 0)]
		}

		slots := ev.MaxInstances(a.Amount)
		for range slots - len(kept) {
			if t.Rand.Float64() > ev.ProbabilityPerStep {
				continue
			}
			if ev.Kind == components.EventTermination {
				return destroyed("event:" + ev.Name)
			}
			kept = append(kept, spawnInstance(t, ev))
		}

		if len(kept) == 0 {
			delete(f.Instances, ev.Name)
			delete(f.Multipliers, ev.Name)
			continue
		}
		f.Instances[ev.Name] = kept

		var modified float64
		for _, inst := range kept {
			modified += inst.Magnitude
		}
		unmodified := float64(slots - len(kept))
		f.Multipliers[ev.Name] = (modified + unmodified) / float64(slots)
	}
	return resultContinue
}

func spawnInstance(t *Tick, ev *components.EventSpec) components.EventInstance {
	inst := components.EventInstance{Magnitude: ev.Magnitude}
	if ev.MagnitudeVariation != nil {
		inst.Magnitude *= variation.Draw(t.Src, *ev.MagnitudeVariation)
	}
	if ev.Duration > 0 {
		d := ev.Duration
		if ev.DurationVariation != nil {
			d *= variation.Draw(t.Src, *ev.DurationVariation)
		}
		inst.Duration = d
		inst.HasDuration = true
	}
	return inst
}
