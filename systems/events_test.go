package systems

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/pthm-cable/habitat/components"
	"github.com/pthm-cable/habitat/variation"
)

func eventTick(seed uint64) *Tick {
	tk := NewTick(0, 0, 1, 24, rand.NewPCG(seed, seed+1))
	tk.GlobalEntropy = 1
	return tk
}

func TestEventScopeCaps(t *testing.T) {
	tests := []struct {
		name   string
		group  bool
		amount int
		want   int
	}{
		{"group allows one", true, 5, 1},
		{"individual allows amount", false, 5, 5},
		{"individual single", false, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &components.Agent{Amount: tt.amount}
			f := &components.Flow{Events: []components.EventSpec{{
				Name: "illness", Kind: components.EventMultiplier, Group: tt.group,
				ProbabilityPerStep: 1, Magnitude: 0.5,
			}}}
			for range 4 {
				UpdateEvents(eventTick(7), a, f)
				if got := len(f.Instances["illness"]); got > tt.want {
					t.Fatalf("instances = %d, exceeds %d", got, tt.want)
				}
			}
			if got := len(f.Instances["illness"]); got != tt.want {
				t.Errorf("instances = %d, want %d", got, tt.want)
			}
			if got := f.Multipliers["illness"]; math.Abs(got-0.5) > 1e-12 {
				t.Errorf("multiplier = %v, want 0.5 with every slot filled", got)
			}
		})
	}
}

func TestEventMultiplierCountsEmptySlots(t *testing.T) {
	a := &components.Agent{Amount: 4}
	f := &components.Flow{
		Events: []components.EventSpec{{Name: "fatigue", ProbabilityPerStep: 0, Magnitude: 0.5}},
		Instances: map[string][]components.EventInstance{
			"fatigue": {{Magnitude: 0.5}},
		},
	}
	UpdateEvents(eventTick(1), a, f)
	// (0.5 + 3 empty slots) / 4
	if got := f.Multipliers["fatigue"]; math.Abs(got-0.875) > 1e-12 {
		t.Errorf("multiplier = %v, want 0.875", got)
	}
	if got := f.EventMultiplier(); math.Abs(got-0.875) > 1e-12 {
		t.Errorf("EventMultiplier = %v, want 0.875", got)
	}
}

func TestEventInstancesExpire(t *testing.T) {
	a := &components.Agent{Amount: 1}
	f := &components.Flow{Events: []components.EventSpec{{
		Name: "dust", ProbabilityPerStep: 1, Magnitude: 2,
		Duration: 2, DurationDelta: 1,
	}}}
	UpdateEvents(eventTick(3), a, f)
	if len(f.Instances["dust"]) != 1 {
		t.Fatalf("instances = %d, want 1", len(f.Instances["dust"]))
	}

	f.Events[0].ProbabilityPerStep = 0
	UpdateEvents(eventTick(3), a, f)
	if got := f.Instances["dust"]; len(got) != 1 || got[0].Duration != 1 {
		t.Fatalf("instances = %+v, want one with duration 1", got)
	}

	UpdateEvents(eventTick(3), a, f)
	if _, ok := f.Instances["dust"]; ok {
		t.Error("expired instances should remove the event entry")
	}
	if _, ok := f.Multipliers["dust"]; ok {
		t.Error("expired instances should remove the multiplier")
	}
}

func TestEventInstancesTrimmedToAmount(t *testing.T) {
	a := &components.Agent{Amount: 4}
	f := &components.Flow{Events: []components.EventSpec{{Name: "cold", ProbabilityPerStep: 1, Magnitude: 0.5}}}
	UpdateEvents(eventTick(5), a, f)

	a.Amount = 2
	f.Events[0].ProbabilityPerStep = 0
	UpdateEvents(eventTick(5), a, f)
	if got := len(f.Instances["cold"]); got != 2 {
		t.Errorf("instances = %d, want 2", got)
	}
}

func TestEventTermination(t *testing.T) {
	a := &components.Agent{Amount: 1}
	f := &components.Flow{Events: []components.EventSpec{{
		Name: "failure", Kind: components.EventTermination, Group: true, ProbabilityPerStep: 1,
	}}}
	res := UpdateEvents(eventTick(9), a, f)
	if res.Outcome != Destroy {
		t.Errorf("outcome = %v, want destroy", res.Outcome)
	}
}

func TestEventMagnitudeVariation(t *testing.T) {
	a := &components.Agent{Amount: 50}
	spec := &variation.Spec{Upper: 0.2, Lower: 0.2, Distribution: variation.Uniform}
	f := &components.Flow{Events: []components.EventSpec{{
		Name: "glare", ProbabilityPerStep: 1, Magnitude: 1, MagnitudeVariation: spec,
	}}}
	UpdateEvents(eventTick(11), a, f)
	distinct := make(map[float64]bool)
	for _, inst := range f.Instances["glare"] {
		if inst.Magnitude < 0.8 || inst.Magnitude > 1.2 {
			t.Errorf("magnitude %v outside [0.8, 1.2]", inst.Magnitude)
		}
		distinct[inst.Magnitude] = true
	}
	if len(distinct) < 2 {
		t.Error("expected varied magnitudes")
	}
}

func TestEventsDeterministic(t *testing.T) {
	run := func() []int {
		a := &components.Agent{Amount: 10}
		f := &components.Flow{Events: []components.EventSpec{{
			Name: "flu", ProbabilityPerStep: 0.3, Magnitude: 0.5, Duration: 3, DurationDelta: 1,
		}}}
		tk := eventTick(42)
		var counts []int
		for range 20 {
			UpdateEvents(tk, a, f)
			counts = append(counts, len(f.Instances["flu"]))
		}
		return counts
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("step %d: %d != %d with the same seed", i, a[i], b[i])
		}
	}
}

func TestStepFlowSkipsEventsWithoutEntropy(t *testing.T) {
	fx := newFixture(t)
	agent := &components.Agent{Type: "human", Amount: 1}
	flow := newFlow()
	flow.ProcessEvents = true
	flow.Events = []components.EventSpec{{Name: "failure", Kind: components.EventTermination, Group: true, ProbabilityPerStep: 1}}

	tk := fx.tick()
	if res := StepFlow(tk, agent, flow, nil); res.Outcome != Continue {
		t.Errorf("outcome = %v, want continue with zero entropy", res.Outcome)
	}
	tk.GlobalEntropy = 1
	if res := StepFlow(tk, agent, flow, nil); res.Outcome != Destroy {
		t.Errorf("outcome = %v, want destroy", res.Outcome)
	}
}
