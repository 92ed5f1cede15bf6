package systems

import (
	"errors"
	"math"
	"testing"

	"github.com/pthm-cable/habitat/components"
)

func TestFunctionsLookup(t *testing.T) {
	fs := NewFunctions()
	if _, err := fs.Lookup("atmosphere_equalizer"); err != nil {
		t.Errorf("Lookup(atmosphere_equalizer) error = %v", err)
	}
	_, err := fs.Lookup("terraform")
	if !errors.Is(err, ErrUnknownFunction) {
		t.Errorf("Lookup(terraform) error = %v, want ErrUnknownFunction", err)
	}
	if got := fs.Names(); len(got) != 2 || got[0] != "atmosphere_equalizer" || got[1] != "noop" {
		t.Errorf("Names() = %v", got)
	}
}

func TestAtmosphereEqualizer(t *testing.T) {
	fx := newFixture(t)
	crew := fx.storage(t, "crew_quarters", map[string]float64{"o2": 10, "co2": 10}, map[string]float64{"o2": 8, "co2": 1})
	greenhouse := fx.storage(t, "greenhouse", map[string]float64{"o2": 30, "co2": 30}, map[string]float64{"o2": 0, "co2": 3})
	a := &components.Agent{Type: "atmosphere_equalizer", Amount: 1}
	f := newFlow(
		fx.exchange(t, "in_o2", 0, crew, greenhouse),
		fx.exchange(t, "in_co2", 0, crew, greenhouse),
		fx.exchange(t, "out_o2", 0, crew, greenhouse),
	)
	f.CustomFunction = "atmosphere_equalizer"

	if res := StepFlow(fx.tick(), a, f, nil); res.Outcome != Continue {
		t.Fatalf("outcome = %v, want continue", res.Outcome)
	}
	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"crew o2", balance(fx, crew, "o2"), 2},
		{"greenhouse o2", balance(fx, greenhouse, "o2"), 6},
		{"crew co2", balance(fx, crew, "co2"), 1},
		{"greenhouse co2", balance(fx, greenhouse, "co2"), 3},
	}
	for _, c := range checks {
		if math.Abs(c.got-c.want) > 1e-12 {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestStepFlowUnknownCustomFunction(t *testing.T) {
	fx := newFixture(t)
	a := &components.Agent{Type: "robot", Amount: 1}
	f := newFlow()
	f.CustomFunction = "terraform"
	if res := StepFlow(fx.tick(), a, f, nil); res.Outcome != Abort {
		t.Errorf("outcome = %v, want abort", res.Outcome)
	}
}

func TestRatioSnapshotTotal(t *testing.T) {
	fx := newFixture(t)
	fx.storage(t, "a", map[string]float64{"o2": 10, "co2": 10}, map[string]float64{"o2": 3, "co2": 1})
	fx.storage(t, "b", map[string]float64{"o2": 10, "co2": 10}, map[string]float64{"o2": 1, "co2": 1})
	tk := fx.tick()
	if tk.Ratios.Len() != 2 {
		t.Fatalf("captured %d storages, want 2", tk.Ratios.Len())
	}
	if got := tk.Ratios.Total("o2"); math.Abs(got-1.25) > 1e-12 {
		t.Errorf("Total(o2) = %v, want 1.25", got)
	}
}
