package systems

import (
	"fmt"
	"strings"

	"github.com/pthm-cable/habitat/components"
)

// Agent properties a criteria gate or weighted output may read.
var properties = map[string]func(a *components.Agent, f *components.Flow, p *components.Plant) float64{
	"amount": func(a *components.Agent, _ *components.Flow, _ *components.Plant) float64 { return float64(a.Amount) },
	"age":    func(_ *components.Agent, f *components.Flow, _ *components.Plant) float64 { return f.Age },
	"growth_rate": func(_ *components.Agent, _ *components.Flow, p *components.Plant) float64 {
		if p == nil {
			return 0
		}
		return p.GrowthRate
	},
	"grown": func(_ *components.Agent, _ *components.Flow, p *components.Plant) float64 {
		if p != nil && p.Grown {
			return 1
		}
		return 0
	},
	"agent_step_num": func(_ *components.Agent, _ *components.Flow, p *components.Plant) float64 {
		if p == nil {
			return 0
		}
		return p.AgentStepNum
	},
	"current_growth": func(_ *components.Agent, _ *components.Flow, p *components.Plant) float64 {
		if p == nil {
			return 0
		}
		return p.CurrentGrowth
	},
}

// IsProperty reports whether name is a readable agent property.
func IsProperty(name string) bool {
	_, ok := properties[name]
	return ok
}

// ParseRatioSource splits "co2_ratio_in" into its currency and direction
// suffix ("in", "out" or "" for the habitat-wide sum).
func ParseRatioSource(name string) (currency, dir string, ok bool) {
	if cur, found := strings.CutSuffix(name, "_ratio_in"); found {
		return cur, "in", cur != ""
	}
	if cur, found := strings.CutSuffix(name, "_ratio_out"); found {
		return cur, "out", cur != ""
	}
	if cur, found := strings.CutSuffix(name, "_ratio"); found {
		return cur, "", cur != ""
	}
	return "", "", false
}

// ValidateCriteria checks a gate at load time.
func ValidateCriteria(c components.Criteria) error {
	switch c.Op {
	case ">", "<", "=":
	default:
		return fmt.Errorf("criteria %q: unknown operator %q", c.Source, c.Op)
	}
	if IsProperty(c.Source) {
		return nil
	}
	if _, _, ok := ParseRatioSource(c.Source); ok {
		return nil
	}
	return fmt.Errorf("criteria source %q is neither a property nor a storage ratio", c.Source)
}

// criteriaSource reads the value a gate compares against.
func criteriaSource(t *Tick, name string, a *components.Agent, f *components.Flow, p *components.Plant) float64 {
	if prop, ok := properties[name]; ok {
		return prop(a, f, p)
	}
	cur, dir, ok := ParseRatioSource(name)
	if !ok {
		return 0
	}
	if dir == "" {
		return t.Ratios.Total(cur)
	}
	ex, ok := f.Exchange(dir + "_" + cur)
	if !ok || len(ex.Storages) == 0 {
		return 0
	}
	return t.Ratios.Ratio(ex.Storages[0], cur)
}

func compare(op string, a, b float64) bool {
	switch op {
	case ">":
		return a > b
	case "<":
		return a < b
	default:
		return a == b
	}
}

// applyCriteria runs the gate for one exchange and reports whether the
// flow may proceed. A pass with buffer left consumes one unit of buffer
// and suppresses the flow; a failure suppresses it and refills the buffer.
func applyCriteria(t *Tick, ex *components.Exchange, a *components.Agent, f *components.Flow, p *components.Plant) bool {
	c := ex.Criteria
	if c == nil {
		return true
	}
	source := criteriaSource(t, c.Source, a, f, p)
	if compare(c.Op, source, c.Value) {
		if c.Buffer > 0 && f.Buffer[ex.Attr] > 0 {
			f.Buffer[ex.Attr]--
			return false
		}
		return true
	}
	if c.Buffer > 0 {
		if f.Buffer == nil {
			f.Buffer = make(map[string]float64)
		}
		f.Buffer[ex.Attr] = c.Buffer
	}
	return false
}
