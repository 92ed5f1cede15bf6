package systems

import (
	"errors"
	"fmt"
	"sort"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/habitat/components"
)

// ErrUnknownFunction is returned for a custom function name with no
// registered implementation.
var ErrUnknownFunction = errors.New("unknown custom function")

// CustomFunc is extra per-step behavior attached to an agent type. It runs
// after the threshold check and before events and flows.
type CustomFunc func(t *Tick, a *components.Agent, f *components.Flow)

// Functions maps configured names to custom functions.
type Functions struct {
	byName map[string]CustomFunc
}

// NewFunctions returns a registry holding the built-in functions.
func NewFunctions() *Functions {
	fs := &Functions{byName: make(map[string]CustomFunc)}
	fs.Register("atmosphere_equalizer", AtmosphereEqualizer)
	fs.Register("noop", func(*Tick, *components.Agent, *components.Flow) {})
	return fs
}

// Register adds or replaces a function.
func (fs *Functions) Register(name string, fn CustomFunc) {
	fs.byName[name] = fn
}

// Lookup returns the named function.
func (fs *Functions) Lookup(name string) (CustomFunc, error) {
	if fs != nil {
		if fn, ok := fs.byName[name]; ok {
			return fn, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, name)
}

// Names lists registered functions, sorted.
func (fs *Functions) Names() []string {
	names := make([]string, 0, len(fs.byName))
	for n := range fs.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// AtmosphereEqualizer spreads each connected currency over the agent's
// storages in proportion to their capacity. The total held is unchanged.
func AtmosphereEqualizer(t *Tick, _ *components.Agent, f *components.Flow) {
	type target struct {
		storage *components.Storage
		cap     float64
	}
	done := make(map[string]bool)
	for i := range f.Exchanges {
		ex := &f.Exchanges[i]
		if ex.View.IsClass() || done[ex.Currency] {
			continue
		}
		done[ex.Currency] = true

		seen := make(map[ecs.Entity]bool)
		var targets []target
		var total, totalCap float64
		for j := range f.Exchanges {
			other := &f.Exchanges[j]
			if other.Currency != ex.Currency {
				continue
			}
			for _, e := range other.Storages {
				if seen[e] {
					continue
				}
				seen[e] = true
				s, owner, ok := t.Storages.Storage(e)
				if !ok || !s.Holds(ex.Currency) {
					continue
				}
				c := s.CapacityOf(ex.Currency, owner.Amount)
				total += s.BalanceOf(ex.Currency)
				totalCap += c
				targets = append(targets, target{storage: s, cap: c})
			}
		}
		if len(targets) < 2 || totalCap <= 0 {
			continue
		}
		for _, tg := range targets {
			tg.storage.Balance[ex.Currency] = total * tg.cap / totalCap
		}
	}
}
