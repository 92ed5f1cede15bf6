package components

import (
	"fmt"

	"github.com/pthm-cable/habitat/currency"
)

// Storage holds capacity-bounded balances. Capacities are per instance and
// scale with the owning agent's Amount.
type Storage struct {
	Currencies    []string // declaration order
	Capacity      map[string]float64
	Balance       map[string]float64
	Units         map[string]string
	ClassCapacity map[string]float64
}

// NewStorage builds a storage for the given per-instance capacities. Class
// capacities are derived from the catalog.
func NewStorage(cat *currency.Catalog, order []string, capacity map[string]float64) (Storage, error) {
	s := Storage{
		Currencies:    make([]string, 0, len(order)),
		Capacity:      make(map[string]float64, len(order)),
		Balance:       make(map[string]float64, len(order)),
		Units:         make(map[string]string, len(order)),
		ClassCapacity: make(map[string]float64),
	}
	for _, name := range order {
		cur, ok := cat.Currency(name)
		if !ok {
			return Storage{}, fmt.Errorf("storage capacity for %w: %q", currency.ErrUnknown, name)
		}
		s.Currencies = append(s.Currencies, name)
		s.Capacity[name] = capacity[name]
		s.Balance[name] = 0
		s.Units[name] = cur.Unit
		if cur.Class != "" {
			s.ClassCapacity[cur.Class] += capacity[name]
		}
	}
	return s, nil
}

// Holds reports whether the storage declares capacity for a currency or
// for any member of a class.
func (s *Storage) Holds(name string) bool {
	if _, ok := s.Capacity[name]; ok {
		return true
	}
	_, ok := s.ClassCapacity[name]
	return ok
}

// CapacityOf returns the total capacity for a currency or class.
func (s *Storage) CapacityOf(name string, amount int) float64 {
	if c, ok := s.Capacity[name]; ok {
		return c * float64(amount)
	}
	return s.ClassCapacity[name] * float64(amount)
}

// BalanceOf returns the balance of a single currency.
func (s *Storage) BalanceOf(name string) float64 {
	return s.Balance[name]
}

// ViewBalance sums the balances of the view's members held here.
func (s *Storage) ViewBalance(v currency.View) float64 {
	var total float64
	for _, m := range v.Members {
		total += s.Balance[m]
	}
	return total
}

// Increment changes balances and returns the signed change actually
// applied per currency.
//
// Positive amounts need a single-currency view and are capped by
// capacity. Negative amounts are split over the view's members in
// proportion to their current balances, each floored at zero. Zero is a
// no-op.
func (s *Storage) Increment(v currency.View, delta float64, amount int) (map[string]float64, error) {
	switch {
	case delta > 0:
		if v.IsClass() {
			return nil, fmt.Errorf("positive increment needs a currency, got class %q", v.Name)
		}
		c := v.Name
		limit := s.Capacity[c] * float64(amount)
		before := s.Balance[c]
		after := min(before+delta, limit)
		if after < before {
			// Over capacity already (e.g. after amount shrank); never add.
			after = before
		}
		s.Balance[c] = after
		return map[string]float64{c: after - before}, nil

	case delta < 0:
		held := make([]string, 0, len(v.Members))
		for _, m := range v.Members {
			if _, ok := s.Capacity[m]; ok {
				held = append(held, m)
			}
		}
		flow := make(map[string]float64, len(held))
		var total float64
		for _, m := range held {
			total += s.Balance[m]
		}
		if total <= 0 {
			for _, m := range held {
				flow[m] = 0
			}
			return flow, nil
		}
		for _, m := range held {
			before := s.Balance[m]
			target := delta * before / total
			after := max(before+target, 0)
			s.Balance[m] = after
			flow[m] = after - before
		}
		return flow, nil
	}
	return map[string]float64{}, nil
}

// Ratios returns each currency's share of the storage's total, where
// totals are taken over currencies of the same physical dimension after
// unit normalization.
func (s *Storage) Ratios() map[string]float64 {
	totals := make(map[currency.Dimension]float64)
	norm := make(map[string]float64, len(s.Currencies))
	dims := make(map[string]currency.Dimension, len(s.Currencies))
	for _, c := range s.Currencies {
		u, err := currency.ParseUnit(s.Units[c])
		if err != nil {
			u = currency.Unit{Factor: 1}
		}
		v := s.Balance[c] * u.Factor
		norm[c] = v
		dims[c] = u.Dimension
		if v > 0 {
			totals[u.Dimension] += v
		}
	}
	out := make(map[string]float64, len(s.Currencies))
	for _, c := range s.Currencies {
		if norm[c] > 0 && totals[dims[c]] > 0 {
			out[c] = norm[c] / totals[dims[c]]
		} else {
			out[c] = 0
		}
	}
	return out
}

// Clamp restores 0 <= balance <= capacity*amount for every currency.
func (s *Storage) Clamp(amount int) {
	for _, c := range s.Currencies {
		limit := s.Capacity[c] * float64(amount)
		b := s.Balance[c]
		if b < 0 {
			s.Balance[c] = 0
		} else if b > limit {
			s.Balance[c] = limit
		}
	}
}
