package systems

import (
	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/habitat/components"
)

// RatioSnapshot is the per-tick cache of storage ratios. It is filled once
// before any agent steps and read-only for the rest of the tick.
type RatioSnapshot struct {
	order    []ecs.Entity
	byEntity map[ecs.Entity]map[string]float64
}

// NewRatioSnapshot returns an empty snapshot.
func NewRatioSnapshot() *RatioSnapshot {
	return &RatioSnapshot{byEntity: make(map[ecs.Entity]map[string]float64)}
}

// Reset clears the snapshot, keeping its allocations.
func (r *RatioSnapshot) Reset() {
	r.order = r.order[:0]
	clear(r.byEntity)
}

// Capture records the ratios of one storage.
func (r *RatioSnapshot) Capture(e ecs.Entity, s *components.Storage) {
	if _, ok := r.byEntity[e]; !ok {
		r.order = append(r.order, e)
	}
	r.byEntity[e] = s.Ratios()
}

// Ratio returns the cached ratio of currency in storage e, or 0.
func (r *RatioSnapshot) Ratio(e ecs.Entity, currency string) float64 {
	return r.byEntity[e][currency]
}

// Total sums a currency's ratio over every captured storage.
func (r *RatioSnapshot) Total(currency string) float64 {
	var total float64
	for _, e := range r.order {
		total += r.byEntity[e][currency]
	}
	return total
}

// Len reports how many storages were captured.
func (r *RatioSnapshot) Len() int { return len(r.order) }
