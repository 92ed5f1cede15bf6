package game

import (
	"log/slog"
)

// logHabitatState logs per-type populations and the fill level of every
// storage.
func (g *Game) logHabitatState() {
	amounts := make(map[string]int, len(g.recipeTypes))
	for _, e := range g.order {
		if a := g.agentMap.Get(e); a.Active {
			amounts[a.Type] += a.Amount
		}
	}
	attrs := []any{"game_id", g.id, "step", g.step}
	for _, name := range g.recipeTypes {
		attrs = append(attrs, name, amounts[name])
	}
	slog.Info("population", attrs...)

	for _, e := range g.order {
		if !g.storageMap.Has(e) {
			continue
		}
		a := g.agentMap.Get(e)
		s := g.storageMap.Get(e)
		attrs := []any{"step", g.step, "storage", a.Type, "id", a.ID}
		for _, c := range s.Currencies {
			capacity := s.CapacityOf(c, a.Amount)
			fill := 0.0
			if capacity > 0 {
				fill = s.Balance[c] / capacity
			}
			attrs = append(attrs, c, int(fill*1000)/10.0)
		}
		slog.Debug("storage", attrs...)
	}
}
