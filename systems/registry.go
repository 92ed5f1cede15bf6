package systems

import (
	"github.com/pthm-cable/habitat/telemetry"
)

// SystemInfo describes one phase of a tick.
type SystemInfo struct {
	ID   string // perf phase id
	Name string // display name
}

// SystemRegistry lists the tick phases in execution order. Perf stats are
// reported in registry order.
type SystemRegistry struct {
	systems []SystemInfo
	byID    map[string]int
}

// NewSystemRegistry creates a registry holding every phase of Game.Step.
func NewSystemRegistry() *SystemRegistry {
	reg := &SystemRegistry{byID: make(map[string]int)}
	reg.Register(SystemInfo{ID: telemetry.PhaseRatios, Name: "Storage Ratios"})
	reg.Register(SystemInfo{ID: telemetry.PhaseSchedule, Name: "Schedule"})
	reg.Register(SystemInfo{ID: telemetry.PhaseExchange, Name: "Exchange"})
	reg.Register(SystemInfo{ID: telemetry.PhasePlants, Name: "Plants"})
	reg.Register(SystemInfo{ID: telemetry.PhaseClamp, Name: "Clamp"})
	reg.Register(SystemInfo{ID: telemetry.PhaseCleanup, Name: "Cleanup"})
	reg.Register(SystemInfo{ID: telemetry.PhaseRecords, Name: "Records"})
	reg.Register(SystemInfo{ID: telemetry.PhaseTelemetry, Name: "Telemetry"})
	return reg
}

// Register appends a phase. Registering an existing id renames it in place.
func (r *SystemRegistry) Register(info SystemInfo) {
	if i, ok := r.byID[info.ID]; ok {
		r.systems[i] = info
		return
	}
	r.byID[info.ID] = len(r.systems)
	r.systems = append(r.systems, info)
}

// Name returns the display name for a phase id, or the id itself.
func (r *SystemRegistry) Name(id string) string {
	if i, ok := r.byID[id]; ok {
		return r.systems[i].Name
	}
	return id
}

// IDs returns all phase ids in execution order.
func (r *SystemRegistry) IDs() []string {
	ids := make([]string, len(r.systems))
	for i, info := range r.systems {
		ids[i] = info.ID
	}
	return ids
}
