package telemetry

import "github.com/pthm-cable/habitat/components"

// LifetimeStats tracks per-agent statistics over its lifetime.
type LifetimeStats struct {
	BirthStep int
	AgentType string

	Aborts int
	Stalls int

	// Ledger totals in currency units
	Consumed float64
	Produced float64

	PeakAmount int
}

// LifetimeTracker manages per-agent lifetime statistics.
type LifetimeTracker struct {
	stats map[uint64]*LifetimeStats
}

// NewLifetimeTracker creates a new lifetime tracker.
func NewLifetimeTracker() *LifetimeTracker {
	return &LifetimeTracker{
		stats: make(map[uint64]*LifetimeStats),
	}
}

// Register creates lifetime stats for a new agent.
func (lt *LifetimeTracker) Register(agentID uint64, birthStep int, agentType string, amount int) {
	lt.stats[agentID] = &LifetimeStats{
		BirthStep:  birthStep,
		AgentType:  agentType,
		PeakAmount: amount,
	}
}

// Get returns the lifetime stats for an agent, or nil if not found.
func (lt *LifetimeTracker) Get(agentID uint64) *LifetimeStats {
	return lt.stats[agentID]
}

// Remove removes an agent's stats and returns them.
func (lt *LifetimeTracker) Remove(agentID uint64) *LifetimeStats {
	stats := lt.stats[agentID]
	delete(lt.stats, agentID)
	return stats
}

// Record applies an abort or stall event to the agent's stats.
func (lt *LifetimeTracker) Record(ev Event) {
	s := lt.stats[ev.AgentID]
	if s == nil {
		return
	}
	switch ev.Type {
	case EventAbort:
		s.Aborts++
	case EventStall:
		s.Stalls++
	}
}

// RecordTransfers adds a step's ledger to the agent's totals.
func (lt *LifetimeTracker) RecordTransfers(agentID uint64, ledger []components.Transfer) {
	s := lt.stats[agentID]
	if s == nil {
		return
	}
	for _, tr := range ledger {
		if tr.Direction == components.In {
			s.Consumed += tr.Amount
		} else {
			s.Produced += tr.Amount
		}
	}
}

// UpdateAmount tracks the peak instance count.
func (lt *LifetimeTracker) UpdateAmount(agentID uint64, amount int) {
	if s := lt.stats[agentID]; s != nil && amount > s.PeakAmount {
		s.PeakAmount = amount
	}
}

// All returns all tracked stats.
func (lt *LifetimeTracker) All() map[uint64]*LifetimeStats {
	return lt.stats
}

// Count returns the number of tracked agents.
func (lt *LifetimeTracker) Count() int {
	return len(lt.stats)
}

// DeathRecord builds the record for a removed agent. stats may be nil.
func (ls *LifetimeStats) DeathRecord(gameID string, step int, agentID uint64, agentType, cause string) DeathRecord {
	rec := DeathRecord{
		GameID:    gameID,
		Step:      step,
		AgentID:   agentID,
		AgentType: agentType,
		Cause:     cause,
	}
	if ls != nil {
		rec.BirthStep = ls.BirthStep
		rec.Aborts = ls.Aborts
		rec.Stalls = ls.Stalls
		rec.Consumed = ls.Consumed
		rec.Produced = ls.Produced
	}
	return rec
}
