// Package telemetry provides habitat health tracking, bookmarking, and snapshots.
package telemetry

// EventType identifies telemetry events.
type EventType uint8

const (
	EventDeath   EventType = iota
	EventAbort             // step stopped early
	EventStall             // desired input missing, growth paused
	EventRestart           // plant started a new cycle
)

func (t EventType) String() string {
	switch t {
	case EventDeath:
		return "death"
	case EventAbort:
		return "abort"
	case EventStall:
		return "stall"
	case EventRestart:
		return "restart"
	}
	return "unknown"
}

// Event represents a single telemetry event.
type Event struct {
	Type      EventType
	Step      int
	AgentID   uint64
	AgentType string
	Reason    string
}

// NewDeathEvent creates a death event with its cause.
func NewDeathEvent(step int, agentID uint64, agentType, cause string) Event {
	return Event{Type: EventDeath, Step: step, AgentID: agentID, AgentType: agentType, Reason: cause}
}

// NewAbortEvent creates an aborted-step event.
func NewAbortEvent(step int, agentID uint64, agentType, reason string) Event {
	return Event{Type: EventAbort, Step: step, AgentID: agentID, AgentType: agentType, Reason: reason}
}

// NewStallEvent creates a stalled-growth event.
func NewStallEvent(step int, agentID uint64, agentType string) Event {
	return Event{Type: EventStall, Step: step, AgentID: agentID, AgentType: agentType}
}

// NewRestartEvent creates a plant regrowth event.
func NewRestartEvent(step int, agentID uint64, agentType string) Event {
	return Event{Type: EventRestart, Step: step, AgentID: agentID, AgentType: agentType}
}
