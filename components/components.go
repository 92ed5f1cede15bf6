// Package components defines ECS components for the simulation.
package components

// Agent holds identity and population for every simulated agent.
type Agent struct {
	ID     uint64
	Type   string
	TypeID int
	Class  string // scheduling priority class, e.g. "inhabitants"
	Amount int    // identical co-located instances
	Active bool

	CauseOfDeath string
}

// Kind is the structural shape of an agent.
type Kind uint8

const (
	KindStorage Kind = iota // storage only
	KindFlow                // exchanges currencies each tick
	KindPlant               // flow agent with a growth cycle
)

func (k Kind) String() string {
	switch k {
	case KindFlow:
		return "flow"
	case KindPlant:
		return "plant"
	default:
		return "storage"
	}
}

// ParseKind maps a config name to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "storage":
		return KindStorage, true
	case "flow":
		return KindFlow, true
	case "plant":
		return KindPlant, true
	}
	return KindStorage, false
}
