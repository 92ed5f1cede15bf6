package components

// Plant is the growth-cycle state of a plant agent. Times are in hours.
type Plant struct {
	Lifetime       float64
	FullAmount     int
	Reproduce      bool
	GrowthCriteria string // exchange attribute, e.g. "out_biomass"
	CarbonFixation string // "c3", "c4" or empty

	TotalGrowth   float64
	CurrentGrowth float64
	GrowthRate    float64

	CycleSteps   int
	AgentStepNum float64 // hours into the cycle, CycleSteps*HoursPerStep
	Grown        bool
	DelayStart   float64

	CO2Scale map[string]float64
}

// PlantState names the lifecycle phase.
type PlantState uint8

const (
	PlantDelayed PlantState = iota
	PlantGrowing
	PlantGrown
)

func (s PlantState) String() string {
	switch s {
	case PlantDelayed:
		return "delayed"
	case PlantGrown:
		return "grown"
	default:
		return "growing"
	}
}

// State reports the current lifecycle phase.
func (p *Plant) State() PlantState {
	switch {
	case p.DelayStart > 0:
		return PlantDelayed
	case p.Grown:
		return PlantGrown
	default:
		return PlantGrowing
	}
}
