package telemetry

import "github.com/pthm-cable/habitat/components"

// Collector accumulates events within step windows and produces WindowStats.
type Collector struct {
	windowSteps  int
	hoursPerStep float64

	// Current window tracking
	windowStartStep int

	// Event counters for current window
	deaths   int
	aborts   int
	stalls   int
	restarts int
	causes   map[string]int

	// Exchange totals for current window
	consumed float64
	produced float64

	// Atmosphere samples, one per step
	co2PPM []float64
	o2Pct  []float64
}

// NewCollector creates a new stats collector.
// windowSteps: how many steps each stats window spans
// hoursPerStep: model hours per step (used for step-to-time conversion)
func NewCollector(windowSteps int, hoursPerStep float64) *Collector {
	if windowSteps < 1 {
		windowSteps = 1
	}
	return &Collector{
		windowSteps:  windowSteps,
		hoursPerStep: hoursPerStep,
		causes:       make(map[string]int),
	}
}

// Record counts one event.
func (c *Collector) Record(ev Event) {
	switch ev.Type {
	case EventDeath:
		c.deaths++
		c.causes[ev.Reason]++
	case EventAbort:
		c.aborts++
	case EventStall:
		c.stalls++
	case EventRestart:
		c.restarts++
	}
}

// RecordTransfers adds one agent's ledger to the window totals.
func (c *Collector) RecordTransfers(ledger []components.Transfer) {
	for _, tr := range ledger {
		if tr.Direction == components.In {
			c.consumed += tr.Amount
		} else {
			c.produced += tr.Amount
		}
	}
}

// RecordAtmosphere samples the habitat air once per step. co2Ratio and
// o2Ratio are mass fractions.
func (c *Collector) RecordAtmosphere(co2Ratio, o2Ratio float64) {
	c.co2PPM = append(c.co2PPM, co2Ratio*1e6)
	c.o2Pct = append(c.o2Pct, o2Ratio*100)
}

// ShouldFlush returns true if enough steps have passed to flush the window.
func (c *Collector) ShouldFlush(currentStep int) bool {
	return currentStep-c.windowStartStep >= c.windowSteps
}

// Flush produces a WindowStats and resets counters for the next window.
// population is the summed instance count, agents the entity count.
func (c *Collector) Flush(currentStep, population, agents int) WindowStats {
	co2Mean, co2P10, co2P50, co2P90 := ComputeStats(c.co2PPM)
	o2Mean, _, _, _ := ComputeStats(c.o2Pct)
	o2Min := 0.0
	for i, v := range c.o2Pct {
		if i == 0 || v < o2Min {
			o2Min = v
		}
	}

	topCause, topCount := "", 0
	for cause, n := range c.causes {
		if n > topCount || (n == topCount && cause < topCause) {
			topCause, topCount = cause, n
		}
	}

	stats := WindowStats{
		WindowStartStep: c.windowStartStep,
		WindowEndStep:   currentStep,
		TimeHours:       float64(currentStep) * c.hoursPerStep,

		Population: population,
		Agents:     agents,

		Deaths:        c.deaths,
		TopDeathCause: topCause,
		Aborts:        c.aborts,
		Stalls:        c.stalls,
		Restarts:      c.restarts,

		Consumed: c.consumed,
		Produced: c.produced,

		CO2PPMMean: co2Mean,
		CO2PPMP10:  co2P10,
		CO2PPMP50:  co2P50,
		CO2PPMP90:  co2P90,
		O2PctMean:  o2Mean,
		O2PctMin:   o2Min,
	}

	// Reset for next window
	c.windowStartStep = currentStep
	c.deaths = 0
	c.aborts = 0
	c.stalls = 0
	c.restarts = 0
	clear(c.causes)
	c.consumed = 0
	c.produced = 0
	c.co2PPM = c.co2PPM[:0]
	c.o2Pct = c.o2Pct[:0]

	return stats
}

// WindowSteps returns the number of steps per window.
func (c *Collector) WindowSteps() int {
	return c.windowSteps
}
