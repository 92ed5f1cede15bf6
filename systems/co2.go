package systems

import (
	"math"

	"gonum.org/v1/gonum/interp"

	"github.com/pthm-cable/habitat/components"
)

// CO2 response constants.
const (
	CO2MinPPM      = 350.0
	CO2MaxPPM      = 1000.0
	CO2MeanTempC   = 25.0
	co2CorrectionE = 1e-12
)

// Currencies scaled by the uptake ratio and by the inverse transpiration
// factor. The plant's own type name is added to the uptake set.
var (
	uptakeCurrencies        = []string{"co2", "fertilizer", "o2", "biomass"}
	transpirationCurrencies = []string{"potable", "h2o"}
)

// transpiration maps ambient ppm to water-use efficiency.
var transpiration = func() interp.PiecewiseLinear {
	var pl interp.PiecewiseLinear
	if err := pl.Fit([]float64{CO2MinPPM, 700}, []float64{1, 1.37}); err != nil {
		panic(err)
	}
	return pl
}()

// CO2Response is the plant response to ambient CO2 for one tick.
type CO2Response struct {
	PPM           float64
	Uptake        float64
	Transpiration float64
}

// ResponseAt evaluates the response curves at ppm for a fixation pathway.
func ResponseAt(ppm float64, fixation string) CO2Response {
	ppm = math.Max(CO2MinPPM, math.Min(CO2MaxPPM, ppm))
	r := CO2Response{PPM: ppm, Uptake: 1}
	if fixation == "c3" {
		t := CO2MeanTempC
		tt := (163 - t) / (5 - 0.1*t) // compensation point
		r.Uptake = ((ppm - tt) * (350 + 2*tt)) / ((ppm + 2*tt) * (350 - tt))
	}
	// PiecewiseLinear holds its end values outside the fitted range.
	r.Transpiration = transpiration.Predict(ppm)
	return r
}

// co2Response returns the tick's cached response for a pathway, computing
// it from the plant's first CO2 input storage on first use.
func (t *Tick) co2Response(fixation string, a *components.Agent, f *components.Flow, p *components.Plant) CO2Response {
	if r, ok := t.co2[fixation]; ok {
		return r
	}
	ppm := criteriaSource(t, "co2_ratio_in", a, f, p) * 1e6
	r := ResponseAt(ppm, fixation)
	if t.co2 == nil {
		t.co2 = make(map[string]CO2Response)
	}
	t.co2[fixation] = r
	return r
}

// CO2Scale computes per-attribute multipliers for step index idx. Inputs
// and outputs affected by CO2 are rescaled, then the outputs absorb the
// resulting imbalance in proportion to their size so adjusted inputs and
// outputs balance.
func CO2Scale(exchanges []components.Exchange, idx int, agentType string, r CO2Response) map[string]float64 {
	type entry struct {
		attr     string
		dir      components.Direction
		baseline float64
		adjusted float64
		touched  bool
	}
	entries := make([]entry, 0, len(exchanges))
	var netIn, netOut float64
	for i := range exchanges {
		ex := &exchanges[i]
		e := entry{attr: ex.Attr, dir: ex.Direction}
		if idx >= 0 && idx < len(ex.StepValues) {
			e.baseline = ex.StepValues[idx]
		}
		excluded := ex.Attr == "in_biomass" || ex.Attr == "out_"+agentType
		switch {
		case excluded:
		case ex.Currency == agentType || contains(uptakeCurrencies, ex.Currency):
			e.adjusted, e.touched = e.baseline*r.Uptake, true
		case contains(transpirationCurrencies, ex.Currency):
			e.adjusted, e.touched = e.baseline/r.Transpiration, true
		}
		if e.touched {
			if e.dir == components.In {
				netIn += e.adjusted
			} else {
				netOut += e.adjusted
			}
		}
		entries = append(entries, e)
	}

	if diff := netIn - netOut; math.Abs(diff) > co2CorrectionE && netOut > 0 {
		for i := range entries {
			e := &entries[i]
			if e.touched && e.dir == components.Out {
				e.adjusted += e.adjusted / netOut * diff
			}
		}
	}

	scale := make(map[string]float64, len(entries))
	for _, e := range entries {
		if !e.touched || e.adjusted == 0 || e.baseline == 0 {
			scale[e.attr] = 1
			continue
		}
		scale[e.attr] = e.adjusted / e.baseline
	}
	return scale
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
