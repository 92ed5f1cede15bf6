package telemetry

import (
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// WindowStats holds aggregated statistics for a window of steps.
type WindowStats struct {
	WindowStartStep int     `csv:"-"`
	WindowEndStep   int     `csv:"window_end"`
	TimeHours       float64 `csv:"time_hours"`

	// Population at window end
	Population int `csv:"population"`
	Agents     int `csv:"agents"`

	// Events during window
	Deaths        int    `csv:"deaths"`
	TopDeathCause string `csv:"top_death_cause"`
	Aborts        int    `csv:"aborts"`
	Stalls        int    `csv:"stalls"`
	Restarts      int    `csv:"restarts"`

	// Exchange totals during window, in currency units
	Consumed float64 `csv:"consumed"`
	Produced float64 `csv:"produced"`

	// Atmosphere (sampled every step)
	CO2PPMMean float64 `csv:"co2_ppm_mean"`
	CO2PPMP10  float64 `csv:"co2_ppm_p10"`
	CO2PPMP50  float64 `csv:"co2_ppm_p50"`
	CO2PPMP90  float64 `csv:"co2_ppm_p90"`
	O2PctMean  float64 `csv:"o2_pct_mean"`
	O2PctMin   float64 `csv:"o2_pct_min"`
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	// Linear interpolation
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// ComputeStats calculates mean and percentiles of a sample.
func ComputeStats(values []float64) (mean, p10, p50, p90 float64) {
	n := len(values)
	if n == 0 {
		return 0, 0, 0, 0
	}
	mean = stat.Mean(values, nil)

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	p10 = Percentile(sorted, 0.10)
	p50 = Percentile(sorted, 0.50)
	p90 = Percentile(sorted, 0.90)

	return mean, p10, p50, p90
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("window_start", s.WindowStartStep),
		slog.Int("window_end", s.WindowEndStep),
		slog.Float64("time_hours", s.TimeHours),
		slog.Int("population", s.Population),
		slog.Int("agents", s.Agents),
		slog.Int("deaths", s.Deaths),
		slog.String("top_death_cause", s.TopDeathCause),
		slog.Int("aborts", s.Aborts),
		slog.Int("stalls", s.Stalls),
		slog.Int("restarts", s.Restarts),
		slog.Float64("consumed", s.Consumed),
		slog.Float64("produced", s.Produced),
		slog.Float64("co2_ppm_mean", s.CO2PPMMean),
		slog.Float64("co2_ppm_p90", s.CO2PPMP90),
		slog.Float64("o2_pct_mean", s.O2PctMean),
		slog.Float64("o2_pct_min", s.O2PctMin),
	)
}

// LogStats logs the window stats using slog.
func (s WindowStats) LogStats() {
	slog.Info("stats",
		"window_end", s.WindowEndStep,
		"time_hours", s.TimeHours,
		"population", s.Population,
		"agents", s.Agents,
		"deaths", s.Deaths,
		"top_death_cause", s.TopDeathCause,
		"aborts", s.Aborts,
		"stalls", s.Stalls,
		"restarts", s.Restarts,
		"consumed", s.Consumed,
		"produced", s.Produced,
		"co2_ppm_mean", s.CO2PPMMean,
		"co2_ppm_p10", s.CO2PPMP10,
		"co2_ppm_p50", s.CO2PPMP50,
		"co2_ppm_p90", s.CO2PPMP90,
		"o2_pct_mean", s.O2PctMean,
		"o2_pct_min", s.O2PctMin,
	)
}
