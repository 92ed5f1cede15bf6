package main

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/habitat/config"
	"github.com/pthm-cable/habitat/game"
	"github.com/pthm-cable/habitat/telemetry"
)

// FitnessEvaluator runs headless habitats and computes fitness.
type FitnessEvaluator struct {
	params     *ParamVector
	steps      int
	seeds      []uint64
	baseConfig *config.Config
	workers    int

	mu          sync.Mutex
	bestFitness float64
	bestRuns    []RunSummary
	lastQuality float64 // quality from most recent Evaluate call
}

// RunSummary describes one seed of an evaluation.
type RunSummary struct {
	Seed     uint64  `json:"seed"`
	Steps    int     `json:"steps"`
	Reason   string  `json:"reason"`
	Fitness  float64 `json:"fitness"`
	Quality  float64 `json:"quality"`
	Windows  int     `json:"windows"`
	Survived bool    `json:"survived"`
}

// NewFitnessEvaluator creates a new evaluator. workers <= 0 runs every
// seed at once.
func NewFitnessEvaluator(params *ParamVector, steps int, seeds []uint64, baseCfg *config.Config, workers int) *FitnessEvaluator {
	if workers <= 0 {
		workers = len(seeds)
	}
	return &FitnessEvaluator{
		params:      params,
		steps:       steps,
		seeds:       seeds,
		baseConfig:  baseCfg,
		workers:     workers,
		bestFitness: math.Inf(1),
	}
}

// BestRuns returns the per-seed summaries of the best evaluation.
func (fe *FitnessEvaluator) BestRuns() []RunSummary {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.bestRuns
}

// LastQuality returns the quality score from the most recent evaluation.
func (fe *FitnessEvaluator) LastQuality() float64 {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.lastQuality
}

// Evaluate computes fitness for a parameter vector (lower = better).
// Fitness is negative survived steps, scaled up by habitat quality.
func (fe *FitnessEvaluator) Evaluate(x []float64) float64 {
	cfg, err := fe.baseConfig.Clone()
	if err != nil {
		return 0
	}
	if err := fe.params.ApplyToConfig(cfg, x); err != nil {
		return 0
	}
	// The optimizer owns the step budget.
	cfg.Simulation.MaxSteps = fe.steps

	// Run all seeds in parallel, collecting window stats per seed
	windows := make([][]telemetry.WindowStats, len(fe.seeds))
	jobs := make([]game.Job, len(fe.seeds))
	for i, seed := range fe.seeds {
		jobs[i] = game.Job{
			Config: cfg,
			Steps:  fe.steps,
			Options: game.Options{
				Seed: seed,
				StatsCallback: func(stats telemetry.WindowStats) {
					windows[i] = append(windows[i], stats)
				},
			},
		}
	}
	results := game.RunJobs(jobs, fe.workers)

	runs := make([]RunSummary, len(results))
	var totalFitness, totalQuality float64
	for i, res := range results {
		run := RunSummary{Seed: fe.seeds[i], Steps: res.Steps, Reason: res.Reason, Windows: len(windows[i])}
		if res.Err != nil {
			run.Reason = res.Err.Error()
		} else {
			run.Survived = res.Reason != game.ReasonExtinction
			run.Quality = computeQuality(windows[i])
			run.Fitness = computeFitness(fe.survivalSteps(res), run.Quality)
		}
		runs[i] = run
		totalFitness += run.Fitness
		totalQuality += run.Quality
	}

	n := float64(len(fe.seeds))
	avgFitness := totalFitness / n

	// Update best tracking
	fe.mu.Lock()
	if avgFitness < fe.bestFitness {
		fe.bestFitness = avgFitness
		fe.bestRuns = runs
	}
	fe.lastQuality = totalQuality / n
	fe.mu.Unlock()

	return avgFitness
}

// survivalSteps counts a run that outlived its budget, or ended on a
// configured time limit, as surviving the full budget.
func (fe *FitnessEvaluator) survivalSteps(res game.Result) int {
	if res.Reason == game.ReasonExtinction {
		return res.Steps
	}
	return fe.steps
}

// qualityWeight is the share of survived steps a perfect quality adds.
const qualityWeight = 0.2

// computeFitness calculates the scalar fitness (lower = better):
// -(survivalSteps × (1 + qualityWeight × quality)).
func computeFitness(survivalSteps int, quality float64) float64 {
	return -(float64(survivalSteps) * (1.0 + qualityWeight*quality))
}

// Quality component weights.
const (
	qualityWeightCO2       = 0.35
	qualityWeightO2        = 0.35
	qualityWeightStability = 0.15
	qualityWeightSupply    = 0.15

	qualityWarmupWindows = 1 // skip the first window

	targetCO2PPM = 1000.0
	targetO2Pct  = 21.0
)

// computeQuality scores habitat comfort in [0, 1] from window stats:
// CO2 and O2 near breathable targets, a steady population, and few
// aborted or stalled exchanges.
func computeQuality(windows []telemetry.WindowStats) float64 {
	if len(windows) <= qualityWarmupWindows {
		return 0
	}
	valid := windows[qualityWarmupWindows:]

	var co2Sum, o2Sum, supplySum float64
	pops := make([]float64, 0, len(valid))
	for _, w := range valid {
		logErr := math.Log(math.Max(w.CO2PPMP50, 1) / targetCO2PPM)
		co2Sum += math.Exp(-logErr * logErr)
		o2Sum += math.Exp(-math.Pow((w.O2PctMean-targetO2Pct)/3.0, 2))

		if w.Agents > 0 {
			misses := float64(w.Aborts+w.Stalls) / float64(w.Agents*max(w.WindowEndStep-w.WindowStartStep, 1))
			supplySum += math.Exp(-misses * 4)
		}
		pops = append(pops, float64(w.Population))
	}
	n := float64(len(valid))

	stabilityScore := 0.0
	if len(pops) >= 2 {
		c := cv(pops)
		stabilityScore = math.Exp(-c * c * 10)
	}

	quality := qualityWeightCO2*co2Sum/n +
		qualityWeightO2*o2Sum/n +
		qualityWeightStability*stabilityScore +
		qualityWeightSupply*supplySum/n

	return clamp01(quality)
}

// cv computes the coefficient of variation (std/mean) for a slice of values.
func cv(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean, std := stat.PopMeanStdDev(values, nil)
	if mean == 0 {
		return 0
	}
	return std / mean
}

// clamp01 clamps x to [0, 1].
func clamp01(x float64) float64 {
	return math.Min(math.Max(x, 0), 1)
}
