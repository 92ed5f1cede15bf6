// Command optimize calibrates recipe amounts and flow rates so a habitat
// survives longer with its atmosphere near target.
package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gonum.org/v1/gonum/optimize"

	"github.com/pthm-cable/habitat/config"
)

type options struct {
	configPath string
	steps      int
	seeds      int
	maxEvals   int
	population int
	workers    int
	outputDir  string
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "Base config YAML file (empty = use defaults)")
	flag.IntVar(&o.steps, "max-ticks", 0, "Steps per run (0 = optimize.steps)")
	flag.IntVar(&o.seeds, "seeds", 0, "Number of seeds per evaluation (0 = optimize.seeds)")
	flag.IntVar(&o.maxEvals, "max-evals", 0, "Maximum number of evaluations (0 = optimize.max_evals)")
	flag.IntVar(&o.population, "population", 0, "CMA-ES population size (0 = auto)")
	flag.IntVar(&o.workers, "workers", 0, "Concurrent runs per evaluation (0 = one per seed)")
	flag.StringVar(&o.outputDir, "output", "", "Output directory for results")
	flag.Parse()

	if o.outputDir == "" {
		log.Fatal("-output is required")
	}
	// Game runs log through slog; only warnings reach the terminal.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	if err := calibrate(o); err != nil {
		log.Fatal(err)
	}
}

func calibrate(o options) error {
	if err := os.MkdirAll(o.outputDir, 0o755); err != nil {
		return fmt.Errorf("output directory: %w", err)
	}
	if err := config.Init(o.configPath); err != nil {
		return err
	}
	base := config.Cfg()
	opt := withOverrides(base.Optimize, o)

	params, err := NewParamVector(base)
	if err != nil {
		return err
	}
	evaluator := NewFitnessEvaluator(params, opt.Steps, evalSeeds(max(opt.Seeds, 1)), base, o.workers)

	elog, err := newEvalLog(filepath.Join(o.outputDir, "optimize_log.csv"), params)
	if err != nil {
		return err
	}
	defer elog.Close()

	tr := newTracker(opt.MaxEvals)
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			used := params.Clamp(params.Denormalize(x))
			fitness := evaluator.Evaluate(used)
			quality := evaluator.LastQuality()
			n := tr.observe(fitness, used)
			if err := elog.write(n, fitness, quality, used); err != nil {
				slog.Warn("eval log", "error", err)
			}
			fmt.Println(tr.progress(fitness, quality))
			return fitness
		},
	}
	method := &optimize.CmaEsChol{
		InitStepSize: 0.3,
		Population:   populationSize(o.population, params.Dim()),
	}

	fmt.Printf("calibrating %d parameters: population %d, %d evals, %d seeds x %d steps\n",
		params.Dim(), method.Population, opt.MaxEvals, opt.Seeds, opt.Steps)

	// Evaluations stay sequential; each one runs its seeds in parallel.
	result, err := optimize.Minimize(problem, params.Normalize(params.DefaultVector()),
		&optimize.Settings{FuncEvaluations: opt.MaxEvals}, method)
	if err != nil {
		fmt.Printf("search stopped: %v\n", err)
	}

	best := tr.bestParams
	if best == nil && result != nil {
		best = params.Clamp(params.Denormalize(result.X))
	}
	if best == nil {
		return errors.New("no evaluation completed")
	}

	fmt.Printf("\n%d evals in %s, best fitness %.0f\n", tr.evals, tr.elapsed(), tr.best)
	for i, spec := range params.Specs {
		fmt.Printf("  %-24s %-36s %.6f\n", spec.Name, spec.Path(), best[i])
	}
	return saveBest(o.outputDir, base, params, best, evaluator.BestRuns())
}

// withOverrides applies non-zero command line values over the config.
func withOverrides(opt config.OptimizeConfig, o options) config.OptimizeConfig {
	if o.steps > 0 {
		opt.Steps = o.steps
	}
	if o.seeds > 0 {
		opt.Seeds = o.seeds
	}
	if o.maxEvals > 0 {
		opt.MaxEvals = o.maxEvals
	}
	return opt
}

// populationSize defaults to 4 + 1.5 per dimension.
func populationSize(requested, dim int) int {
	if requested > 0 {
		return requested
	}
	return 4 + 3*dim/2
}

// evalSeeds derives n fixed seeds so evaluations are comparable.
func evalSeeds(n int) []uint64 {
	seeds := make([]uint64, n)
	for i := range seeds {
		seeds[i] = uint64(i*1000 + 42)
	}
	return seeds
}

// tracker keeps the best evaluation seen and the pacing of the search.
type tracker struct {
	total      int
	evals      int
	best       float64
	bestParams []float64
	start      time.Time
}

func newTracker(total int) *tracker {
	return &tracker{total: total, best: 1e9, start: time.Now()}
}

// observe counts an evaluation and returns its 1-based number.
func (t *tracker) observe(fitness float64, params []float64) int {
	t.evals++
	if fitness < t.best {
		t.best = fitness
		t.bestParams = params
	}
	return t.evals
}

func (t *tracker) elapsed() time.Duration {
	return time.Since(t.start).Round(time.Second)
}

func (t *tracker) progress(fitness, quality float64) string {
	eta := time.Duration(0)
	if t.evals > 0 && t.total > t.evals {
		eta = time.Since(t.start) / time.Duration(t.evals) * time.Duration(t.total-t.evals)
	}
	return fmt.Sprintf("eval %d/%d  survived %.0f steps  quality %.2f  best %.0f  elapsed %s  eta %s",
		t.evals, t.total, survivedSteps(fitness, quality), quality, t.best,
		t.elapsed(), eta.Round(time.Second))
}

// survivedSteps inverts computeFitness.
func survivedSteps(fitness, quality float64) float64 {
	return -fitness / (1 + qualityWeight*quality)
}

// evalLog is the per-evaluation CSV: eval, fitness, quality, then the
// clamped value of every parameter.
type evalLog struct {
	f *os.File
	w *csv.Writer
}

func newEvalLog(path string, params *ParamVector) (*evalLog, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("eval log: %w", err)
	}
	l := &evalLog{f: f, w: csv.NewWriter(f)}
	header := []string{"eval", "fitness", "quality"}
	for _, spec := range params.Specs {
		header = append(header, spec.Name)
	}
	if err := l.w.Write(header); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

func (l *evalLog) write(n int, fitness, quality float64, values []float64) error {
	row := make([]string, 0, 3+len(values))
	row = append(row, strconv.Itoa(n),
		strconv.FormatFloat(fitness, 'f', 6, 64),
		strconv.FormatFloat(quality, 'f', 4, 64))
	for _, v := range values {
		row = append(row, strconv.FormatFloat(v, 'f', 6, 64))
	}
	if err := l.w.Write(row); err != nil {
		return err
	}
	l.w.Flush()
	return l.w.Error()
}

func (l *evalLog) Close() error {
	l.w.Flush()
	return errors.Join(l.w.Error(), l.f.Close())
}

// saveBest writes best_config.yaml and, when available, the per-seed runs
// of the best evaluation to best_runs.json.
func saveBest(dir string, base *config.Config, params *ParamVector, best []float64, runs []RunSummary) error {
	cfg, err := base.Clone()
	if err != nil {
		return err
	}
	if err := params.ApplyToConfig(cfg, best); err != nil {
		return err
	}
	cfgPath := filepath.Join(dir, "best_config.yaml")
	if err := cfg.WriteYAML(cfgPath); err != nil {
		return err
	}
	fmt.Println("wrote", cfgPath)

	if runs == nil {
		return nil
	}
	data, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		return err
	}
	runsPath := filepath.Join(dir, "best_runs.json")
	if err := os.WriteFile(runsPath, data, 0o644); err != nil {
		return err
	}
	fmt.Println("wrote", runsPath)
	return nil
}
