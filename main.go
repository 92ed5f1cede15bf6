package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/habitat/config"
	"github.com/pthm-cable/habitat/game"
	"github.com/pthm-cable/habitat/metrics"
	"github.com/pthm-cable/habitat/persistence"
	"github.com/pthm-cable/habitat/telemetry"
)

// flags collects the command line.
type flags struct {
	configPath    string
	seed          uint64
	maxTicks      int
	outputDir     string
	snapshotDir   string
	snapshotEvery int
	dbDriver      string
	dbDSN         string
	archiveBucket string
	metricsAddr   string
	logStats      bool
	resume        string
	branch        bool
}

func main() {
	var f flags
	// CLI flags
	flag.StringVar(&f.configPath, "config", "", "Path to config.yaml (empty = use defaults)")
	flag.Uint64Var(&f.seed, "seed", 0, "RNG seed (0 = simulation.seed)")
	flag.IntVar(&f.maxTicks, "max-ticks", 0, "Stop after N ticks (0 = config)")
	flag.StringVar(&f.outputDir, "output-dir", "", "Output directory for CSV logs and config snapshot")
	flag.StringVar(&f.snapshotDir, "snapshot-dir", "", "Directory for snapshot files")
	flag.IntVar(&f.snapshotEvery, "snapshot-every", 0, "Steps between snapshots (0 = config)")
	flag.StringVar(&f.dbDriver, "db-driver", "", "Record store driver: sqlite or pgx (empty = config)")
	flag.StringVar(&f.dbDSN, "db-dsn", "", "Record store DSN or sqlite path")
	flag.StringVar(&f.archiveBucket, "archive-bucket", "", "S3 bucket for snapshot archiving")
	flag.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address")
	flag.BoolVar(&f.logStats, "log-stats", false, "Output stats via slog")
	flag.StringVar(&f.resume, "resume", "", "Snapshot file, or game id in the record store, to resume from")
	flag.BoolVar(&f.branch, "branch", false, "With -resume, continue as a new game branched from the snapshot")

	flag.Parse()

	// Set up slog (JSON to stdout for structured logging)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Initialize config before anything else
	if err := config.Init(f.configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config.Cfg(), f); err != nil {
		slog.Error("simulation failed", "error", err)
		if errors.Is(err, config.ErrInvalid) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// run drives one habitat to termination, persisting records as it goes.
func run(ctx context.Context, cfg *config.Config, f flags) error {
	if err := applyFlags(cfg, f); err != nil {
		return err
	}

	var store *persistence.Store
	if cfg.Persistence.Driver != "" {
		var err error
		store, err = persistence.Open(cfg.Persistence.Driver, cfg.Persistence.DSN)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	archive, err := persistence.NewArchive(ctx, cfg.Archive)
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Addr != "" {
		m = metrics.New(cfg.Metrics.Namespace)
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Addr); err != nil {
				slog.Error("metrics stopped", "error", err)
			}
		}()
	}

	opts := game.Options{
		Seed:          f.seed,
		LogStats:      f.logStats,
		OutputDir:     f.outputDir,
		SnapshotDir:   f.snapshotDir,
		SnapshotEvery: f.snapshotEvery,
	}
	if m != nil {
		opts.DeathCallback = m.ObserveDeath
	}

	g, err := startGame(ctx, cfg, opts, store, f)
	if err != nil {
		return err
	}
	defer g.Close()

	if store != nil {
		cfgYAML, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		err = store.SaveGame(ctx, persistence.GameRow{
			GameID:     g.ID(),
			ParentID:   g.ParentID(),
			Seed:       int64(g.Seed()),
			ConfigYAML: string(cfgYAML),
		})
		if err != nil {
			return err
		}
	}

	var batcher *persistence.Batcher
	if store != nil {
		batcher = persistence.NewBatcher(store, cfg.Persistence.BatchSize)
	}
	every := cfg.Telemetry.SnapshotEvery

	slog.Info("starting simulation",
		"game_id", g.ID(),
		"seed", g.Seed(),
		"step", g.CurrentStep(),
		"max_steps", cfg.Simulation.MaxSteps,
		"store", cfg.Persistence.Driver,
		"archive", cfg.Archive.Kind,
	)

	start := time.Now()
	for !g.IsTerminated() {
		if ctx.Err() != nil {
			if err := g.Terminate("interrupted"); err != nil {
				return err
			}
			break
		}

		tickStart := time.Now()
		g.Step()
		elapsed := time.Since(tickStart)

		records := g.DrainRecords()
		if m != nil {
			for _, rec := range records {
				m.ObserveStep(rec, elapsed)
			}
		}
		if batcher != nil {
			if err := batcher.Add(ctx, records...); err != nil {
				return err
			}
		}
		if every > 0 && g.CurrentStep()%every == 0 {
			persistSnapshot(ctx, g, store, archive)
		}
	}

	if batcher != nil {
		if err := batcher.Flush(context.WithoutCancel(ctx)); err != nil {
			return err
		}
	}
	persistSnapshot(context.WithoutCancel(ctx), g, store, archive)

	slog.Info("simulation finished",
		"game_id", g.ID(),
		"steps", g.CurrentStep(),
		"time_hours", g.TimeHours(),
		"reason", g.TerminationReason(),
		"wall", time.Since(start).Round(time.Millisecond).String(),
	)
	return nil
}

// applyFlags overrides config sections from the command line and
// validates the result again.
func applyFlags(cfg *config.Config, f flags) error {
	if f.maxTicks > 0 {
		cfg.Simulation.MaxSteps = f.maxTicks
	}
	if f.snapshotEvery > 0 {
		cfg.Telemetry.SnapshotEvery = f.snapshotEvery
	}
	if f.dbDriver != "" {
		cfg.Persistence.Driver = f.dbDriver
	}
	if f.dbDSN != "" {
		cfg.Persistence.DSN = f.dbDSN
	}
	if f.archiveBucket != "" {
		cfg.Archive.Kind = "s3"
		cfg.Archive.Bucket = f.archiveBucket
	}
	if f.metricsAddr != "" {
		cfg.Metrics.Addr = f.metricsAddr
	}
	return cfg.Validate()
}

// startGame builds a new game or resumes one from a snapshot file or the
// store's latest snapshot of a game id.
func startGame(ctx context.Context, cfg *config.Config, opts game.Options, store *persistence.Store, f flags) (*game.Game, error) {
	if f.resume == "" {
		return game.NewGame(cfg, opts)
	}

	var snapshot *telemetry.Snapshot
	var err error
	if _, statErr := os.Stat(f.resume); statErr == nil || store == nil {
		snapshot, err = telemetry.LoadSnapshot(f.resume)
	} else {
		snapshot, err = store.LatestSnapshot(ctx, f.resume)
	}
	if err != nil {
		return nil, err
	}
	slog.Info("resuming", "from", f.resume, "game_id", snapshot.GameID, "step", snapshot.Step, "branch", f.branch)
	return game.Restore(cfg, snapshot, opts, f.branch)
}

// persistSnapshot stores the current state in the record store and the
// archive. Failures are logged; the run continues.
func persistSnapshot(ctx context.Context, g *game.Game, store *persistence.Store, archive persistence.Archive) {
	if store == nil && archive == nil {
		return
	}
	snapshot, err := g.CreateSnapshot(nil)
	if err != nil {
		slog.Error("failed to create snapshot", "error", err)
		return
	}
	if store != nil {
		if err := store.SaveSnapshot(ctx, snapshot); err != nil {
			slog.Error("failed to store snapshot", "error", err)
		}
	}
	if archive != nil {
		key, err := persistence.ArchiveSnapshot(ctx, archive, snapshot)
		if err != nil {
			slog.Error("failed to archive snapshot", "error", err)
			return
		}
		slog.Info("snapshot archived", "key", key, "step", snapshot.Step)
	}
}
