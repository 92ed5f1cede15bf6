package main

import (
	"context"
	"errors"
	"testing"

	"github.com/pthm-cable/habitat/config"
)

func defaults(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func TestApplyFlags(t *testing.T) {
	cfg := defaults(t)
	f := flags{maxTicks: 12, snapshotEvery: 4, dbDriver: "sqlite", dbDSN: ":memory:", archiveBucket: "habitat-runs"}
	if err := applyFlags(cfg, f); err != nil {
		t.Fatalf("applyFlags: %v", err)
	}
	if cfg.Simulation.MaxSteps != 12 || cfg.Telemetry.SnapshotEvery != 4 {
		t.Errorf("steps %d every %d, want 12 and 4", cfg.Simulation.MaxSteps, cfg.Telemetry.SnapshotEvery)
	}
	if cfg.Archive.Kind != "s3" || cfg.Archive.Bucket != "habitat-runs" {
		t.Errorf("archive = %+v, want s3 habitat-runs", cfg.Archive)
	}
}

func TestApplyFlagsRevalidates(t *testing.T) {
	tests := []struct {
		name string
		f    flags
	}{
		{"unknown driver", flags{dbDriver: "mysql", dbDSN: "x"}},
		{"driver without dsn", flags{dbDriver: "sqlite"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := applyFlags(defaults(t), tt.f); !errors.Is(err, config.ErrInvalid) {
				t.Errorf("applyFlags error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestRunRejectsBadFlags(t *testing.T) {
	err := run(context.Background(), defaults(t), flags{dbDriver: "mysql", dbDSN: "x"})
	if !errors.Is(err, config.ErrInvalid) {
		t.Errorf("run error = %v, want ErrInvalid", err)
	}
}
