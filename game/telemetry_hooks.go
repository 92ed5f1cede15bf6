package game

import (
	"log/slog"

	"github.com/pthm-cable/habitat/telemetry"
)

// flushTelemetry checks if the stats window should be flushed and handles
// bookmarks and periodic snapshots.
func (g *Game) flushTelemetry() {
	if g.snapshotDir != "" && g.snapshotEvery > 0 && g.step%g.snapshotEvery == 0 {
		g.saveSnapshot(nil)
	}

	if !g.collector.ShouldFlush(g.step) && !g.terminated {
		return
	}

	population, agents := g.Population()
	stats := g.collector.Flush(g.step, population, agents)
	perfStats := g.perfCollector.Stats()

	// Call stats callback if provided
	if g.statsCallback != nil {
		g.statsCallback(stats)
	}

	// Log stats if enabled (console output)
	if g.logStats {
		stats.LogStats()
		perfStats.LogStats()
		if id, pct := perfStats.Slowest(); id != "" {
			slog.Info("slowest phase", "step", g.step, "phase", g.registry.Name(id), "pct", int(pct*10)/10.0)
		}
		g.logHabitatState()
	}

	if err := g.outputManager.WriteTelemetry(stats); err != nil {
		g.logOutputError("telemetry", err)
	}
	if err := g.outputManager.WritePerf(perfStats, stats.WindowEndStep); err != nil {
		g.logOutputError("perf", err)
	}

	// Check for bookmarks
	bookmarks := g.bookmarkDetector.Check(stats)
	for _, bm := range bookmarks {
		if g.logStats {
			bm.LogBookmark()
		}
		if err := g.outputManager.WriteBookmark(bm); err != nil {
			g.logOutputError("bookmark", err)
		}

		// Save snapshot on bookmark
		if g.snapshotDir != "" {
			g.saveSnapshot(&bm)
		}
	}
}

func (g *Game) logOutputError(what string, err error) {
	slog.Error("failed to write "+what, "game_id", g.id, "step", g.step, "error", err)
}

// saveSnapshot creates and saves a snapshot to disk.
func (g *Game) saveSnapshot(bookmark *telemetry.Bookmark) {
	snapshot, err := g.CreateSnapshot(bookmark)
	if err != nil {
		slog.Error("failed to create snapshot", "error", err)
		return
	}

	path, err := telemetry.SaveSnapshot(snapshot, g.snapshotDir)
	if err != nil {
		slog.Error("failed to save snapshot", "error", err)
		return
	}

	slog.Info("snapshot saved", "path", path, "step", g.step)
}
