package telemetry

import (
	"fmt"
	"log/slog"
)

// BookmarkType identifies the type of bookmark.
type BookmarkType string

const (
	BookmarkCO2Spike        BookmarkType = "co2_spike"
	BookmarkPopulationCrash BookmarkType = "population_crash"
	BookmarkDieOff          BookmarkType = "die_off"
	BookmarkStableHabitat   BookmarkType = "stable_habitat"
)

// Bookmark represents an automatically triggered bookmark.
type Bookmark struct {
	Type        BookmarkType `csv:"type" json:"type"`
	Step        int          `csv:"step" json:"step"`
	Description string       `csv:"description" json:"description"`
}

// LogBookmark logs the bookmark using slog.
func (b Bookmark) LogBookmark() {
	slog.Info("bookmark",
		"type", string(b.Type),
		"step", b.Step,
		"description", b.Description,
	)
}

// BookmarkDetector detects interesting moments in the simulation.
type BookmarkDetector struct {
	// Rolling history (circular buffer)
	history     []WindowStats
	historySize int
	historyIdx  int
	historyFull bool

	// State tracking
	populationPeak     int // peak population in recent history
	stableWindowsCount int // consecutive windows with stable atmosphere
}

// NewBookmarkDetector creates a detector with the given history size.
func NewBookmarkDetector(historySize int) *BookmarkDetector {
	if historySize < 5 {
		historySize = 5 // minimum for stable habitat detection
	}
	return &BookmarkDetector{
		history:     make([]WindowStats, historySize),
		historySize: historySize,
	}
}

// Check analyzes the latest stats and returns any triggered bookmarks.
func (bd *BookmarkDetector) Check(stats WindowStats) []Bookmark {
	var bookmarks []Bookmark

	if bd.historyFull || bd.historyIdx > 0 {
		// CO2 spike: p90 more than 1.5x the rolling mean
		if b := bd.checkCO2Spike(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}

		// Population crash: dropped >30% from recent peak
		if b := bd.checkPopulationCrash(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}

		// Stable habitat: low atmosphere variance over 5+ windows
		if b := bd.checkStableHabitat(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}
	}

	// Die-off: several deaths of one cause within a window
	if stats.Deaths >= 3 {
		bookmarks = append(bookmarks, Bookmark{
			Type:        BookmarkDieOff,
			Step:        stats.WindowEndStep,
			Description: fmt.Sprintf("%d deaths in window, mostly %s", stats.Deaths, stats.TopDeathCause),
		})
	}

	bd.addToHistory(stats)
	if stats.Population > bd.populationPeak {
		bd.populationPeak = stats.Population
	}

	return bookmarks
}

func (bd *BookmarkDetector) addToHistory(stats WindowStats) {
	bd.history[bd.historyIdx] = stats
	bd.historyIdx = (bd.historyIdx + 1) % bd.historySize
	if bd.historyIdx == 0 {
		bd.historyFull = true
	}
}

func (bd *BookmarkDetector) getHistory() []WindowStats {
	if bd.historyFull {
		return bd.history
	}
	return bd.history[:bd.historyIdx]
}

func (bd *BookmarkDetector) checkCO2Spike(stats WindowStats) *Bookmark {
	history := bd.getHistory()
	if len(history) < 3 {
		return nil
	}

	var total float64
	for _, h := range history {
		total += h.CO2PPMMean
	}
	avg := total / float64(len(history))
	if avg == 0 {
		return nil
	}

	if stats.CO2PPMP90 > avg*1.5 {
		return &Bookmark{
			Type:        BookmarkCO2Spike,
			Step:        stats.WindowEndStep,
			Description: fmt.Sprintf("CO2 p90 %.0f ppm is %.1fx average (%.0f)", stats.CO2PPMP90, stats.CO2PPMP90/avg, avg),
		}
	}
	return nil
}

func (bd *BookmarkDetector) checkPopulationCrash(stats WindowStats) *Bookmark {
	if bd.populationPeak == 0 {
		return nil
	}

	drop := 1.0 - float64(stats.Population)/float64(bd.populationPeak)
	if drop > 0.30 {
		// Reset peak after crash
		oldPeak := bd.populationPeak
		bd.populationPeak = stats.Population

		return &Bookmark{
			Type:        BookmarkPopulationCrash,
			Step:        stats.WindowEndStep,
			Description: fmt.Sprintf("Population fell %.0f%% from peak %d to %d", drop*100, oldPeak, stats.Population),
		}
	}
	return nil
}

func (bd *BookmarkDetector) checkStableHabitat(stats WindowStats) *Bookmark {
	if stats.Population == 0 || stats.CO2PPMMean == 0 {
		bd.stableWindowsCount = 0
		return nil
	}

	history := bd.getHistory()
	if len(history) < 4 {
		return nil
	}

	recent := history[len(history)-4:]
	var sum float64
	for _, h := range recent {
		sum += h.CO2PPMMean
	}
	mean := sum / 4
	var variance float64
	for _, h := range recent {
		d := h.CO2PPMMean - mean
		variance += d * d
	}
	variance /= 4

	// Coefficient of variation below 10%
	if mean > 0 && variance/(mean*mean) < 0.01 {
		bd.stableWindowsCount++
	} else {
		bd.stableWindowsCount = 0
	}

	if bd.stableWindowsCount == 5 { // trigger exactly once at 5 windows
		return &Bookmark{
			Type:        BookmarkStableHabitat,
			Step:        stats.WindowEndStep,
			Description: fmt.Sprintf("CO2 steady near %.0f ppm with population %d over 5+ windows", mean, stats.Population),
		}
	}
	return nil
}
