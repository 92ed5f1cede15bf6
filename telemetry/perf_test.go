package telemetry

import (
	"slices"
	"testing"
	"time"
)

func TestPerfCollector_BasicTiming(t *testing.T) {
	pc := NewPerfCollector(10, nil)

	// Simulate a few ticks
	for i := 0; i < 5; i++ {
		pc.StartTick()
		pc.StartPhase(PhaseRatios)
		time.Sleep(100 * time.Microsecond)
		pc.StartPhase(PhaseExchange)
		time.Sleep(200 * time.Microsecond)
		if d := pc.EndTick(); d <= 0 {
			t.Errorf("EndTick returned %v, want positive", d)
		}
	}

	stats := pc.Stats()

	if stats.AvgTickDuration <= 0 {
		t.Error("expected positive average tick duration")
	}
	if _, ok := stats.PhaseAvg[PhaseRatios]; !ok {
		t.Error("expected ratios phase to be tracked")
	}
	if _, ok := stats.PhaseAvg[PhaseExchange]; !ok {
		t.Error("expected exchange phase to be tracked")
	}
	if _, ok := stats.PhaseAvg[PhasePlants]; ok {
		t.Error("plants phase never started but was tracked")
	}
}

func TestPerfCollector_RollingWindow(t *testing.T) {
	pc := NewPerfCollector(5, nil) // Small window

	// Fill window completely
	for i := 0; i < 10; i++ {
		pc.StartTick()
		pc.StartPhase(PhaseClamp)
		time.Sleep(10 * time.Microsecond)
		pc.EndTick()
	}

	stats := pc.Stats()

	if stats.AvgTickDuration <= 0 {
		t.Error("expected positive average tick duration after window filled")
	}
	if stats.TicksPerSecond <= 0 {
		t.Error("expected positive ticks per second")
	}
	if stats.MinTickDuration > stats.MaxTickDuration {
		t.Errorf("min %v > max %v", stats.MinTickDuration, stats.MaxTickDuration)
	}
}

func TestPerfCollector_PhasePercentages(t *testing.T) {
	pc := NewPerfCollector(10, nil)

	// Simulate with uneven phase durations
	for i := 0; i < 5; i++ {
		pc.StartTick()
		pc.StartPhase("fast")
		time.Sleep(10 * time.Microsecond)
		pc.StartPhase("slow")
		time.Sleep(2 * time.Millisecond)
		pc.EndTick()
	}

	stats := pc.Stats()

	fastPct := stats.PhasePct["fast"]
	slowPct := stats.PhasePct["slow"]

	if slowPct <= fastPct {
		t.Errorf("expected slow phase (%v%%) > fast phase (%v%%)", slowPct, fastPct)
	}
}

func TestPerfCollector_EmptyStats(t *testing.T) {
	pc := NewPerfCollector(10, nil)

	stats := pc.Stats()

	// Empty collector should return zero values without panicking
	if stats.AvgTickDuration != 0 {
		t.Error("expected zero avg tick duration for empty collector")
	}
	if stats.PhaseAvg == nil {
		t.Error("expected non-nil PhaseAvg map")
	}
	if stats.PhasePct == nil {
		t.Error("expected non-nil PhasePct map")
	}
}

func TestPerfStats_ToCSV(t *testing.T) {
	stats := PerfStats{
		AvgTickDuration: 1500 * time.Microsecond,
		PhasePct:        map[string]float64{PhaseExchange: 60, PhaseTelemetry: 5},
	}
	row := stats.ToCSV(240)

	if row.WindowEnd != 240 {
		t.Errorf("WindowEnd = %d, want 240", row.WindowEnd)
	}
	if row.AvgTickUS != 1500 {
		t.Errorf("AvgTickUS = %d, want 1500", row.AvgTickUS)
	}
	if row.ExchangePct != 60 || row.TelemetryPct != 5 || row.PlantsPct != 0 {
		t.Errorf("phase columns = %+v", row)
	}
}

func TestPerfStats_PhasesFollowOrder(t *testing.T) {
	pc := NewPerfCollector(4, []string{PhaseRatios, PhaseExchange, PhaseTelemetry})
	for range 3 {
		pc.StartTick()
		pc.StartPhase(PhaseTelemetry)
		pc.StartPhase("extra")
		pc.StartPhase(PhaseRatios)
		time.Sleep(time.Millisecond)
		pc.EndTick()
	}

	stats := pc.Stats()
	want := []string{PhaseRatios, PhaseTelemetry, "extra"}
	if got := stats.Phases(); !slices.Equal(got, want) {
		t.Errorf("Phases() = %v, want %v", got, want)
	}
	if id, pct := stats.Slowest(); id != PhaseRatios || pct <= 0 {
		t.Errorf("Slowest() = %q, %v, want %q", id, pct, PhaseRatios)
	}
}
