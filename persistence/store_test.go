package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/pthm-cable/habitat/telemetry"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite", filepath.Join(t.TempDir(), "habitat.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecords(gameID string, from, n int) []telemetry.StepRecord {
	var out []telemetry.StepRecord
	for step := from; step < from+n; step++ {
		out = append(out, telemetry.StepRecord{
			GameID:       gameID,
			Step:         step,
			TimeHours:    float64(step),
			HoursPerStep: 1,
			Populations: []telemetry.PopulationRecord{
				{GameID: gameID, Step: step, AgentType: "lamp", Amount: 3, Agents: 1},
			},
			Storages: []telemetry.StorageRecord{
				{GameID: gameID, Step: step, StorageID: 1, StorageType: "battery", Currency: "kwh", Balance: 10 - float64(step), Capacity: 10},
				{GameID: gameID, Step: step, StorageID: 1, StorageType: "battery", Currency: "heat", Balance: 0.5, Capacity: 2},
			},
			Exchanges: []telemetry.ExchangeRecord{
				{GameID: gameID, Step: step, AgentID: 2, AgentType: "lamp", Attr: "in_kwh", Currency: "kwh", StorageID: 1, StorageType: "battery", Amount: 1},
			},
		})
	}
	return out
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open("mysql", "x"); err == nil {
		t.Error("Open accepted an unknown driver")
	}
}

func TestSaveGame(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveGame(ctx, GameRow{GameID: "g1", Seed: 7, ConfigYAML: "simulation: {}\n"}); err != nil {
		t.Fatalf("SaveGame: %v", err)
	}
	// Saving again replaces the row.
	if err := s.SaveGame(ctx, GameRow{GameID: "g1", ParentID: "g0", Seed: 8}); err != nil {
		t.Fatalf("SaveGame again: %v", err)
	}
	g, err := s.Game(ctx, "g1")
	if err != nil {
		t.Fatalf("Game: %v", err)
	}
	if g.Seed != 8 || g.ParentID != "g0" {
		t.Errorf("game = %+v, want seed 8 parent g0", g)
	}
	if _, err := s.Game(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Game(missing) error = %v, want ErrNotFound", err)
	}
}

func TestWriteAndLoadSteps(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.WriteBatch(ctx, sampleRecords("g", 1, 5)); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if err := s.WriteBatch(ctx, sampleRecords("other", 1, 2)); err != nil {
		t.Fatalf("WriteBatch other: %v", err)
	}

	got, err := s.LoadSteps(ctx, "g", 2, 3)
	if err != nil {
		t.Fatalf("LoadSteps: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("steps = %d, want 2", len(got))
	}
	for i, rec := range got {
		wantStep := i + 2
		if rec.Step != wantStep || rec.TimeHours != float64(wantStep) {
			t.Errorf("record %d = step %d time %v", i, rec.Step, rec.TimeHours)
		}
		if len(rec.Populations) != 1 || rec.Populations[0].Amount != 3 {
			t.Errorf("step %d populations = %+v", rec.Step, rec.Populations)
		}
		if len(rec.Storages) != 2 {
			t.Errorf("step %d storages = %d, want 2", rec.Step, len(rec.Storages))
		}
		if len(rec.Exchanges) != 1 || rec.Exchanges[0].AgentID != 2 || rec.Exchanges[0].Amount != 1 {
			t.Errorf("step %d exchanges = %+v", rec.Step, rec.Exchanges)
		}
	}

	last, err := s.LastStep(ctx, "g")
	if err != nil || last != 5 {
		t.Errorf("LastStep = %d, %v, want 5", last, err)
	}
	if last, _ := s.LastStep(ctx, "none"); last != 0 {
		t.Errorf("LastStep(none) = %d, want 0", last)
	}

	// A duplicate step violates the key and rolls the whole batch back.
	if err := s.WriteBatch(ctx, sampleRecords("g", 5, 2)); err == nil {
		t.Error("WriteBatch accepted a duplicate step")
	}
	if last, _ := s.LastStep(ctx, "g"); last != 5 {
		t.Errorf("LastStep after failed batch = %d, want 5", last)
	}
}

func TestTerminatedFlagRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	recs := sampleRecords("g", 1, 1)
	recs[0].IsTerminated = true
	recs[0].TerminationReason = "extinction"
	if err := s.WriteBatch(ctx, recs); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	got, err := s.LoadSteps(ctx, "g", 0, 10)
	if err != nil {
		t.Fatalf("LoadSteps: %v", err)
	}
	if len(got) != 1 || !got[0].IsTerminated || got[0].TerminationReason != "extinction" {
		t.Errorf("got %+v", got)
	}
}

func TestSnapshots(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.LatestSnapshot(ctx, "g"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestSnapshot on empty store error = %v, want ErrNotFound", err)
	}

	for _, step := range []int{10, 30, 20} {
		snap := &telemetry.Snapshot{
			Version: telemetry.SnapshotVersion,
			GameID:  "g",
			Step:    step,
			RNG:     []byte{1, 2, 3},
			Agents: []telemetry.AgentState{
				{ID: 1, Type: "battery", Amount: 1, Active: true, Balance: map[string]float64{"kwh": float64(step)}},
			},
		}
		if err := s.SaveSnapshot(ctx, snap); err != nil {
			t.Fatalf("SaveSnapshot(%d): %v", step, err)
		}
	}

	latest, err := s.LatestSnapshot(ctx, "g")
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if latest.Step != 30 {
		t.Errorf("latest step = %d, want 30", latest.Step)
	}
	if got := latest.Agents[0].Balance["kwh"]; got != 30 {
		t.Errorf("latest balance = %v, want 30", got)
	}
}

func TestBatcher(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	b := NewBatcher(s, 2)

	recs := sampleRecords("g", 1, 3)
	for _, rec := range recs {
		if err := b.Add(ctx, rec); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if b.Pending() != 1 || b.Written() != 2 {
		t.Errorf("pending %d written %d, want 1 and 2", b.Pending(), b.Written())
	}
	if last, _ := s.LastStep(ctx, "g"); last != 2 {
		t.Errorf("stored through step %d before flush, want 2", last)
	}

	if err := b.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if last, _ := s.LastStep(ctx, "g"); last != 3 {
		t.Errorf("stored through step %d after flush, want 3", last)
	}
	if err := b.Flush(ctx); err != nil {
		t.Errorf("empty Flush: %v", err)
	}
}

type failingWriter struct{ calls int }

func (w *failingWriter) WriteBatch(context.Context, []telemetry.StepRecord) error {
	w.calls++
	return errors.New("disk full")
}

func TestBatcherKeepsRecordsOnError(t *testing.T) {
	w := &failingWriter{}
	b := NewBatcher(w, 1)
	if err := b.Add(context.Background(), sampleRecords("g", 1, 1)...); err == nil {
		t.Fatal("Add did not report the write error")
	}
	if b.Pending() != 1 || b.Written() != 0 {
		t.Errorf("pending %d written %d, want 1 and 0", b.Pending(), b.Written())
	}
}
