package telemetry

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/pthm-cable/habitat/components"
)

func TestSnapshotSaveLoad(t *testing.T) {
	tmpDir := t.TempDir()

	snapshot := &Snapshot{
		Version:   SnapshotVersion,
		GameID:    "g1",
		Seed:      42,
		RNG:       []byte{1, 2, 3, 4},
		Step:      1000,
		TimeHours: 1000,
		NextID:    17,
		Agents: []AgentState{
			{
				ID:       1,
				Type:     "crew_habitat",
				Amount:   1,
				Active:   true,
				Capacity: map[string]float64{"o2": 300},
				Balance:  map[string]float64{"o2": 42.5},
			},
			{
				ID:     2,
				Type:   "wheat",
				Amount: 20,
				Active: true,
				Flow: &FlowState{
					Age:             12,
					StepVariable:    1,
					InitialVariable: 0.97,
					ProcessEvents:   true,
					Deprive:         map[string]float64{"in_potable": 3},
					Instances: map[string][]components.EventInstance{
						"blight": {{Magnitude: 0.5, Duration: 2, HasDuration: true}},
					},
					Exchanges: []ExchangeState{
						{Attr: "in_co2", StepValues: []float64{0.1, 0.2}, Connections: []uint64{1}},
					},
				},
				Plant: &components.Plant{Lifetime: 1488, FullAmount: 20, AgentStepNum: 12},
			},
		},
		Bookmark: &Bookmark{
			Type:        BookmarkCO2Spike,
			Step:        1000,
			Description: "Test bookmark",
		},
	}

	path, err := SaveSnapshot(snapshot, tmpDir)
	if err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("Snapshot file not created at %s", path)
	}

	loaded, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}

	if loaded.Version != snapshot.Version {
		t.Errorf("Version mismatch: got %d, want %d", loaded.Version, snapshot.Version)
	}
	if loaded.Seed != snapshot.Seed {
		t.Errorf("Seed mismatch: got %d, want %d", loaded.Seed, snapshot.Seed)
	}
	if !bytes.Equal(loaded.RNG, snapshot.RNG) {
		t.Errorf("RNG mismatch: got %v, want %v", loaded.RNG, snapshot.RNG)
	}
	if loaded.Step != snapshot.Step {
		t.Errorf("Step mismatch: got %d, want %d", loaded.Step, snapshot.Step)
	}
	if len(loaded.Agents) != len(snapshot.Agents) {
		t.Fatalf("Agents count mismatch: got %d, want %d", len(loaded.Agents), len(snapshot.Agents))
	}
	wheat := loaded.Agents[1]
	if wheat.Flow == nil || wheat.Plant == nil {
		t.Fatal("flow or plant state not loaded")
	}
	if got := wheat.Flow.Instances["blight"]; len(got) != 1 || got[0].Magnitude != 0.5 {
		t.Errorf("event instances = %+v", got)
	}
	if wheat.Plant.AgentStepNum != 12 {
		t.Errorf("AgentStepNum = %v, want 12", wheat.Plant.AgentStepNum)
	}
	if loaded.Bookmark == nil {
		t.Error("Bookmark not loaded")
	} else if loaded.Bookmark.Type != snapshot.Bookmark.Type {
		t.Errorf("Bookmark type mismatch: got %s, want %s", loaded.Bookmark.Type, snapshot.Bookmark.Type)
	}
}

func TestSnapshotFilename(t *testing.T) {
	tmpDir := t.TempDir()

	snapshot := &Snapshot{
		Version:  SnapshotVersion,
		GameID:   "abc",
		Step:     5000,
		Bookmark: &Bookmark{Type: BookmarkPopulationCrash, Step: 5000},
	}
	path, err := SaveSnapshot(snapshot, tmpDir)
	if err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	expected := filepath.Join(tmpDir, "snapshot_abc_005000_population_crash.json.zst")
	if path != expected {
		t.Errorf("Path mismatch: got %s, want %s", path, expected)
	}

	path, err = SaveSnapshot(&Snapshot{Version: SnapshotVersion, GameID: "abc", Step: 3000}, tmpDir)
	if err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	expected = filepath.Join(tmpDir, "snapshot_abc_003000.json.zst")
	if path != expected {
		t.Errorf("Path mismatch: got %s, want %s", path, expected)
	}
}

func TestDecodeSnapshotRejectsVersion(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeSnapshot(&buf, &Snapshot{Version: SnapshotVersion + 1}); err != nil {
		t.Fatalf("EncodeSnapshot failed: %v", err)
	}
	if _, err := DecodeSnapshot(&buf); err == nil {
		t.Error("expected version error")
	}
}
