package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewOutputManager_Disabled(t *testing.T) {
	om, err := NewOutputManager("")
	if err != nil {
		t.Fatalf("NewOutputManager: %v", err)
	}
	if om != nil {
		t.Fatal("expected nil manager for empty dir")
	}
	// Nil manager methods are no-ops
	if err := om.WriteTelemetry(WindowStats{}); err != nil {
		t.Errorf("WriteTelemetry on nil: %v", err)
	}
	if err := om.Close(); err != nil {
		t.Errorf("Close on nil: %v", err)
	}
}

func TestOutputManager_HeaderOnce(t *testing.T) {
	dir := t.TempDir()
	om, err := NewOutputManager(dir)
	if err != nil {
		t.Fatalf("NewOutputManager: %v", err)
	}

	for step := 1; step <= 3; step++ {
		rec := StepRecord{
			GameID:       "g",
			Step:         step,
			TimeHours:    float64(step),
			HoursPerStep: 1,
			Populations:  []PopulationRecord{{GameID: "g", Step: step, AgentType: "human", Amount: 4, Agents: 1}},
			Storages: []StorageRecord{
				{GameID: "g", Step: step, StorageID: 1, StorageType: "crew_habitat", Currency: "o2", Balance: 10, Capacity: 100},
				{GameID: "g", Step: step, StorageID: 1, StorageType: "crew_habitat", Currency: "co2", Balance: 1, Capacity: 100},
			},
		}
		if err := om.WriteStep(rec); err != nil {
			t.Fatalf("WriteStep: %v", err)
		}
	}
	if err := om.WriteDeath(DeathRecord{GameID: "g", Step: 3, AgentID: 2, AgentType: "human", Cause: "deprived of o2"}); err != nil {
		t.Fatalf("WriteDeath: %v", err)
	}
	if err := om.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	tests := []struct {
		file   string
		header string
		rows   int
	}{
		{"steps.csv", "game_id,step,time_hours,hours_per_step,is_terminated,termination_reason", 3},
		{"populations.csv", "game_id,step,agent_type,amount,agents", 3},
		{"storages.csv", "game_id,step,storage_id,storage_type,currency,balance,capacity", 6},
		{"exchanges.csv", "", 0},
		{"deaths.csv", "game_id,step,agent_id,agent_type,cause,birth_step,aborts,stalls,consumed,produced", 1},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			data, err := os.ReadFile(filepath.Join(dir, tt.file))
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			text := strings.TrimSpace(string(data))
			if tt.rows == 0 {
				if text != "" {
					t.Errorf("expected empty file, got %q", text)
				}
				return
			}
			lines := strings.Split(text, "\n")
			if lines[0] != tt.header {
				t.Errorf("header = %q, want %q", lines[0], tt.header)
			}
			if got := len(lines) - 1; got != tt.rows {
				t.Errorf("rows = %d, want %d", got, tt.rows)
			}
		})
	}
}
