package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/pthm-cable/habitat/components"
)

// SnapshotVersion is incremented when the format changes.
const SnapshotVersion = 1

// SnapshotExt is the file extension of compressed snapshots.
const SnapshotExt = ".json.zst"

// Snapshot holds the complete simulation state needed to resume or branch.
type Snapshot struct {
	Version  int    `json:"version"`
	GameID   string `json:"game_id"`
	ParentID string `json:"parent_id,omitempty"` // game this one branched from

	Seed uint64 `json:"seed"`
	RNG  []byte `json:"rng"` // generator state at Step

	Step       int     `json:"step"`
	TimeHours  float64 `json:"time_hours"`
	NextID     uint64  `json:"next_id"`
	Terminated bool    `json:"terminated"`
	Reason     string  `json:"reason,omitempty"`

	Agents []AgentState `json:"agents"`

	Bookmark *Bookmark `json:"bookmark,omitempty"`
}

// AgentState holds one agent's complete state.
type AgentState struct {
	ID           uint64 `json:"id"`
	Type         string `json:"type"`
	Amount       int    `json:"amount"`
	Active       bool   `json:"active"`
	CauseOfDeath string `json:"cause_of_death,omitempty"`

	// Storage (capacity per instance, balance in total)
	Capacity map[string]float64 `json:"capacity,omitempty"`
	Balance  map[string]float64 `json:"balance,omitempty"`

	Flow  *FlowState        `json:"flow,omitempty"`
	Plant *components.Plant `json:"plant,omitempty"`
}

// FlowState is the mutable part of a flow agent. Exchange wiring is
// rebuilt from config; only generated values and connections are stored.
type FlowState struct {
	Age             float64                                `json:"age"`
	StepVariable    float64                                `json:"step_variable"`
	InitialVariable float64                                `json:"initial_variable"`
	ProcessEvents   bool                                   `json:"process_events"`
	Buffer          map[string]float64                     `json:"buffer,omitempty"`
	Deprive         map[string]float64                     `json:"deprive,omitempty"`
	Instances       map[string][]components.EventInstance `json:"instances,omitempty"`
	Multipliers     map[string]float64                     `json:"multipliers,omitempty"`
	Exchanges       []ExchangeState                        `json:"exchanges"`
}

// ExchangeState holds the generated curve and connected storage ids of one
// exchange.
type ExchangeState struct {
	Attr        string    `json:"attr"`
	StepValues  []float64 `json:"step_values"`
	Connections []uint64  `json:"connections"`
}

// EncodeSnapshot writes a zstd-compressed JSON snapshot.
func EncodeSnapshot(w io.Writer, snapshot *Snapshot) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	if err := json.NewEncoder(enc).Encode(snapshot); err != nil {
		enc.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("flush snapshot: %w", err)
	}
	return nil
}

// DecodeSnapshot reads a snapshot written by EncodeSnapshot.
func DecodeSnapshot(r io.Reader) (*Snapshot, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()

	var snapshot Snapshot
	if err := json.NewDecoder(dec).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snapshot.Version != SnapshotVersion {
		return nil, fmt.Errorf("snapshot version %d, want %d", snapshot.Version, SnapshotVersion)
	}
	return &snapshot, nil
}

// SnapshotName is the file name a snapshot is saved under.
func SnapshotName(snapshot *Snapshot) string {
	name := fmt.Sprintf("snapshot_%s_%06d", snapshot.GameID, snapshot.Step)
	if snapshot.Bookmark != nil {
		// Sanitize bookmark type for filename
		sanitized := strings.ReplaceAll(string(snapshot.Bookmark.Type), " ", "_")
		name += "_" + sanitized
	}
	return name + SnapshotExt
}

// SaveSnapshot writes a snapshot to disk.
// Returns the filepath where it was saved.
func SaveSnapshot(snapshot *Snapshot, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	path := filepath.Join(dir, SnapshotName(snapshot))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create snapshot: %w", err)
	}
	if err := EncodeSnapshot(f, snapshot); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return path, nil
}

// LoadSnapshot reads a snapshot from disk.
func LoadSnapshot(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	defer f.Close()
	return DecodeSnapshot(f)
}
