// Package persistence stores step records and snapshots in SQL databases
// and archives snapshot files.
package persistence

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/pthm-cable/habitat/telemetry"
)

// ErrNotFound is returned when a requested game, snapshot or object does
// not exist.
var ErrNotFound = errors.New("not found")

// Store wraps a SQL connection holding games, step records and snapshots.
type Store struct {
	conn   *sqlx.DB
	driver string
}

// GameRow describes one run.
type GameRow struct {
	GameID     string    `db:"game_id"`
	ParentID   string    `db:"parent_id"`
	Seed       int64     `db:"seed"` // uint64 seed, bit-cast
	ConfigYAML string    `db:"config_yaml"`
	CreatedAt  time.Time `db:"created_at"`
}

// SnapshotRow is the index entry of a stored snapshot.
type SnapshotRow struct {
	GameID    string    `db:"game_id"`
	Step      int       `db:"step"`
	Bookmark  string    `db:"bookmark"`
	CreatedAt time.Time `db:"created_at"`
	Data      []byte    `db:"data"`
}

// Open connects to a sqlite file or a postgres DSN and creates the schema.
// driver is "sqlite" or "pgx".
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case "sqlite":
		if !strings.Contains(dsn, "?") {
			dsn += "?_journal_mode=WAL&_busy_timeout=5000"
		}
	case "pgx", "postgres":
		driver = "pgx"
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}

	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if driver == "sqlite" {
		// One writer at a time; a shared connection also keeps :memory: alive.
		conn.SetMaxOpenConns(1)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Store{conn: conn, driver: driver}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Driver returns the database/sql driver name in use.
func (s *Store) Driver() string { return s.driver }

func (s *Store) migrate() error {
	blobType, boolType, floatType := "BLOB", "INTEGER", "REAL"
	if s.driver == "pgx" {
		blobType, boolType, floatType = "BYTEA", "BOOLEAN", "DOUBLE PRECISION"
	}
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS games (
		game_id TEXT PRIMARY KEY,
		parent_id TEXT NOT NULL,
		seed BIGINT NOT NULL,
		config_yaml TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS steps (
		game_id TEXT NOT NULL,
		step INTEGER NOT NULL,
		time_hours %[2]s NOT NULL,
		hours_per_step %[2]s NOT NULL,
		is_terminated %[3]s NOT NULL,
		termination_reason TEXT NOT NULL,
		PRIMARY KEY (game_id, step)
	);

	CREATE TABLE IF NOT EXISTS populations (
		game_id TEXT NOT NULL,
		step INTEGER NOT NULL,
		agent_type TEXT NOT NULL,
		amount INTEGER NOT NULL,
		agents INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS storages (
		game_id TEXT NOT NULL,
		step INTEGER NOT NULL,
		storage_id BIGINT NOT NULL,
		storage_type TEXT NOT NULL,
		currency TEXT NOT NULL,
		balance %[2]s NOT NULL,
		capacity %[2]s NOT NULL
	);

	CREATE TABLE IF NOT EXISTS exchanges (
		game_id TEXT NOT NULL,
		step INTEGER NOT NULL,
		agent_id BIGINT NOT NULL,
		agent_type TEXT NOT NULL,
		attr TEXT NOT NULL,
		currency TEXT NOT NULL,
		storage_id BIGINT NOT NULL,
		storage_type TEXT NOT NULL,
		amount %[2]s NOT NULL
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		game_id TEXT NOT NULL,
		step INTEGER NOT NULL,
		bookmark TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		data %[1]s NOT NULL,
		PRIMARY KEY (game_id, step, bookmark)
	);

	CREATE INDEX IF NOT EXISTS idx_populations_step ON populations(game_id, step);
	CREATE INDEX IF NOT EXISTS idx_storages_step ON storages(game_id, step);
	CREATE INDEX IF NOT EXISTS idx_exchanges_step ON exchanges(game_id, step);
	`, blobType, floatType, boolType)

	// Postgres rejects several statements in one prepared Exec.
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.conn.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveGame records a run, replacing an earlier row with the same id.
func (s *Store) SaveGame(ctx context.Context, g GameRow) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	_, err := s.conn.NamedExecContext(ctx, `INSERT INTO games
		(game_id, parent_id, seed, config_yaml, created_at)
		VALUES (:game_id, :parent_id, :seed, :config_yaml, :created_at)
		ON CONFLICT (game_id) DO UPDATE SET
			parent_id = excluded.parent_id,
			seed = excluded.seed,
			config_yaml = excluded.config_yaml`, g)
	if err != nil {
		return fmt.Errorf("save game %s: %w", g.GameID, err)
	}
	return nil
}

// Game loads a run by id.
func (s *Store) Game(ctx context.Context, gameID string) (GameRow, error) {
	var g GameRow
	err := s.conn.GetContext(ctx, &g, s.conn.Rebind(
		`SELECT game_id, parent_id, seed, config_yaml, created_at FROM games WHERE game_id = ?`), gameID)
	if errors.Is(err, sql.ErrNoRows) {
		return g, fmt.Errorf("game %s: %w", gameID, ErrNotFound)
	}
	if err != nil {
		return g, fmt.Errorf("load game %s: %w", gameID, err)
	}
	return g, nil
}

const (
	insertStep = `INSERT INTO steps
		(game_id, step, time_hours, hours_per_step, is_terminated, termination_reason)
		VALUES (:game_id, :step, :time_hours, :hours_per_step, :is_terminated, :termination_reason)`
	insertPopulation = `INSERT INTO populations
		(game_id, step, agent_type, amount, agents)
		VALUES (:game_id, :step, :agent_type, :amount, :agents)`
	insertStorage = `INSERT INTO storages
		(game_id, step, storage_id, storage_type, currency, balance, capacity)
		VALUES (:game_id, :step, :storage_id, :storage_type, :currency, :balance, :capacity)`
	insertExchange = `INSERT INTO exchanges
		(game_id, step, agent_id, agent_type, attr, currency, storage_id, storage_type, amount)
		VALUES (:game_id, :step, :agent_id, :agent_type, :attr, :currency, :storage_id, :storage_type, :amount)`
)

// WriteBatch stores step records and their nested rows in one
// transaction.
func (s *Store) WriteBatch(ctx context.Context, records []telemetry.StepRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	stmts := make(map[string]*sqlx.NamedStmt, 4)
	for _, q := range []string{insertStep, insertPopulation, insertStorage, insertExchange} {
		stmt, err := tx.PrepareNamedContext(ctx, q)
		if err != nil {
			return fmt.Errorf("prepare batch: %w", err)
		}
		defer stmt.Close()
		stmts[q] = stmt
	}

	for i := range records {
		rec := &records[i]
		if _, err := stmts[insertStep].ExecContext(ctx, rec); err != nil {
			return fmt.Errorf("insert step %d: %w", rec.Step, err)
		}
		for _, p := range rec.Populations {
			if _, err := stmts[insertPopulation].ExecContext(ctx, p); err != nil {
				return fmt.Errorf("insert population step %d: %w", rec.Step, err)
			}
		}
		for _, st := range rec.Storages {
			if _, err := stmts[insertStorage].ExecContext(ctx, storageRow(st)); err != nil {
				return fmt.Errorf("insert storage step %d: %w", rec.Step, err)
			}
		}
		for _, ex := range rec.Exchanges {
			if _, err := stmts[insertExchange].ExecContext(ctx, exchangeRow(ex)); err != nil {
				return fmt.Errorf("insert exchange step %d: %w", rec.Step, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Agent and storage ids are stored as signed integers.
type storageDBRow struct {
	GameID      string  `db:"game_id"`
	Step        int     `db:"step"`
	StorageID   int64   `db:"storage_id"`
	StorageType string  `db:"storage_type"`
	Currency    string  `db:"currency"`
	Balance     float64 `db:"balance"`
	Capacity    float64 `db:"capacity"`
}

type exchangeDBRow struct {
	GameID      string  `db:"game_id"`
	Step        int     `db:"step"`
	AgentID     int64   `db:"agent_id"`
	AgentType   string  `db:"agent_type"`
	Attr        string  `db:"attr"`
	Currency    string  `db:"currency"`
	StorageID   int64   `db:"storage_id"`
	StorageType string  `db:"storage_type"`
	Amount      float64 `db:"amount"`
}

func storageRow(r telemetry.StorageRecord) storageDBRow {
	return storageDBRow{r.GameID, r.Step, int64(r.StorageID), r.StorageType, r.Currency, r.Balance, r.Capacity}
}

func exchangeRow(r telemetry.ExchangeRecord) exchangeDBRow {
	return exchangeDBRow{r.GameID, r.Step, int64(r.AgentID), r.AgentType, r.Attr, r.Currency, int64(r.StorageID), r.StorageType, r.Amount}
}

// LoadSteps returns the records of steps from..to inclusive, in step order,
// with their nested rows.
func (s *Store) LoadSteps(ctx context.Context, gameID string, from, to int) ([]telemetry.StepRecord, error) {
	var steps []telemetry.StepRecord
	err := s.conn.SelectContext(ctx, &steps, s.conn.Rebind(`SELECT
		game_id, step, time_hours, hours_per_step, is_terminated, termination_reason
		FROM steps WHERE game_id = ? AND step BETWEEN ? AND ? ORDER BY step`), gameID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
	}
	if len(steps) == 0 {
		return nil, nil
	}
	index := make(map[int]int, len(steps))
	for i, st := range steps {
		index[st.Step] = i
	}

	var pops []telemetry.PopulationRecord
	err = s.conn.SelectContext(ctx, &pops, s.conn.Rebind(`SELECT
		game_id, step, agent_type, amount, agents
		FROM populations WHERE game_id = ? AND step BETWEEN ? AND ? ORDER BY step`), gameID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load populations: %w", err)
	}
	for _, p := range pops {
		if i, ok := index[p.Step]; ok {
			steps[i].Populations = append(steps[i].Populations, p)
		}
	}

	var storages []storageDBRow
	err = s.conn.SelectContext(ctx, &storages, s.conn.Rebind(`SELECT
		game_id, step, storage_id, storage_type, currency, balance, capacity
		FROM storages WHERE game_id = ? AND step BETWEEN ? AND ? ORDER BY step`), gameID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load storages: %w", err)
	}
	for _, r := range storages {
		if i, ok := index[r.Step]; ok {
			steps[i].Storages = append(steps[i].Storages, telemetry.StorageRecord{
				GameID: r.GameID, Step: r.Step, StorageID: uint64(r.StorageID), StorageType: r.StorageType,
				Currency: r.Currency, Balance: r.Balance, Capacity: r.Capacity,
			})
		}
	}

	var exchanges []exchangeDBRow
	err = s.conn.SelectContext(ctx, &exchanges, s.conn.Rebind(`SELECT
		game_id, step, agent_id, agent_type, attr, currency, storage_id, storage_type, amount
		FROM exchanges WHERE game_id = ? AND step BETWEEN ? AND ? ORDER BY step`), gameID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load exchanges: %w", err)
	}
	for _, r := range exchanges {
		if i, ok := index[r.Step]; ok {
			steps[i].Exchanges = append(steps[i].Exchanges, telemetry.ExchangeRecord{
				GameID: r.GameID, Step: r.Step, AgentID: uint64(r.AgentID), AgentType: r.AgentType,
				Attr: r.Attr, Currency: r.Currency, StorageID: uint64(r.StorageID),
				StorageType: r.StorageType, Amount: r.Amount,
			})
		}
	}
	return steps, nil
}

// LastStep returns the highest stored step of a game, or 0.
func (s *Store) LastStep(ctx context.Context, gameID string) (int, error) {
	var last sql.NullInt64
	err := s.conn.GetContext(ctx, &last, s.conn.Rebind(`SELECT MAX(step) FROM steps WHERE game_id = ?`), gameID)
	if err != nil {
		return 0, fmt.Errorf("last step: %w", err)
	}
	return int(last.Int64), nil
}

// SaveSnapshot stores a compressed snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, snapshot *telemetry.Snapshot) error {
	var buf bytes.Buffer
	if err := telemetry.EncodeSnapshot(&buf, snapshot); err != nil {
		return err
	}
	row := SnapshotRow{
		GameID:    snapshot.GameID,
		Step:      snapshot.Step,
		CreatedAt: time.Now().UTC(),
		Data:      buf.Bytes(),
	}
	if snapshot.Bookmark != nil {
		row.Bookmark = string(snapshot.Bookmark.Type)
	}
	_, err := s.conn.NamedExecContext(ctx, `INSERT INTO snapshots
		(game_id, step, bookmark, created_at, data)
		VALUES (:game_id, :step, :bookmark, :created_at, :data)
		ON CONFLICT (game_id, step, bookmark) DO UPDATE SET
			created_at = excluded.created_at,
			data = excluded.data`, row)
	if err != nil {
		return fmt.Errorf("save snapshot %s@%d: %w", snapshot.GameID, snapshot.Step, err)
	}
	return nil
}

// LatestSnapshot returns the stored snapshot of a game with the highest
// step.
func (s *Store) LatestSnapshot(ctx context.Context, gameID string) (*telemetry.Snapshot, error) {
	var row SnapshotRow
	err := s.conn.GetContext(ctx, &row, s.conn.Rebind(`SELECT game_id, step, bookmark, created_at, data
		FROM snapshots WHERE game_id = ? ORDER BY step DESC, created_at DESC LIMIT 1`), gameID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot of %s: %w", gameID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot of %s: %w", gameID, err)
	}
	return telemetry.DecodeSnapshot(bytes.NewReader(row.Data))
}
