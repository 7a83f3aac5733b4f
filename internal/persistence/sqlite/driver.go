// Package sqlite is the single-file relational persistence driver of §6:
// one local SQLite database, one upserted row per (namespace, snapshot_id),
// the snapshot itself stored as a JSON text column — the same local/offline
// storage role the teacher's internal/database package fills for its
// standalone trader binary.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aristath/marketsim/internal/domain"
	"github.com/aristath/marketsim/internal/marketsimerr"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // pure-Go driver, no cgo toolchain required
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS simulation_snapshots (
	namespace    TEXT NOT NULL,
	snapshot_id  TEXT NOT NULL,
	day          INTEGER NOT NULL,
	mode         TEXT NOT NULL,
	snapshot     TEXT NOT NULL,
	last_updated TEXT NOT NULL,
	PRIMARY KEY (namespace, snapshot_id)
)`

// Driver is the SQLite persistence.Adapter, backed by database/sql.
//
// SQLite rejects concurrent writers outright, so Open limits the pool to
// a single connection (with WAL mode and a busy timeout), and Save/Load
// also share a mutex the same way jsonfile.Driver does.
type Driver struct {
	db        *sql.DB
	namespace string
	mu        sync.Mutex
	log       zerolog.Logger
}

// Open creates (if needed) and opens the SQLite database at dbPath and
// ensures the schema exists.
func Open(ctx context.Context, dbPath, namespace string, log zerolog.Logger) (*Driver, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, marketsimerr.New(marketsimerr.KindInternal, "create sqlite directory", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, marketsimerr.New(marketsimerr.KindInternal, "open sqlite database", err)
	}
	db.SetMaxOpenConns(1) // SQLite allows only one writer at a time

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, marketsimerr.New(marketsimerr.KindInternal, "ping sqlite database", err)
	}
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		db.Close()
		return nil, marketsimerr.New(marketsimerr.KindInternal, "create simulation_snapshots table", err)
	}

	return &Driver{db: db, namespace: namespace, log: log.With().Str("component", "sqlite").Logger()}, nil
}

// Save upserts the snapshot for id.
func (d *Driver) Save(ctx context.Context, id string, snapshot domain.SimulationSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return marketsimerr.New(marketsimerr.KindInternal, "marshal snapshot", err)
	}

	const upsertSQL = `
INSERT INTO simulation_snapshots (namespace, snapshot_id, day, mode, snapshot, last_updated)
VALUES (?, ?, ?, ?, ?, datetime('now'))
ON CONFLICT (namespace, snapshot_id) DO UPDATE SET
	day = excluded.day,
	mode = excluded.mode,
	snapshot = excluded.snapshot,
	last_updated = datetime('now')`

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.db.ExecContext(ctx, upsertSQL, d.namespace, id, snapshot.Day, string(snapshot.Mode), string(payload)); err != nil {
		return marketsimerr.New(marketsimerr.KindConflict, "upsert simulation snapshot", err)
	}
	d.log.Debug().Str("simulation_id", id).Msg("snapshot saved")
	return nil
}

// Load fetches the snapshot for id.
func (d *Driver) Load(ctx context.Context, id string) (domain.SimulationSnapshot, error) {
	const selectSQL = `SELECT snapshot FROM simulation_snapshots WHERE namespace = ? AND snapshot_id = ?`

	d.mu.Lock()
	var payload string
	err := d.db.QueryRowContext(ctx, selectSQL, d.namespace, id).Scan(&payload)
	d.mu.Unlock()

	if err != nil {
		if err == sql.ErrNoRows {
			return domain.SimulationSnapshot{}, marketsimerr.New(marketsimerr.KindNotFound, "no snapshot for simulation "+id, err)
		}
		return domain.SimulationSnapshot{}, marketsimerr.New(marketsimerr.KindInternal, "query simulation snapshot", err)
	}

	var snapshot domain.SimulationSnapshot
	if err := json.Unmarshal([]byte(payload), &snapshot); err != nil {
		return domain.SimulationSnapshot{}, marketsimerr.New(marketsimerr.KindInternal, "decode snapshot JSON", err)
	}
	return snapshot, nil
}

// Close releases the underlying database handle.
func (d *Driver) Close() error {
	return d.db.Close()
}
