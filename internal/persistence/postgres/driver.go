// Package postgres is the relational persistence driver of §6: a single
// upserted table keyed by (namespace, snapshot_id), with the snapshot
// itself stored as JSONB.
package postgres

import (
	"context"
	"encoding/json"
	"math"

	"github.com/aristath/marketsim/internal/domain"
	"github.com/aristath/marketsim/internal/marketsimerr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS simulation_snapshots (
	namespace      TEXT NOT NULL,
	snapshot_id    TEXT NOT NULL,
	day            INT NOT NULL,
	intraday_hour  INT NOT NULL,
	mode           TEXT NOT NULL,
	snapshot       JSONB NOT NULL,
	last_updated   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (namespace, snapshot_id)
)`

// Driver is the Postgres persistence.Adapter, backed by pgx's connection
// pool.
type Driver struct {
	pool      *pgxpool.Pool
	namespace string
	log       zerolog.Logger
}

// Open connects to connString and ensures the schema exists.
func Open(ctx context.Context, connString, namespace string, log zerolog.Logger) (*Driver, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, marketsimerr.New(marketsimerr.KindInternal, "open postgres pool", err)
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, marketsimerr.New(marketsimerr.KindInternal, "create simulation_snapshots table", err)
	}
	return &Driver{pool: pool, namespace: namespace, log: log.With().Str("component", "postgres").Logger()}, nil
}

// Save upserts the snapshot for id (§6): intraday_hour is stored as
// round(intradayHour × 1000) to preserve sub-hour precision in an
// integer column.
func (d *Driver) Save(ctx context.Context, id string, snapshot domain.SimulationSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return marketsimerr.New(marketsimerr.KindInternal, "marshal snapshot", err)
	}

	intradayHourScaled := int(math.Round(snapshot.IntradayHour * 1000))

	const upsertSQL = `
INSERT INTO simulation_snapshots (namespace, snapshot_id, day, intraday_hour, mode, snapshot, last_updated)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (namespace, snapshot_id) DO UPDATE SET
	day = EXCLUDED.day,
	intraday_hour = EXCLUDED.intraday_hour,
	mode = EXCLUDED.mode,
	snapshot = EXCLUDED.snapshot,
	last_updated = now()`

	_, err = d.pool.Exec(ctx, upsertSQL, d.namespace, id, snapshot.Day, intradayHourScaled, string(snapshot.Mode), payload)
	if err != nil {
		return marketsimerr.New(marketsimerr.KindConflict, "upsert simulation snapshot", err)
	}
	return nil
}

// Load fetches the snapshot for id.
func (d *Driver) Load(ctx context.Context, id string) (domain.SimulationSnapshot, error) {
	const selectSQL = `SELECT snapshot FROM simulation_snapshots WHERE namespace = $1 AND snapshot_id = $2`

	var payload []byte
	err := d.pool.QueryRow(ctx, selectSQL, d.namespace, id).Scan(&payload)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.SimulationSnapshot{}, marketsimerr.New(marketsimerr.KindNotFound, "no snapshot for simulation "+id, err)
		}
		return domain.SimulationSnapshot{}, marketsimerr.New(marketsimerr.KindInternal, "query simulation snapshot", err)
	}

	var snapshot domain.SimulationSnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return domain.SimulationSnapshot{}, marketsimerr.New(marketsimerr.KindInternal, "decode snapshot JSONB", err)
	}
	return snapshot, nil
}

// CleanupHistory deletes every row from simulation_snapshot_history (an
// optional companion table some deployments use to retain point-in-time
// copies) and reports how many rows and roughly how many bytes were
// freed.
func (d *Driver) CleanupHistory(ctx context.Context) (rowsDeleted int64, bytesFreed int64, err error) {
	const sizeSQL = `SELECT COALESCE(SUM(pg_column_size(snapshot)), 0) FROM simulation_snapshot_history`
	if err := d.pool.QueryRow(ctx, sizeSQL).Scan(&bytesFreed); err != nil {
		return 0, 0, marketsimerr.New(marketsimerr.KindInternal, "measure history table size", err)
	}

	tag, err := d.pool.Exec(ctx, `DELETE FROM simulation_snapshot_history`)
	if err != nil {
		return 0, 0, marketsimerr.New(marketsimerr.KindInternal, "delete simulation_snapshot_history", err)
	}
	return tag.RowsAffected(), bytesFreed, nil
}

// Close releases the connection pool.
func (d *Driver) Close() error {
	d.pool.Close()
	return nil
}
