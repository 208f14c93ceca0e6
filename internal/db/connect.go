package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Open opens a DB and ensures schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:ledgerprep.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/ledgerprep?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	if err := ensureSchema(ctx, db, driver); err != nil {
		return nil, err
	}
	return db, nil
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS simulations (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  estimated_minutes INTEGER NOT NULL,
  requirements_json TEXT NOT NULL,
  exhibits_json TEXT NOT NULL DEFAULT '[]',
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS attempts (
  id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL,
  taker_id TEXT NOT NULL,
  simulation_id TEXT NOT NULL REFERENCES simulations(id) ON DELETE CASCADE,
  started_at INTEGER NOT NULL,
  completed_at INTEGER NOT NULL,
  elapsed_sec INTEGER NOT NULL,
  total_points REAL NOT NULL,
  earned_points REAL NOT NULL,
  percentage INTEGER NOT NULL,
  responses_json TEXT NOT NULL,
  details_json TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attempts_taker ON attempts(taker_id, completed_at);
CREATE INDEX IF NOT EXISTS idx_attempts_sim ON attempts(simulation_id, completed_at);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS simulations (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  estimated_minutes INTEGER NOT NULL,
  requirements_json TEXT NOT NULL,
  exhibits_json TEXT NOT NULL DEFAULT '[]',
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS attempts (
  id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL,
  taker_id TEXT NOT NULL,
  simulation_id TEXT NOT NULL REFERENCES simulations(id) ON DELETE CASCADE,
  started_at BIGINT NOT NULL,
  completed_at BIGINT NOT NULL,
  elapsed_sec INTEGER NOT NULL,
  total_points DOUBLE PRECISION NOT NULL,
  earned_points DOUBLE PRECISION NOT NULL,
  percentage INTEGER NOT NULL,
  responses_json TEXT NOT NULL,
  details_json TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attempts_taker ON attempts(taker_id, completed_at);
CREATE INDEX IF NOT EXISTS idx_attempts_sim ON attempts(simulation_id, completed_at);
`
