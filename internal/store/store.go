package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Store owns the durable copies of vehicle snapshots, station snapshots and
// delay events. Writes are serialized per table by the underlying database;
// reads may run concurrently.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to the database named by the DSN. postgres:// DSNs use the
// pgx driver; anything else is treated as a SQLite path (":memory:" included).
func Open(dsn string) (*Store, error) {
	driver := "sqlite"
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver = "pgx"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == "pgx" {
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	} else {
		// A second connection to a :memory: SQLite DSN would open a
		// second, empty database.
		db.SetMaxOpenConns(1)
	}
	return &Store{db: db, driver: driver}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Init creates the three tables and their indices. Idempotent; the layout is
// a durable contract that reporting jobs may read directly.
func (s *Store) Init(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS vehicle_snapshots (
			vehicle_id       TEXT NOT NULL,
			trip_id          TEXT NOT NULL DEFAULT '',
			line_id          TEXT NOT NULL DEFAULT '',
			latitude         DOUBLE PRECISION NOT NULL,
			longitude        DOUBLE PRECISION NOT NULL,
			bearing          DOUBLE PRECISION NOT NULL,
			speed            DOUBLE PRECISION NOT NULL,
			ts               BIGINT NOT NULL,
			congestion_level TEXT NOT NULL,
			occupancy_status TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (vehicle_id, ts)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_vehicles_vehicle_id ON vehicle_snapshots(vehicle_id)`,
		`CREATE INDEX IF NOT EXISTS idx_vehicles_ts ON vehicle_snapshots(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_vehicles_line_id ON vehicle_snapshots(line_id)`,

		`CREATE TABLE IF NOT EXISTS station_snapshots (
			station_id      TEXT NOT NULL,
			station_name    TEXT NOT NULL DEFAULT '',
			line_id         TEXT NOT NULL DEFAULT '',
			passenger_count INTEGER NOT NULL,
			ts              BIGINT NOT NULL,
			direction       TEXT NOT NULL DEFAULT '',
			period          TEXT NOT NULL,
			PRIMARY KEY (station_id, line_id, ts)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stations_station_id ON station_snapshots(station_id)`,
		`CREATE INDEX IF NOT EXISTS idx_stations_ts ON station_snapshots(ts)`,

		`CREATE TABLE IF NOT EXISTS delay_events (
			line_id       TEXT NOT NULL,
			station_id    TEXT NOT NULL DEFAULT '',
			delay_minutes INTEGER NOT NULL,
			event_date    BIGINT NOT NULL,
			cause         TEXT NOT NULL DEFAULT '',
			impact_level  TEXT NOT NULL,
			UNIQUE (line_id, station_id, event_date, cause, delay_minutes)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_delays_line_date ON delay_events(line_id, event_date)`,
		`CREATE INDEX IF NOT EXISTS idx_delays_station_id ON delay_events(station_id)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}
