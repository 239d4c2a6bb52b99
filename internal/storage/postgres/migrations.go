package postgres

import (
	"database/sql"
	"fmt"
)

// migrations are applied in order; the applied version is tracked in the
// schema_migrations table so restarts are idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS drones (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		api_key TEXT UNIQUE NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS flights (
		id UUID PRIMARY KEY,
		drone_id UUID NOT NULL REFERENCES drones(id) ON DELETE CASCADE,
		start_ts TIMESTAMPTZ NOT NULL,
		end_ts TIMESTAMPTZ,
		duration_s INTEGER,
		total_mah INTEGER,
		max_current DOUBLE PRECISION,
		min_voltage DOUBLE PRECISION,
		metrics JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_flights_drone_id ON flights(drone_id);
	CREATE INDEX IF NOT EXISTS idx_flights_drone_start ON flights(drone_id, start_ts DESC)`,

	`CREATE TABLE IF NOT EXISTS telemetry_raw (
		id BIGSERIAL PRIMARY KEY,
		drone_id UUID NOT NULL REFERENCES drones(id) ON DELETE CASCADE,
		ts TIMESTAMPTZ NOT NULL,
		throttle DOUBLE PRECISION,
		voltage DOUBLE PRECISION,
		current DOUBLE PRECISION,
		mah_drawn INTEGER,
		latitude DOUBLE PRECISION,
		longitude DOUBLE PRECISION,
		altitude DOUBLE PRECISION,
		vx DOUBLE PRECISION,
		vy DOUBLE PRECISION,
		vz DOUBLE PRECISION,
		roll DOUBLE PRECISION,
		pitch DOUBLE PRECISION,
		yaw DOUBLE PRECISION,
		rssi SMALLINT,
		flight_id UUID,
		extra JSONB
	);
	CREATE INDEX IF NOT EXISTS idx_telemetry_drone_id ON telemetry_raw(drone_id);
	CREATE INDEX IF NOT EXISTS idx_telemetry_ts ON telemetry_raw(ts);
	CREATE INDEX IF NOT EXISTS idx_telemetry_flight_id ON telemetry_raw(flight_id)`,
}

// runMigrations applies all pending database migrations
func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion); err != nil {
		return fmt.Errorf("get current migration version: %w", err)
	}

	for i, migration := range migrations {
		version := i + 1
		if version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", version, err)
		}

		if _, err := tx.Exec(migration); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", version, err)
		}
	}

	return nil
}
