package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goodtune/flightdeck/internal/config"
	"github.com/goodtune/flightdeck/internal/storage"
	_ "github.com/lib/pq"
)

// Store implements the storage.Store interface using PostgreSQL
type Store struct {
	db        *sql.DB
	telemetry *telemetryStore
	flights   *flightStore
	drones    *droneStore
}

// Open creates a new PostgreSQL-backed storage instance and runs migrations
func Open(cfg config.PostgresConfig) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime != "" {
		lifetime, err := time.ParseDuration(cfg.ConnMaxLifetime)
		if err != nil {
			return nil, fmt.Errorf("invalid conn_max_lifetime: %w", err)
		}
		db.SetConnMaxLifetime(lifetime)
	}

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Store{
		db:        db,
		telemetry: &telemetryStore{db: db},
		flights:   &flightStore{db: db},
		drones:    &droneStore{db: db},
	}, nil
}

// NewWithDB wraps an existing connection without running migrations.
// Used by tests that substitute a mock driver.
func NewWithDB(db *sql.DB) *Store {
	return &Store{
		db:        db,
		telemetry: &telemetryStore{db: db},
		flights:   &flightStore{db: db},
		drones:    &droneStore{db: db},
	}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies database connectivity. Used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Telemetry returns the TelemetryStore implementation
func (s *Store) Telemetry() storage.TelemetryStore {
	return s.telemetry
}

// Flights returns the FlightStore implementation
func (s *Store) Flights() storage.FlightStore {
	return s.flights
}

// Drones returns the DroneStore implementation
func (s *Store) Drones() storage.DroneStore {
	return s.drones
}
