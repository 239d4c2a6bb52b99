package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/flightdeck/internal/storage"
	"github.com/google/uuid"
)

type flightStore struct {
	db *sql.DB
}

// Create inserts a new open flight with empty metrics.
func (s *flightStore) Create(ctx context.Context, flight *storage.Flight) error {
	if flight.ID == uuid.Nil {
		flight.ID = uuid.New()
	}

	query := `INSERT INTO flights (id, drone_id, start_ts, metrics)
		VALUES ($1, $2, $3, '{}')
		RETURNING created_at, updated_at`

	err := s.db.QueryRowContext(ctx, query, flight.ID, flight.DroneID, flight.StartTs.UTC()).
		Scan(&flight.CreatedAt, &flight.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create flight: %w", err)
	}
	return nil
}

// SetEnd closes a flight by setting its end timestamp.
func (s *flightStore) SetEnd(ctx context.Context, flightID uuid.UUID, endTs time.Time) error {
	query := `UPDATE flights SET end_ts = $2, updated_at = now() WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query, flightID, endTs.UTC())
	if err != nil {
		return fmt.Errorf("set flight end: %w", err)
	}
	return requireRow(result)
}

// UpdateMetrics stores the computed metrics and mirrors the headline values
// into their dedicated columns so flight listings avoid JSONB extraction.
func (s *flightStore) UpdateMetrics(ctx context.Context, flightID uuid.UUID, metrics storage.FlightMetrics) error {
	data, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}

	query := `UPDATE flights
		SET metrics = $2, duration_s = $3, total_mah = $4, min_voltage = $5, updated_at = now()
		WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query, flightID, data,
		nullInt(metrics.FlightDurationS), nullInt(metrics.TotalMAh), nullFloat(metrics.MinVoltage))
	if err != nil {
		return fmt.Errorf("update flight metrics: %w", err)
	}
	return requireRow(result)
}

// Get retrieves a flight by id.
func (s *flightStore) Get(ctx context.Context, flightID uuid.UUID) (*storage.Flight, error) {
	query := `SELECT id, drone_id, start_ts, end_ts, duration_s, metrics, created_at, updated_at
		FROM flights WHERE id = $1`

	flight, err := scanFlight(s.db.QueryRowContext(ctx, query, flightID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get flight: %w", err)
	}
	return flight, nil
}

// ListByDrone returns a drone's flights, most recent first.
func (s *flightStore) ListByDrone(ctx context.Context, droneID uuid.UUID, limit, offset int) ([]storage.Flight, error) {
	query := `SELECT id, drone_id, start_ts, end_ts, duration_s, metrics, created_at, updated_at
		FROM flights
		WHERE drone_id = $1
		ORDER BY start_ts DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.db.QueryContext(ctx, query, droneID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list flights: %w", err)
	}
	defer rows.Close()

	flights := make([]storage.Flight, 0)
	for rows.Next() {
		flight, err := scanFlight(rows)
		if err != nil {
			return nil, err
		}
		flights = append(flights, *flight)
	}
	return flights, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlight(row rowScanner) (*storage.Flight, error) {
	var (
		flight    storage.Flight
		endTs     sql.NullTime
		durationS sql.NullInt64
		metrics   []byte
	)

	if err := row.Scan(&flight.ID, &flight.DroneID, &flight.StartTs,
		&endTs, &durationS, &metrics, &flight.CreatedAt, &flight.UpdatedAt); err != nil {
		return nil, err
	}

	flight.StartTs = flight.StartTs.UTC()
	if endTs.Valid {
		t := endTs.Time.UTC()
		flight.EndTs = &t
	}
	flight.DurationS = intPtr(durationS)
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &flight.Metrics); err != nil {
			return nil, fmt.Errorf("unmarshal metrics: %w", err)
		}
	}

	return &flight, nil
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return nil
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
