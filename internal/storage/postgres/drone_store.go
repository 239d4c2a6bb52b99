package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goodtune/flightdeck/internal/storage"
	"github.com/google/uuid"
)

type droneStore struct {
	db *sql.DB
}

// Create registers a new drone.
func (s *droneStore) Create(ctx context.Context, drone *storage.Drone) error {
	if drone.ID == uuid.Nil {
		drone.ID = uuid.New()
	}

	query := `INSERT INTO drones (id, name, api_key)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`

	err := s.db.QueryRowContext(ctx, query, drone.ID, drone.Name, drone.APIKey).
		Scan(&drone.CreatedAt, &drone.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create drone: %w", err)
	}
	return nil
}

// Get retrieves a drone by id.
func (s *droneStore) Get(ctx context.Context, id uuid.UUID) (*storage.Drone, error) {
	query := `SELECT id, name, api_key, created_at, updated_at FROM drones WHERE id = $1`
	return s.scanOne(s.db.QueryRowContext(ctx, query, id))
}

// GetByAPIKey retrieves the drone owning an API key.
func (s *droneStore) GetByAPIKey(ctx context.Context, apiKey string) (*storage.Drone, error) {
	query := `SELECT id, name, api_key, created_at, updated_at FROM drones WHERE api_key = $1`
	return s.scanOne(s.db.QueryRowContext(ctx, query, apiKey))
}

func (s *droneStore) scanOne(row *sql.Row) (*storage.Drone, error) {
	var drone storage.Drone
	err := row.Scan(&drone.ID, &drone.Name, &drone.APIKey, &drone.CreatedAt, &drone.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get drone: %w", err)
	}
	return &drone, nil
}
