package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root relational storage interface.
type Store interface {
	Close() error
	Telemetry() TelemetryStore
	Flights() FlightStore
	Drones() DroneStore
}

// TelemetryStore manages raw telemetry samples. Samples are append-only;
// the only mutation is the post-hoc flight assignment.
type TelemetryStore interface {
	InsertBatch(ctx context.Context, samples []TelemetrySample) (int64, error)
	AssignFlight(ctx context.Context, droneID uuid.UUID, timestamps []time.Time, flightID uuid.UUID) error
	QueryByFlight(ctx context.Context, droneID, flightID uuid.UUID) ([]TelemetrySample, error)
}

// FlightStore persists flight records and their computed metrics.
type FlightStore interface {
	Create(ctx context.Context, flight *Flight) error
	SetEnd(ctx context.Context, flightID uuid.UUID, endTs time.Time) error
	UpdateMetrics(ctx context.Context, flightID uuid.UUID, metrics FlightMetrics) error
	Get(ctx context.Context, flightID uuid.UUID) (*Flight, error)
	ListByDrone(ctx context.Context, droneID uuid.UUID, limit, offset int) ([]Flight, error)
}

// DroneStore manages registered drones.
type DroneStore interface {
	Create(ctx context.Context, drone *Drone) error
	Get(ctx context.Context, id uuid.UUID) (*Drone, error)
	GetByAPIKey(ctx context.Context, apiKey string) (*Drone, error)
}

// StateStore holds the segmenter's per-drone flight state and the live
// telemetry cache. Flight state is logically owned by the segmenter: callers
// never write it directly. Backed by Redis or bbolt depending on deployment.
type StateStore interface {
	Close() error
	GetFlightState(ctx context.Context, droneID uuid.UUID) (*FlightState, error)
	SetFlightState(ctx context.Context, droneID uuid.UUID, state FlightState) error
	SetLiveSample(ctx context.Context, droneID uuid.UUID, sample TelemetrySample, ttl time.Duration) error
	GetLiveSample(ctx context.Context, droneID uuid.UUID) (*TelemetrySample, error)
}
