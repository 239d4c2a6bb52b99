package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/goodtune/flightdeck/internal/storage"
)

// ErrorResponse is the shape of every error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// RegisterDroneRequest is the body of POST /api/v1/drones.
type RegisterDroneRequest struct {
	Name string `json:"name"`
}

// RegisterDroneResponse returns the new drone and its API key. The key is
// only ever returned here.
type RegisterDroneResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	APIKey    string    `json:"api_key"`
	CreatedAt time.Time `json:"created_at"`
}

// IngestResponse reports how many samples a batch persisted.
type IngestResponse struct {
	Ingested int64 `json:"ingested"`
}

// FlightSummary is one row of GET /api/v1/flights.
type FlightSummary struct {
	ID        uuid.UUID             `json:"id"`
	StartTs   time.Time             `json:"start_ts"`
	EndTs     *time.Time            `json:"end_ts,omitempty"`
	DurationS *int64                `json:"duration_s,omitempty"`
	Metrics   storage.FlightMetrics `json:"metrics"`
}

// ListFlightsResponse is the body of GET /api/v1/flights.
type ListFlightsResponse struct {
	Flights []FlightSummary `json:"flights"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}
