package redis

import (
	"fmt"
	"time"

	"github.com/goodtune/flightdeck/internal/storage"
	"github.com/google/uuid"
)

// parseFlightState converts a Redis hash to FlightState. Empty string fields
// mean "unset": the segmenter writes both fields on every update.
func parseFlightState(data map[string]string) (*storage.FlightState, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	var state storage.FlightState

	if raw := data["active_flight_id"]; raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse active_flight_id: %w", err)
		}
		state.ActiveFlightID = &id
	}

	if raw := data["last_high_throttle_ts"]; raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse last_high_throttle_ts: %w", err)
		}
		ts = ts.UTC()
		state.LastHighThrottleTs = &ts
	}

	return &state, nil
}
