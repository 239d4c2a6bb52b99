package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"

	"github.com/goodtune/flightdeck/internal/config"
	"github.com/goodtune/flightdeck/internal/storage"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	// miniredis.Addr() returns "host:port", so we use it directly
	cfg := config.RedisConfig{
		Host:         mr.Addr(), // Full address "host:port"
		Port:         0,         // Not used when host contains port
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 5,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store, mr
}

func TestFlightStateRoundTrip(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	droneID := uuid.New()

	flightID := uuid.New()
	lastHigh := time.Date(2025, 6, 1, 12, 0, 0, 123456789, time.UTC)
	in := storage.FlightState{
		ActiveFlightID:     &flightID,
		LastHighThrottleTs: &lastHigh,
	}

	if err := store.SetFlightState(ctx, droneID, in); err != nil {
		t.Fatalf("SetFlightState failed: %v", err)
	}

	out, err := store.GetFlightState(ctx, droneID)
	if err != nil {
		t.Fatalf("GetFlightState failed: %v", err)
	}
	if out.ActiveFlightID == nil || *out.ActiveFlightID != flightID {
		t.Errorf("active_flight_id = %v, want %v", out.ActiveFlightID, flightID)
	}
	if out.LastHighThrottleTs == nil || !out.LastHighThrottleTs.Equal(lastHigh) {
		t.Errorf("last_high_throttle_ts = %v, want %v", out.LastHighThrottleTs, lastHigh)
	}
}

func TestFlightStateReset(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	droneID := uuid.New()

	flightID := uuid.New()
	lastHigh := time.Now().UTC()
	if err := store.SetFlightState(ctx, droneID, storage.FlightState{
		ActiveFlightID:     &flightID,
		LastHighThrottleTs: &lastHigh,
	}); err != nil {
		t.Fatalf("SetFlightState failed: %v", err)
	}

	// Writing the zero state clears both fields.
	if err := store.SetFlightState(ctx, droneID, storage.FlightState{}); err != nil {
		t.Fatalf("SetFlightState reset failed: %v", err)
	}

	out, err := store.GetFlightState(ctx, droneID)
	if err != nil {
		t.Fatalf("GetFlightState failed: %v", err)
	}
	if out.ActiveFlightID != nil || out.LastHighThrottleTs != nil {
		t.Errorf("state not cleared: %+v", out)
	}
}

func TestGetFlightStateNotFound(t *testing.T) {
	store, _ := setupTestStore(t)

	_, err := store.GetFlightState(context.Background(), uuid.New())
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want storage.ErrNotFound", err)
	}
}

func TestLiveSampleRoundTrip(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	droneID := uuid.New()

	voltage := 15.8
	in := storage.TelemetrySample{
		DroneID:  droneID,
		Ts:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Throttle: 0.42,
		Voltage:  &voltage,
	}

	if err := store.SetLiveSample(ctx, droneID, in, time.Minute); err != nil {
		t.Fatalf("SetLiveSample failed: %v", err)
	}

	out, err := store.GetLiveSample(ctx, droneID)
	if err != nil {
		t.Fatalf("GetLiveSample failed: %v", err)
	}
	if out.Throttle != 0.42 {
		t.Errorf("throttle = %v, want 0.42", out.Throttle)
	}
	if out.Voltage == nil || *out.Voltage != 15.8 {
		t.Errorf("voltage = %v, want 15.8", out.Voltage)
	}
	if !out.Ts.Equal(in.Ts) {
		t.Errorf("ts = %v, want %v", out.Ts, in.Ts)
	}
}

func TestLiveSampleExpires(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()
	droneID := uuid.New()

	sample := storage.TelemetrySample{DroneID: droneID, Ts: time.Now().UTC(), Throttle: 0.9}
	if err := store.SetLiveSample(ctx, droneID, sample, time.Minute); err != nil {
		t.Fatalf("SetLiveSample failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	_, err := store.GetLiveSample(ctx, droneID)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want storage.ErrNotFound after expiry", err)
	}
}

func TestGetLiveSampleNotFound(t *testing.T) {
	store, _ := setupTestStore(t)

	_, err := store.GetLiveSample(context.Background(), uuid.New())
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want storage.ErrNotFound", err)
	}
}
