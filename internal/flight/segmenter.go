package flight

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/goodtune/flightdeck/internal/metrics"
	"github.com/goodtune/flightdeck/internal/storage"
)

const (
	// DefaultActivityThreshold is the throttle fraction above which a drone is considered flying
	DefaultActivityThreshold = 0.10

	// DefaultIdleTimeout is the wall-clock duration without high throttle after which a flight closes
	DefaultIdleTimeout = 15 * time.Second
)

// Segmenter detects flight boundaries in incoming telemetry batches.
// It owns the per-drone flight state machine: a flight opens on the first
// sample above the activity threshold and closes once the drone has been
// idle longer than the idle timeout, measured against wall-clock time.
type Segmenter struct {
	flights   storage.FlightStore
	telemetry storage.TelemetryStore
	state     storage.StateStore
	clock     Clock

	threshold   float64
	idleTimeout time.Duration
	logger      zerolog.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// Config holds segmenter configuration
type Config struct {
	ActivityThreshold float64
	IdleTimeout       time.Duration
	Clock             Clock
}

// NewSegmenter creates a new flight segmenter
func NewSegmenter(store storage.Store, state storage.StateStore, config Config, logger zerolog.Logger) *Segmenter {
	if config.ActivityThreshold == 0 {
		config.ActivityThreshold = DefaultActivityThreshold
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = DefaultIdleTimeout
	}
	if config.Clock == nil {
		config.Clock = RealClock{}
	}

	return &Segmenter{
		flights:     store.Flights(),
		telemetry:   store.Telemetry(),
		state:       state,
		clock:       config.Clock,
		threshold:   config.ActivityThreshold,
		idleTimeout: config.IdleTimeout,
		logger:      logger.With().Str("component", "segmenter").Logger(),
	}
}

// Process runs flight segmentation over a persisted telemetry batch for a
// single drone. Batches for the same drone are serialized; batches for
// different drones proceed concurrently. It returns the ID of a flight
// closed during this batch, if any, so the caller can schedule analytics.
//
// State-store failures abort the batch: segmentation never proceeds on a
// default state when the stored state could not be read, and never leaves
// the stored state out of sync with flights it created or closed.
func (s *Segmenter) Process(ctx context.Context, droneID uuid.UUID, samples []storage.TelemetrySample) (*uuid.UUID, error) {
	if len(samples) == 0 {
		return nil, nil
	}

	lock := s.droneLock(droneID)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	defer func() {
		metrics.SegmentationDuration.Observe(time.Since(start).Seconds())
	}()

	// Work on a sorted copy so the caller's slice order is untouched.
	sorted := make([]storage.TelemetrySample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Ts.Before(sorted[j].Ts) })

	st, err := s.loadState(ctx, droneID)
	if err != nil {
		return nil, fmt.Errorf("failed to load flight state: %w", err)
	}

	for _, sample := range sorted {
		if sample.Throttle <= s.threshold {
			continue
		}

		if st.ActiveFlightID == nil {
			flightID, err := s.openFlight(ctx, droneID, sample.Ts)
			if err != nil {
				return nil, err
			}
			st.ActiveFlightID = &flightID
		}

		ts := sample.Ts
		st.LastHighThrottleTs = &ts
	}

	// Every sample in the batch belongs to the active flight, including the
	// low-throttle samples leading into takeoff and trailing the landing.
	if st.ActiveFlightID != nil {
		timestamps := make([]time.Time, len(sorted))
		for i, sample := range sorted {
			timestamps[i] = sample.Ts
		}
		if err := s.telemetry.AssignFlight(ctx, droneID, timestamps, *st.ActiveFlightID); err != nil {
			return nil, fmt.Errorf("failed to assign samples to flight: %w", err)
		}
	}

	// Closure is evaluated once per batch: the batch must end below the
	// threshold and the drone must have been silent for the idle timeout,
	// measured against wall-clock now rather than sample timestamps.
	var closed *uuid.UUID
	now := s.clock.Now()
	last := sorted[len(sorted)-1]
	if st.ActiveFlightID != nil && st.LastHighThrottleTs != nil &&
		last.Throttle <= s.threshold &&
		now.Sub(*st.LastHighThrottleTs) >= s.idleTimeout {
		flightID := *st.ActiveFlightID
		if err := s.closeFlight(ctx, droneID, flightID, now); err != nil {
			return nil, err
		}
		st.ActiveFlightID = nil
		st.LastHighThrottleTs = nil
		closed = &flightID
	}

	if err := s.state.SetFlightState(ctx, droneID, *st); err != nil {
		return nil, fmt.Errorf("failed to persist flight state: %w", err)
	}

	return closed, nil
}

// loadState fetches the drone's flight state, treating absence as a fresh
// state and every other failure as fatal to the batch.
func (s *Segmenter) loadState(ctx context.Context, droneID uuid.UUID) (*storage.FlightState, error) {
	st, err := s.state.GetFlightState(ctx, droneID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &storage.FlightState{}, nil
		}
		return nil, err
	}
	return st, nil
}

func (s *Segmenter) openFlight(ctx context.Context, droneID uuid.UUID, startTs time.Time) (uuid.UUID, error) {
	flight := &storage.Flight{
		ID:      uuid.New(),
		DroneID: droneID,
		StartTs: startTs,
	}
	if err := s.flights.Create(ctx, flight); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create flight: %w", err)
	}

	metrics.FlightsStarted.Inc()
	metrics.ActiveFlights.Inc()

	s.logger.Info().
		Str("drone_id", droneID.String()).
		Str("flight_id", flight.ID.String()).
		Time("start_ts", startTs).
		Msg("Flight started")

	return flight.ID, nil
}

func (s *Segmenter) closeFlight(ctx context.Context, droneID, flightID uuid.UUID, endTs time.Time) error {
	if err := s.flights.SetEnd(ctx, flightID, endTs); err != nil {
		return fmt.Errorf("failed to close flight: %w", err)
	}

	metrics.FlightsClosed.Inc()
	metrics.ActiveFlights.Dec()

	s.logger.Info().
		Str("drone_id", droneID.String()).
		Str("flight_id", flightID.String()).
		Time("end_ts", endTs).
		Msg("Flight closed")

	return nil
}

// droneLock returns the mutex serializing batches for a single drone.
func (s *Segmenter) droneLock(droneID uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.locks == nil {
		s.locks = make(map[uuid.UUID]*sync.Mutex)
	}
	lock, ok := s.locks[droneID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[droneID] = lock
	}
	return lock
}
