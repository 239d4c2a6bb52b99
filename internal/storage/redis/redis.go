package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/goodtune/flightdeck/internal/config"
	"github.com/goodtune/flightdeck/internal/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Store implements the storage.StateStore interface using Redis
type Store struct {
	client *redis.Client
}

// Open creates a new Redis-backed state store instance
func Open(cfg config.RedisConfig) (*Store, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Determine address
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

func flightStateKey(droneID uuid.UUID) string {
	return fmt.Sprintf("flightdeck:drone:%s:flight_state", droneID)
}

func liveKey(droneID uuid.UUID) string {
	return fmt.Sprintf("flightdeck:drone:%s:live", droneID)
}

// GetFlightState retrieves the segmenter state for a drone
func (s *Store) GetFlightState(ctx context.Context, droneID uuid.UUID) (*storage.FlightState, error) {
	data, err := s.client.HGetAll(ctx, flightStateKey(droneID)).Result()
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	return parseFlightState(data)
}

// SetFlightState persists the segmenter state for a drone. No TTL: the state
// is owned by the segmenter, not a cache entry.
func (s *Store) SetFlightState(ctx context.Context, droneID uuid.UUID, state storage.FlightState) error {
	activeID := ""
	if state.ActiveFlightID != nil {
		activeID = state.ActiveFlightID.String()
	}
	lastHigh := ""
	if state.LastHighThrottleTs != nil {
		lastHigh = state.LastHighThrottleTs.UTC().Format(time.RFC3339Nano)
	}

	return s.client.HSet(ctx, flightStateKey(droneID),
		"active_flight_id", activeID,
		"last_high_throttle_ts", lastHigh,
	).Err()
}

// SetLiveSample caches the latest sample for a drone with an expiry
func (s *Store) SetLiveSample(ctx context.Context, droneID uuid.UUID, sample storage.TelemetrySample, ttl time.Duration) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("marshal live sample: %w", err)
	}
	return s.client.Set(ctx, liveKey(droneID), data, ttl).Err()
}

// GetLiveSample returns the most recent cached sample for a drone
func (s *Store) GetLiveSample(ctx context.Context, droneID uuid.UUID) (*storage.TelemetrySample, error) {
	data, err := s.client.Get(ctx, liveKey(droneID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	var sample storage.TelemetrySample
	if err := json.Unmarshal(data, &sample); err != nil {
		return nil, fmt.Errorf("unmarshal live sample: %w", err)
	}
	return &sample, nil
}
