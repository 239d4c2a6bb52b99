package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goodtune/flightdeck/internal/storage"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const (
	bucketFlightState = "flight_state"
	bucketLive        = "live_telemetry"
)

// Store implements the storage.StateStore interface using bbolt. Intended for
// single-node deployments without a Redis instance.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed state store.
func Open(path string) (*Store, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketFlightState, bucketLive} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Close closes the underlying store database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetFlightState retrieves the segmenter state for a drone.
func (s *Store) GetFlightState(ctx context.Context, droneID uuid.UUID) (*storage.FlightState, error) {
	return getBucketValue[storage.FlightState](ctx, s.db, bucketFlightState, droneID.String())
}

// SetFlightState persists the segmenter state for a drone.
func (s *Store) SetFlightState(ctx context.Context, droneID uuid.UUID, state storage.FlightState) error {
	return putBucketValue(ctx, s.db, bucketFlightState, droneID.String(), state)
}

// liveEntry wraps a cached sample with its expiry; bolt has no native TTL.
type liveEntry struct {
	Sample    storage.TelemetrySample `json:"sample"`
	ExpiresAt time.Time               `json:"expires_at"`
}

// SetLiveSample caches the latest sample for a drone.
func (s *Store) SetLiveSample(ctx context.Context, droneID uuid.UUID, sample storage.TelemetrySample, ttl time.Duration) error {
	entry := liveEntry{Sample: sample, ExpiresAt: time.Now().Add(ttl)}
	return putBucketValue(ctx, s.db, bucketLive, droneID.String(), entry)
}

// GetLiveSample returns the most recent cached sample for a drone. Expired
// entries are reported as missing.
func (s *Store) GetLiveSample(ctx context.Context, droneID uuid.UUID) (*storage.TelemetrySample, error) {
	entry, err := getBucketValue[liveEntry](ctx, s.db, bucketLive, droneID.String())
	if err != nil {
		return nil, err
	}
	if time.Now().After(entry.ExpiresAt) {
		return nil, storage.ErrNotFound
	}
	return &entry.Sample, nil
}

func marshal(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return data, nil
}

func unmarshal(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal value: %w", err)
	}
	return nil
}

func getBucketValue[T any](ctx context.Context, db *bbolt.DB, bucket string, key string) (*T, error) {
	var item *T
	err := db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return storage.ErrNotFound
		}
		value := b.Get([]byte(key))
		if value == nil {
			return storage.ErrNotFound
		}
		var result T
		if err := unmarshal(value, &result); err != nil {
			return err
		}
		item = &result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func putBucketValue(ctx context.Context, db *bbolt.DB, bucket string, key string, value any) error {
	data, err := marshal(value)
	if err != nil {
		return err
	}
	return db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket missing: %s", bucket)
		}
		return b.Put([]byte(key), data)
	})
}
