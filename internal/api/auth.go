package api

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/goodtune/flightdeck/internal/metrics"
	"github.com/goodtune/flightdeck/internal/storage"
)

const defaultAuthCacheSize = 1024

// authService resolves API keys to drones, caching positive lookups so the
// hot ingestion path does not hit the database on every batch.
type authService struct {
	drones storage.DroneStore
	cache  *lru.Cache[string, *storage.Drone]
}

func newAuthService(drones storage.DroneStore, cacheSize int) *authService {
	if cacheSize <= 0 {
		cacheSize = defaultAuthCacheSize
	}
	// Only errors on non-positive size, which is excluded above.
	cache, _ := lru.New[string, *storage.Drone](cacheSize)
	return &authService{drones: drones, cache: cache}
}

func (a *authService) lookup(ctx context.Context, apiKey string) (*storage.Drone, error) {
	if drone, ok := a.cache.Get(apiKey); ok {
		metrics.AuthCacheHits.Inc()
		return drone, nil
	}
	metrics.AuthCacheMisses.Inc()

	drone, err := a.drones.GetByAPIKey(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	a.cache.Add(apiKey, drone)
	return drone, nil
}

// generateAPIKey returns a URL-safe random key with 256 bits of entropy.
func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate API key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
