package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/flightdeck/internal/metrics"
	"github.com/goodtune/flightdeck/internal/storage"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// ContextKeyDrone is the context key carrying the authenticated drone.
const ContextKeyDrone contextKey = "drone"

// AuthMiddleware authenticates requests by their X-API-Key header.
func AuthMiddleware(auth *authService, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				WriteError(w, http.StatusUnauthorized, "missing API key")
				return
			}

			drone, err := auth.lookup(r.Context(), key)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					WriteError(w, http.StatusUnauthorized, "invalid API key")
					return
				}
				logger.Error().Err(err).Msg("API key lookup failed")
				WriteError(w, http.StatusInternalServerError, "authentication unavailable")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyDrone, drone)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// droneFromContext returns the authenticated drone set by AuthMiddleware.
func droneFromContext(ctx context.Context) *storage.Drone {
	drone, _ := ctx.Value(ContextKeyDrone).(*storage.Drone)
	return drone
}

// LoggingMiddleware logs every request and records HTTP metrics.
func LoggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			metrics.HTTPRequestsTotal.WithLabelValues(r.URL.Path, r.Method, strconv.Itoa(wrapped.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.URL.Path).Observe(duration.Seconds())

			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Int("status", wrapped.statusCode).
				Dur("duration", duration).
				Msg("API request")
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code before delegating.
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
