package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/goodtune/flightdeck/internal/flight"
	"github.com/goodtune/flightdeck/internal/storage"
)

// Config holds the API server configuration.
type Config struct {
	ListenAddr    string
	MaxBatchSize  int
	LiveTTL       time.Duration
	AuthCacheSize int
}

// Server is the drone-facing HTTP API server.
type Server struct {
	config     Config
	store      storage.Store
	state      storage.StateStore
	segmenter  *flight.Segmenter
	dispatcher *flight.Dispatcher
	auth       *authService
	healther   Healther
	server     *http.Server
	router     *mux.Router
	logger     zerolog.Logger
	listener   net.Listener
}

// Healther reports backend liveness for the health endpoint.
type Healther interface {
	Ping(ctx context.Context) error
}

// NewServer creates a new API server.
func NewServer(cfg Config, store storage.Store, state storage.StateStore, segmenter *flight.Segmenter, dispatcher *flight.Dispatcher, healther Healther, logger zerolog.Logger) *Server {
	if cfg.MaxBatchSize == 0 {
		cfg.MaxBatchSize = 500
	}
	if cfg.LiveTTL == 0 {
		cfg.LiveTTL = 60 * time.Second
	}

	router := mux.NewRouter()

	s := &Server{
		config:     cfg,
		store:      store,
		state:      state,
		segmenter:  segmenter,
		dispatcher: dispatcher,
		auth:       newAuthService(store.Drones(), cfg.AuthCacheSize),
		healther:   healther,
		router:     router,
		logger:     logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))

	// Public routes (no auth required)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/drones", s.handleRegisterDrone).Methods("POST")

	// Drone-authenticated routes
	authRouter := s.router.PathPrefix("/api/v1").Subrouter()
	authRouter.Use(AuthMiddleware(s.auth, s.logger))
	authRouter.HandleFunc("/telemetry", s.handleIngestTelemetry).Methods("POST")
	authRouter.HandleFunc("/telemetry/live", s.handleLiveTelemetry).Methods("GET")
	authRouter.HandleFunc("/flights", s.handleListFlights).Methods("GET")
	authRouter.HandleFunc("/flights/{id}", s.handleGetFlight).Methods("GET")
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation.
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting API server")

	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}

	return nil
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// WriteError writes an error response.
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}
