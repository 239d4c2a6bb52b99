package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/goodtune/flightdeck/internal/api"
	"github.com/goodtune/flightdeck/internal/config"
	"github.com/goodtune/flightdeck/internal/flight"
	"github.com/goodtune/flightdeck/internal/metrics"
	"github.com/goodtune/flightdeck/internal/storage"
	"github.com/goodtune/flightdeck/internal/storage/bolt"
	"github.com/goodtune/flightdeck/internal/storage/postgres"
	"github.com/goodtune/flightdeck/internal/storage/redis"
	"github.com/goodtune/flightdeck/internal/systemd"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the Flightdeck server",
	Long:  `Start the Flightdeck server with the telemetry API and metrics endpoints.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting Flightdeck")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize relational storage
	store, err := postgres.Open(cfg.Storage.Postgres)
	if err != nil {
		return fmt.Errorf("failed to initialize postgres storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close postgres storage")
		}
	}()

	logger.Info().
		Str("host", cfg.Storage.Postgres.Host).
		Int("port", cfg.Storage.Postgres.Port).
		Str("database", cfg.Storage.Postgres.Database).
		Msg("Postgres storage initialized")

	// Initialize flight state storage
	state, err := openStateStore(cfg.Storage.State)
	if err != nil {
		return fmt.Errorf("failed to initialize state storage: %w", err)
	}
	defer func() {
		if err := state.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close state storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.State.Type).
		Msg("State storage initialized")

	// Initialize flight segmenter
	segmenter := flight.NewSegmenter(store, state, flight.Config{
		ActivityThreshold: cfg.Flight.ActivityThreshold,
		IdleTimeout:       parseDuration(cfg.Flight.IdleTimeout, flight.DefaultIdleTimeout),
	}, logger)

	// Initialize background analytics
	analyzer := flight.NewAnalyzer(store, logger)
	dispatcher := flight.NewDispatcher(analyzer, cfg.Flight.Workers, cfg.Flight.QueueSize, logger)

	logger.Info().
		Int("workers", cfg.Flight.Workers).
		Int("queue_size", cfg.Flight.QueueSize).
		Msg("Analytics dispatcher initialized")

	// Initialize API server
	apiConfig := api.Config{
		ListenAddr:    fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.HTTPPort),
		MaxBatchSize:  cfg.Flight.MaxBatchSize,
		LiveTTL:       parseDuration(cfg.Flight.LiveTTL, time.Minute),
		AuthCacheSize: cfg.Flight.AuthCacheSize,
	}
	apiServer := api.NewServer(apiConfig, store, state, segmenter, dispatcher, store, logger)

	// Use systemd socket-activated listener if available
	if sdListeners.Activated && sdListeners.HTTP != nil {
		apiServer.SetListener(sdListeners.HTTP)
	}

	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	logger.Info().
		Str("addr", apiConfig.ListenAddr).
		Msg("API server started")

	// Initialize metrics server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)

	if sdListeners.Activated && sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}

	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	logger.Info().Msg("Flightdeck startup complete")
	logger.Info().Msgf("API: http://%s/api/v1", apiConfig.ListenAddr)
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received, gracefully stopping...")

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	if err := apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping API server")
	}

	// Drain pending analytics before the stores close.
	dispatcher.Stop()

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping metrics server")
	}

	logger.Info().Msg("Flightdeck stopped")
	return nil
}

// openStateStore opens the configured flight-state backend.
func openStateStore(cfg config.StateConfig) (storage.StateStore, error) {
	switch cfg.Type {
	case "redis", "":
		return redis.Open(cfg.Redis)
	case "bolt":
		return bolt.Open(cfg.Bolt.Path)
	default:
		return nil, fmt.Errorf("unsupported state storage type: %s", cfg.Type)
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
