package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Ingestion metrics
	BatchesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flightdeck_batches_ingested_total",
			Help: "Total telemetry batches accepted",
		},
		[]string{"drone"},
	)

	SamplesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flightdeck_samples_ingested_total",
			Help: "Total telemetry samples persisted",
		},
		[]string{"drone"},
	)

	BatchesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flightdeck_batches_rejected_total",
			Help: "Total telemetry batches rejected",
		},
		[]string{"reason"},
	)

	// Flight segmentation metrics
	FlightsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flightdeck_flights_started_total",
			Help: "Total flights opened by the segmenter",
		},
	)

	FlightsClosed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flightdeck_flights_closed_total",
			Help: "Total flights closed by the segmenter",
		},
	)

	ActiveFlights = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "flightdeck_active_flights",
			Help: "Number of flights currently open",
		},
	)

	SegmentationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flightdeck_segmentation_duration_seconds",
			Help:    "Time spent segmenting a batch",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// Analytics metrics
	AnalyticsRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flightdeck_analytics_runs_total",
			Help: "Total background analytics runs",
		},
	)

	AnalyticsFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flightdeck_analytics_failures_total",
			Help: "Background analytics runs that failed",
		},
	)

	AnalyticsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flightdeck_analytics_dropped_total",
			Help: "Analytics jobs dropped because the queue was full",
		},
	)

	// HTTP metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flightdeck_http_requests_total",
			Help: "Total HTTP API requests processed",
		},
		[]string{"path", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flightdeck_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	// Auth metrics
	AuthCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flightdeck_auth_cache_hits_total",
			Help: "API key lookups served from cache",
		},
	)

	AuthCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flightdeck_auth_cache_misses_total",
			Help: "API key lookups that went to the database",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		BatchesIngested,
		SamplesIngested,
		BatchesRejected,
		FlightsStarted,
		FlightsClosed,
		ActiveFlights,
		SegmentationDuration,
		AnalyticsRuns,
		AnalyticsFailures,
		AnalyticsDropped,
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AuthCacheHits,
		AuthCacheMisses,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			// Use systemd socket-activated listener
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			// Create and bind listener ourselves
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
