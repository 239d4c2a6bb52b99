package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/goodtune/flightdeck/internal/metrics"
	"github.com/goodtune/flightdeck/internal/storage"
)

const (
	// maxBodyBytes caps the ingest request body
	maxBodyBytes = 10 << 20

	defaultListLimit = 50
	maxListLimit     = 200
)

func (s *Server) handleRegisterDrone(w http.ResponseWriter, r *http.Request) {
	var req RegisterDroneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		WriteError(w, http.StatusBadRequest, "name is required")
		return
	}

	apiKey, err := generateAPIKey()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate API key")
		WriteError(w, http.StatusInternalServerError, "failed to register drone")
		return
	}

	drone := &storage.Drone{
		ID:     uuid.New(),
		Name:   req.Name,
		APIKey: apiKey,
	}
	if err := s.store.Drones().Create(r.Context(), drone); err != nil {
		s.logger.Error().Err(err).Str("name", req.Name).Msg("Failed to create drone")
		WriteError(w, http.StatusInternalServerError, "failed to register drone")
		return
	}

	s.logger.Info().Str("drone_id", drone.ID.String()).Str("name", drone.Name).Msg("Drone registered")

	WriteJSON(w, http.StatusCreated, RegisterDroneResponse{
		ID:        drone.ID,
		Name:      drone.Name,
		APIKey:    drone.APIKey,
		CreatedAt: drone.CreatedAt,
	})
}

func (s *Server) handleIngestTelemetry(w http.ResponseWriter, r *http.Request) {
	drone := droneFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var batch []storage.TelemetrySample
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		metrics.BatchesRejected.WithLabelValues("malformed").Inc()
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// An empty batch is an accepted no-op.
	if len(batch) == 0 {
		WriteJSON(w, http.StatusOK, IngestResponse{Ingested: 0})
		return
	}

	if len(batch) > s.config.MaxBatchSize {
		metrics.BatchesRejected.WithLabelValues("too_large").Inc()
		WriteError(w, http.StatusRequestEntityTooLarge, "batch exceeds maximum size")
		return
	}

	for i := range batch {
		if batch[i].Ts.IsZero() {
			metrics.BatchesRejected.WithLabelValues("invalid_sample").Inc()
			WriteError(w, http.StatusBadRequest, "sample is missing a timestamp")
			return
		}
		if batch[i].Throttle < 0 || batch[i].Throttle > 1 {
			metrics.BatchesRejected.WithLabelValues("invalid_sample").Inc()
			WriteError(w, http.StatusBadRequest, "throttle must be between 0 and 1")
			return
		}
		batch[i].ID = 0
		batch[i].DroneID = drone.ID
		batch[i].Ts = batch[i].Ts.UTC()
		batch[i].FlightID = nil
	}

	inserted, err := s.store.Telemetry().InsertBatch(r.Context(), batch)
	if err != nil {
		s.logger.Error().Err(err).Str("drone_id", drone.ID.String()).Msg("Failed to persist batch")
		WriteError(w, http.StatusInternalServerError, "failed to persist telemetry")
		return
	}

	s.cacheLatestSample(r.Context(), drone.ID, batch)

	closed, err := s.segmenter.Process(r.Context(), drone.ID, batch)
	if err != nil {
		// State-store failures abort segmentation for this batch; the
		// samples are stored but the caller must retry the batch.
		s.logger.Error().Err(err).Str("drone_id", drone.ID.String()).Msg("Segmentation failed")
		WriteError(w, http.StatusInternalServerError, "flight segmentation failed")
		return
	}

	if closed != nil {
		s.dispatcher.Submit(drone.ID, *closed)
	}

	metrics.BatchesIngested.WithLabelValues(drone.ID.String()).Inc()
	metrics.SamplesIngested.WithLabelValues(drone.ID.String()).Add(float64(inserted))

	WriteJSON(w, http.StatusCreated, IngestResponse{Ingested: inserted})
}

// cacheLatestSample stores the newest sample of the batch for the live
// telemetry endpoint. Best effort: a cache failure never fails ingestion.
func (s *Server) cacheLatestSample(ctx context.Context, droneID uuid.UUID, batch []storage.TelemetrySample) {
	latest := batch[0]
	for _, sample := range batch[1:] {
		if sample.Ts.After(latest.Ts) {
			latest = sample
		}
	}
	if err := s.state.SetLiveSample(ctx, droneID, latest, s.config.LiveTTL); err != nil {
		s.logger.Warn().Err(err).Str("drone_id", droneID.String()).Msg("Failed to cache live sample")
	}
}

func (s *Server) handleLiveTelemetry(w http.ResponseWriter, r *http.Request) {
	drone := droneFromContext(r.Context())

	sample, err := s.state.GetLiveSample(r.Context(), drone.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "no recent telemetry")
			return
		}
		s.logger.Error().Err(err).Str("drone_id", drone.ID.String()).Msg("Failed to read live sample")
		WriteError(w, http.StatusInternalServerError, "failed to read live telemetry")
		return
	}

	WriteJSON(w, http.StatusOK, sample)
}

func (s *Server) handleListFlights(w http.ResponseWriter, r *http.Request) {
	drone := droneFromContext(r.Context())

	limit := queryInt(r, "limit", defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	flights, err := s.store.Flights().ListByDrone(r.Context(), drone.ID, limit, offset)
	if err != nil {
		s.logger.Error().Err(err).Str("drone_id", drone.ID.String()).Msg("Failed to list flights")
		WriteError(w, http.StatusInternalServerError, "failed to list flights")
		return
	}

	summaries := make([]FlightSummary, 0, len(flights))
	for _, f := range flights {
		summaries = append(summaries, FlightSummary{
			ID:        f.ID,
			StartTs:   f.StartTs,
			EndTs:     f.EndTs,
			DurationS: f.DurationS,
			Metrics:   f.Metrics,
		})
	}

	WriteJSON(w, http.StatusOK, ListFlightsResponse{
		Flights: summaries,
		Limit:   limit,
		Offset:  offset,
	})
}

func (s *Server) handleGetFlight(w http.ResponseWriter, r *http.Request) {
	drone := droneFromContext(r.Context())

	flightID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid flight id")
		return
	}

	f, err := s.store.Flights().Get(r.Context(), flightID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "flight not found")
			return
		}
		s.logger.Error().Err(err).Str("flight_id", flightID.String()).Msg("Failed to load flight")
		WriteError(w, http.StatusInternalServerError, "failed to load flight")
		return
	}

	// A drone can only see its own flights.
	if f.DroneID != drone.ID {
		WriteError(w, http.StatusNotFound, "flight not found")
		return
	}

	WriteJSON(w, http.StatusOK, f)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := s.healther.Ping(ctx); err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Database: "down"})
		return
	}
	WriteJSON(w, http.StatusOK, HealthResponse{Status: "ok", Database: "up"})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
