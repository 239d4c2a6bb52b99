package flight

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/goodtune/flightdeck/internal/metrics"
)

// DefaultWorkers is the number of analytics workers when none is configured
const DefaultWorkers = 4

// DefaultQueueSize is the analytics queue depth when none is configured
const DefaultQueueSize = 256

type job struct {
	droneID  uuid.UUID
	flightID uuid.UUID
}

// Dispatcher runs flight analytics in the background. Ingestion submits a
// job after a flight closes and returns immediately; delivery is best
// effort. A failed or dropped job is logged and counted, never re-raised
// to the caller that triggered it.
type Dispatcher struct {
	analyzer *Analyzer
	jobs     chan job
	logger   zerolog.Logger
	wg       sync.WaitGroup

	stopOnce sync.Once
}

// NewDispatcher creates a dispatcher and starts its worker pool.
func NewDispatcher(analyzer *Analyzer, workers, queueSize int, logger zerolog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	d := &Dispatcher{
		analyzer: analyzer,
		jobs:     make(chan job, queueSize),
		logger:   logger.With().Str("component", "analytics-dispatcher").Logger(),
	}

	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}

	return d
}

// Submit enqueues analytics for a closed flight. It never blocks: when the
// queue is full the job is dropped and counted.
func (d *Dispatcher) Submit(droneID, flightID uuid.UUID) bool {
	select {
	case d.jobs <- job{droneID: droneID, flightID: flightID}:
		return true
	default:
		metrics.AnalyticsDropped.Inc()
		d.logger.Warn().
			Str("drone_id", droneID.String()).
			Str("flight_id", flightID.String()).
			Msg("Analytics queue full, dropping job")
		return false
	}
}

// Stop closes the queue and waits for in-flight jobs to drain.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.jobs)
	})
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for j := range d.jobs {
		metrics.AnalyticsRuns.Inc()
		if err := d.analyzer.Finalize(context.Background(), j.droneID, j.flightID); err != nil {
			metrics.AnalyticsFailures.Inc()
			d.logger.Error().Err(err).
				Str("drone_id", j.droneID.String()).
				Str("flight_id", j.flightID.String()).
				Msg("Flight analytics failed")
		}
	}
}
