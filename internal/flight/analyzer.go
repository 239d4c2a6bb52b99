package flight

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/goodtune/flightdeck/internal/storage"
)

const (
	// earthRadiusM is the mean Earth radius used for haversine distances
	earthRadiusM = 6371000.0

	// fullThrottleLevel is the throttle fraction counted as full throttle
	fullThrottleLevel = 0.8

	// acroAngleDeg is the roll/pitch angle beyond which a sample counts
	// toward the freestyle score
	acroAngleDeg = 45.0
)

// Analyzer computes derived statistics for closed flights. It runs outside
// the ingestion path: a failure leaves the flight's metrics empty and is
// never surfaced to the drone that triggered the closure.
type Analyzer struct {
	telemetry storage.TelemetryStore
	flights   storage.FlightStore
	logger    zerolog.Logger
}

// NewAnalyzer creates a new flight analyzer
func NewAnalyzer(store storage.Store, logger zerolog.Logger) *Analyzer {
	return &Analyzer{
		telemetry: store.Telemetry(),
		flights:   store.Flights(),
		logger:    logger.With().Str("component", "analyzer").Logger(),
	}
}

// Finalize loads every sample of a closed flight, computes its metrics and
// persists them on the flight record.
func (a *Analyzer) Finalize(ctx context.Context, droneID, flightID uuid.UUID) error {
	samples, err := a.telemetry.QueryByFlight(ctx, droneID, flightID)
	if err != nil {
		return fmt.Errorf("failed to load flight samples: %w", err)
	}

	m := ComputeMetrics(samples)

	if err := a.flights.UpdateMetrics(ctx, flightID, m); err != nil {
		return fmt.Errorf("failed to store flight metrics: %w", err)
	}

	a.logger.Info().
		Str("drone_id", droneID.String()).
		Str("flight_id", flightID.String()).
		Int("samples", len(samples)).
		Msg("Flight metrics computed")

	return nil
}

// ComputeMetrics derives the full statistics set from a closed flight's
// samples. It is a pure function: the same input always yields the same
// output. Each metric is set only when its inputs are present; missing
// inputs leave the field nil rather than zero. An empty input yields the
// zero-value metrics set.
func ComputeMetrics(samples []storage.TelemetrySample) storage.FlightMetrics {
	var m storage.FlightMetrics
	if len(samples) == 0 {
		return m
	}

	sorted := make([]storage.TelemetrySample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Ts.Before(sorted[j].Ts) })

	duration := int64(sorted[len(sorted)-1].Ts.UTC().Sub(sorted[0].Ts.UTC()).Seconds())
	m.FlightDurationS = &duration

	computePower(sorted, &m)
	computeVoltage(sorted, &m)
	computeCharge(sorted, &m)
	computeAttitude(sorted, &m)
	computeThrottle(sorted, &m)
	computeDistance(sorted, &m)
	computeFreestyle(sorted, &m)

	return m
}

// computePower fills the power and energy metrics. A sample contributes
// power only when it reports both voltage and current; energy integrates
// each interval's duration against the power of the later sample.
func computePower(samples []storage.TelemetrySample, m *storage.FlightMetrics) {
	var (
		peak, sum float64
		count     int
		totalWh   float64
	)

	for i, s := range samples {
		if s.Voltage == nil || s.Current == nil {
			continue
		}
		p := *s.Voltage * *s.Current
		if count == 0 || p > peak {
			peak = p
		}
		sum += p
		count++

		if i > 0 {
			dt := samples[i].Ts.UTC().Sub(samples[i-1].Ts.UTC()).Seconds()
			totalWh += p * dt / 3600.0
		}
	}

	if count == 0 {
		return
	}

	avg := sum / float64(count)
	m.PeakPowerW = &peak
	m.AveragePowerW = &avg
	m.TotalWh = &totalWh

	if meanV, ok := meanVoltage(samples); ok && meanV > 0 {
		mah := totalWh * 1000.0 / meanV
		m.TotalMAhFromPower = &mah
	}
}

// computeVoltage fills min_voltage. It needs voltage readings only, so it
// runs even when no sample reports current.
func computeVoltage(samples []storage.TelemetrySample, m *storage.FlightMetrics) {
	if minV, ok := minVoltage(samples); ok {
		m.MinVoltage = &minV
	}
}

func computeCharge(samples []storage.TelemetrySample, m *storage.FlightMetrics) {
	var (
		minC, maxC int64
		seen       bool
	)
	for _, s := range samples {
		if s.MAhDrawn == nil {
			continue
		}
		if !seen {
			minC, maxC = *s.MAhDrawn, *s.MAhDrawn
			seen = true
			continue
		}
		if *s.MAhDrawn < minC {
			minC = *s.MAhDrawn
		}
		if *s.MAhDrawn > maxC {
			maxC = *s.MAhDrawn
		}
	}
	if seen {
		total := maxC - minC
		m.TotalMAh = &total
	}
}

// computeAttitude fills per-axis standard deviation and max absolute angle.
func computeAttitude(samples []storage.TelemetrySample, m *storage.FlightMetrics) {
	roll := collect(samples, func(s storage.TelemetrySample) *float64 { return s.Roll })
	pitch := collect(samples, func(s storage.TelemetrySample) *float64 { return s.Pitch })
	yaw := collect(samples, func(s storage.TelemetrySample) *float64 { return s.Yaw })

	m.RollStdDev, m.RollMaxRate = axisStats(roll)
	m.PitchStdDev, m.PitchMaxRate = axisStats(pitch)
	m.YawStdDev, m.YawMaxRate = axisStats(yaw)
}

func computeThrottle(samples []storage.TelemetrySample, m *storage.FlightMetrics) {
	throttle := make([]float64, len(samples))
	full := 0
	for i, s := range samples {
		throttle[i] = s.Throttle
		if s.Throttle > fullThrottleLevel {
			full++
		}
	}

	avg := mean(throttle)
	m.AverageThrottle = &avg

	p90 := percentile(throttle, 0.9)
	m.Throttle90thPercentile = &p90

	pct := 100.0 * float64(full) / float64(len(samples))
	m.PercentTimeFullThrottle = &pct

	if len(throttle) >= 2 {
		var jerk float64
		for i := 1; i < len(throttle); i++ {
			jerk += math.Abs(throttle[i] - throttle[i-1])
		}
		jerk /= float64(len(throttle) - 1)
		m.ThrottleJerkScore = &jerk
	}
}

// computeDistance sums the great-circle distance between consecutive
// GPS-bearing samples. Samples without coordinates are skipped, so the
// path connects the positions that were actually reported.
func computeDistance(samples []storage.TelemetrySample, m *storage.FlightMetrics) {
	type point struct{ lat, lon float64 }
	var points []point
	for _, s := range samples {
		if s.Latitude == nil || s.Longitude == nil {
			continue
		}
		points = append(points, point{*s.Latitude, *s.Longitude})
	}
	if len(points) < 2 {
		return
	}

	var meters float64
	for i := 1; i < len(points); i++ {
		meters += haversine(points[i-1].lat, points[i-1].lon, points[i].lat, points[i].lon)
	}

	km := round3(meters / 1000.0)
	m.TotalDistanceKm = &km

	if m.TotalWh != nil && km > 0.01 {
		whPerKm := round3(*m.TotalWh / km)
		m.WhPerKm = &whPerKm
	}
}

func computeFreestyle(samples []storage.TelemetrySample, m *storage.FlightMetrics) {
	acro := 0
	for _, s := range samples {
		if (s.Roll != nil && math.Abs(*s.Roll) > acroAngleDeg) ||
			(s.Pitch != nil && math.Abs(*s.Pitch) > acroAngleDeg) {
			acro++
		}
	}
	score := round1(100.0 * float64(acro) / float64(len(samples)))
	m.FreestyleScore = &score
}

// haversine returns the great-circle distance in meters between two
// latitude/longitude points.
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180.0
	phi2 := lat2 * math.Pi / 180.0
	dPhi := (lat2 - lat1) * math.Pi / 180.0
	dLambda := (lon2 - lon1) * math.Pi / 180.0

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadiusM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// axisStats returns the sample standard deviation and the max absolute
// value of an angle series. Standard deviation needs at least two values.
func axisStats(values []float64) (*float64, *float64) {
	if len(values) == 0 {
		return nil, nil
	}

	maxAbs := math.Abs(values[0])
	for _, v := range values[1:] {
		if a := math.Abs(v); a > maxAbs {
			maxAbs = a
		}
	}

	var stdPtr *float64
	if len(values) >= 2 {
		std := sampleStdDev(values)
		stdPtr = &std
	}
	return stdPtr, &maxAbs
}

func collect(samples []storage.TelemetrySample, field func(storage.TelemetrySample) *float64) []float64 {
	var out []float64
	for _, s := range samples {
		if v := field(s); v != nil {
			out = append(out, *v)
		}
	}
	return out
}

func meanVoltage(samples []storage.TelemetrySample) (float64, bool) {
	v := collect(samples, func(s storage.TelemetrySample) *float64 { return s.Voltage })
	if len(v) == 0 {
		return 0, false
	}
	return mean(v), true
}

func minVoltage(samples []storage.TelemetrySample) (float64, bool) {
	v := collect(samples, func(s storage.TelemetrySample) *float64 { return s.Voltage })
	if len(v) == 0 {
		return 0, false
	}
	minV := v[0]
	for _, x := range v[1:] {
		if x < minV {
			minV = x
		}
	}
	return minV, true
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStdDev computes the standard deviation with Bessel's correction.
// Callers guarantee len(values) >= 2.
func sampleStdDev(values []float64) float64 {
	mu := mean(values)
	var ss float64
	for _, v := range values {
		d := v - mu
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)-1))
}

// percentile computes the q-th quantile with linear interpolation between
// the two nearest ranks.
func percentile(values []float64, q float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := float64(len(sorted)-1) * q
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
