package flight

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/goodtune/flightdeck/internal/storage"
)

func fptr(v float64) *float64 { return &v }
func iptr(v int64) *int64     { return &v }

func seriesAt(t0 time.Time, throttles []float64) []storage.TelemetrySample {
	out := make([]storage.TelemetrySample, len(throttles))
	for i, th := range throttles {
		out[i] = storage.TelemetrySample{Ts: t0.Add(time.Duration(i) * time.Second), Throttle: th}
	}
	return out
}

func TestComputeMetricsEmptyInput(t *testing.T) {
	m := ComputeMetrics(nil)
	if !m.IsEmpty() {
		t.Errorf("empty input must yield empty metrics, got %+v", m)
	}
}

func TestComputeMetricsDeterministic(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	samples := seriesAt(t0, []float64{0.2, 0.9, 0.5, 0.7})
	for i := range samples {
		samples[i].Voltage = fptr(16.0 - float64(i)*0.1)
		samples[i].Current = fptr(10.0 + float64(i))
		samples[i].Roll = fptr(float64(i) * 20)
		samples[i].Latitude = fptr(51.0 + float64(i)*0.001)
		samples[i].Longitude = fptr(4.0)
	}

	a := ComputeMetrics(samples)
	b := ComputeMetrics(samples)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("ComputeMetrics is not deterministic:\n%+v\n%+v", a, b)
	}
}

func TestComputeMetricsDuration(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := ComputeMetrics(seriesAt(t0, []float64{0.5, 0.5, 0.5}))
	if m.FlightDurationS == nil || *m.FlightDurationS != 2 {
		t.Errorf("flight_duration_s = %v, want 2", m.FlightDurationS)
	}
}

func TestComputeMetricsPowerAndEnergy(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	samples := seriesAt(t0, []float64{0.5, 0.5, 0.5})
	for i := range samples {
		samples[i].Voltage = fptr(10.0)
		samples[i].Current = fptr(3.6)
	}

	m := ComputeMetrics(samples)

	// 36 W constant over two 1 s intervals: 36*2/3600 = 0.02 Wh.
	if m.PeakPowerW == nil || *m.PeakPowerW != 36.0 {
		t.Errorf("peak_power_w = %v, want 36", m.PeakPowerW)
	}
	if m.AveragePowerW == nil || *m.AveragePowerW != 36.0 {
		t.Errorf("average_power_w = %v, want 36", m.AveragePowerW)
	}
	if m.TotalWh == nil || math.Abs(*m.TotalWh-0.02) > 1e-12 {
		t.Errorf("total_wh = %v, want 0.02", m.TotalWh)
	}
	// 0.02 Wh at a mean 10 V is 2 mAh.
	if m.TotalMAhFromPower == nil || math.Abs(*m.TotalMAhFromPower-2.0) > 1e-9 {
		t.Errorf("total_mah_from_power = %v, want 2", m.TotalMAhFromPower)
	}
	if m.MinVoltage == nil || *m.MinVoltage != 10.0 {
		t.Errorf("min_voltage = %v, want 10", m.MinVoltage)
	}
}

func TestComputeMetricsPowerOmittedWithoutInputs(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	samples := seriesAt(t0, []float64{0.5, 0.5})
	samples[0].Voltage = fptr(16.0) // voltage without current

	m := ComputeMetrics(samples)
	if m.PeakPowerW != nil || m.AveragePowerW != nil || m.TotalWh != nil || m.TotalMAhFromPower != nil {
		t.Errorf("power metrics must be omitted without paired voltage+current, got %+v", m)
	}
	// min_voltage only needs voltage.
	if m.MinVoltage == nil || *m.MinVoltage != 16.0 {
		t.Errorf("min_voltage = %v, want 16", m.MinVoltage)
	}
}

func TestComputeMetricsTotalMAh(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	samples := seriesAt(t0, []float64{0.5, 0.5, 0.5, 0.5})
	charges := []int64{120, 180, 340, 450}
	for i := range samples {
		samples[i].MAhDrawn = iptr(charges[i])
	}

	m := ComputeMetrics(samples)
	if m.TotalMAh == nil || *m.TotalMAh != 330 {
		t.Errorf("total_mah = %v, want 330", m.TotalMAh)
	}

	// Without any charge counter the field stays nil, never zero.
	m = ComputeMetrics(seriesAt(t0, []float64{0.5, 0.5}))
	if m.TotalMAh != nil {
		t.Errorf("total_mah = %v, want nil", m.TotalMAh)
	}
}

func TestComputeMetricsAttitude(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	samples := seriesAt(t0, []float64{0.5, 0.5})
	samples[0].Roll = fptr(-10.0)
	samples[1].Roll = fptr(10.0)
	samples[0].Pitch = fptr(-80.0)

	m := ComputeMetrics(samples)

	// Sample standard deviation of {-10, 10} is sqrt(200).
	if m.RollStdDev == nil || math.Abs(*m.RollStdDev-math.Sqrt(200)) > 1e-9 {
		t.Errorf("roll_std_dev = %v, want %v", m.RollStdDev, math.Sqrt(200))
	}
	if m.RollMaxRate == nil || *m.RollMaxRate != 10.0 {
		t.Errorf("roll max = %v, want 10", m.RollMaxRate)
	}
	// One pitch value: max is set, std dev needs at least two.
	if m.PitchStdDev != nil {
		t.Errorf("pitch_std_dev = %v, want nil for a single value", m.PitchStdDev)
	}
	if m.PitchMaxRate == nil || *m.PitchMaxRate != 80.0 {
		t.Errorf("pitch max = %v, want 80", m.PitchMaxRate)
	}
	if m.YawStdDev != nil || m.YawMaxRate != nil {
		t.Error("yaw metrics must be omitted when no yaw was reported")
	}
}

func TestComputeMetricsThrottle(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	throttles := []float64{0.0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9}
	m := ComputeMetrics(seriesAt(t0, throttles))

	if m.AverageThrottle == nil || math.Abs(*m.AverageThrottle-0.45) > 1e-12 {
		t.Errorf("average_throttle = %v, want 0.45", m.AverageThrottle)
	}
	// Linear-interpolated 90th percentile of 10 evenly spaced values.
	if m.Throttle90thPercentile == nil || math.Abs(*m.Throttle90thPercentile-0.81) > 1e-12 {
		t.Errorf("throttle_90th_percentile = %v, want 0.81", m.Throttle90thPercentile)
	}
	// Only 0.9 exceeds 0.8.
	if m.PercentTimeFullThrottle == nil || *m.PercentTimeFullThrottle != 10.0 {
		t.Errorf("percent_time_full_throttle = %v, want 10", m.PercentTimeFullThrottle)
	}
	// Constant 0.1 step between consecutive samples.
	if m.ThrottleJerkScore == nil || math.Abs(*m.ThrottleJerkScore-0.1) > 1e-12 {
		t.Errorf("throttle_jerk_score = %v, want 0.1", m.ThrottleJerkScore)
	}
}

func TestComputeMetricsDistance(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	samples := seriesAt(t0, []float64{0.5, 0.5, 0.5})
	// One degree of latitude along a meridian.
	samples[0].Latitude, samples[0].Longitude = fptr(0.0), fptr(0.0)
	samples[2].Latitude, samples[2].Longitude = fptr(1.0), fptr(0.0)
	for i := range samples {
		samples[i].Voltage = fptr(10.0)
		samples[i].Current = fptr(36.0)
	}

	m := ComputeMetrics(samples)

	// 6371000 * pi/180 / 1000 km, rounded to three decimals.
	want := math.Round(earthRadiusM*math.Pi/180.0) / 1000.0
	if m.TotalDistanceKm == nil || math.Abs(*m.TotalDistanceKm-want) > 0.001 {
		t.Errorf("total_distance_km = %v, want %v", m.TotalDistanceKm, want)
	}
	if m.WhPerKm == nil {
		t.Fatal("wh_per_km must be set when energy and distance are available")
	}
	if *m.WhPerKm != math.Round(*m.TotalWh / *m.TotalDistanceKm*1000) / 1000 {
		t.Errorf("wh_per_km = %v not consistent with total_wh/total_distance_km", *m.WhPerKm)
	}
}

func TestComputeMetricsDistanceOmitted(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	samples := seriesAt(t0, []float64{0.5, 0.5})
	samples[0].Latitude, samples[0].Longitude = fptr(51.0), fptr(4.0)

	m := ComputeMetrics(samples)
	if m.TotalDistanceKm != nil {
		t.Errorf("total_distance_km = %v, want nil with a single fix", m.TotalDistanceKm)
	}
	if m.WhPerKm != nil {
		t.Errorf("wh_per_km = %v, want nil", m.WhPerKm)
	}
}

func TestComputeMetricsFreestyle(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	samples := seriesAt(t0, []float64{0.5, 0.5, 0.5, 0.5})
	samples[0].Roll = fptr(90.0)
	samples[1].Pitch = fptr(-60.0)
	samples[2].Roll = fptr(10.0)
	// samples[3] has no attitude at all and counts as level.

	m := ComputeMetrics(samples)
	if m.FreestyleScore == nil || *m.FreestyleScore != 50.0 {
		t.Errorf("freestyle_score = %v, want 50", m.FreestyleScore)
	}
	if *m.FreestyleScore < 0 || *m.FreestyleScore > 100 {
		t.Errorf("freestyle_score out of [0, 100]: %v", *m.FreestyleScore)
	}
}

func TestHaversine(t *testing.T) {
	// Identical points.
	if d := haversine(51.5, -0.12, 51.5, -0.12); d != 0 {
		t.Errorf("distance between identical points = %v, want 0", d)
	}
	// Quarter of the equator.
	want := earthRadiusM * math.Pi / 2
	if d := haversine(0, 0, 0, 90); math.Abs(d-want) > 1 {
		t.Errorf("quarter equator = %v, want %v", d, want)
	}
	if d := haversine(48.85, 2.35, 52.52, 13.40); d < 0 {
		t.Errorf("distance must be non-negative, got %v", d)
	}
}

func TestPercentileInterpolation(t *testing.T) {
	cases := []struct {
		values []float64
		q      float64
		want   float64
	}{
		{[]float64{1}, 0.9, 1},
		{[]float64{1, 2}, 0.5, 1.5},
		{[]float64{3, 1, 2}, 0.9, 2.8},
		{[]float64{1, 2, 3, 4, 5}, 1.0, 5},
	}
	for _, tc := range cases {
		if got := percentile(tc.values, tc.q); math.Abs(got-tc.want) > 1e-12 {
			t.Errorf("percentile(%v, %v) = %v, want %v", tc.values, tc.q, got, tc.want)
		}
	}
}

func TestAnalyzerFinalize(t *testing.T) {
	store := newFakeStore()
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	droneID, flightID := uuid.New(), uuid.New()

	store.telemetry.flights[flightID] = seriesAt(t0, []float64{0.5, 0.9, 0.3})

	a := NewAnalyzer(store, zerolog.Nop())
	if err := a.Finalize(context.Background(), droneID, flightID); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	m, ok := store.flights.metrics[flightID]
	if !ok {
		t.Fatal("metrics were not persisted")
	}
	if m.FlightDurationS == nil || *m.FlightDurationS != 2 {
		t.Errorf("flight_duration_s = %v, want 2", m.FlightDurationS)
	}
}

func TestAnalyzerFinalizeSurfacesStoreErrors(t *testing.T) {
	store := newFakeStore()
	store.flights.updateErr = errors.New("pq: connection reset")
	flightID := uuid.New()
	store.telemetry.flights[flightID] = seriesAt(time.Now().UTC(), []float64{0.5})

	a := NewAnalyzer(store, zerolog.Nop())
	if err := a.Finalize(context.Background(), uuid.New(), flightID); err == nil {
		t.Fatal("expected error when metrics persistence fails")
	}
}
