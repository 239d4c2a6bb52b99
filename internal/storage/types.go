package storage

import (
	"time"

	"github.com/google/uuid"
)

// TelemetrySample is one raw reading from a drone. Timestamp and throttle are
// the only required fields; everything else is optional and stays nil when the
// drone did not report it. Immutable once stored, except for FlightID which is
// assigned post-hoc by the segmenter and never reassigned.
type TelemetrySample struct {
	ID        int64          `json:"id,omitempty"`
	DroneID   uuid.UUID      `json:"drone_id"`
	Ts        time.Time      `json:"ts"`
	Throttle  float64        `json:"throttle"`
	Voltage   *float64       `json:"voltage,omitempty"`
	Current   *float64       `json:"current,omitempty"`
	MAhDrawn  *int64         `json:"mah_drawn,omitempty"`
	Latitude  *float64       `json:"latitude,omitempty"`
	Longitude *float64       `json:"longitude,omitempty"`
	Altitude  *float64       `json:"altitude,omitempty"`
	VX        *float64       `json:"vx,omitempty"`
	VY        *float64       `json:"vy,omitempty"`
	VZ        *float64       `json:"vz,omitempty"`
	Roll      *float64       `json:"roll,omitempty"`
	Pitch     *float64       `json:"pitch,omitempty"`
	Yaw       *float64       `json:"yaw,omitempty"`
	RSSI      *int64         `json:"rssi,omitempty"`
	FlightID  *uuid.UUID     `json:"flight_id,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// FlightState is the segmenter's per-drone detection state. Zero value means
// no active flight.
type FlightState struct {
	ActiveFlightID     *uuid.UUID `json:"active_flight_id,omitempty"`
	LastHighThrottleTs *time.Time `json:"last_high_throttle_ts,omitempty"`
}

// Flight is a detected usage window. EndTs is nil while the flight is open;
// Metrics stays empty until analytics run after closure.
type Flight struct {
	ID        uuid.UUID     `json:"id"`
	DroneID   uuid.UUID     `json:"drone_id"`
	StartTs   time.Time     `json:"start_ts"`
	EndTs     *time.Time    `json:"end_ts,omitempty"`
	DurationS *int64        `json:"duration_s,omitempty"`
	Metrics   FlightMetrics `json:"metrics"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// FlightMetrics holds every derived statistic computed when a flight closes.
// Each field is nil when its inputs were entirely absent from the flight's
// samples; nil is never conflated with zero.
type FlightMetrics struct {
	FlightDurationS         *int64   `json:"flight_duration_s,omitempty"`
	PeakPowerW              *float64 `json:"peak_power_w,omitempty"`
	AveragePowerW           *float64 `json:"average_power_w,omitempty"`
	TotalWh                 *float64 `json:"total_wh,omitempty"`
	TotalMAhFromPower       *float64 `json:"total_mah_from_power,omitempty"`
	TotalMAh                *int64   `json:"total_mah,omitempty"`
	MinVoltage              *float64 `json:"min_voltage,omitempty"`
	RollStdDev              *float64 `json:"roll_std_dev,omitempty"`
	RollMaxRate             *float64 `json:"roll_max_rate,omitempty"`
	PitchStdDev             *float64 `json:"pitch_std_dev,omitempty"`
	PitchMaxRate            *float64 `json:"pitch_max_rate,omitempty"`
	YawStdDev               *float64 `json:"yaw_std_dev,omitempty"`
	YawMaxRate              *float64 `json:"yaw_max_rate,omitempty"`
	ThrottleJerkScore       *float64 `json:"throttle_jerk_score,omitempty"`
	AverageThrottle         *float64 `json:"average_throttle,omitempty"`
	Throttle90thPercentile  *float64 `json:"throttle_90th_percentile,omitempty"`
	PercentTimeFullThrottle *float64 `json:"percent_time_full_throttle,omitempty"`
	TotalDistanceKm         *float64 `json:"total_distance_km,omitempty"`
	WhPerKm                 *float64 `json:"wh_per_km,omitempty"`
	FreestyleScore          *float64 `json:"freestyle_score,omitempty"`
}

// IsEmpty reports whether no metric has been computed.
func (m FlightMetrics) IsEmpty() bool {
	return m == FlightMetrics{}
}

// Drone is a registered telemetry source. The API key authenticates every
// request the drone makes.
type Drone struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	APIKey    string    `json:"api_key"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
