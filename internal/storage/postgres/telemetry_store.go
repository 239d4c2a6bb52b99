package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goodtune/flightdeck/internal/storage"
	"github.com/google/uuid"
)

const telemetryColumns = `drone_id, ts, throttle, voltage, current, mah_drawn,
	latitude, longitude, altitude, vx, vy, vz, roll, pitch, yaw, rssi, extra`

type telemetryStore struct {
	db *sql.DB
}

// InsertBatch appends a batch of samples in a single multi-row statement.
func (s *telemetryStore) InsertBatch(ctx context.Context, samples []storage.TelemetrySample) (int64, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO telemetry_raw (")
	b.WriteString(telemetryColumns)
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(samples)*17)
	for i, sample := range samples {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("(")
		for j := 0; j < 17; j++ {
			if j > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, "$%d", len(args)+j+1)
		}
		b.WriteString(")")

		extra, err := marshalExtra(sample.Extra)
		if err != nil {
			return 0, err
		}

		args = append(args,
			sample.DroneID,
			sample.Ts.UTC(),
			sample.Throttle,
			nullFloat(sample.Voltage),
			nullFloat(sample.Current),
			nullInt(sample.MAhDrawn),
			nullFloat(sample.Latitude),
			nullFloat(sample.Longitude),
			nullFloat(sample.Altitude),
			nullFloat(sample.VX),
			nullFloat(sample.VY),
			nullFloat(sample.VZ),
			nullFloat(sample.Roll),
			nullFloat(sample.Pitch),
			nullFloat(sample.Yaw),
			nullInt(sample.RSSI),
			extra,
		)
	}

	result, err := s.db.ExecContext(ctx, b.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("insert telemetry batch: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return int64(len(samples)), nil
	}
	return inserted, nil
}

// AssignFlight tags the samples at the given timestamps with a flight id.
// Already-tagged samples keep their original flight: a sample's flight id is
// never reassigned.
func (s *telemetryStore) AssignFlight(ctx context.Context, droneID uuid.UUID, timestamps []time.Time, flightID uuid.UUID) error {
	if len(timestamps) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("UPDATE telemetry_raw SET flight_id = $1 WHERE drone_id = $2 AND flight_id IS NULL AND ts IN (")

	args := make([]any, 0, len(timestamps)+2)
	args = append(args, flightID, droneID)
	for i, ts := range timestamps {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "$%d", len(args)+1)
		args = append(args, ts.UTC())
	}
	b.WriteString(")")

	if _, err := s.db.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("assign flight: %w", err)
	}
	return nil
}

// QueryByFlight returns every sample of one flight ordered by timestamp.
func (s *telemetryStore) QueryByFlight(ctx context.Context, droneID, flightID uuid.UUID) ([]storage.TelemetrySample, error) {
	query := `SELECT id, ` + telemetryColumns + `, flight_id
		FROM telemetry_raw
		WHERE drone_id = $1 AND flight_id = $2
		ORDER BY ts`

	rows, err := s.db.QueryContext(ctx, query, droneID, flightID)
	if err != nil {
		return nil, fmt.Errorf("query telemetry: %w", err)
	}
	defer rows.Close()

	var samples []storage.TelemetrySample
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, *sample)
	}
	return samples, rows.Err()
}

func scanSample(rows *sql.Rows) (*storage.TelemetrySample, error) {
	var (
		sample                                          storage.TelemetrySample
		throttle                                        sql.NullFloat64
		voltage, current, latitude, longitude, altitude sql.NullFloat64
		vx, vy, vz, roll, pitch, yaw                    sql.NullFloat64
		mahDrawn, rssi                                  sql.NullInt64
		extra                                           []byte
		flightID                                        uuid.NullUUID
	)

	if err := rows.Scan(
		&sample.ID, &sample.DroneID, &sample.Ts, &throttle,
		&voltage, &current, &mahDrawn,
		&latitude, &longitude, &altitude,
		&vx, &vy, &vz, &roll, &pitch, &yaw,
		&rssi, &extra, &flightID,
	); err != nil {
		return nil, fmt.Errorf("scan telemetry sample: %w", err)
	}

	sample.Ts = sample.Ts.UTC()
	if throttle.Valid {
		sample.Throttle = throttle.Float64
	}
	sample.Voltage = floatPtr(voltage)
	sample.Current = floatPtr(current)
	sample.MAhDrawn = intPtr(mahDrawn)
	sample.Latitude = floatPtr(latitude)
	sample.Longitude = floatPtr(longitude)
	sample.Altitude = floatPtr(altitude)
	sample.VX = floatPtr(vx)
	sample.VY = floatPtr(vy)
	sample.VZ = floatPtr(vz)
	sample.Roll = floatPtr(roll)
	sample.Pitch = floatPtr(pitch)
	sample.Yaw = floatPtr(yaw)
	sample.RSSI = intPtr(rssi)
	if flightID.Valid {
		id := flightID.UUID
		sample.FlightID = &id
	}
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &sample.Extra); err != nil {
			return nil, fmt.Errorf("unmarshal extra: %w", err)
		}
	}

	return &sample, nil
}

func marshalExtra(extra map[string]any) (any, error) {
	if len(extra) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("marshal extra: %w", err)
	}
	return data, nil
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}
