package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/goodtune/flightdeck/internal/storage"
)

func setupMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return NewWithDB(db), mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestInsertBatch(t *testing.T) {
	store, mock := setupMockStore(t)
	droneID := uuid.New()
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	voltage := 15.8
	samples := []storage.TelemetrySample{
		{DroneID: droneID, Ts: t0, Throttle: 0.4, Voltage: &voltage},
		{DroneID: droneID, Ts: t0.Add(time.Second), Throttle: 0.6},
	}

	mock.ExpectExec("INSERT INTO telemetry_raw").
		WillReturnResult(sqlmock.NewResult(0, 2))

	inserted, err := store.Telemetry().InsertBatch(context.Background(), samples)
	if err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	if inserted != 2 {
		t.Errorf("inserted = %d, want 2", inserted)
	}
	expectationsMet(t, mock)
}

func TestInsertBatchEmpty(t *testing.T) {
	store, mock := setupMockStore(t)

	inserted, err := store.Telemetry().InsertBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("InsertBatch: %v", err)
	}
	if inserted != 0 {
		t.Errorf("inserted = %d, want 0", inserted)
	}
	expectationsMet(t, mock)
}

func TestAssignFlightNeverReassigns(t *testing.T) {
	store, mock := setupMockStore(t)
	droneID, flightID := uuid.New(), uuid.New()
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// The update must carry the IS NULL guard: a sample's flight id is
	// assigned at most once.
	mock.ExpectExec(`UPDATE telemetry_raw SET flight_id = \$1 WHERE drone_id = \$2 AND flight_id IS NULL AND ts IN`).
		WithArgs(flightID, droneID, t0, t0.Add(time.Second)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := store.Telemetry().AssignFlight(context.Background(), droneID, []time.Time{t0, t0.Add(time.Second)}, flightID)
	if err != nil {
		t.Fatalf("AssignFlight: %v", err)
	}
	expectationsMet(t, mock)
}

func TestQueryByFlight(t *testing.T) {
	store, mock := setupMockStore(t)
	droneID, flightID := uuid.New(), uuid.New()
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	columns := []string{
		"id", "drone_id", "ts", "throttle",
		"voltage", "current", "mah_drawn",
		"latitude", "longitude", "altitude",
		"vx", "vy", "vz", "roll", "pitch", "yaw",
		"rssi", "extra", "flight_id",
	}
	rows := sqlmock.NewRows(columns).
		AddRow(int64(1), droneID, t0, 0.5,
			16.2, nil, int64(120),
			nil, nil, nil,
			nil, nil, nil, nil, nil, nil,
			nil, []byte(`{"mode":"acro"}`), flightID).
		AddRow(int64(2), droneID, t0.Add(time.Second), 0.7,
			nil, nil, nil,
			nil, nil, nil,
			nil, nil, nil, nil, nil, nil,
			nil, nil, flightID)

	mock.ExpectQuery("FROM telemetry_raw").
		WithArgs(droneID, flightID).
		WillReturnRows(rows)

	samples, err := store.Telemetry().QueryByFlight(context.Background(), droneID, flightID)
	if err != nil {
		t.Fatalf("QueryByFlight: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("samples = %d, want 2", len(samples))
	}

	first := samples[0]
	if first.Voltage == nil || *first.Voltage != 16.2 {
		t.Errorf("voltage = %v, want 16.2", first.Voltage)
	}
	if first.Current != nil {
		t.Errorf("current = %v, want nil", first.Current)
	}
	if first.MAhDrawn == nil || *first.MAhDrawn != 120 {
		t.Errorf("mah_drawn = %v, want 120", first.MAhDrawn)
	}
	if first.Extra["mode"] != "acro" {
		t.Errorf("extra = %v, want mode=acro", first.Extra)
	}
	if samples[1].Voltage != nil {
		t.Errorf("second voltage = %v, want nil", samples[1].Voltage)
	}
	expectationsMet(t, mock)
}

func TestFlightCreate(t *testing.T) {
	store, mock := setupMockStore(t)
	droneID := uuid.New()
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO flights").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(t0, t0))

	flight := &storage.Flight{DroneID: droneID, StartTs: t0}
	if err := store.Flights().Create(context.Background(), flight); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if flight.ID == uuid.Nil {
		t.Error("Create must assign an id")
	}
	if !flight.CreatedAt.Equal(t0) {
		t.Errorf("created_at = %v, want %v", flight.CreatedAt, t0)
	}
	expectationsMet(t, mock)
}

func TestFlightSetEndNotFound(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectExec("UPDATE flights SET end_ts").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Flights().SetEnd(context.Background(), uuid.New(), time.Now().UTC())
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want storage.ErrNotFound", err)
	}
	expectationsMet(t, mock)
}

func TestFlightUpdateMetrics(t *testing.T) {
	store, mock := setupMockStore(t)
	flightID := uuid.New()

	duration := int64(95)
	totalMAh := int64(830)
	minVoltage := 14.1
	metrics := storage.FlightMetrics{
		FlightDurationS: &duration,
		TotalMAh:        &totalMAh,
		MinVoltage:      &minVoltage,
	}

	mock.ExpectExec("UPDATE flights").
		WithArgs(flightID, sqlmock.AnyArg(), duration, totalMAh, minVoltage).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Flights().UpdateMetrics(context.Background(), flightID, metrics); err != nil {
		t.Fatalf("UpdateMetrics: %v", err)
	}
	expectationsMet(t, mock)
}

func TestFlightListByDrone(t *testing.T) {
	store, mock := setupMockStore(t)
	droneID := uuid.New()
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	end := t0.Add(90 * time.Second)

	columns := []string{"id", "drone_id", "start_ts", "end_ts", "duration_s", "metrics", "created_at", "updated_at"}
	rows := sqlmock.NewRows(columns).
		AddRow(uuid.New(), droneID, t0, end, int64(90), []byte(`{"total_mah":830}`), t0, end).
		AddRow(uuid.New(), droneID, t0.Add(-time.Hour), nil, nil, []byte(`{}`), t0, t0)

	mock.ExpectQuery("ORDER BY start_ts DESC").
		WithArgs(droneID, 50, 0).
		WillReturnRows(rows)

	flights, err := store.Flights().ListByDrone(context.Background(), droneID, 50, 0)
	if err != nil {
		t.Fatalf("ListByDrone: %v", err)
	}
	if len(flights) != 2 {
		t.Fatalf("flights = %d, want 2", len(flights))
	}
	if flights[0].Metrics.TotalMAh == nil || *flights[0].Metrics.TotalMAh != 830 {
		t.Errorf("total_mah = %v, want 830", flights[0].Metrics.TotalMAh)
	}
	if flights[1].EndTs != nil {
		t.Errorf("open flight end_ts = %v, want nil", flights[1].EndTs)
	}
	if !flights[1].Metrics.IsEmpty() {
		t.Errorf("open flight metrics = %+v, want empty", flights[1].Metrics)
	}
	expectationsMet(t, mock)
}

func TestFlightGetNotFound(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectQuery("FROM flights").
		WillReturnRows(sqlmock.NewRows([]string{"id", "drone_id", "start_ts", "end_ts", "duration_s", "metrics", "created_at", "updated_at"}))

	_, err := store.Flights().Get(context.Background(), uuid.New())
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want storage.ErrNotFound", err)
	}
	expectationsMet(t, mock)
}

func TestDroneCreate(t *testing.T) {
	store, mock := setupMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("INSERT INTO drones").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	drone := &storage.Drone{Name: "quad-1", APIKey: "key-1"}
	if err := store.Drones().Create(context.Background(), drone); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if drone.ID == uuid.Nil {
		t.Error("Create must assign an id")
	}
	expectationsMet(t, mock)
}

func TestDroneGetByAPIKey(t *testing.T) {
	store, mock := setupMockStore(t)
	droneID := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery("WHERE api_key").
		WithArgs("key-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "api_key", "created_at", "updated_at"}).
			AddRow(droneID, "quad-1", "key-1", now, now))

	drone, err := store.Drones().GetByAPIKey(context.Background(), "key-1")
	if err != nil {
		t.Fatalf("GetByAPIKey: %v", err)
	}
	if drone.ID != droneID {
		t.Errorf("id = %v, want %v", drone.ID, droneID)
	}

	mock.ExpectQuery("WHERE api_key").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "api_key", "created_at", "updated_at"}))

	if _, err := store.Drones().GetByAPIKey(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want storage.ErrNotFound", err)
	}
	expectationsMet(t, mock)
}
