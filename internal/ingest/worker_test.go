package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-telemetry/internal/telemetry"
	_ "github.com/nerrad567/gray-logic-telemetry/migrations"
)

const testTopic = "hyatt-place/sensors/#"

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeBus captures the subscription so tests can deliver messages.
type fakeBus struct {
	mu         sync.Mutex
	connectErr error
	topic      string
	handler    mqtt.MessageHandler
	subscribed chan struct{}
	closed     int
}

func newFakeBus() *fakeBus {
	return &fakeBus{subscribed: make(chan struct{})}
}

func (b *fakeBus) Connect(ctx context.Context) error {
	if b.connectErr != nil {
		return b.connectErr
	}
	return ctx.Err()
}

func (b *fakeBus) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	b.topic = topic
	b.handler = handler
	b.mu.Unlock()
	close(b.subscribed)
	return nil
}

func (b *fakeBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed++
	return nil
}

type recordingSink struct {
	mu   sync.Mutex
	seen []telemetry.Measurement
	err  error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Observe(_ context.Context, m telemetry.Measurement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, m)
	return s.err
}

func setupRepo(t *testing.T) *telemetry.Repository {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "ingest.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	repo := telemetry.NewRepository(db)
	if _, err := repo.SeedZones(ctx, []telemetry.Zone{
		{ID: 1, Name: "Office Area"},
		{ID: 2, Name: "Conference Rooms"},
		{ID: 3, Name: "Common Areas"},
	}); err != nil {
		t.Fatalf("failed to seed zones: %v", err)
	}
	return repo
}

func newTestWorker(t *testing.T, policy Policy, sinks ...Sink) (*Worker, *telemetry.Repository) {
	t.Helper()
	repo := setupRepo(t)
	w := NewWorker(Deps{
		Bus:    newFakeBus(),
		Store:  repo,
		Sinks:  sinks,
		Topic:  testTopic,
		QoS:    1,
		Policy: policy,
	})
	w.now = func() time.Time { return fixedNow }
	return w, repo
}

func recent(t *testing.T, repo *telemetry.Repository, zone int64) []telemetry.Measurement {
	t.Helper()
	ms, err := repo.RecentMeasurements(context.Background(), zone, 100)
	if err != nil {
		t.Fatalf("RecentMeasurements() error = %v", err)
	}
	return ms
}

func TestHandle_StoresMeasurement(t *testing.T) {
	sink := &recordingSink{}
	w, repo := newTestWorker(t, Policy{}, sink)

	err := w.Handle("hyatt-place/sensors/zone1/temperature",
		[]byte(`{"device_id":"temp-1","zone_id":1,"reading":72,"timestamp":"2024-01-01T00:00:00","field":"temperature","unit":"F"}`))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	ms := recent(t, repo, 1)
	if len(ms) != 1 {
		t.Fatalf("len(measurements) = %d, want 1", len(ms))
	}
	m := ms[0]
	if m.DeviceID != "temp-1" || m.Value != 72.0 || m.Unit != "F" || m.Field != "temperature" {
		t.Errorf("measurement = %+v", m)
	}
	if want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC); !m.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", m.Timestamp, want)
	}

	dev, err := repo.GetDevice(context.Background(), "temp-1")
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if dev.Type != "temp" || dev.ZoneID == nil || *dev.ZoneID != 1 {
		t.Errorf("device = %+v, want type temp in zone 1", dev)
	}

	if len(sink.seen) != 1 || sink.seen[0].ID == 0 {
		t.Errorf("sink saw %+v, want one stored measurement", sink.seen)
	}

	s := w.Stats()
	if s.Received != 1 || s.Stored != 1 || s.DevicesCreated != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestHandle_MissingTimestampFallsBack(t *testing.T) {
	w, repo := newTestWorker(t, Policy{})

	err := w.Handle("hyatt-place/sensors/zone2/humidity",
		[]byte(`{"device_id":"hum-5","zone_id":2,"reading":45,"field":"humidity","unit":"%"}`))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	ms := recent(t, repo, 2)
	if len(ms) != 1 {
		t.Fatalf("len(measurements) = %d, want 1", len(ms))
	}
	if !ms[0].Timestamp.Equal(fixedNow) {
		t.Errorf("Timestamp = %v, want receive time %v", ms[0].Timestamp, fixedNow)
	}
	if got := w.Stats().TimestampFallbacks; got != 1 {
		t.Errorf("TimestampFallbacks = %d, want 1", got)
	}
}

func TestHandle_TimestampRejectPolicy(t *testing.T) {
	w, repo := newTestWorker(t, Policy{Timestamp: config.TimestampPolicyReject})

	err := w.Handle("hyatt-place/sensors/zone2/humidity",
		[]byte(`{"device_id":"hum-5","zone_id":2,"reading":45,"timestamp":"yesterday","field":"humidity","unit":"%"}`))
	if !errors.Is(err, ErrTimestampRejected) {
		t.Fatalf("Handle() error = %v, want ErrTimestampRejected", err)
	}
	if ms := recent(t, repo, 2); len(ms) != 0 {
		t.Errorf("len(measurements) = %d, want 0", len(ms))
	}
	if got := w.Stats().DecodeFailures; got != 1 {
		t.Errorf("DecodeFailures = %d, want 1", got)
	}
}

func TestHandle_DecodeFailures(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
		wantErr error
	}{
		{
			name:    "short topic",
			topic:   "sensors/zone1",
			payload: `{"device_id":"temp-1","zone_id":1,"reading":72,"field":"temperature","unit":"F"}`,
			wantErr: telemetry.ErrInvalidTopic,
		},
		{
			name:    "malformed json",
			topic:   "hyatt-place/sensors/zone1/temperature",
			payload: `{"device_id":`,
			wantErr: telemetry.ErrInvalidPayload,
		},
		{
			name:    "missing device id",
			topic:   "hyatt-place/sensors/zone1/temperature",
			payload: `{"zone_id":1,"reading":72,"field":"temperature","unit":"F"}`,
			wantErr: telemetry.ErrInvalidPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, repo := newTestWorker(t, Policy{})

			err := w.Handle(tt.topic, []byte(tt.payload))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Handle() error = %v, want %v", err, tt.wantErr)
			}
			if ms := recent(t, repo, 1); len(ms) != 0 {
				t.Errorf("len(measurements) = %d, want 0", len(ms))
			}
			s := w.Stats()
			if s.DecodeFailures != 1 || s.Stored != 0 {
				t.Errorf("stats = %+v, want one decode failure", s)
			}
		})
	}
}

func TestHandle_DeviceCreatedOnce(t *testing.T) {
	w, repo := newTestWorker(t, Policy{})
	payload := []byte(`{"device_id":"co2-3","zone_id":1,"reading":800,"timestamp":"2024-01-01T00:00:00Z","field":"co2","unit":"ppm"}`)

	for range 2 {
		if err := w.Handle("hyatt-place/sensors/zone1/co2", payload); err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
	}

	if ms := recent(t, repo, 1); len(ms) != 2 {
		t.Errorf("len(measurements) = %d, want 2", len(ms))
	}
	s := w.Stats()
	if s.DevicesCreated != 1 || s.Stored != 2 {
		t.Errorf("stats = %+v, want 1 device and 2 stored", s)
	}
}

func TestHandle_ZonePolicies(t *testing.T) {
	first := []byte(`{"device_id":"temp-1","zone_id":1,"reading":70,"timestamp":"2024-01-01T00:00:00Z","field":"temperature","unit":"F"}`)
	moved := []byte(`{"device_id":"temp-1","zone_id":2,"reading":71,"timestamp":"2024-01-01T00:01:00Z","field":"temperature","unit":"F"}`)

	t.Run("keep first", func(t *testing.T) {
		w, repo := newTestWorker(t, Policy{Zone: config.ZonePolicyKeepFirst})
		for _, p := range [][]byte{first, moved} {
			if err := w.Handle("hyatt-place/sensors/zone1/temperature", p); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
		}

		dev, err := repo.GetDevice(context.Background(), "temp-1")
		if err != nil {
			t.Fatal(err)
		}
		if *dev.ZoneID != 1 {
			t.Errorf("device zone = %d, want 1", *dev.ZoneID)
		}
		if ms := recent(t, repo, 1); len(ms) != 2 {
			t.Errorf("zone 1 measurements = %d, want 2", len(ms))
		}
		if got := w.Stats().ZoneConflicts; got != 1 {
			t.Errorf("ZoneConflicts = %d, want 1", got)
		}
	})

	t.Run("reassign", func(t *testing.T) {
		w, repo := newTestWorker(t, Policy{Zone: config.ZonePolicyReassign})
		for _, p := range [][]byte{first, moved} {
			if err := w.Handle("hyatt-place/sensors/zone1/temperature", p); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
		}

		dev, err := repo.GetDevice(context.Background(), "temp-1")
		if err != nil {
			t.Fatal(err)
		}
		if *dev.ZoneID != 2 {
			t.Errorf("device zone = %d, want 2", *dev.ZoneID)
		}
		s := w.Stats()
		if s.ZoneReassignments != 1 || s.ZoneConflicts != 0 {
			t.Errorf("stats = %+v, want one reassignment", s)
		}
	})
}

func TestHandle_UnknownZoneIsPersistFailure(t *testing.T) {
	sink := &recordingSink{}
	w, repo := newTestWorker(t, Policy{}, sink)

	err := w.Handle("hyatt-place/sensors/zone9/temperature",
		[]byte(`{"device_id":"temp-9","zone_id":9,"reading":70,"field":"temperature","unit":"F"}`))
	if err == nil {
		t.Fatal("Handle() error = nil, want foreign key failure")
	}
	if _, err := repo.GetDevice(context.Background(), "temp-9"); !errors.Is(err, telemetry.ErrDeviceNotFound) {
		t.Errorf("GetDevice() error = %v, want ErrDeviceNotFound after rollback", err)
	}
	if len(sink.seen) != 0 {
		t.Errorf("sink saw %d measurements, want 0", len(sink.seen))
	}
	if got := w.Stats().PersistFailures; got != 1 {
		t.Errorf("PersistFailures = %d, want 1", got)
	}
}

func TestHandle_SinkFailureKeepsRow(t *testing.T) {
	sink := &recordingSink{err: errors.New("influx down")}
	w, repo := newTestWorker(t, Policy{}, sink)

	err := w.Handle("hyatt-place/sensors/zone3/humidity",
		[]byte(`{"device_id":"hum-8","zone_id":3,"reading":50,"field":"humidity","unit":"%"}`))
	if err != nil {
		t.Fatalf("Handle() error = %v, want nil despite sink failure", err)
	}
	if ms := recent(t, repo, 3); len(ms) != 1 {
		t.Errorf("len(measurements) = %d, want 1", len(ms))
	}
	s := w.Stats()
	if s.SinkFailures != 1 || s.Stored != 1 {
		t.Errorf("stats = %+v, want stored row and one sink failure", s)
	}
}

func TestRun_SubscribesAndClosesOnCancel(t *testing.T) {
	repo := setupRepo(t)
	bus := newFakeBus()
	w := NewWorker(Deps{Bus: bus, Store: repo, Topic: testTopic})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case <-bus.subscribed:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not subscribe")
	}
	if bus.topic != testTopic {
		t.Errorf("subscribed to %q, want %q", bus.topic, testTopic)
	}

	if err := bus.handler("hyatt-place/sensors/zone1/co2",
		[]byte(`{"device_id":"co2-3","zone_id":1,"reading":"650","field":"co2","unit":"ppm"}`)); err != nil {
		t.Fatalf("handler error = %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	if bus.closed != 1 {
		t.Errorf("Close calls = %d, want 1", bus.closed)
	}
	if ms := recent(t, repo, 1); len(ms) != 1 || ms[0].Value != 650 {
		t.Errorf("measurements = %+v, want one co2 reading of 650", ms)
	}
	if err := w.Handle("hyatt-place/sensors/zone1/co2", nil); !errors.Is(err, ErrStopping) {
		t.Errorf("Handle() after stop error = %v, want ErrStopping", err)
	}
}

func TestRun_ConnectFailure(t *testing.T) {
	bus := newFakeBus()
	bus.connectErr = mqtt.ErrRetriesExhausted
	w := NewWorker(Deps{Bus: bus, Store: setupRepo(t), Topic: testTopic})

	err := w.Run(context.Background())
	if !errors.Is(err, mqtt.ErrRetriesExhausted) {
		t.Errorf("Run() error = %v, want ErrRetriesExhausted", err)
	}
}

// flakySubBus rejects the first failN subscribes.
type flakySubBus struct {
	*fakeBus
	failN int
	calls int
}

func (b *flakySubBus) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	b.calls++
	fail := b.calls <= b.failN
	b.mu.Unlock()
	if fail {
		return fmt.Errorf("%w: %w after 5s", mqtt.ErrSubscribeFailed, mqtt.ErrTimeout)
	}
	return b.fakeBus.Subscribe(topic, qos, handler)
}

func TestRun_RetriesSubscribe(t *testing.T) {
	bus := &flakySubBus{fakeBus: newFakeBus(), failN: 3}
	w := NewWorker(Deps{Bus: bus, Store: setupRepo(t), Topic: testTopic})

	var mu sync.Mutex
	var delays []time.Duration
	w.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return ctx.Err()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case <-bus.subscribed:
	case err := <-done:
		t.Fatalf("Run() returned %v before subscribing", err)
	case <-ctx.Done():
		t.Fatal("worker did not subscribe")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v, want nil", err)
	}

	if bus.calls != 4 {
		t.Errorf("Subscribe calls = %d, want 4", bus.calls)
	}
	mu.Lock()
	defer mu.Unlock()
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("backoff delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestRun_SubscribeFailingUntilCancel(t *testing.T) {
	bus := &flakySubBus{fakeBus: newFakeBus(), failN: math.MaxInt}
	w := NewWorker(Deps{Bus: bus, Store: setupRepo(t), Topic: testTopic})
	w.sleep = func(ctx context.Context, _ time.Duration) error {
		time.Sleep(time.Millisecond)
		return ctx.Err()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := w.Run(ctx); err != nil {
		t.Errorf("Run() error = %v, want nil", err)
	}
	if bus.calls < 2 {
		t.Errorf("Subscribe calls = %d, want repeated attempts", bus.calls)
	}
	if bus.closed != 1 {
		t.Errorf("Close calls = %d, want 1", bus.closed)
	}
}
