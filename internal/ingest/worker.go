package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-telemetry/internal/telemetry"
)

const (
	// persistTimeout bounds one message's transaction.
	persistTimeout = 10 * time.Second

	// sinkTimeout bounds each post-commit sink call.
	sinkTimeout = 5 * time.Second

	defaultSubscribeBase = time.Second
	defaultSubscribeMax  = 30 * time.Second
)

// Bus is the subscribe side of the bus client.
type Bus interface {
	Connect(ctx context.Context) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Close() error
}

// Sink receives measurements after they are committed.
type Sink interface {
	Name() string
	Observe(ctx context.Context, m telemetry.Measurement) error
}

// Policy holds the data-quality decisions left open by the wire contract.
type Policy struct {
	// Zone is config.ZonePolicyKeepFirst or config.ZonePolicyReassign.
	Zone string

	// Timestamp is config.TimestampPolicyFallback or config.TimestampPolicyReject.
	Timestamp string
}

// Deps are the worker's collaborators.
type Deps struct {
	Bus    Bus
	Store  telemetry.Store
	Sinks  []Sink
	Logger *logging.Logger

	// Topic is the subscription filter, e.g. "hyatt-place/sensors/#".
	Topic string
	QoS   byte

	Policy Policy

	// SubscribeRetry spaces subscribe attempts after a failure. Attempts is
	// ignored: the subscription is retried until Run's context ends.
	// A zero value means 1s doubling to 30s.
	SubscribeRetry mqtt.ExponentialRetry
}

// Worker is the ingestion worker.
type Worker struct {
	deps   Deps
	logger *logging.Logger
	stats  Stats
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	// ctx is the Run context; Handle checks it at message boundaries.
	ctx context.Context
}

// NewWorker creates a worker. Empty policies default to keep_first and
// fallback_now.
func NewWorker(deps Deps) *Worker {
	if deps.Policy.Zone == "" {
		deps.Policy.Zone = config.ZonePolicyKeepFirst
	}
	if deps.Policy.Timestamp == "" {
		deps.Policy.Timestamp = config.TimestampPolicyFallback
	}
	if deps.SubscribeRetry.Base <= 0 {
		deps.SubscribeRetry.Base = defaultSubscribeBase
	}
	if deps.SubscribeRetry.Max < deps.SubscribeRetry.Base {
		deps.SubscribeRetry.Max = max(defaultSubscribeMax, deps.SubscribeRetry.Base)
	}
	deps.SubscribeRetry.Attempts = 0
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Worker{
		deps:   deps,
		logger: logger,
		now:    time.Now,
		sleep:  sleepContext,
		ctx:    context.Background(),
	}
}

// Stats returns a snapshot of the worker's counters.
func (w *Worker) Stats() Snapshot {
	return w.stats.Snapshot()
}

// Run connects, subscribes, and blocks until ctx is cancelled, then closes
// the bus. It returns nil on cancellation and an error only when the bus
// connection cannot be established for a reason other than cancellation.
// A failed subscribe is retried with backoff and never ends Run.
func (w *Worker) Run(ctx context.Context) error {
	w.ctx = ctx

	if err := w.deps.Bus.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("connecting to bus: %w", err)
	}

	if w.subscribe(ctx) {
		w.logger.Info("ingesting telemetry", "topic", w.deps.Topic)
		<-ctx.Done()
	}

	w.logger.Info("stopping ingestion", "stats", w.stats.Snapshot())
	return w.deps.Bus.Close()
}

// subscribe issues the subscription until it succeeds or ctx ends. It
// reports whether the subscription is in place.
func (w *Worker) subscribe(ctx context.Context) bool {
	for failures := 0; ; {
		err := w.deps.Bus.Subscribe(w.deps.Topic, w.deps.QoS, w.Handle)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		failures++
		delay, _ := w.deps.SubscribeRetry.NextDelay(failures)
		w.logger.Warn("subscribe failed, retrying",
			"topic", w.deps.Topic,
			"attempt", failures,
			"retry_in", delay,
			"error", err,
		)
		if err := w.sleep(ctx, delay); err != nil {
			return false
		}
	}
}

// Handle processes one bus message. The returned error describes why the
// message was dropped.
func (w *Worker) Handle(topic string, payload []byte) error {
	if w.ctx.Err() != nil {
		return ErrStopping
	}
	w.stats.received.Add(1)

	if _, err := telemetry.ParseTopic(topic); err != nil {
		w.stats.decodeFailures.Add(1)
		return err
	}

	r, err := telemetry.DecodePayload(payload, w.now())
	if err != nil {
		w.stats.decodeFailures.Add(1)
		return err
	}

	if r.TimestampFallback {
		if w.deps.Policy.Timestamp == config.TimestampPolicyReject {
			w.stats.decodeFailures.Add(1)
			return fmt.Errorf("%w: device %s", ErrTimestampRejected, r.DeviceID)
		}
		w.stats.timestampFallbacks.Add(1)
		w.logger.Warn("timestamp missing or invalid, using receive time",
			"topic", topic,
			"device_id", r.DeviceID,
		)
	}

	// Persistence is not interrupted mid-flight by shutdown.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(w.ctx), persistTimeout)
	defer cancel()

	_, err = w.Ingest(ctx, r)
	return err
}

// Ingest stores one decoded reading: ensure the device exists, apply the
// zone policy, append the measurement, commit. Sinks are notified after the
// commit.
func (w *Worker) Ingest(ctx context.Context, r telemetry.Reading) (telemetry.Measurement, error) {
	var (
		stored     telemetry.Measurement
		created    bool
		conflict   bool
		reassigned bool
		knownZone  int64
	)

	err := w.deps.Store.InTx(ctx, func(g telemetry.Gateway) error {
		dev, isNew, err := g.EnsureDevice(ctx, r.DeviceID, r.ZoneID, telemetry.DeviceType(r.DeviceID))
		if err != nil {
			return err
		}
		created = isNew

		zone := r.ZoneID
		switch {
		case dev.ZoneID == nil:
			if err := g.ReassignDeviceZone(ctx, dev.ID, r.ZoneID); err != nil {
				return err
			}
		case *dev.ZoneID == r.ZoneID:
		case w.deps.Policy.Zone == config.ZonePolicyReassign:
			if err := g.ReassignDeviceZone(ctx, dev.ID, r.ZoneID); err != nil {
				return err
			}
			reassigned = true
			knownZone = *dev.ZoneID
		default:
			conflict = true
			knownZone = *dev.ZoneID
			zone = *dev.ZoneID
		}

		m := r.Measurement
		m.ZoneID = zone
		stored, err = g.AppendMeasurement(ctx, m)
		return err
	})
	if err != nil {
		w.stats.persistFailures.Add(1)
		return telemetry.Measurement{}, fmt.Errorf("persisting %s: %w", r.DeviceID, err)
	}

	w.stats.stored.Add(1)
	if created {
		w.stats.devicesCreated.Add(1)
		w.logger.Info("device registered",
			"device_id", r.DeviceID,
			"zone_id", r.ZoneID,
			"device_type", telemetry.DeviceType(r.DeviceID),
		)
	}
	switch {
	case conflict:
		w.stats.zoneConflicts.Add(1)
		w.logger.Warn("device reported a different zone, keeping the original",
			"device_id", r.DeviceID,
			"stored_zone", knownZone,
			"message_zone", r.ZoneID,
		)
	case reassigned:
		w.stats.zoneReassignments.Add(1)
		w.logger.Info("device moved to a new zone",
			"device_id", r.DeviceID,
			"from_zone", knownZone,
			"to_zone", r.ZoneID,
		)
	}

	w.notifySinks(stored)
	return stored, nil
}

func (w *Worker) notifySinks(m telemetry.Measurement) {
	for _, s := range w.deps.Sinks {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(w.ctx), sinkTimeout)
		err := s.Observe(ctx, m)
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			w.stats.sinkFailures.Add(1)
			w.logger.Warn("sink failed",
				"sink", s.Name(),
				"device_id", m.DeviceID,
				"error", err,
			)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
