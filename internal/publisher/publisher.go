package publisher

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-telemetry/internal/simulator"
	"github.com/nerrad567/gray-logic-telemetry/internal/telemetry"
)

// DefaultSendDelay spaces sends within a round so the bus is not hit in a burst.
const DefaultSendDelay = 500 * time.Millisecond

// Bus is the publish side of the bus client.
type Bus interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Options configures a Publisher.
type Options struct {
	// Prefix is the topic namespace, e.g. "hyatt-place/sensors".
	Prefix string

	QoS byte

	// SendDelay is the pause between individual sends. Zero disables it.
	SendDelay time.Duration

	Logger *logging.Logger
}

// RoundResult counts the outcome of one round.
type RoundResult struct {
	Sent   int
	Failed int
}

// Publisher owns the device registry and the publish loop.
type Publisher struct {
	bus    Bus
	opts   Options
	logger *logging.Logger
	now    func() time.Time

	mu      sync.RWMutex
	devices []*simulator.Device
}

// New creates a publisher writing to bus.
func New(bus Bus, opts Options) *Publisher {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Publisher{
		bus:    bus,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Register appends a device to the registry. Registration order is the send
// order within a round.
func (p *Publisher) Register(d *simulator.Device) {
	p.mu.Lock()
	p.devices = append(p.devices, d)
	p.mu.Unlock()
}

// Devices returns a snapshot of the registry.
func (p *Publisher) Devices() []*simulator.Device {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*simulator.Device(nil), p.devices...)
}

// PublishRound sends one reading for every registered device. Cancellation
// is honoured between sends.
func (p *Publisher) PublishRound(ctx context.Context) RoundResult {
	var res RoundResult
	for i, d := range p.Devices() {
		if i > 0 && p.opts.SendDelay > 0 {
			select {
			case <-ctx.Done():
				return res
			case <-time.After(p.opts.SendDelay):
			}
		} else if ctx.Err() != nil {
			return res
		}

		if err := p.send(d); err != nil {
			res.Failed++
			p.logger.Warn("publish failed",
				"device_id", d.ID(),
				"error", err,
			)
			continue
		}
		res.Sent++
	}
	return res
}

func (p *Publisher) send(d *simulator.Device) error {
	m := d.Generate(p.now())
	payload, err := telemetry.EncodePayload(m)
	if err != nil {
		return err
	}
	topic := telemetry.MeasurementTopic(p.opts.Prefix, m.ZoneID, m.Field)
	if err := p.bus.Publish(topic, payload, p.opts.QoS, false); err != nil {
		return err
	}
	p.logger.Debug("published reading",
		"topic", topic,
		"device_id", m.DeviceID,
		"value", m.Value,
		"unit", m.Unit,
	)
	return nil
}

// Run publishes a round immediately and then once per interval until ctx is
// cancelled. In-flight sends are not drained. It returns nil on cancellation.
func (p *Publisher) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res := p.PublishRound(ctx)
		p.logger.Info("publish round complete",
			"sent", res.Sent,
			"failed", res.Failed,
		)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
