package simulator

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/nerrad567/gray-logic-telemetry/internal/telemetry"
)

// ErrInvalidDevice is returned for a device with an empty identifier.
var ErrInvalidDevice = errors.New("invalid simulated device")

// Device is a simulated sensor. It holds no state between readings beyond
// its identity and spec.
type Device struct {
	id     string
	zoneID int64
	spec   Spec
	rng    *rand.Rand
}

// Option configures a Device.
type Option func(*Device)

// WithRand sets the random source. Useful for deterministic tests.
func WithRand(r *rand.Rand) Option {
	return func(d *Device) { d.rng = r }
}

// NewDevice creates a simulated device.
func NewDevice(id string, zoneID int64, spec Spec, opts ...Option) (*Device, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidDevice)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("device %s: %w", id, err)
	}
	d := &Device{id: id, zoneID: zoneID, spec: spec}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// NewSensor creates a device with the conventional "<prefix>-<number>" ID.
func NewSensor(spec Spec, number int, zoneID int64, opts ...Option) (*Device, error) {
	prefix := spec.Prefix
	if prefix == "" {
		prefix = spec.Field
	}
	return NewDevice(fmt.Sprintf("%s-%d", prefix, number), zoneID, spec, opts...)
}

// ID returns the device identifier.
func (d *Device) ID() string { return d.id }

// ZoneID returns the zone the device reports for.
func (d *Device) ZoneID() int64 { return d.zoneID }

// Spec returns the device's measurement spec.
func (d *Device) Spec() Spec { return d.spec }

// Generate returns one reading sampled uniformly from the spec's inclusive
// range, stamped with now.
func (d *Device) Generate(now time.Time) telemetry.Measurement {
	return telemetry.Measurement{
		DeviceID:  d.id,
		ZoneID:    d.zoneID,
		Field:     d.spec.Field,
		Unit:      d.spec.Unit,
		Value:     d.sample(),
		Timestamp: now,
	}
}

func (d *Device) sample() float64 {
	lo, hi := d.spec.Min, d.spec.Max
	if d.spec.Integer {
		lo, hi = math.Ceil(lo), math.Floor(hi)
		return lo + float64(d.intN(int64(hi-lo)+1))
	}
	if lo == hi {
		return lo
	}
	// Float64 is [0,1); scaling by the next float above hi-lo keeps hi reachable
	// while the clamp keeps the result inside the range.
	v := lo + d.unit()*math.Nextafter(hi-lo, math.Inf(1))
	return math.Min(v, hi)
}

func (d *Device) intN(n int64) int64 {
	if d.rng != nil {
		return d.rng.Int64N(n)
	}
	return rand.Int64N(n)
}

func (d *Device) unit() float64 {
	if d.rng != nil {
		return d.rng.Float64()
	}
	return rand.Float64()
}
