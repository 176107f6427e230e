package simulator

import (
	"fmt"

	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/config"
)

// DefaultFleet is the standard building layout: three zones, eight sensors.
var DefaultFleet = []config.DeviceConfig{
	{Type: "temperature", Number: 1, Zone: 1},
	{Type: "humidity", Number: 2, Zone: 1},
	{Type: "co2", Number: 3, Zone: 1},
	{Type: "temperature", Number: 4, Zone: 2},
	{Type: "humidity", Number: 5, Zone: 2},
	{Type: "co2", Number: 6, Zone: 2},
	{Type: "temperature", Number: 7, Zone: 3},
	{Type: "humidity", Number: 8, Zone: 3},
}

// Fleet builds devices from config entries, in order. An empty list yields
// DefaultFleet.
func Fleet(entries []config.DeviceConfig, opts ...Option) ([]*Device, error) {
	if len(entries) == 0 {
		entries = DefaultFleet
	}

	devices := make([]*Device, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		spec, err := specFor(e)
		if err != nil {
			return nil, fmt.Errorf("device %d: %w", i, err)
		}
		d, err := NewSensor(spec, e.Number, e.Zone, opts...)
		if err != nil {
			return nil, fmt.Errorf("device %d: %w", i, err)
		}
		if seen[d.ID()] {
			return nil, fmt.Errorf("device %d: duplicate id %s", i, d.ID())
		}
		seen[d.ID()] = true
		devices = append(devices, d)
	}
	return devices, nil
}

func specFor(e config.DeviceConfig) (Spec, error) {
	if e.Spec != nil {
		return Spec{
			Field:   e.Spec.Field,
			Unit:    e.Spec.Unit,
			Prefix:  e.Spec.Prefix,
			Min:     e.Spec.Min,
			Max:     e.Spec.Max,
			Integer: e.Spec.Integer,
		}, nil
	}
	return LookupSpec(e.Type)
}
