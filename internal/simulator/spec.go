package simulator

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/nerrad567/gray-logic-telemetry/internal/telemetry"
)

// ErrInvalidSpec is returned for a spec with an empty field or min > max.
var ErrInvalidSpec = errors.New("invalid measurement spec")

// ErrUnknownSpec is returned by LookupSpec for a name not in the catalog.
var ErrUnknownSpec = errors.New("unknown measurement spec")

// Spec describes what a simulated sensor measures.
type Spec struct {
	Field  string
	Unit   string
	Prefix string
	Min    float64
	Max    float64

	// Integer restricts samples to whole numbers in [Min, Max].
	Integer bool
}

// Built-in specs.
var (
	Temperature = Spec{Field: telemetry.FieldTemperature, Unit: "F", Prefix: "temp", Min: 65, Max: 85, Integer: true}
	Humidity    = Spec{Field: telemetry.FieldHumidity, Unit: "%", Prefix: "hum", Min: 30, Max: 70, Integer: true}
	CO2         = Spec{Field: telemetry.FieldCO2, Unit: "ppm", Prefix: "co2", Min: 350, Max: 1500, Integer: true}
)

var catalog = map[string]Spec{
	telemetry.FieldTemperature: Temperature,
	"temp":                     Temperature,
	telemetry.FieldHumidity:    Humidity,
	"hum":                      Humidity,
	telemetry.FieldCO2:         CO2,
}

// LookupSpec resolves a catalog spec by field name or device prefix.
func LookupSpec(name string) (Spec, error) {
	s, ok := catalog[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q", ErrUnknownSpec, name)
	}
	return s, nil
}

// maxIntegerSpan is 2^63; integer ranges must span less.
const maxIntegerSpan = 1 << 63

func isFinite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// Validate checks the spec can produce readings.
func (s Spec) Validate() error {
	if s.Field == "" {
		return fmt.Errorf("%w: field is required", ErrInvalidSpec)
	}
	if !isFinite(s.Min) || !isFinite(s.Max) {
		return fmt.Errorf("%w: bounds must be finite", ErrInvalidSpec)
	}
	if s.Min > s.Max {
		return fmt.Errorf("%w: min %v exceeds max %v", ErrInvalidSpec, s.Min, s.Max)
	}
	if !isFinite(s.Max - s.Min) {
		return fmt.Errorf("%w: range [%v, %v] is too wide", ErrInvalidSpec, s.Min, s.Max)
	}
	if s.Integer {
		lo, hi := math.Ceil(s.Min), math.Floor(s.Max)
		if lo > hi {
			return fmt.Errorf("%w: no integer in [%v, %v]", ErrInvalidSpec, s.Min, s.Max)
		}
		// The sampler draws from [0, hi-lo] as an int64.
		if hi-lo >= maxIntegerSpan {
			return fmt.Errorf("%w: integer range [%v, %v] is too wide", ErrInvalidSpec, s.Min, s.Max)
		}
	}
	return nil
}
