package telemetry

import (
	"strings"
	"time"
)

// Well-known measurement fields. Any non-empty field name is legal.
const (
	FieldTemperature = "temperature"
	FieldHumidity    = "humidity"
	FieldCO2         = "co2"
)

// Zone is a named area of the building that groups devices.
type Zone struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	SquareFootage int    `json:"square_footage"`
}

// Device is a sensor instance. ZoneID is nil until known.
type Device struct {
	ID     string `json:"id"`
	ZoneID *int64 `json:"zone_id,omitempty"`
	Type   string `json:"device_type"`
}

// Measurement is one immutable reading. ID is zero until stored.
type Measurement struct {
	ID        int64     `json:"id,omitempty"`
	DeviceID  string    `json:"device_id"`
	ZoneID    int64     `json:"zone_id"`
	Field     string    `json:"field"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	Timestamp time.Time `json:"timestamp"`
}

// Reading is a decoded bus message: the candidate measurement plus how its
// timestamp was obtained.
type Reading struct {
	Measurement

	// TimestampFallback is true when the payload's timestamp was missing or
	// unparsable and the decode wall-clock time was used instead.
	TimestampFallback bool
}

// Point is one sample of a device time series.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// DeviceType derives a device's type from its identifier: the text before
// the first "-" ("temp-1" is "temp"). An identifier without a separator is
// its own type.
func DeviceType(deviceID string) string {
	prefix, _, _ := strings.Cut(deviceID, "-")
	return prefix
}
