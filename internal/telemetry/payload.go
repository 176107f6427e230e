package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Payload is the JSON body of a measurement message.
type Payload struct {
	DeviceID  string  `json:"device_id"`
	ZoneID    int64   `json:"zone_id"`
	Reading   float64 `json:"reading"`
	Timestamp string  `json:"timestamp"`
	Field     string  `json:"field"`
	Unit      string  `json:"unit"`
}

// EncodePayload serialises a measurement for the bus. The timestamp is
// written as RFC 3339 in UTC.
func EncodePayload(m Measurement) ([]byte, error) {
	b, err := json.Marshal(Payload{
		DeviceID:  m.DeviceID,
		ZoneID:    m.ZoneID,
		Reading:   m.Value,
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339Nano),
		Field:     m.Field,
		Unit:      m.Unit,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding payload for %s: %w", m.DeviceID, err)
	}
	return b, nil
}

// rawPayload distinguishes absent keys from zero values.
type rawPayload struct {
	DeviceID  *string         `json:"device_id"`
	ZoneID    *int64          `json:"zone_id"`
	Reading   json.RawMessage `json:"reading"`
	Timestamp *string         `json:"timestamp"`
	Field     *string         `json:"field"`
	Unit      *string         `json:"unit"`
}

// DecodePayload parses a measurement message.
//
// Every key except timestamp is required. A missing or unparsable timestamp
// is replaced by now and reported through Reading.TimestampFallback; the
// caller decides whether that is acceptable.
func DecodePayload(payload []byte, now time.Time) (Reading, error) {
	var raw rawPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Reading{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	var missing []string
	if raw.DeviceID == nil || strings.TrimSpace(*raw.DeviceID) == "" {
		missing = append(missing, "device_id")
	}
	if raw.ZoneID == nil {
		missing = append(missing, "zone_id")
	}
	if len(raw.Reading) == 0 || bytes.Equal(raw.Reading, []byte("null")) {
		missing = append(missing, "reading")
	}
	if raw.Field == nil || *raw.Field == "" {
		missing = append(missing, "field")
	}
	if raw.Unit == nil {
		missing = append(missing, "unit")
	}
	if len(missing) > 0 {
		return Reading{}, fmt.Errorf("%w: missing %s", ErrInvalidPayload, strings.Join(missing, ", "))
	}

	value, err := parseReading(raw.Reading)
	if err != nil {
		return Reading{}, err
	}

	r := Reading{
		Measurement: Measurement{
			DeviceID: *raw.DeviceID,
			ZoneID:   *raw.ZoneID,
			Field:    *raw.Field,
			Value:    value,
			Unit:     *raw.Unit,
		},
	}

	ts := ""
	if raw.Timestamp != nil {
		ts = *raw.Timestamp
	}
	if parsed, err := ParseTimestamp(ts); err == nil {
		r.Timestamp = parsed
	} else {
		r.Timestamp = now.UTC()
		r.TimestampFallback = true
	}
	return r, nil
}

// parseReading accepts a JSON number or a string holding one.
func parseReading(raw json.RawMessage) (float64, error) {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: reading %s is not numeric", ErrInvalidPayload, raw)
}
