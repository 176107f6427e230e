package influxdb

import (
	"context"
	"strconv"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-telemetry/internal/telemetry"
)

// MeasurementName is the InfluxDB measurement all telemetry points use.
const MeasurementName = "telemetry"

// Point converts a stored measurement to an InfluxDB point. Identity goes in
// tags; the reading is the single "value" field; the point time is the
// measurement's own timestamp, not the write time.
func Point(m telemetry.Measurement) *write.Point {
	return write.NewPoint(
		MeasurementName,
		map[string]string{
			"device_id": m.DeviceID,
			"zone_id":   strconv.FormatInt(m.ZoneID, 10),
			"field":     m.Field,
			"unit":      m.Unit,
		},
		map[string]interface{}{
			"value": m.Value,
		},
		m.Timestamp,
	)
}

// WriteMeasurement queues one measurement. The write is non-blocking;
// failures surface through SetOnError.
func (c *Client) WriteMeasurement(m telemetry.Measurement) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.writeAPI.WritePoint(Point(m))
	return nil
}

// Name identifies the client when used as an ingest sink.
func (c *Client) Name() string { return "influxdb" }

// Observe mirrors a committed measurement.
func (c *Client) Observe(_ context.Context, m telemetry.Measurement) error {
	return c.WriteMeasurement(m)
}
