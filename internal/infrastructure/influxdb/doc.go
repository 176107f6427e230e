// Package influxdb mirrors stored measurements into InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. The relational store
// stays the system of record; this mirror exists for time-range dashboards
// and downsampling. Each committed measurement becomes one point:
//
//	telemetry,device_id=temp-1,field=temperature,unit=F,zone_id=1 value=72 <ts>
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.SetOnError(func(err error) { log.Warn("influx write failed", "error", err) })
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Write failures are reported asynchronously via the
// SetOnError callback; connection and health errors are returned directly.
package influxdb
