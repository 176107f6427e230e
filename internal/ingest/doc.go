// Package ingest consumes telemetry from the bus and persists it.
//
// Worker.Run connects with the bus client's retry policy, subscribes to the
// sensors wildcard, and blocks until cancelled. Messages are handled one at
// a time. Each message is decoded, then the device upsert and measurement
// insert run in a single transaction. Decode and persistence failures are
// counted and returned to the bus layer, which logs them; the message is
// dropped and the worker carries on.
//
// After a commit, optional sinks (time-series mirror, latest-value cache)
// are notified. A sink failure is logged and never affects the stored row.
package ingest
