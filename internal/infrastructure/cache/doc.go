// Package cache keeps the latest reading per device in Redis (or Valkey).
//
// Each committed measurement replaces a hash at telemetry:latest:<device_id>
// whose fields mirror the wire payload, with a TTL so silent devices age out.
// A reading older than the cached one is skipped, so Latest returns the
// newest reading by timestamp rather than the last one received.
// The relational store remains the system of record; this cache serves
// "current value" lookups without touching SQLite.
package cache
