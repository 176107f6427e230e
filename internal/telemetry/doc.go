// Package telemetry defines the building telemetry model and its storage.
//
// A building is divided into Zones (seeded at startup, never created by
// ingestion). Devices belong to a zone and are created lazily the first
// time a measurement names them. Measurements are immutable, append-only
// facts: one reading of one field from one device at one instant.
//
// The package also owns the bus wire contract shared by the publisher and
// the ingestor: topic naming (<prefix>/zone<id>/<field>) and the JSON
// payload codec.
//
// # Storage
//
// Repository is a SQLite implementation. Writes go through InTx, which hands
// the caller a Gateway bound to a single transaction so that the device
// upsert and the measurement insert commit or roll back together.
// Timestamps are stored as fixed-width UTC text so that lexical order is
// chronological order.
//
// # Thread Safety
//
// Repository is safe for concurrent use. A Gateway is only valid inside the
// InTx callback that produced it.
package telemetry
