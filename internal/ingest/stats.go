package ingest

import "sync/atomic"

// Stats counts ingest outcomes. Safe for concurrent use.
type Stats struct {
	received           atomic.Int64
	stored             atomic.Int64
	decodeFailures     atomic.Int64
	timestampFallbacks atomic.Int64
	persistFailures    atomic.Int64
	devicesCreated     atomic.Int64
	zoneConflicts      atomic.Int64
	zoneReassignments  atomic.Int64
	sinkFailures       atomic.Int64
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	Received           int64 `json:"received"`
	Stored             int64 `json:"stored"`
	DecodeFailures     int64 `json:"decode_failures"`
	TimestampFallbacks int64 `json:"timestamp_fallbacks"`
	PersistFailures    int64 `json:"persist_failures"`
	DevicesCreated     int64 `json:"devices_created"`
	ZoneConflicts      int64 `json:"zone_conflicts"`
	ZoneReassignments  int64 `json:"zone_reassignments"`
	SinkFailures       int64 `json:"sink_failures"`
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Received:           s.received.Load(),
		Stored:             s.stored.Load(),
		DecodeFailures:     s.decodeFailures.Load(),
		TimestampFallbacks: s.timestampFallbacks.Load(),
		PersistFailures:    s.persistFailures.Load(),
		DevicesCreated:     s.devicesCreated.Load(),
		ZoneConflicts:      s.zoneConflicts.Load(),
		ZoneReassignments:  s.zoneReassignments.Load(),
		SinkFailures:       s.sinkFailures.Load(),
	}
}
