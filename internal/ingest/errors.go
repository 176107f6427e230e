package ingest

import "errors"

var (
	// ErrTimestampRejected is returned when a message lacks a usable timestamp
	// and the timestamp policy is reject.
	ErrTimestampRejected = errors.New("timestamp missing or invalid")

	// ErrStopping is returned for messages that arrive after cancellation.
	ErrStopping = errors.New("worker stopping")
)
