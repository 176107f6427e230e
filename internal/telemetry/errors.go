package telemetry

import "errors"

var (
	// ErrInvalidTopic is returned when a topic has fewer segments than
	// <prefix>/zone<id>/<field> requires.
	ErrInvalidTopic = errors.New("invalid telemetry topic")

	// ErrInvalidPayload is returned when a payload is not a JSON object or a
	// required key is missing or empty.
	ErrInvalidPayload = errors.New("invalid telemetry payload")

	// ErrInvalidTimestamp is returned when a timestamp string matches none of
	// the accepted ISO-8601 layouts.
	ErrInvalidTimestamp = errors.New("invalid timestamp")

	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device not found")
)
