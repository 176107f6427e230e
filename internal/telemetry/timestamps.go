package telemetry

import (
	"fmt"
	"strings"
	"time"
)

// storedLayout is fixed width so that string comparison in SQL orders
// timestamps chronologically.
const storedLayout = "2006-01-02T15:04:05.000000000Z"

// acceptedLayouts are tried in order. Layouts without a zone are read as UTC.
var acceptedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	time.DateOnly,
}

// ParseTimestamp parses an ISO-8601 timestamp with or without a zone offset
// and fractional seconds. The result is in UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidTimestamp)
	}
	for _, layout := range acceptedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
}

func formatStored(t time.Time) string {
	return t.UTC().Format(storedLayout)
}

func parseStored(s string) (time.Time, error) {
	t, err := time.Parse(storedLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored timestamp %q: %w", s, err)
	}
	return t, nil
}
