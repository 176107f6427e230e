package telemetry

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	sensorsSegment  = "sensors"
	zoneSegmentHead = "zone"

	// minTopicSegments is <prefix>/zone<id>/<field>.
	minTopicSegments = 3
)

// PublishPrefix returns the namespace publishers write under: "<base>/sensors".
func PublishPrefix(base string) string {
	return strings.TrimSuffix(base, "/") + "/" + sensorsSegment
}

// SubscriptionTopic returns the wildcard covering every zone and field under
// base: "<base>/sensors/#".
func SubscriptionTopic(base string) string {
	return PublishPrefix(base) + "/#"
}

// MeasurementTopic returns "<prefix>/zone<zoneID>/<field>".
//
// Example: MeasurementTopic("hyatt-place/sensors", 1, "temperature") is
// "hyatt-place/sensors/zone1/temperature".
func MeasurementTopic(prefix string, zoneID int64, field string) string {
	return fmt.Sprintf("%s/%s%d/%s", prefix, zoneSegmentHead, zoneID, field)
}

// Topic is a parsed measurement topic.
type Topic struct {
	Prefix string
	Zone   string
	Field  string
}

// ZoneID returns the numeric zone encoded in a "zone<id>" segment.
func (t Topic) ZoneID() (int64, bool) {
	digits, ok := strings.CutPrefix(t.Zone, zoneSegmentHead)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// ParseTopic splits a measurement topic. Anything with fewer than three
// segments is rejected with ErrInvalidTopic.
func ParseTopic(topic string) (Topic, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicSegments {
		return Topic{}, fmt.Errorf("%w: %q has %d segments, want at least %d",
			ErrInvalidTopic, topic, len(parts), minTopicSegments)
	}
	n := len(parts)
	return Topic{
		Prefix: strings.Join(parts[:n-2], "/"),
		Zone:   parts[n-2],
		Field:  parts[n-1],
	}, nil
}
