package telemetry

import (
	"errors"
	"testing"
)

func TestMeasurementTopic(t *testing.T) {
	tests := []struct {
		prefix string
		zone   int64
		field  string
		want   string
	}{
		{"hyatt-place/sensors", 1, FieldTemperature, "hyatt-place/sensors/zone1/temperature"},
		{"hyatt-place/sensors", 2, FieldCO2, "hyatt-place/sensors/zone2/co2"},
		{"b", 42, "pressure", "b/zone42/pressure"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := MeasurementTopic(tt.prefix, tt.zone, tt.field); got != tt.want {
				t.Errorf("MeasurementTopic() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPublishAndSubscriptionTopicsAgree(t *testing.T) {
	if got := PublishPrefix("hyatt-place"); got != "hyatt-place/sensors" {
		t.Errorf("PublishPrefix() = %q", got)
	}
	if got := SubscriptionTopic("hyatt-place/"); got != "hyatt-place/sensors/#" {
		t.Errorf("SubscriptionTopic() = %q", got)
	}

	// Every published topic must fall under the subscription wildcard.
	topic := MeasurementTopic(PublishPrefix("hyatt-place"), 3, FieldHumidity)
	parsed, err := ParseTopic(topic)
	if err != nil {
		t.Fatalf("ParseTopic(%q) error = %v", topic, err)
	}
	if parsed.Prefix != "hyatt-place/sensors" || parsed.Field != FieldHumidity {
		t.Errorf("ParseTopic() = %+v", parsed)
	}
	if zone, ok := parsed.ZoneID(); !ok || zone != 3 {
		t.Errorf("ZoneID() = %d, %v; want 3, true", zone, ok)
	}
}

func TestParseTopic(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		want    Topic
		wantErr bool
	}{
		{"standard", "hyatt-place/sensors/zone1/temperature", Topic{"hyatt-place/sensors", "zone1", "temperature"}, false},
		{"minimal", "p/zone1/co2", Topic{"p", "zone1", "co2"}, false},
		{"two segments", "zone1/co2", Topic{}, true},
		{"one segment", "co2", Topic{}, true},
		{"empty", "", Topic{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTopic(tt.topic)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTopic) {
					t.Errorf("ParseTopic() error = %v, want ErrInvalidTopic", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTopic() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseTopic() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestTopic_ZoneIDMalformed(t *testing.T) {
	for _, zone := range []string{"lobby", "zone", "zoneX"} {
		if _, ok := (Topic{Zone: zone}).ZoneID(); ok {
			t.Errorf("ZoneID() on %q reported ok", zone)
		}
	}
}

func TestDeviceType(t *testing.T) {
	tests := map[string]string{
		"temp-1":     "temp",
		"co2-3":      "co2",
		"hum-12-b":   "hum",
		"standalone": "standalone",
		"":           "",
	}
	for id, want := range tests {
		if got := DeviceType(id); got != want {
			t.Errorf("DeviceType(%q) = %q, want %q", id, got, want)
		}
	}
}
