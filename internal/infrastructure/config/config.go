package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Retry backoff strategies for ConnectPolicyConfig.Backoff.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// Device zone policies for IngestConfig.ZonePolicy.
const (
	// ZonePolicyKeepFirst leaves a device in the zone it was first seen in.
	ZonePolicyKeepFirst = "keep_first"

	// ZonePolicyReassign moves a device to the zone named by the latest message.
	ZonePolicyReassign = "reassign"
)

// Timestamp policies for IngestConfig.TimestampPolicy.
const (
	// TimestampPolicyFallback substitutes wall-clock time for a missing or
	// unparsable timestamp.
	TimestampPolicyFallback = "fallback_now"

	// TimestampPolicyReject treats a missing or unparsable timestamp as a
	// decode failure.
	TimestampPolicyReject = "reject"
)

// Config is the root configuration structure for the telemetry pipeline.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Publisher PublisherConfig `yaml:"publisher"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Zones     []ZoneConfig    `yaml:"zones"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Cache     CacheConfig     `yaml:"cache"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`
	Auth   MQTTAuthConfig   `yaml:"auth"`
	QoS    int              `yaml:"qos"`

	// ConnectTimeout bounds a single connection attempt (seconds).
	ConnectTimeout int `yaml:"connect_timeout"`

	// KeepAlive is the MQTT keepalive interval (seconds).
	KeepAlive int `yaml:"keep_alive"`

	// MaxReconnectDelay caps paho's own reconnect backoff after a
	// connection that was once up is lost (seconds).
	MaxReconnectDelay int `yaml:"max_reconnect_delay"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ConnectPolicyConfig describes how a component retries its initial bus connection.
type ConnectPolicyConfig struct {
	// Backoff is "fixed" or "exponential".
	Backoff string `yaml:"backoff"`

	// InitialDelay is the fixed delay, or the first exponential delay (seconds).
	InitialDelay int `yaml:"initial_delay"`

	// MaxDelay caps the exponential delay (seconds). Ignored for fixed backoff.
	MaxDelay int `yaml:"max_delay"`

	// MaxAttempts bounds the number of connection attempts. 0 means unlimited.
	MaxAttempts int `yaml:"max_attempts"`
}

// TelemetryConfig contains the shared topic namespace.
type TelemetryConfig struct {
	// BasePrefix is the building namespace, e.g. "hyatt-place".
	BasePrefix string `yaml:"base_prefix"`
}

// PublishPrefix returns the prefix the publisher writes under: "<base>/sensors".
func (t TelemetryConfig) PublishPrefix() string {
	return strings.TrimSuffix(t.BasePrefix, "/") + "/sensors"
}

// PublisherConfig contains device simulator and publish loop settings.
type PublisherConfig struct {
	// Interval between publish rounds (seconds).
	Interval int `yaml:"interval"`

	// SendDelayMS is the pause between individual device sends (milliseconds).
	SendDelayMS int `yaml:"send_delay_ms"`

	Connect ConnectPolicyConfig `yaml:"connect"`
	Devices []DeviceConfig      `yaml:"devices"`
}

// DeviceConfig declares one simulated device.
type DeviceConfig struct {
	// Type names a catalog spec ("temperature", "humidity", "co2").
	// Leave empty and set Spec for a custom measurement.
	Type   string      `yaml:"type"`
	Number int         `yaml:"number"`
	Zone   int64       `yaml:"zone"`
	Spec   *SpecConfig `yaml:"spec,omitempty"`
}

// SpecConfig is a custom measurement specification.
type SpecConfig struct {
	Field   string  `yaml:"field"`
	Unit    string  `yaml:"unit"`
	Prefix  string  `yaml:"prefix"`
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
	Integer bool    `yaml:"integer"`
}

// IngestConfig contains ingestion worker settings.
type IngestConfig struct {
	Connect         ConnectPolicyConfig `yaml:"connect"`
	ZonePolicy      string              `yaml:"zone_policy"`
	TimestampPolicy string              `yaml:"timestamp_policy"`
	HTTP            HTTPConfig          `yaml:"http"`
}

// HTTPConfig contains the ingestor's health/stats listener settings.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// ZoneConfig is a zone seeded into an empty store at startup.
type ZoneConfig struct {
	ID            int64  `yaml:"id"`
	Name          string `yaml:"name"`
	Description   string `yaml:"description"`
	SquareFootage int    `yaml:"square_footage"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// CacheConfig contains Redis latest-reading cache settings.
type CacheConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// TTL is how long a device's latest reading is kept (seconds).
	TTL int `yaml:"ttl"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: TELEMETRY_SECTION_KEY
// For example: TELEMETRY_DATABASE_PATH, TELEMETRY_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with the stock building layout.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "hyatt-place",
			Name: "Hyatt Place",
		},
		Database: DatabaseConfig{
			Path:        "./data/telemetry.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS:               1,
			ConnectTimeout:    10,
			KeepAlive:         60,
			MaxReconnectDelay: 30,
		},
		Telemetry: TelemetryConfig{
			BasePrefix: "hyatt-place",
		},
		Publisher: PublisherConfig{
			Interval:    10,
			SendDelayMS: 500,
			Connect: ConnectPolicyConfig{
				Backoff:      BackoffFixed,
				InitialDelay: 3,
				MaxAttempts:  3,
			},
		},
		Ingest: IngestConfig{
			Connect: ConnectPolicyConfig{
				Backoff:      BackoffExponential,
				InitialDelay: 1,
				MaxDelay:     30,
				MaxAttempts:  0,
			},
			ZonePolicy:      ZonePolicyKeepFirst,
			TimestampPolicy: TimestampPolicyFallback,
			HTTP: HTTPConfig{
				Host: "0.0.0.0",
				Port: 8080,
			},
		},
		Zones: []ZoneConfig{
			{ID: 1, Name: "Office Area", Description: "Main office workspace", SquareFootage: 2500},
			{ID: 2, Name: "Conference Rooms", Description: "Meeting and conference areas", SquareFootage: 1200},
			{ID: 3, Name: "Common Areas", Description: "Hallways, lobby, and break rooms", SquareFootage: 1800},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Cache: CacheConfig{
			Addr: "localhost:6379",
			TTL:  86400,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: TELEMETRY_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("TELEMETRY_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("TELEMETRY_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("TELEMETRY_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("TELEMETRY_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.Broker.ClientID = v
	}
	if v := os.Getenv("TELEMETRY_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("TELEMETRY_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Topic namespace
	if v := os.Getenv("TELEMETRY_BASE_PREFIX"); v != "" {
		cfg.Telemetry.BasePrefix = v
	}

	// InfluxDB
	if v := os.Getenv("TELEMETRY_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Cache
	if v := os.Getenv("TELEMETRY_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("TELEMETRY_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}

	// Logging
	if v := os.Getenv("TELEMETRY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}

	if strings.Trim(c.Telemetry.BasePrefix, "/") == "" {
		errs = append(errs, "telemetry.base_prefix is required")
	}
	if strings.ContainsAny(c.Telemetry.BasePrefix, "#+") {
		errs = append(errs, "telemetry.base_prefix must not contain MQTT wildcards")
	}

	if c.Publisher.Interval < 1 {
		errs = append(errs, "publisher.interval must be at least 1 second")
	}
	if c.Publisher.SendDelayMS < 0 {
		errs = append(errs, "publisher.send_delay_ms must not be negative")
	}
	errs = append(errs, c.Publisher.Connect.validate("publisher.connect")...)
	for i, d := range c.Publisher.Devices {
		if d.Type == "" && d.Spec == nil {
			errs = append(errs, fmt.Sprintf("publisher.devices[%d]: type or spec is required", i))
		}
		if d.Spec != nil && d.Spec.Min > d.Spec.Max {
			errs = append(errs, fmt.Sprintf("publisher.devices[%d]: spec.min must not exceed spec.max", i))
		}
	}

	errs = append(errs, c.Ingest.Connect.validate("ingest.connect")...)
	if c.Ingest.Connect.Backoff == BackoffFixed || c.Ingest.Connect.MaxAttempts != 0 {
		errs = append(errs, "ingest.connect must use exponential backoff with max_attempts 0")
	}
	switch c.Ingest.ZonePolicy {
	case ZonePolicyKeepFirst, ZonePolicyReassign:
	default:
		errs = append(errs, fmt.Sprintf("ingest.zone_policy must be %q or %q", ZonePolicyKeepFirst, ZonePolicyReassign))
	}
	switch c.Ingest.TimestampPolicy {
	case TimestampPolicyFallback, TimestampPolicyReject:
	default:
		errs = append(errs, fmt.Sprintf("ingest.timestamp_policy must be %q or %q", TimestampPolicyFallback, TimestampPolicyReject))
	}
	if c.Ingest.HTTP.Enabled && (c.Ingest.HTTP.Port < 1 || c.Ingest.HTTP.Port > 65535) {
		errs = append(errs, "ingest.http.port must be between 1 and 65535")
	}

	seen := make(map[int64]bool, len(c.Zones))
	for i, z := range c.Zones {
		if z.Name == "" {
			errs = append(errs, fmt.Sprintf("zones[%d]: name is required", i))
		}
		if seen[z.ID] {
			errs = append(errs, fmt.Sprintf("zones[%d]: duplicate id %d", i, z.ID))
		}
		seen[z.ID] = true
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}
	if c.Cache.Enabled && c.Cache.Addr == "" {
		errs = append(errs, "cache.addr is required when cache is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (p ConnectPolicyConfig) validate(section string) []string {
	var errs []string
	switch p.Backoff {
	case BackoffFixed:
		if p.MaxAttempts < 1 {
			errs = append(errs, section+".max_attempts must be at least 1 for fixed backoff")
		}
	case BackoffExponential:
		if p.InitialDelay < 1 {
			errs = append(errs, section+".initial_delay must be at least 1 second for exponential backoff")
		}
		if p.MaxDelay < 1 || p.MaxDelay < p.InitialDelay {
			errs = append(errs, section+".max_delay must be at least 1 second and not less than initial_delay")
		}
	default:
		errs = append(errs, fmt.Sprintf("%s.backoff must be %q or %q", section, BackoffFixed, BackoffExponential))
	}
	if p.InitialDelay < 0 {
		errs = append(errs, section+".initial_delay must not be negative")
	}
	if p.MaxAttempts < 0 {
		errs = append(errs, section+".max_attempts must not be negative")
	}
	return errs
}

// GetConnectTimeout returns the per-attempt MQTT connect timeout as a Duration.
func (c MQTTConfig) GetConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Second
}

// GetInterval returns the publish round interval as a Duration.
func (p PublisherConfig) GetInterval() time.Duration {
	return time.Duration(p.Interval) * time.Second
}

// GetSendDelay returns the pause between device sends as a Duration.
func (p PublisherConfig) GetSendDelay() time.Duration {
	return time.Duration(p.SendDelayMS) * time.Millisecond
}

// GetTTL returns the cache entry lifetime as a Duration.
func (c CacheConfig) GetTTL() time.Duration {
	return time.Duration(c.TTL) * time.Second
}
