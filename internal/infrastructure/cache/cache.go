package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-telemetry/internal/telemetry"
)

const (
	keyPrefix   = "telemetry:latest:"
	pingTimeout = 5 * time.Second

	// timestampLayout is fixed width so stored timestamps order as strings.
	timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// setLatest replaces the hash at KEYS[1] unless it holds a later timestamp.
// ARGV: ttl in milliseconds (0 for none), timestamp, then field/value pairs.
var setLatest = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'timestamp')
if cur and cur > ARGV[2] then
	return 0
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], unpack(ARGV, 3))
if tonumber(ARGV[1]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return 1
`)

// Client writes and reads latest-reading hashes.
type Client struct {
	rdb *redis.Client
	ttl time.Duration
}

// Connect opens a client and verifies it with a ping.
func Connect(ctx context.Context, cfg config.CacheConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return &Client{rdb: rdb, ttl: cfg.GetTTL()}, nil
}

// Key returns the hash key holding a device's latest reading.
func Key(deviceID string) string {
	return keyPrefix + deviceID
}

// Set stores m as the device's latest reading and refreshes its TTL, unless
// the cache already holds a reading with a later timestamp. Readings with
// equal timestamps replace each other. It reports whether m was stored.
func (c *Client) Set(ctx context.Context, m telemetry.Measurement) (bool, error) {
	pairs := fields(m)
	args := make([]interface{}, 0, len(pairs)+2)
	args = append(args, c.ttl.Milliseconds(), formatTimestamp(m.Timestamp))
	args = append(args, pairs...)

	stored, err := setLatest.Run(ctx, c.rdb, []string{Key(m.DeviceID)}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("caching %s: %w", m.DeviceID, err)
	}
	return stored == 1, nil
}

// Latest returns the cached reading for a device, or ErrNotFound.
func (c *Client) Latest(ctx context.Context, deviceID string) (telemetry.Measurement, error) {
	vals, err := c.rdb.HGetAll(ctx, Key(deviceID)).Result()
	if err != nil {
		return telemetry.Measurement{}, fmt.Errorf("reading cache for %s: %w", deviceID, err)
	}
	if len(vals) == 0 {
		return telemetry.Measurement{}, fmt.Errorf("%w: %s", ErrNotFound, deviceID)
	}
	return parseFields(vals)
}

// Name identifies the client when used as an ingest sink.
func (c *Client) Name() string { return "cache" }

// Observe caches a committed measurement. A reading older than the cached
// one is dropped without error.
func (c *Client) Observe(ctx context.Context, m telemetry.Measurement) error {
	_, err := c.Set(ctx, m)
	return err
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache health check failed: %w", err)
	}
	return nil
}

// Close closes the connection pool. Safe on a nil Client.
func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	if err := c.rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("closing cache: %w", err)
	}
	return nil
}

// fields flattens m into hash field/value pairs.
func fields(m telemetry.Measurement) []interface{} {
	return []interface{}{
		"id", strconv.FormatInt(m.ID, 10),
		"device_id", m.DeviceID,
		"zone_id", strconv.FormatInt(m.ZoneID, 10),
		"field", m.Field,
		"reading", strconv.FormatFloat(m.Value, 'f', -1, 64),
		"unit", m.Unit,
		"timestamp", formatTimestamp(m.Timestamp),
	}
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseFields(vals map[string]string) (telemetry.Measurement, error) {
	m := telemetry.Measurement{
		DeviceID: vals["device_id"],
		Field:    vals["field"],
		Unit:     vals["unit"],
	}

	var err error
	if m.ID, err = strconv.ParseInt(vals["id"], 10, 64); err != nil {
		return m, fmt.Errorf("cached id: %w", err)
	}
	if m.ZoneID, err = strconv.ParseInt(vals["zone_id"], 10, 64); err != nil {
		return m, fmt.Errorf("cached zone_id: %w", err)
	}
	if m.Value, err = strconv.ParseFloat(vals["reading"], 64); err != nil {
		return m, fmt.Errorf("cached reading: %w", err)
	}
	if m.Timestamp, err = time.Parse(time.RFC3339Nano, vals["timestamp"]); err != nil {
		return m, fmt.Errorf("cached timestamp: %w", err)
	}
	return m, nil
}
