package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-telemetry/internal/infrastructure/database"
)

// Gateway is the write surface available inside one ingest transaction.
type Gateway interface {
	// EnsureDevice returns the device with id, creating it with zoneID and
	// deviceType if it does not exist. created reports whether it was new.
	// An existing device is returned unchanged.
	EnsureDevice(ctx context.Context, id string, zoneID int64, deviceType string) (dev Device, created bool, err error)

	// AppendMeasurement inserts m and returns it with its row ID set.
	AppendMeasurement(ctx context.Context, m Measurement) (Measurement, error)

	// ReassignDeviceZone moves an existing device to zoneID.
	ReassignDeviceZone(ctx context.Context, id string, zoneID int64) error
}

// Store runs a function against a Gateway inside a single transaction.
type Store interface {
	InTx(ctx context.Context, fn func(Gateway) error) error
}

// Repository is the SQLite-backed telemetry store.
type Repository struct {
	db *database.DB
}

// NewRepository creates a repository over an open, migrated database.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// InTx runs fn in a transaction. The transaction commits if fn returns nil
// and rolls back otherwise.
func (r *Repository) InTx(ctx context.Context, fn func(Gateway) error) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		return fn(txGateway{tx: tx})
	})
}

type txGateway struct {
	tx *sql.Tx
}

func (g txGateway) EnsureDevice(ctx context.Context, id string, zoneID int64, deviceType string) (Device, bool, error) {
	const insert = `INSERT INTO devices (id, zone_id, device_type) VALUES (?, ?, ?)
		ON CONFLICT (id) DO NOTHING`
	res, err := g.tx.ExecContext(ctx, insert, id, zoneID, deviceType)
	if err != nil {
		return Device{}, false, fmt.Errorf("inserting device %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Device{}, false, fmt.Errorf("inserting device %s: %w", id, err)
	}

	dev, err := scanDevice(g.tx.QueryRowContext(ctx,
		`SELECT id, zone_id, device_type FROM devices WHERE id = ?`, id))
	if err != nil {
		return Device{}, false, err
	}
	return dev, n == 1, nil
}

func (g txGateway) AppendMeasurement(ctx context.Context, m Measurement) (Measurement, error) {
	const query = `INSERT INTO measurements (device_id, timestamp, field, value, unit)
		VALUES (?, ?, ?, ?, ?)`
	res, err := g.tx.ExecContext(ctx, query,
		m.DeviceID, formatStored(m.Timestamp), m.Field, m.Value, m.Unit)
	if err != nil {
		return Measurement{}, fmt.Errorf("inserting measurement for %s: %w", m.DeviceID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Measurement{}, fmt.Errorf("reading measurement id: %w", err)
	}
	m.ID = id
	m.Timestamp = m.Timestamp.UTC()
	return m, nil
}

func (g txGateway) ReassignDeviceZone(ctx context.Context, id string, zoneID int64) error {
	res, err := g.tx.ExecContext(ctx, `UPDATE devices SET zone_id = ? WHERE id = ?`, zoneID, id)
	if err != nil {
		return fmt.Errorf("reassigning device %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite3 always reports rows affected
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return nil
}

// SeedZones inserts zones when the zones table is empty and returns how many
// were inserted. Existing zones are never modified.
func (r *Repository) SeedZones(ctx context.Context, zones []Zone) (int, error) {
	inserted := 0
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM zones`).Scan(&count); err != nil {
			return fmt.Errorf("counting zones: %w", err)
		}
		if count > 0 {
			return nil
		}
		for _, z := range zones {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO zones (id, name, description, square_footage) VALUES (?, ?, ?, ?)`,
				z.ID, z.Name, z.Description, z.SquareFootage)
			if err != nil {
				return fmt.Errorf("inserting zone %d: %w", z.ID, err)
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// ListZones returns all zones ordered by ID.
func (r *Repository) ListZones(ctx context.Context) ([]Zone, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, description, square_footage FROM zones ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying zones: %w", err)
	}
	defer rows.Close()

	var zones []Zone
	for rows.Next() {
		var z Zone
		if err := rows.Scan(&z.ID, &z.Name, &z.Description, &z.SquareFootage); err != nil {
			return nil, fmt.Errorf("scanning zone: %w", err)
		}
		zones = append(zones, z)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating zones: %w", err)
	}
	return zones, nil
}

// GetDevice returns a single device by ID.
func (r *Repository) GetDevice(ctx context.Context, id string) (Device, error) {
	return scanDevice(r.db.QueryRowContext(ctx,
		`SELECT id, zone_id, device_type FROM devices WHERE id = ?`, id))
}

// RecentMeasurements returns up to limit measurements from devices in zone,
// newest first.
func (r *Repository) RecentMeasurements(ctx context.Context, zoneID int64, limit int) ([]Measurement, error) {
	const query = `SELECT m.id, m.device_id, d.zone_id, m.field, m.value, m.unit, m.timestamp
		FROM measurements m
		JOIN devices d ON d.id = m.device_id
		WHERE d.zone_id = ?
		ORDER BY m.timestamp DESC, m.id DESC
		LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, zoneID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent measurements for zone %d: %w", zoneID, err)
	}
	defer rows.Close()

	var out []Measurement
	for rows.Next() {
		var m Measurement
		var ts string
		if err := rows.Scan(&m.ID, &m.DeviceID, &m.ZoneID, &m.Field, &m.Value, &m.Unit, &ts); err != nil {
			return nil, fmt.Errorf("scanning measurement: %w", err)
		}
		if m.Timestamp, err = parseStored(ts); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating measurements: %w", err)
	}
	return out, nil
}

// ZoneAverage returns the mean of field across all devices in zone with
// timestamps in [from, to]. ok is false when there are no samples.
func (r *Repository) ZoneAverage(ctx context.Context, zoneID int64, field string, from, to time.Time) (avg float64, ok bool, err error) {
	const query = `SELECT AVG(m.value)
		FROM measurements m
		JOIN devices d ON d.id = m.device_id
		WHERE d.zone_id = ? AND m.field = ? AND m.timestamp >= ? AND m.timestamp <= ?`
	var v sql.NullFloat64
	err = r.db.QueryRowContext(ctx, query, zoneID, field, formatStored(from), formatStored(to)).Scan(&v)
	if err != nil {
		return 0, false, fmt.Errorf("averaging %s for zone %d: %w", field, zoneID, err)
	}
	return v.Float64, v.Valid, nil
}

// DeviceTimeseries returns a device's field samples with timestamps in
// [from, to], oldest first.
func (r *Repository) DeviceTimeseries(ctx context.Context, deviceID, field string, from, to time.Time) ([]Point, error) {
	const query = `SELECT timestamp, value FROM measurements
		WHERE device_id = ? AND field = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp, id`
	rows, err := r.db.QueryContext(ctx, query, deviceID, field, formatStored(from), formatStored(to))
	if err != nil {
		return nil, fmt.Errorf("querying timeseries for %s: %w", deviceID, err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var p Point
		var ts string
		if err := rows.Scan(&ts, &p.Value); err != nil {
			return nil, fmt.Errorf("scanning point: %w", err)
		}
		if p.Timestamp, err = parseStored(ts); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating points: %w", err)
	}
	return points, nil
}

func scanDevice(row *sql.Row) (Device, error) {
	var d Device
	var zone sql.NullInt64
	if err := row.Scan(&d.ID, &zone, &d.Type); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Device{}, ErrDeviceNotFound
		}
		return Device{}, fmt.Errorf("scanning device: %w", err)
	}
	if zone.Valid {
		id := zone.Int64
		d.ZoneID = &id
	}
	return d, nil
}
