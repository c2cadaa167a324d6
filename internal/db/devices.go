package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/davidzhou73/convnetlog/internal/device"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

const deviceColumns = `id, name, ip, serial, state, source_path, first_seen, last_seen`

// UpsertDevice inserts or updates a device keyed by name, IP and serial.
// dev.ID is filled in on return.
func (d *DB) UpsertDevice(dev *DeviceRecord) error {
	return upsertDevice(d.conn, dev, time.Now().UTC())
}

func upsertDevice(q querier, dev *DeviceRecord, now time.Time) error {
	_, err := q.Exec(`
		INSERT INTO devices (name, ip, serial, state, source_path, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name, ip, serial) DO UPDATE SET
			state = excluded.state,
			source_path = COALESCE(excluded.source_path, source_path),
			last_seen = excluded.last_seen
	`, dev.Name, dev.IP, dev.Serial, dev.State, nullString(dev.SourcePath), now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}

	stored, err := getDevice(q, dev.Name, dev.IP, dev.Serial)
	if err != nil {
		return err
	}
	if stored == nil {
		return fmt.Errorf("device %s vanished after upsert", dev.Name)
	}
	*dev = *stored
	return nil
}

// GetDevice returns the device with the given identity, or nil if unknown
func (d *DB) GetDevice(name, ip, serial string) (*DeviceRecord, error) {
	return getDevice(d.conn, name, ip, serial)
}

func getDevice(q querier, name, ip, serial string) (*DeviceRecord, error) {
	row := q.QueryRow(`SELECT `+deviceColumns+`
		FROM devices WHERE name = ? AND ip = ? AND serial = ?`, name, ip, serial)

	dev, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan device: %w", err)
	}
	return dev, nil
}

// ListDevices returns known devices ordered by name. A non-empty state
// restricts the result to that state.
func (d *DB) ListDevices(state string) ([]*DeviceRecord, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices`
	var args []any
	if state != "" {
		query += ` WHERE state = ?`
		args = append(args, state)
	}
	query += ` ORDER BY name, ip, serial`

	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []*DeviceRecord
	for rows.Next() {
		dev, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device row: %w", err)
		}
		devices = append(devices, dev)
	}
	return devices, rows.Err()
}

// DeviceCount returns the number of known devices and how many of them
// last reported a non-success state
func (d *DB) DeviceCount() (total, failed int, err error) {
	row := d.conn.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN state IN (?, ?) THEN 0 ELSE 1 END), 0)
		FROM devices
	`, device.StateSuccess, device.StateSuccessZH)
	err = row.Scan(&total, &failed)
	return
}

// SyncResult counts what SyncDevices changed
type SyncResult struct {
	Created int
	Updated int
	Events  int
}

// SyncDevices upserts discovered records in one transaction. New devices
// get a discovered event; known devices get an event for each changed
// state or source path.
func (d *DB) SyncDevices(records []device.Record) (SyncResult, error) {
	var res SyncResult

	tx, err := d.conn.Begin()
	if err != nil {
		return res, fmt.Errorf("failed to begin sync: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, r := range records {
		existing, err := getDevice(tx, r.Name, r.IP, r.Serial)
		if err != nil {
			return res, err
		}

		dev := &DeviceRecord{
			Name:       r.Name,
			IP:         r.IP,
			Serial:     r.Serial,
			State:      r.State,
			SourcePath: r.SourcePath,
		}
		if err := upsertDevice(tx, dev, now); err != nil {
			return res, err
		}

		if existing == nil {
			res.Created++
			if err := recordEvent(tx, dev.ID, EventDiscovered, "", r.State, now); err != nil {
				return res, err
			}
			res.Events++
			continue
		}

		res.Updated++
		if existing.State != r.State {
			if err := recordEvent(tx, dev.ID, EventStateChanged, existing.State, r.State, now); err != nil {
				return res, err
			}
			res.Events++
		}
		if r.SourcePath != "" && existing.SourcePath != r.SourcePath {
			if err := recordEvent(tx, dev.ID, EventSourceMoved, existing.SourcePath, r.SourcePath, now); err != nil {
				return res, err
			}
			res.Events++
		}
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("failed to commit sync: %w", err)
	}
	return res, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(s scanner) (*DeviceRecord, error) {
	var dev DeviceRecord
	var source sql.NullString
	err := s.Scan(&dev.ID, &dev.Name, &dev.IP, &dev.Serial, &dev.State, &source,
		&dev.FirstSeen, &dev.LastSeen)
	if err != nil {
		return nil, err
	}
	dev.SourcePath = source.String
	return &dev, nil
}
