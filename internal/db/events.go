package db

import (
	"database/sql"
	"fmt"
	"time"
)

// RecordEvent logs a change against a device
func (d *DB) RecordEvent(deviceID int64, eventType, oldValue, newValue string) error {
	return recordEvent(d.conn, deviceID, eventType, oldValue, newValue, time.Now().UTC())
}

func recordEvent(q querier, deviceID int64, eventType, oldValue, newValue string, at time.Time) error {
	_, err := q.Exec(`
		INSERT INTO device_events (device_id, event_type, old_value, new_value, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, deviceID, eventType, nullString(oldValue), nullString(newValue), at)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// RecentEvents returns the most recent events across all devices, newest
// first
func (d *DB) RecentEvents(limit int) ([]*DeviceEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := d.conn.Query(`
		SELECT e.id, e.device_id, dv.name, e.event_type, e.old_value, e.new_value, e.timestamp
		FROM device_events e
		JOIN devices dv ON dv.id = e.device_id
		ORDER BY e.timestamp DESC, e.id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*DeviceEvent
	for rows.Next() {
		var e DeviceEvent
		var oldValue, newValue sql.NullString
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.Device, &e.EventType, &oldValue, &newValue, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.OldValue = oldValue.String
		e.NewValue = newValue.String
		events = append(events, &e)
	}
	return events, rows.Err()
}
