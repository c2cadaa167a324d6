package db

import (
	"database/sql"
	"fmt"
)

const conversionColumns = `id, run_id, device_name, device_ip, device_serial, status,
	output_path, files, entries, bytes, error, started, finished`

// RecordConversion stores one device's outcome. c.ID is filled in on return.
func (d *DB) RecordConversion(c *ConversionRecord) error {
	result, err := d.conn.Exec(`
		INSERT INTO conversions (run_id, device_name, device_ip, device_serial, status,
			output_path, files, entries, bytes, error, started, finished)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.RunID, c.DeviceName, c.DeviceIP, c.DeviceSerial, c.Status,
		nullString(c.OutputPath), c.Files, c.Entries, c.Bytes, nullString(c.Error),
		c.Started.UTC(), c.Finished.UTC())
	if err != nil {
		return fmt.Errorf("failed to record conversion: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		c.ID = id
	}
	return nil
}

// ConversionsForRun returns the rows of one run in insertion order
func (d *DB) ConversionsForRun(runID string) ([]*ConversionRecord, error) {
	rows, err := d.conn.Query(`SELECT `+conversionColumns+`
		FROM conversions WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversions: %w", err)
	}
	defer rows.Close()

	return scanConversions(rows)
}

// RecentConversions returns the latest rows across all runs, newest first
func (d *DB) RecentConversions(limit int) ([]*ConversionRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := d.conn.Query(`SELECT `+conversionColumns+`
		FROM conversions ORDER BY finished DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversions: %w", err)
	}
	defer rows.Close()

	return scanConversions(rows)
}

func scanConversions(rows *sql.Rows) ([]*ConversionRecord, error) {
	var out []*ConversionRecord
	for rows.Next() {
		var c ConversionRecord
		var outputPath, errText sql.NullString
		err := rows.Scan(&c.ID, &c.RunID, &c.DeviceName, &c.DeviceIP, &c.DeviceSerial, &c.Status,
			&outputPath, &c.Files, &c.Entries, &c.Bytes, &errText, &c.Started, &c.Finished)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversion: %w", err)
		}
		c.OutputPath = outputPath.String
		c.Error = errText.String
		out = append(out, &c)
	}
	return out, rows.Err()
}
