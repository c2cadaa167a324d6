package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite inventory database
type DB struct {
	conn *sql.DB
	path string
}

// New opens or creates the SQLite database at the given path
func New(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps PRAGMAs and transactions on one handle
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	db := &DB{conn: conn, path: path}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.conn.Close()
}

// Path returns the database file path
func (d *DB) Path() string {
	return d.path
}

// SchemaVersion returns the highest applied migration
func (d *DB) SchemaVersion() (int, error) {
	var version int
	err := d.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	return version, err
}

var migrations = []string{
	migrationV1,
	migrationV2,
}

func (d *DB) migrate() error {
	_, err := d.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	version, err := d.SchemaVersion()
	if err != nil {
		return err
	}

	for i, migration := range migrations {
		v := i + 1
		if v <= version {
			continue
		}

		tx, err := d.conn.Begin()
		if err != nil {
			return err
		}

		if _, err := tx.Exec(migration); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d failed: %w", v, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", v); err != nil {
			tx.Rollback()
			return err
		}

		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return nil
}

// migrationV1 creates the device inventory
const migrationV1 = `
-- Every device ever seen in a metadata file
CREATE TABLE IF NOT EXISTS devices (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    ip TEXT NOT NULL,
    serial TEXT NOT NULL,
    state TEXT NOT NULL,
    source_path TEXT,
    first_seen TIMESTAMP NOT NULL,
    last_seen TIMESTAMP NOT NULL,
    UNIQUE(name, ip, serial)
);

CREATE INDEX IF NOT EXISTS idx_devices_state ON devices(state);
CREATE INDEX IF NOT EXISTS idx_devices_name ON devices(name);

-- Changes observed between syncs
CREATE TABLE IF NOT EXISTS device_events (
    id INTEGER PRIMARY KEY,
    device_id INTEGER NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
    event_type TEXT NOT NULL,
    old_value TEXT,
    new_value TEXT,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_device ON device_events(device_id);
CREATE INDEX IF NOT EXISTS idx_events_time ON device_events(timestamp);
`

// migrationV2 adds conversion history
const migrationV2 = `
CREATE TABLE IF NOT EXISTS conversions (
    id INTEGER PRIMARY KEY,
    run_id TEXT NOT NULL,
    device_name TEXT NOT NULL,
    device_ip TEXT NOT NULL,
    device_serial TEXT NOT NULL,
    status TEXT NOT NULL,
    output_path TEXT,
    files INTEGER DEFAULT 0,
    entries INTEGER DEFAULT 0,
    bytes INTEGER DEFAULT 0,
    error TEXT,
    started TIMESTAMP NOT NULL,
    finished TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversions_run ON conversions(run_id);
CREATE INDEX IF NOT EXISTS idx_conversions_time ON conversions(finished);
`

// DeviceRecord is a device row
type DeviceRecord struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	IP         string    `json:"ip"`
	Serial     string    `json:"serial"`
	State      string    `json:"state"`
	SourcePath string    `json:"source_path"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

// DeviceEvent is a change recorded against a device
type DeviceEvent struct {
	ID        int64     `json:"id"`
	DeviceID  int64     `json:"device_id"`
	Device    string    `json:"device"`
	EventType string    `json:"event_type"`
	OldValue  string    `json:"old_value,omitempty"`
	NewValue  string    `json:"new_value,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Event types
const (
	EventDiscovered   = "discovered"
	EventStateChanged = "state_changed"
	EventSourceMoved  = "source_moved"
)

// ConversionRecord is one device's outcome in a conversion run
type ConversionRecord struct {
	ID           int64     `json:"id"`
	RunID        string    `json:"run_id"`
	DeviceName   string    `json:"device_name"`
	DeviceIP     string    `json:"device_ip"`
	DeviceSerial string    `json:"device_serial"`
	Status       string    `json:"status"`
	OutputPath   string    `json:"output_path,omitempty"`
	Files        int       `json:"files"`
	Entries      int       `json:"entries"`
	Bytes        int64     `json:"bytes"`
	Error        string    `json:"error,omitempty"`
	Started      time.Time `json:"started"`
	Finished     time.Time `json:"finished"`
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
