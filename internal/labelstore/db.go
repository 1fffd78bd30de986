package labelstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// FileName is the database file created inside the config directory.
const FileName = "labels.db"

// DB persists resolved application labels per device.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the label database in dir.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dbPath := filepath.Join(dir, FileName)
	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Several commands may share the file.
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	s := &DB{db: sqlDB, path: dbPath}
	if err := s.migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *DB) Close() error {
	return s.db.Close()
}

// Path returns the path to the database file.
func (s *DB) Path() string {
	return s.path
}

func (s *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS labels (
		device_id TEXT NOT NULL,
		package_id TEXT NOT NULL,
		label TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (device_id, package_id)
	);

	CREATE INDEX IF NOT EXISTS idx_labels_device ON labels(device_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Load returns every stored label for a device, keyed by package id.
func (s *DB) Load(deviceID string) (map[string]string, error) {
	rows, err := s.db.Query(
		`SELECT package_id, label FROM labels WHERE device_id = ?`, deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("load labels: %w", err)
	}
	defer rows.Close()

	labels := make(map[string]string)
	for rows.Next() {
		var pkg, label string
		if err := rows.Scan(&pkg, &label); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		labels[pkg] = label
	}
	return labels, rows.Err()
}

// Put inserts or replaces the label of one package.
func (s *DB) Put(deviceID, packageID, label string) error {
	_, err := s.db.Exec(
		`INSERT INTO labels (device_id, package_id, label, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(device_id, package_id) DO UPDATE SET
		   label = excluded.label,
		   updated_at = excluded.updated_at`,
		deviceID, packageID, label, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("put label: %w", err)
	}
	return nil
}

// Forget removes all labels stored for a device and returns how many were dropped.
func (s *DB) Forget(deviceID string) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM labels WHERE device_id = ?`, deviceID)
	if err != nil {
		return 0, fmt.Errorf("forget labels: %w", err)
	}
	return res.RowsAffected()
}

// DeviceStats summarizes what is stored for one device.
type DeviceStats struct {
	DeviceID    string
	Labels      int
	LastUpdated time.Time
}

// Stats returns per-device label counts, ordered by device id.
func (s *DB) Stats() ([]DeviceStats, error) {
	rows, err := s.db.Query(
		`SELECT device_id, COUNT(*), MAX(updated_at) FROM labels GROUP BY device_id ORDER BY device_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("label stats: %w", err)
	}
	defer rows.Close()

	var stats []DeviceStats
	for rows.Next() {
		var st DeviceStats
		var last sql.NullString
		if err := rows.Scan(&st.DeviceID, &st.Labels, &last); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		if last.Valid {
			st.LastUpdated = parseTime(last.String)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// parseTime accepts the layouts the sqlite driver writes for time.Time values.
func parseTime(s string) time.Time {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999 -0700 MST",
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
