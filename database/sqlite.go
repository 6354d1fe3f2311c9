package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteDB implements the Database interface using SQLite
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB creates a new SQLite database instance
func NewSQLiteDB(dbPath string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %v", err)
	}

	// A single writer avoids SQLITE_BUSY from concurrent alert inserts
	db.SetMaxOpenConns(1)

	if err := initTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize tables: %v", err)
	}

	return &SQLiteDB{db: db}, nil
}

// initTables creates the necessary tables if they don't exist
func initTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			camera_id TEXT NOT NULL,
			camera_title TEXT,
			labels TEXT NOT NULL,
			location TEXT,
			detected_at TIMESTAMP NOT NULL,
			resolved INTEGER NOT NULL DEFAULT 0,
			resolved_at TIMESTAMP,
			image_path TEXT
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			id TEXT PRIMARY KEY,
			camera_id TEXT NOT NULL,
			labels TEXT,
			file_path TEXT NOT NULL,
			size INTEGER DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			remote_url TEXT
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_alerts_detected_at ON alerts (detected_at)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_snapshots_camera ON snapshots (camera_id, created_at)`)
	return err
}

// CreateAlert inserts a new alert row and returns its id
func (s *SQLiteDB) CreateAlert(alert Alert) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO alerts (camera_id, camera_title, labels, location, detected_at, resolved, image_path)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		alert.CameraID,
		alert.CameraTitle,
		alert.Labels,
		alert.Location,
		alert.DetectedAt,
		alert.Resolved,
		alert.ImagePath,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create alert: %v", err)
	}
	return res.LastInsertId()
}

// ListAlerts returns alerts ordered newest first
func (s *SQLiteDB) ListAlerts(limit, offset int) ([]Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, camera_id, camera_title, labels, location, detected_at, resolved, resolved_at, image_path
		FROM alerts ORDER BY detected_at DESC LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %v", err)
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		var a Alert
		var title, location, imagePath sql.NullString
		var resolvedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.CameraID, &title, &a.Labels, &location,
			&a.DetectedAt, &a.Resolved, &resolvedAt, &imagePath); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %v", err)
		}
		a.CameraTitle = title.String
		a.Location = location.String
		a.ImagePath = imagePath.String
		if resolvedAt.Valid {
			t := resolvedAt.Time
			a.ResolvedAt = &t
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// ResolveAlert marks an alert as resolved
func (s *SQLiteDB) ResolveAlert(id int64) error {
	res, err := s.db.Exec(`UPDATE alerts SET resolved = 1, resolved_at = ? WHERE id = ?`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to resolve alert: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("alert %d not found", id)
	}
	return nil
}

// ClearAlerts deletes all alert rows
func (s *SQLiteDB) ClearAlerts() error {
	_, err := s.db.Exec(`DELETE FROM alerts`)
	if err != nil {
		return fmt.Errorf("failed to clear alerts: %v", err)
	}
	return nil
}

// CountUnresolvedAlerts returns the number of open alerts
func (s *SQLiteDB) CountUnresolvedAlerts() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM alerts WHERE resolved = 0`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count alerts: %v", err)
	}
	return count, nil
}

// CreateSnapshot inserts a snapshot record
func (s *SQLiteDB) CreateSnapshot(snap Snapshot) error {
	_, err := s.db.Exec(`
		INSERT INTO snapshots (id, camera_id, labels, file_path, size, created_at, remote_url)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, snap.ID, snap.CameraID, snap.Labels, snap.FilePath, snap.Size, snap.CreatedAt, snap.RemoteURL)
	if err != nil {
		return fmt.Errorf("failed to create snapshot record: %v", err)
	}
	return nil
}

// ListSnapshots returns snapshot records, optionally filtered by camera
func (s *SQLiteDB) ListSnapshots(cameraID string, limit, offset int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, camera_id, labels, file_path, size, created_at, remote_url FROM snapshots`
	args := []interface{}{}
	if cameraID != "" {
		query += ` WHERE camera_id = ?`
		args = append(args, cameraID)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %v", err)
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		var sn Snapshot
		var labels, remoteURL sql.NullString
		if err := rows.Scan(&sn.ID, &sn.CameraID, &labels, &sn.FilePath, &sn.Size, &sn.CreatedAt, &remoteURL); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %v", err)
		}
		sn.Labels = labels.String
		sn.RemoteURL = remoteURL.String
		snaps = append(snaps, sn)
	}
	return snaps, rows.Err()
}

// DeleteSnapshotsBefore removes snapshot rows older than cutoff and returns
// the deleted records so the caller can remove the files
func (s *SQLiteDB) DeleteSnapshotsBefore(cutoff time.Time) ([]Snapshot, error) {
	old, err := s.listSnapshotsBefore(cutoff)
	if err != nil {
		return nil, err
	}
	if len(old) == 0 {
		return nil, nil
	}
	_, err = s.db.Exec(`DELETE FROM snapshots WHERE created_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to delete old snapshots: %v", err)
	}
	return old, nil
}

func (s *SQLiteDB) listSnapshotsBefore(cutoff time.Time) ([]Snapshot, error) {
	rows, err := s.db.Query(`
		SELECT id, camera_id, labels, file_path, size, created_at, remote_url
		FROM snapshots WHERE created_at < ?
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		var sn Snapshot
		var labels, remoteURL sql.NullString
		if err := rows.Scan(&sn.ID, &sn.CameraID, &labels, &sn.FilePath, &sn.Size, &sn.CreatedAt, &remoteURL); err != nil {
			return nil, err
		}
		sn.Labels = labels.String
		sn.RemoteURL = remoteURL.String
		snaps = append(snaps, sn)
	}
	return snaps, rows.Err()
}

// UpdateSnapshotRemoteURL records the offsite backup URL of a snapshot
func (s *SQLiteDB) UpdateSnapshotRemoteURL(id, remoteURL string) error {
	_, err := s.db.Exec(`UPDATE snapshots SET remote_url = ? WHERE id = ?`, remoteURL, id)
	if err != nil {
		return fmt.Errorf("failed to update snapshot remote url: %v", err)
	}
	return nil
}

// GetSetting returns the stored value for a key ("" if absent)
func (s *SQLiteDB) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %v", key, err)
	}
	return value, nil
}

// SetSetting upserts a settings key
func (s *SQLiteDB) SetSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %v", key, err)
	}
	return nil
}

// GetAllSettings returns every stored settings key/value pair
func (s *SQLiteDB) GetAllSettings() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %v", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		settings[key] = value
	}
	return settings, rows.Err()
}

// Close closes the underlying database handle
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
