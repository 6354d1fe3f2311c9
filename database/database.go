package database

import (
	"time"
)

// Alert represents a persisted detection event. Rows are created by the
// streaming pipeline's event recorder and consumed by the dashboard's alert
// list and SSE feed; the pipeline itself never mutates them after insert.
type Alert struct {
	ID          int64      `json:"id"`
	CameraID    string     `json:"cameraId"`    // Device identifier of the camera that triggered
	CameraTitle string     `json:"cameraTitle"` // Display title at detection time
	Labels      string     `json:"labels"`      // Concatenated detected-label string, e.g. "fire,smoke"
	Location    string     `json:"location"`    // Camera location at detection time
	DetectedAt  time.Time  `json:"detectedAt"`  // When the detection fired
	Resolved    bool       `json:"resolved"`    // Toggled by the dashboard, never by the pipeline
	ResolvedAt  *time.Time `json:"resolvedAt"`  // When the alert was resolved (nil if open)
	ImagePath   string     `json:"imagePath"`   // Snapshot image path on disk ("" if not saved)
}

// Snapshot represents a saved detection frame on disk. The record-log page
// lists these; retention cleanup deletes old rows together with their files.
type Snapshot struct {
	ID        string    `json:"id"`
	CameraID  string    `json:"cameraId"`
	Labels    string    `json:"labels"`
	FilePath  string    `json:"filePath"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
	RemoteURL string    `json:"remoteUrl"` // Offsite backup URL ("" if not uploaded)
}

// Database defines the persistence operations the pipeline and its HTTP
// collaborators need.
type Database interface {
	// Alert operations
	CreateAlert(alert Alert) (int64, error)
	ListAlerts(limit, offset int) ([]Alert, error)
	ResolveAlert(id int64) error
	ClearAlerts() error
	CountUnresolvedAlerts() (int, error)

	// Snapshot operations
	CreateSnapshot(snap Snapshot) error
	ListSnapshots(cameraID string, limit, offset int) ([]Snapshot, error)
	DeleteSnapshotsBefore(cutoff time.Time) ([]Snapshot, error)
	UpdateSnapshotRemoteURL(id, remoteURL string) error

	// Settings persistence (runtime settings survive restarts)
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
	GetAllSettings() (map[string]string, error)

	Close() error
}
