package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/BrianShiroe/calbi-luka/config"
	"github.com/BrianShiroe/calbi-luka/database"
	"github.com/BrianShiroe/calbi-luka/detect"
)

// Camera identifies the stream an event came from.
type Camera struct {
	ID       string
	Title    string
	Location string
}

// Event is one debounced detection occurrence handed to the recorder.
type Event struct {
	Camera     Camera
	Detections []detect.Detection
	Frame      []byte // annotated JPEG at detection time
	At         time.Time
}

// Uploader pushes a saved snapshot to offsite storage.
type Uploader interface {
	UploadFile(localPath, remotePath string) (string, error)
}

// AlarmPulser triggers a hardware alarm.
type AlarmPulser interface {
	Pulse() error
}

// Recorder persists detection events. Record is called from the frame loop,
// so everything past the debounce check runs on a separate goroutine.
type Recorder struct {
	cfg      *config.Config
	settings *config.SettingsStore
	db       database.Database
	uploader Uploader
	alarm    AlarmPulser

	mu         sync.Mutex
	lastRecord map[string]time.Time

	soundPlaying atomic.Bool
	httpClient   *http.Client
}

// NewRecorder creates a recorder. uploader and alarm may be nil when those
// sinks are not configured.
func NewRecorder(cfg *config.Config, settings *config.SettingsStore, db database.Database, uploader Uploader, alarm AlarmPulser) *Recorder {
	return &Recorder{
		cfg:        cfg,
		settings:   settings,
		db:         db,
		uploader:   uploader,
		alarm:      alarm,
		lastRecord: make(map[string]time.Time),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Record handles one detection event. Returns true when the event passed the
// debounce window and was accepted.
func (r *Recorder) Record(event Event) bool {
	settings := r.settings.Get()
	if len(event.Detections) == 0 {
		return false
	}
	if !settings.AlertImageEnabled && !settings.AlertLogEnabled && !settings.AlertSoundEnabled &&
		!settings.AlertPushEnabled && !settings.AlertSerialEnabled {
		return false
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}

	delay := time.Duration(settings.AlertDelaySecs) * time.Second
	r.mu.Lock()
	last, seen := r.lastRecord[event.Camera.ID]
	if seen && event.At.Sub(last) < delay {
		r.mu.Unlock()
		return false
	}
	r.lastRecord[event.Camera.ID] = event.At
	r.mu.Unlock()

	go r.handle(event, settings)
	return true
}

func (r *Recorder) handle(event Event, settings config.Settings) {
	labels := detect.Labels(event.Detections)

	var imagePath string
	if settings.AlertImageEnabled && len(event.Frame) > 0 {
		path, err := r.saveSnapshot(event, labels)
		if err != nil {
			log.Printf("[alert] error saving snapshot for %s: %v", event.Camera.ID, err)
		} else {
			imagePath = path
		}
	}

	if settings.AlertLogEnabled {
		alert := database.Alert{
			CameraID:    event.Camera.ID,
			CameraTitle: event.Camera.Title,
			Labels:      labels,
			Location:    event.Camera.Location,
			DetectedAt:  event.At,
			ImagePath:   imagePath,
		}
		if _, err := r.db.CreateAlert(alert); err != nil {
			log.Printf("[alert] error inserting alert for %s: %v", event.Camera.ID, err)
		}
	}

	if settings.AlertSoundEnabled {
		r.playSound(settings)
	}
	if settings.AlertPushEnabled && r.cfg.PushWebhookURL != "" {
		r.pushNotify(event, labels)
	}
	if settings.AlertSerialEnabled && r.alarm != nil {
		if err := r.alarm.Pulse(); err != nil {
			log.Printf("[alert] error pulsing alarm: %v", err)
		}
	}
}

// saveSnapshot writes the frame to disk, records it in the database and
// kicks off the offsite upload when configured.
func (r *Recorder) saveSnapshot(event Event, labels string) (string, error) {
	name := fmt.Sprintf("%s_%s_%s.jpg",
		event.At.Format("20060102_150405"),
		sanitize(labels),
		sanitize(event.Camera.ID))
	dir := filepath.Join(r.cfg.RecordsPath, sanitize(event.Camera.ID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, event.Frame, 0644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	snapshot := database.Snapshot{
		ID:        uuid.New().String(),
		CameraID:  event.Camera.ID,
		Labels:    labels,
		FilePath:  path,
		Size:      int64(len(event.Frame)),
		CreatedAt: event.At,
	}
	if err := r.db.CreateSnapshot(snapshot); err != nil {
		log.Printf("[alert] error inserting snapshot for %s: %v", event.Camera.ID, err)
	}

	if r.uploader != nil {
		go func() {
			remotePath := fmt.Sprintf("snapshots/%s/%s", sanitize(event.Camera.ID), name)
			url, err := r.uploader.UploadFile(path, remotePath)
			if err != nil {
				log.Printf("[alert] error uploading snapshot %s: %v", name, err)
				return
			}
			if err := r.db.UpdateSnapshotRemoteURL(snapshot.ID, url); err != nil {
				log.Printf("[alert] error updating snapshot url: %v", err)
			}
		}()
	}
	return path, nil
}

// playSound plays the alert sound through ffplay, skipping when a previous
// playback is still running.
func (r *Recorder) playSound(settings config.Settings) {
	if !r.soundPlaying.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer r.soundPlaying.Store(false)
		cmd := exec.Command(r.cfg.AlertPlayerPath,
			"-nodisp", "-autoexit", "-loglevel", "quiet",
			"-volume", fmt.Sprintf("%d", int(settings.AlertSoundVolume*100)),
			settings.AlertSoundFile)
		if err := cmd.Run(); err != nil {
			log.Printf("[alert] error playing sound: %v", err)
		}
	}()
}

func (r *Recorder) pushNotify(event Event, labels string) {
	payload, err := json.Marshal(map[string]interface{}{
		"camera_id":    event.Camera.ID,
		"camera_title": event.Camera.Title,
		"location":     event.Camera.Location,
		"labels":       labels,
		"detected_at":  event.At.Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	go func() {
		resp, err := r.httpClient.Post(r.cfg.PushWebhookURL, "application/json", bytes.NewReader(payload))
		if err != nil {
			log.Printf("[alert] error pushing notification: %v", err)
			return
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			log.Printf("[alert] push notification returned status %d", resp.StatusCode)
		}
	}()
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	replacer := strings.NewReplacer(" ", "-", "/", "-", "\\", "-", ":", "-", ",", "+")
	s = replacer.Replace(s)
	if s == "" {
		s = "unknown"
	}
	return s
}
