package config

import (
	"encoding/json"
	"fmt"
	"image"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
)

// Resolution labels accepted by the settings API, mapped to output sizes.
var resolutions = map[string]image.Point{
	"144p":  {X: 256, Y: 144},
	"240p":  {X: 426, Y: 240},
	"360p":  {X: 640, Y: 360},
	"480p":  {X: 854, Y: 480},
	"720p":  {X: 1280, Y: 720},
	"1080p": {X: 1920, Y: 1080},
}

// ResolutionSize returns the pixel dimensions for a resolution label.
func ResolutionSize(label string) (image.Point, bool) {
	p, ok := resolutions[label]
	return p, ok
}

// Settings is one immutable snapshot of the runtime streaming settings.
// Workers read a snapshot per frame; the settings API installs a new snapshot
// atomically, so a frame never observes a half-applied update.
type Settings struct {
	DetectionEnabled bool    `json:"detection_enabled"`
	ShowBoxes        bool    `json:"show_boxes"`
	ShowConfidence   bool    `json:"show_confidence"`
	MarkScreen       bool    `json:"mark_screen"` // Full-frame border instead of per-object boxes
	Confidence       float64 `json:"confidence"`
	Resolution       string  `json:"resolution"`
	Pixelation       bool    `json:"pixelation"`
	FrameSkip        int     `json:"frame_skip"` // 0 = process every frame, N>0 = every Nth
	MaxFrameRate     int     `json:"max_frame_rate"`
	ModelVersion     string  `json:"model_version"`
	JPEGQuality      int     `json:"jpeg_quality"`

	ShowMetrics        bool `json:"show_metrics"`
	MetricsRefreshSecs int  `json:"metrics_refresh_secs"`

	RecordingEnabled bool `json:"recording_enabled"` // Segment archiver on/off

	AlertImageEnabled  bool    `json:"alert_image_enabled"` // Save snapshot on trigger
	AlertLogEnabled    bool    `json:"alert_log_enabled"`   // Insert alert row on trigger
	AlertSoundEnabled  bool    `json:"alert_sound_enabled"`
	AlertSoundFile     string  `json:"alert_sound_file"`
	AlertSoundVolume   float64 `json:"alert_sound_volume"`
	AlertPushEnabled   bool    `json:"alert_push_enabled"`
	AlertSerialEnabled bool    `json:"alert_serial_enabled"`
	AlertDelaySecs     int     `json:"alert_delay_secs"` // Debounce window per camera
}

// DefaultSettings returns the settings used before any update is applied.
func DefaultSettings() Settings {
	return Settings{
		DetectionEnabled:   true,
		ShowBoxes:          true,
		ShowConfidence:     true,
		MarkScreen:         false,
		Confidence:         0.5,
		Resolution:         "480p",
		Pixelation:         false,
		FrameSkip:          0,
		MaxFrameRate:       15,
		ModelVersion:       "yolo11n",
		JPEGQuality:        70,
		ShowMetrics:        false,
		MetricsRefreshSecs: 1,
		RecordingEnabled:   false,
		AlertImageEnabled:  true,
		AlertLogEnabled:    true,
		AlertSoundEnabled:  false,
		AlertSoundFile:     "alert.wav",
		AlertSoundVolume:   1.0,
		AlertPushEnabled:   false,
		AlertSerialEnabled: false,
		AlertDelaySecs:     10,
	}
}

// Persister stores settings keys so they survive restarts.
type Persister interface {
	SetSetting(key, value string) error
	GetAllSettings() (map[string]string, error)
}

// SettingsStore holds the current settings snapshot. Reads are a single
// atomic pointer load; updates build a modified copy and swap it in.
type SettingsStore struct {
	mu        sync.Mutex // serializes writers; readers stay lock-free
	current   atomic.Pointer[Settings]
	persister Persister
}

// NewSettingsStore creates a store seeded with defaults, then overlays any
// settings previously persisted through the given persister (may be nil).
func NewSettingsStore(persister Persister) *SettingsStore {
	s := &SettingsStore{persister: persister}
	initial := DefaultSettings()
	s.current.Store(&initial)

	if persister != nil {
		saved, err := persister.GetAllSettings()
		if err != nil {
			log.Printf("Warning: failed to load persisted settings: %v", err)
		} else if len(saved) > 0 {
			raw := make(map[string]json.RawMessage, len(saved))
			for k, v := range saved {
				raw[k] = json.RawMessage(v)
			}
			applied, rejected := s.apply(raw, false)
			if len(rejected) > 0 {
				log.Printf("Warning: ignored %d invalid persisted settings: %v", len(rejected), rejected)
			}
			log.Printf("Restored %d persisted settings", len(applied))
		}
	}
	return s
}

// Get returns the current settings snapshot.
func (s *SettingsStore) Get() Settings {
	return *s.current.Load()
}

// Update applies a raw JSON settings payload key by key. Invalid keys are
// rejected individually with a reason; every valid key is applied. Returns
// the applied key set and the rejections.
func (s *SettingsStore) Update(payload map[string]json.RawMessage) (applied []string, rejected map[string]string) {
	return s.apply(payload, true)
}

func (s *SettingsStore) apply(payload map[string]json.RawMessage, persist bool) (applied []string, rejected map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rejected = make(map[string]string)
	next := *s.current.Load()

	for key, raw := range payload {
		if err := applyKey(&next, key, raw); err != nil {
			rejected[key] = err.Error()
			continue
		}
		applied = append(applied, key)
		if persist && s.persister != nil {
			if err := s.persister.SetSetting(key, string(raw)); err != nil {
				log.Printf("Warning: failed to persist setting %s: %v", key, err)
			}
		}
	}

	if len(applied) > 0 {
		s.current.Store(&next)
	}
	return applied, rejected
}

func applyKey(next *Settings, key string, raw json.RawMessage) error {
	switch key {
	case "detection_enabled":
		return decodeBool(raw, &next.DetectionEnabled)
	case "show_boxes":
		return decodeBool(raw, &next.ShowBoxes)
	case "show_confidence":
		return decodeBool(raw, &next.ShowConfidence)
	case "mark_screen":
		return decodeBool(raw, &next.MarkScreen)
	case "pixelation":
		return decodeBool(raw, &next.Pixelation)
	case "show_metrics":
		return decodeBool(raw, &next.ShowMetrics)
	case "recording_enabled":
		return decodeBool(raw, &next.RecordingEnabled)
	case "alert_image_enabled":
		return decodeBool(raw, &next.AlertImageEnabled)
	case "alert_log_enabled":
		return decodeBool(raw, &next.AlertLogEnabled)
	case "alert_sound_enabled":
		return decodeBool(raw, &next.AlertSoundEnabled)
	case "alert_push_enabled":
		return decodeBool(raw, &next.AlertPushEnabled)
	case "alert_serial_enabled":
		return decodeBool(raw, &next.AlertSerialEnabled)
	case "confidence":
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("expected number")
		}
		if v < 0 || v > 1 {
			return fmt.Errorf("confidence must be between 0 and 1")
		}
		next.Confidence = v
	case "alert_sound_volume":
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("expected number")
		}
		if v < 0 || v > 1 {
			return fmt.Errorf("volume must be between 0 and 1")
		}
		next.AlertSoundVolume = v
	case "resolution":
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("expected string")
		}
		if _, ok := resolutions[v]; !ok {
			return fmt.Errorf("unknown resolution %q", v)
		}
		next.Resolution = v
	case "model_version":
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("expected string")
		}
		if v == "" {
			return fmt.Errorf("model version must not be empty")
		}
		next.ModelVersion = v
	case "alert_sound_file":
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("expected string")
		}
		next.AlertSoundFile = v
	case "frame_skip":
		return decodeIntRange(raw, &next.FrameSkip, 0, 120)
	case "max_frame_rate":
		return decodeIntRange(raw, &next.MaxFrameRate, 1, 120)
	case "jpeg_quality":
		return decodeIntRange(raw, &next.JPEGQuality, 1, 100)
	case "metrics_refresh_secs":
		return decodeIntRange(raw, &next.MetricsRefreshSecs, 1, 60)
	case "alert_delay_secs":
		return decodeIntRange(raw, &next.AlertDelaySecs, 0, 3600)
	default:
		return fmt.Errorf("unknown setting")
	}
	return nil
}

func decodeBool(raw json.RawMessage, dst *bool) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("expected boolean")
	}
	return nil
}

func decodeIntRange(raw json.RawMessage, dst *int, min, max int) error {
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		// Settings pages sometimes submit numbers as strings
		var s string
		if err2 := json.Unmarshal(raw, &s); err2 != nil {
			return fmt.Errorf("expected integer")
		}
		n, err2 := strconv.Atoi(s)
		if err2 != nil {
			return fmt.Errorf("expected integer")
		}
		v = n
	}
	if v < min || v > max {
		return fmt.Errorf("value must be between %d and %d", min, max)
	}
	*dst = v
	return nil
}
