package stream

import (
	"log"
	"sync"

	"gocv.io/x/gocv"

	"github.com/BrianShiroe/calbi-luka/alert"
	"github.com/BrianShiroe/calbi-luka/archive"
	"github.com/BrianShiroe/calbi-luka/capture"
	"github.com/BrianShiroe/calbi-luka/config"
	"github.com/BrianShiroe/calbi-luka/detect"
	"github.com/BrianShiroe/calbi-luka/source"
)

// Manager owns the live sessions, one per camera. Viewers subscribing to
// the same camera share a single decode loop.
type Manager struct {
	cfg      *config.Config
	settings *config.SettingsStore
	resolver *source.Resolver
	detector *detect.Adapter
	recorder *alert.Recorder
	archiver *archive.Archiver

	backend    capture.Backend
	cpuPercent func() float64

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager wires the manager. detector, archiver and cpuPercent may be
// nil when those features are not configured.
func NewManager(cfg *config.Config, settings *config.SettingsStore, resolver *source.Resolver,
	detector *detect.Adapter, recorder *alert.Recorder, archiver *archive.Archiver,
	cpuPercent func() float64) *Manager {
	return &Manager{
		cfg:        cfg,
		settings:   settings,
		resolver:   resolver,
		detector:   detector,
		recorder:   recorder,
		archiver:   archiver,
		cpuPercent: cpuPercent,
		sessions:   make(map[string]*Session),
	}
}

// SetBackend overrides the capture backend. Only used by tests.
func (m *Manager) SetBackend(b capture.Backend) {
	m.backend = b
}

// Subscribe attaches a viewer to the camera's session, starting the session
// when it does not exist yet. A session whose URL changed is replaced.
func (m *Manager) Subscribe(camera alert.Camera, url string) *Viewer {
	m.mu.Lock()
	s, ok := m.sessions[camera.ID]
	if ok && s.url != url {
		log.Printf("[stream] source for %s changed, restarting session", camera.ID)
		m.mu.Unlock()
		s.cancel()
		<-s.done
		m.mu.Lock()
		s, ok = m.sessions[camera.ID]
	}
	if !ok {
		s = newSession(m, camera, url)
		m.sessions[camera.ID] = s
		go s.run()
	}
	v := s.attach()
	m.mu.Unlock()

	if m.archiver != nil {
		if err := m.archiver.UpdateMetadata(archive.Metadata{
			CameraID: camera.ID,
			Title:    camera.Title,
			Location: camera.Location,
		}); err != nil {
			log.Printf("[stream] error writing metadata for %s: %v", camera.ID, err)
		}
	}
	return v
}

// Stop ends the camera's session. Returns false when no session existed.
// Calling Stop twice is harmless.
func (m *Manager) Stop(cameraID string) bool {
	m.mu.RLock()
	s, ok := m.sessions[cameraID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	s.cancel()
	<-s.done
	return true
}

// StopAll ends every session, used during shutdown.
func (m *Manager) StopAll() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()
	for _, s := range sessions {
		s.cancel()
		<-s.done
	}
}

// ActiveCount returns the number of live sessions.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ActiveStreams lists the live sessions with their viewer counts.
func (m *Manager) ActiveStreams() []StreamInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	infos := make([]StreamInfo, 0, len(m.sessions))
	for id, s := range m.sessions {
		infos = append(infos, StreamInfo{
			CameraID: id,
			Title:    s.camera.Title,
			Location: s.camera.Location,
			Viewers:  s.viewerCount(),
		})
	}
	return infos
}

// StreamInfo describes one live session.
type StreamInfo struct {
	CameraID string `json:"camera_id"`
	Title    string `json:"title"`
	Location string `json:"location"`
	Viewers  int    `json:"viewers"`
}

func (m *Manager) remove(cameraID string, s *Session) {
	m.mu.Lock()
	if m.sessions[cameraID] == s {
		delete(m.sessions, cameraID)
	}
	m.mu.Unlock()
}

func (m *Manager) modelVersion() string {
	if m.detector == nil {
		return ""
	}
	return m.detector.Version()
}

func (m *Manager) detect(frame *gocv.Mat, settings *config.Settings) ([]detect.Detection, error) {
	if !settings.DetectionEnabled || m.detector == nil {
		return nil, nil
	}
	return m.detector.Detect(*frame, settings.Confidence)
}
