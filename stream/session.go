package stream

import (
	"context"
	"log"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/BrianShiroe/calbi-luka/alert"
	"github.com/BrianShiroe/calbi-luka/capture"
	"github.com/BrianShiroe/calbi-luka/process"
)

const viewerBufferSize = 1

// Viewer is one attached client of a session. Frames() yields JPEG frames
// until the viewer detaches or the session ends.
type Viewer struct {
	session *Session
	frames  chan []byte
	closed  sync.Once
}

// Frames returns the viewer's frame channel. The channel is closed when the
// session ends.
func (v *Viewer) Frames() <-chan []byte {
	return v.frames
}

// Close detaches the viewer. The session stops once its last viewer
// detaches. Safe to call more than once.
func (v *Viewer) Close() {
	v.session.detach(v)
}

// Session decodes one camera source and fans frames out to its viewers.
type Session struct {
	manager *Manager
	camera  alert.Camera
	url     string

	ctx    context.Context
	cancel context.CancelFunc

	capture   *capture.Session
	overlay   *process.Overlay
	processor *process.Processor

	mu      sync.Mutex
	viewers map[*Viewer]struct{}

	cleanup sync.Once
	done    chan struct{}

	started time.Time
	frames  int64 // total frames read since the session started
}

func newSession(m *Manager, camera alert.Camera, url string) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	overlay := process.NewOverlay(process.OverlaySources{
		CPUPercent:    m.cpuPercent,
		ActiveStreams: m.ActiveCount,
		ModelVersion:  m.modelVersion,
	})
	return &Session{
		manager:   m,
		camera:    camera,
		url:       url,
		ctx:       ctx,
		cancel:    cancel,
		capture:   capture.NewSession(m.backend, m.cfg.CaptureReadTimeout),
		overlay:   overlay,
		processor: process.NewProcessor(overlay),
		viewers:   make(map[*Viewer]struct{}),
		done:      make(chan struct{}),
		started:   time.Now(),
	}
}

func (s *Session) attach() *Viewer {
	v := &Viewer{
		session: s,
		frames:  make(chan []byte, viewerBufferSize),
	}
	s.mu.Lock()
	s.viewers[v] = struct{}{}
	s.mu.Unlock()
	return v
}

func (s *Session) detach(v *Viewer) {
	s.mu.Lock()
	_, present := s.viewers[v]
	if present {
		delete(s.viewers, v)
		v.closed.Do(func() { close(v.frames) })
	}
	remaining := len(s.viewers)
	s.mu.Unlock()

	if present && remaining == 0 {
		s.cancel()
	}
}

func (s *Session) viewerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.viewers)
}

// broadcast delivers a frame to every viewer, dropping the stale frame when
// a viewer's buffer is full so slow clients always see the latest image.
func (s *Session) broadcast(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for v := range s.viewers {
		select {
		case v.frames <- frame:
		default:
			select {
			case <-v.frames:
			default:
			}
			select {
			case v.frames <- frame:
			default:
			}
		}
	}
}

// run is the session's decode loop. It reconnects with a cooldown between
// attempts and gives up after the configured retry limit.
func (s *Session) run() {
	defer s.finish()

	attempts := 0
	for s.ctx.Err() == nil {
		if attempts > 0 {
			s.broadcast(process.Placeholder())
			if attempts >= s.manager.cfg.CaptureRetryLimit {
				log.Printf("[stream] giving up on %s after %d attempts", s.camera.ID, attempts)
				return
			}
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(s.manager.cfg.CaptureRetryCooldown):
			}
		}
		attempts++

		resolved, err := s.manager.resolver.Resolve(s.ctx, s.url)
		if err != nil {
			log.Printf("[stream] error resolving source for %s: %v", s.camera.ID, err)
			continue
		}
		if err := s.capture.Open(resolved); err != nil {
			log.Printf("[stream] error opening %s: %v", s.camera.ID, err)
			continue
		}
		log.Printf("[stream] connected to %s", s.camera.ID)
		attempts = 0

		if err := s.pump(); err != nil {
			log.Printf("[stream] read loop for %s ended: %v", s.camera.ID, err)
			continue
		}
		// clean shutdown
		return
	}
}

// pump reads frames until the context ends or the source fails. A nil
// return means the session was stopped deliberately.
func (s *Session) pump() error {
	mat := gocv.NewMat()
	defer mat.Close()
	defer s.capture.Release()

	frameIdx := -1
	lastFrame := time.Now()

	for {
		select {
		case <-s.ctx.Done():
			return nil
		default:
		}

		settings := s.manager.settings.Get()

		readStart := time.Now()
		if err := s.capture.Read(&mat); err != nil {
			return err
		}
		s.frames++

		frameIdx++
		if !ShouldProcess(frameIdx, settings.FrameSkip) {
			continue
		}

		procStart := time.Now()
		detections, err := s.manager.detect(&mat, &settings)
		if err != nil {
			log.Printf("[stream] detection error on %s: %v", s.camera.ID, err)
		}

		jpeg, err := s.processor.Apply(&mat, &settings, detections)
		if err != nil {
			log.Printf("[stream] processing error on %s: %v", s.camera.ID, err)
			continue
		}
		procMS := float64(time.Since(procStart).Milliseconds())
		// Lag is the full capture-to-encode wall time for this frame.
		lagMS := float64(time.Since(readStart).Milliseconds())

		if len(detections) > 0 {
			s.manager.recorder.Record(alert.Event{
				Camera:     s.camera,
				Detections: detections,
				Frame:      jpeg,
				At:         time.Now(),
			})
		}
		if settings.RecordingEnabled && s.manager.archiver != nil {
			if err := s.manager.archiver.Write(s.camera.ID, jpeg); err != nil {
				log.Printf("[stream] %v", err)
			}
		}

		s.broadcast(jpeg)

		// pace delivery to the configured frame rate
		if settings.MaxFrameRate > 0 {
			interval := time.Second / time.Duration(settings.MaxFrameRate)
			if elapsed := time.Since(lastFrame); elapsed < interval {
				select {
				case <-s.ctx.Done():
					return nil
				case <-time.After(interval - elapsed):
				}
			}
		}

		lastFrame = time.Now()
		s.overlay.SetStats(cumulativeFPS(s.frames, time.Since(s.started)), procMS, lagMS)
	}
}

// cumulativeFPS is total frames over total elapsed time, the frame rate the
// stream has sustained since it started rather than an instantaneous sample.
func cumulativeFPS(frames int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(frames) / elapsed.Seconds()
}

func (s *Session) finish() {
	s.cleanup.Do(func() {
		s.cancel()
		s.capture.Close()
		if s.manager.archiver != nil {
			s.manager.archiver.Stop(s.camera.ID)
		}
		s.manager.remove(s.camera.ID, s)

		s.mu.Lock()
		for v := range s.viewers {
			v.closed.Do(func() { close(v.frames) })
			delete(s.viewers, v)
		}
		s.mu.Unlock()
		close(s.done)
		log.Printf("[stream] session %s closed", s.camera.ID)
	})
}

// ShouldProcess reports whether the frame at idx survives frame skipping.
// With skip N only every Nth frame is processed; zero or negative keeps
// them all.
func ShouldProcess(idx, skip int) bool {
	if skip <= 0 {
		return true
	}
	return idx%skip == 0
}
