package capture

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
)

var (
	// ErrCaptureUnavailable indicates the decode handle could not be opened.
	ErrCaptureUnavailable = errors.New("capture unavailable")
	// ErrReadFailure indicates a mid-stream read error; the owning loop
	// decides whether to reconnect.
	ErrReadFailure = errors.New("frame read failure")
	// ErrSessionClosed indicates the session was closed while reading.
	ErrSessionClosed = errors.New("capture session closed")
)

// State of a capture session.
type State int32

const (
	StateClosed State = iota
	StateOpening
	StateStreaming
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateStreaming:
		return "streaming"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Handle is one open decode handle. Exactly one goroutine reads from a
// handle at a time.
type Handle interface {
	Read(dst *gocv.Mat) error
	Close() error
}

// Backend opens decode handles. The default backend wraps gocv; tests
// substitute fakes.
type Backend interface {
	Open(url string) (Handle, error)
}

// Session owns one decode handle to a source URL and tracks its lifecycle:
// Closed -> Opening -> Streaming -> (Disconnected -> Opening)* -> Closed.
// A read watchdog force-closes the handle if a blocking read produces no
// frame within the timeout, so an unresponsive source cannot hang its worker
// forever.
type Session struct {
	backend     Backend
	readTimeout time.Duration

	mu     sync.Mutex
	handle Handle
	state  atomic.Int32
	closed atomic.Bool

	// Counters for diagnostics and leak tests
	opens    atomic.Int64
	releases atomic.Int64
}

// NewSession creates a capture session using the given backend. A zero
// readTimeout disables the watchdog.
func NewSession(backend Backend, readTimeout time.Duration) *Session {
	if backend == nil {
		backend = GocvBackend{}
	}
	return &Session{backend: backend, readTimeout: readTimeout}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// OpenCount returns how many times a handle was acquired.
func (s *Session) OpenCount() int64 { return s.opens.Load() }

// ReleaseCount returns how many times a handle was released.
func (s *Session) ReleaseCount() int64 { return s.releases.Load() }

// Open acquires a decode handle for the URL. Any previously held handle is
// released first.
func (s *Session) Open(url string) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.Release()
	s.state.Store(int32(StateOpening))

	handle, err := s.backend.Open(url)
	if err != nil {
		s.state.Store(int32(StateDisconnected))
		return fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}

	s.mu.Lock()
	s.handle = handle
	s.mu.Unlock()
	s.opens.Add(1)
	s.state.Store(int32(StateStreaming))
	return nil
}

// Read reads the next frame into dst. On failure the handle is released and
// the session transitions to Disconnected; the caller re-resolves the source
// and calls Open again.
func (s *Session) Read(dst *gocv.Mat) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()
	if handle == nil {
		return ErrReadFailure
	}

	// The underlying read blocks inside the decoder with no deadline of its
	// own. Closing the handle from the watchdog makes it return.
	var watchdog *time.Timer
	var timedOut atomic.Bool
	if s.readTimeout > 0 {
		watchdog = time.AfterFunc(s.readTimeout, func() {
			timedOut.Store(true)
			log.Printf("[capture] read stalled beyond %v, forcing handle closed", s.readTimeout)
			s.Release()
		})
	}

	err := handle.Read(dst)
	if watchdog != nil {
		watchdog.Stop()
	}

	if timedOut.Load() {
		s.state.Store(int32(StateDisconnected))
		return fmt.Errorf("%w: read timeout", ErrReadFailure)
	}
	if err != nil {
		if s.closed.Load() {
			return ErrSessionClosed
		}
		s.Release()
		s.state.Store(int32(StateDisconnected))
		return fmt.Errorf("%w: %v", ErrReadFailure, err)
	}
	return nil
}

// Release drops the current handle if any. Safe to call from the watchdog
// while a read is blocked, and safe to call repeatedly.
func (s *Session) Release() {
	s.mu.Lock()
	handle := s.handle
	s.handle = nil
	s.mu.Unlock()
	if handle != nil {
		if err := handle.Close(); err != nil {
			log.Printf("[capture] error closing handle: %v", err)
		}
		s.releases.Add(1)
	}
}

// Close releases the handle and marks the session closed. Idempotent.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.Release()
	s.state.Store(int32(StateClosed))
}

// GocvBackend opens decode handles through OpenCV's VideoCapture, the same
// FFmpeg-backed path the dashboard's cameras use for RTSP, HTTP and extracted
// YouTube URLs.
type GocvBackend struct{}

type gocvHandle struct {
	cap *gocv.VideoCapture
}

// Open opens a VideoCapture for the URL.
func (GocvBackend) Open(url string) (Handle, error) {
	cap, err := gocv.OpenVideoCapture(url)
	if err != nil {
		return nil, err
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, fmt.Errorf("could not open %s", url)
	}
	// Keep the decoder buffer shallow so live view stays close to realtime
	cap.Set(gocv.VideoCaptureBufferSize, 1)
	return &gocvHandle{cap: cap}, nil
}

func (h *gocvHandle) Read(dst *gocv.Mat) error {
	if !h.cap.Read(dst) {
		return fmt.Errorf("read returned no frame")
	}
	if dst.Empty() {
		return fmt.Errorf("read returned empty frame")
	}
	return nil
}

func (h *gocvHandle) Close() error {
	return h.cap.Close()
}
