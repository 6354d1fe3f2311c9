package capture

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"gocv.io/x/gocv"
)

type fakeHandle struct {
	reads     int
	failAfter int // fail reads once this many succeeded; -1 never fails
	blockedOn chan struct{}
	closed    chan struct{}
}

func newFakeHandle(failAfter int) *fakeHandle {
	return &fakeHandle{failAfter: failAfter, closed: make(chan struct{})}
}

func (h *fakeHandle) Read(dst *gocv.Mat) error {
	if h.blockedOn != nil {
		// Simulate a decoder stuck on a dead source until Close unblocks it.
		<-h.blockedOn
		return fmt.Errorf("stream went away")
	}
	h.reads++
	if h.failAfter >= 0 && h.reads > h.failAfter {
		return fmt.Errorf("read failed")
	}
	return nil
}

func (h *fakeHandle) Close() error {
	select {
	case <-h.closed:
	default:
		close(h.closed)
		if h.blockedOn != nil {
			close(h.blockedOn)
		}
	}
	return nil
}

type fakeBackend struct {
	handles   []*fakeHandle
	openErr   error
	opened    int
	nextBlock bool
}

func (b *fakeBackend) Open(url string) (Handle, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	h := newFakeHandle(-1)
	if b.nextBlock {
		h.blockedOn = make(chan struct{})
	}
	b.handles = append(b.handles, h)
	b.opened++
	return h, nil
}

func TestOpenFailureReturnsCaptureUnavailable(t *testing.T) {
	backend := &fakeBackend{openErr: fmt.Errorf("connection refused")}
	s := NewSession(backend, 0)

	err := s.Open("rtsp://dead.host/stream")
	if !errors.Is(err, ErrCaptureUnavailable) {
		t.Fatalf("expected ErrCaptureUnavailable, got %v", err)
	}
	if s.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", s.State())
	}
}

func TestReadFailureReleasesHandle(t *testing.T) {
	backend := &fakeBackend{}
	s := NewSession(backend, 0)

	if err := s.Open("rtsp://host/stream"); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	backend.handles[0].failAfter = 2

	var mat gocv.Mat
	if err := s.Read(&mat); err != nil {
		t.Fatalf("first read failed: %v", err)
	}
	if err := s.Read(&mat); err != nil {
		t.Fatalf("second read failed: %v", err)
	}
	err := s.Read(&mat)
	if !errors.Is(err, ErrReadFailure) {
		t.Fatalf("expected ErrReadFailure, got %v", err)
	}
	if s.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", s.State())
	}
	if s.OpenCount() != s.ReleaseCount() {
		t.Errorf("handle leak: %d opens, %d releases", s.OpenCount(), s.ReleaseCount())
	}
}

func TestWatchdogBreaksBlockedRead(t *testing.T) {
	backend := &fakeBackend{nextBlock: true}
	s := NewSession(backend, 50*time.Millisecond)

	if err := s.Open("rtsp://host/stream"); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	start := time.Now()
	var mat gocv.Mat
	err := s.Read(&mat)
	if !errors.Is(err, ErrReadFailure) {
		t.Fatalf("expected ErrReadFailure, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("watchdog took %v to fire", elapsed)
	}
	if s.OpenCount() != s.ReleaseCount() {
		t.Errorf("handle leak: %d opens, %d releases", s.OpenCount(), s.ReleaseCount())
	}
}

func TestReopenReleasesPreviousHandle(t *testing.T) {
	backend := &fakeBackend{}
	s := NewSession(backend, 0)

	if err := s.Open("rtsp://host/stream1"); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := s.Open("rtsp://host/stream2"); err != nil {
		t.Fatalf("reopen failed: %v", err)
	}

	select {
	case <-backend.handles[0].closed:
	default:
		t.Error("first handle was not closed on reopen")
	}
	if s.OpenCount() != 2 || s.ReleaseCount() != 1 {
		t.Errorf("opens=%d releases=%d, want 2/1", s.OpenCount(), s.ReleaseCount())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	backend := &fakeBackend{}
	s := NewSession(backend, 0)

	if err := s.Open("rtsp://host/stream"); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	s.Close()
	s.Close()

	if s.State() != StateClosed {
		t.Errorf("state = %v, want closed", s.State())
	}
	if err := s.Open("rtsp://host/stream"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("open after close = %v, want ErrSessionClosed", err)
	}
	var mat gocv.Mat
	if err := s.Read(&mat); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("read after close = %v, want ErrSessionClosed", err)
	}
	if s.OpenCount() != s.ReleaseCount() {
		t.Errorf("handle leak: %d opens, %d releases", s.OpenCount(), s.ReleaseCount())
	}
}
