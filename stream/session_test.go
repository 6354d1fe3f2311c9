package stream

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/BrianShiroe/calbi-luka/alert"
	"github.com/BrianShiroe/calbi-luka/capture"
	"github.com/BrianShiroe/calbi-luka/config"
	"github.com/BrianShiroe/calbi-luka/source"
)

func TestShouldProcess(t *testing.T) {
	tests := []struct {
		name string
		skip int
		keep []int // indexes expected to be processed among 0..9
	}{
		{"zero keeps all", 0, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}},
		{"negative keeps all", -1, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}},
		{"one keeps all", 1, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}},
		{"every 2nd", 2, []int{0, 2, 4, 6, 8}},
		{"every 3rd", 3, []int{0, 3, 6, 9}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []int
			for idx := 0; idx < 10; idx++ {
				if ShouldProcess(idx, tt.skip) {
					got = append(got, idx)
				}
			}
			if len(got) != len(tt.keep) {
				t.Fatalf("processed %v, want %v", got, tt.keep)
			}
			for i := range got {
				if got[i] != tt.keep[i] {
					t.Fatalf("processed %v, want %v", got, tt.keep)
				}
			}
		})
	}
}

func testManager() *Manager {
	cfg := &config.Config{}
	settings := config.NewSettingsStore(nil)
	return NewManager(cfg, settings, source.NewResolver(""), nil, nil, nil, nil)
}

func TestStopUnknownCamera(t *testing.T) {
	m := testManager()
	if m.Stop("nope") {
		t.Error("stopping an unknown camera should report false")
	}
}

func TestActiveCountStartsAtZero(t *testing.T) {
	m := testManager()
	if got := m.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount = %d, want 0", got)
	}
	if streams := m.ActiveStreams(); len(streams) != 0 {
		t.Errorf("ActiveStreams = %v, want empty", streams)
	}
}

// scriptedBackend is a capture backend whose connection behavior is set per
// test: the first failOpens opens fail (-1 means all of them), and each
// handle serves readsPerHandle frames before erroring (0 means forever).
type scriptedBackend struct {
	mu             sync.Mutex
	opens          int
	closes         int
	failOpens      int
	readsPerHandle int
}

func (b *scriptedBackend) Open(url string) (capture.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opens++
	if b.failOpens < 0 || b.opens <= b.failOpens {
		return nil, fmt.Errorf("connection refused")
	}
	return &scriptedHandle{backend: b, maxReads: b.readsPerHandle}, nil
}

func (b *scriptedBackend) counts() (opens, closes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opens, b.closes
}

type scriptedHandle struct {
	backend  *scriptedBackend
	reads    int
	maxReads int
}

func (h *scriptedHandle) Read(dst *gocv.Mat) error {
	if h.maxReads > 0 && h.reads >= h.maxReads {
		return fmt.Errorf("stream ended")
	}
	h.reads++
	frame := gocv.NewMatWithSize(36, 64, gocv.MatTypeCV8UC3)
	defer frame.Close()
	frame.CopyTo(dst)
	return nil
}

func (h *scriptedHandle) Close() error {
	h.backend.mu.Lock()
	h.backend.closes++
	h.backend.mu.Unlock()
	return nil
}

func lifecycleManager(b capture.Backend) *Manager {
	cfg := &config.Config{
		CaptureRetryLimit:    2,
		CaptureRetryCooldown: time.Millisecond,
	}
	m := NewManager(cfg, config.NewSettingsStore(nil), source.NewResolver(""), nil, nil, nil, nil)
	m.SetBackend(b)
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func recvFrame(t *testing.T, v *Viewer) []byte {
	t.Helper()
	select {
	case frame, ok := <-v.Frames():
		if !ok {
			t.Fatal("frame channel closed unexpectedly")
		}
		return frame
	case <-time.After(5 * time.Second):
		t.Fatal("no frame arrived")
	}
	return nil
}

func TestSessionDeliversFramesToViewer(t *testing.T) {
	b := &scriptedBackend{}
	m := lifecycleManager(b)

	v := m.Subscribe(alert.Camera{ID: "cam1"}, "rtsp://example/stream")
	if got := m.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount = %d, want 1", got)
	}

	if frame := recvFrame(t, v); len(frame) == 0 {
		t.Error("received empty frame")
	}

	v.Close()
	waitFor(t, "session to end", func() bool { return m.ActiveCount() == 0 })
}

func TestSessionReconnectsAfterReadFailure(t *testing.T) {
	b := &scriptedBackend{readsPerHandle: 2}
	m := lifecycleManager(b)

	v := m.Subscribe(alert.Camera{ID: "cam1"}, "rtsp://example/stream")
	// More frames than one handle serves, so delivery must span a reconnect.
	for i := 0; i < 5; i++ {
		recvFrame(t, v)
	}

	if opens, _ := b.counts(); opens < 2 {
		t.Errorf("opens = %d, want at least 2 (no reconnect happened)", opens)
	}

	v.Close()
	waitFor(t, "session to end", func() bool { return m.ActiveCount() == 0 })
	opens, closes := b.counts()
	if opens != closes {
		t.Errorf("opens = %d, closes = %d, want equal (leaked handle)", opens, closes)
	}
}

func TestSessionGivesUpAfterRetryLimit(t *testing.T) {
	b := &scriptedBackend{failOpens: -1}
	m := lifecycleManager(b)

	v := m.Subscribe(alert.Camera{ID: "cam1"}, "rtsp://example/stream")
	// Drain placeholder frames until the session gives up and closes the
	// channel.
	waitFor(t, "frame channel to close", func() bool {
		select {
		case _, ok := <-v.Frames():
			return !ok
		default:
			return false
		}
	})

	waitFor(t, "session to end", func() bool { return m.ActiveCount() == 0 })
	opens, closes := b.counts()
	if opens != 2 {
		t.Errorf("opens = %d, want 2 (retry limit)", opens)
	}
	if closes != 0 {
		t.Errorf("closes = %d, want 0 (no handle was ever open)", closes)
	}
}

func TestLastViewerDetachStopsSession(t *testing.T) {
	b := &scriptedBackend{}
	m := lifecycleManager(b)

	camera := alert.Camera{ID: "cam1"}
	v1 := m.Subscribe(camera, "rtsp://example/stream")
	v2 := m.Subscribe(camera, "rtsp://example/stream")
	if got := m.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount = %d, want 1 (viewers share a session)", got)
	}

	v1.Close()
	recvFrame(t, v2) // session keeps running for the remaining viewer
	if got := m.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount = %d after first detach, want 1", got)
	}

	v2.Close()
	waitFor(t, "session to end", func() bool { return m.ActiveCount() == 0 })
	opens, closes := b.counts()
	if opens != closes {
		t.Errorf("opens = %d, closes = %d, want equal", opens, closes)
	}
}

func TestStopEndsSessionOnce(t *testing.T) {
	b := &scriptedBackend{}
	m := lifecycleManager(b)

	v := m.Subscribe(alert.Camera{ID: "cam1"}, "rtsp://example/stream")
	recvFrame(t, v)

	if !m.Stop("cam1") {
		t.Fatal("Stop returned false for a live session")
	}
	if m.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d after Stop, want 0", m.ActiveCount())
	}
	if m.Stop("cam1") {
		t.Error("second Stop reported an existing session")
	}

	if _, ok := <-v.Frames(); ok {
		// drain the buffered frame if one was in flight, then the channel
		// must be closed
		if _, ok := <-v.Frames(); ok {
			t.Error("viewer channel still open after Stop")
		}
	}
	opens, closes := b.counts()
	if opens != closes {
		t.Errorf("opens = %d, closes = %d, want equal", opens, closes)
	}
}

func TestCumulativeFPS(t *testing.T) {
	tests := []struct {
		name    string
		frames  int64
		elapsed time.Duration
		want    float64
	}{
		{"zero elapsed", 10, 0, 0},
		{"steady stream", 300, 10 * time.Second, 30},
		{"sub-second", 5, 500 * time.Millisecond, 10},
		{"no frames yet", 0, time.Second, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cumulativeFPS(tt.frames, tt.elapsed); got != tt.want {
				t.Errorf("cumulativeFPS(%d, %v) = %v, want %v", tt.frames, tt.elapsed, got, tt.want)
			}
		})
	}
}
