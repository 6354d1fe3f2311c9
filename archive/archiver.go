package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BrianShiroe/calbi-luka/config"
)

// ErrArchiverWrite reports that a frame could not be handed to ffmpeg.
var ErrArchiverWrite = errors.New("archive: write failed")

// Metadata describes one camera's archive folder.
type Metadata struct {
	CameraID  string    `json:"camera_id"`
	Title     string    `json:"title"`
	Location  string    `json:"location"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Archiver persists a rolling HLS archive per camera. Each camera gets a
// lazily spawned ffmpeg process fed JPEG frames over stdin; frames are
// queued so a slow encoder never stalls the stream loop.
type Archiver struct {
	cfg *config.Config

	mu      sync.Mutex
	writers map[string]*cameraWriter
}

type cameraWriter struct {
	cameraID string
	dir      string
	queue    chan []byte
	done     chan struct{}

	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// NewArchiver creates an archiver writing under cfg.PlaybackPath.
func NewArchiver(cfg *config.Config) *Archiver {
	return &Archiver{
		cfg:     cfg,
		writers: make(map[string]*cameraWriter),
	}
}

// Write queues one JPEG frame for the camera's archive. Returns
// ErrArchiverWrite when the queue is full, which the caller may ignore
// since dropped archive frames only shorten the recording.
func (a *Archiver) Write(cameraID string, frame []byte) error {
	a.mu.Lock()
	w, ok := a.writers[cameraID]
	if !ok {
		w = a.newWriter(cameraID)
		a.writers[cameraID] = w
	}
	a.mu.Unlock()

	select {
	case w.queue <- frame:
		return nil
	default:
		return fmt.Errorf("%w: queue full for %s", ErrArchiverWrite, cameraID)
	}
}

// UpdateMetadata writes the camera's metadata.json, logging when the title
// or location changed since the last write.
func (a *Archiver) UpdateMetadata(meta Metadata) error {
	dir := a.cameraDir(meta.CameraID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	path := filepath.Join(dir, "metadata.json")

	if data, err := os.ReadFile(path); err == nil {
		var prev Metadata
		if json.Unmarshal(data, &prev) == nil {
			if prev.Title != meta.Title || prev.Location != meta.Location {
				log.Printf("[archive] camera %s renamed: %q/%q -> %q/%q",
					meta.CameraID, prev.Title, prev.Location, meta.Title, meta.Location)
			} else {
				return nil
			}
		}
	}

	meta.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Stop shuts down the camera's ffmpeg process. Safe to call when no writer
// exists.
func (a *Archiver) Stop(cameraID string) {
	a.mu.Lock()
	w, ok := a.writers[cameraID]
	if ok {
		delete(a.writers, cameraID)
	}
	a.mu.Unlock()
	if ok {
		close(w.queue)
		<-w.done
	}
}

// StopAll shuts down every writer.
func (a *Archiver) StopAll() {
	a.mu.Lock()
	writers := a.writers
	a.writers = make(map[string]*cameraWriter)
	a.mu.Unlock()
	for _, w := range writers {
		close(w.queue)
		<-w.done
	}
}

// Prune removes segment files older than the cutoff across all camera
// folders and returns how many files were deleted.
func (a *Archiver) Prune(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(a.cfg.PlaybackPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(a.cfg.PlaybackPath, entry.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if !strings.HasSuffix(f.Name(), ".ts") {
				continue
			}
			info, err := f.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			if err := os.Remove(filepath.Join(dir, f.Name())); err != nil {
				log.Printf("[archive] error removing %s: %v", f.Name(), err)
				continue
			}
			removed++
		}
	}
	return removed, nil
}

func (a *Archiver) cameraDir(cameraID string) string {
	safe := strings.NewReplacer("/", "-", "\\", "-", " ", "-").Replace(cameraID)
	return filepath.Join(a.cfg.PlaybackPath, safe)
}

func (a *Archiver) newWriter(cameraID string) *cameraWriter {
	w := &cameraWriter{
		cameraID: cameraID,
		dir:      a.cameraDir(cameraID),
		queue:    make(chan []byte, a.cfg.ArchiveQueueSize),
		done:     make(chan struct{}),
	}
	go a.run(w)
	return w
}

// run drains the queue into ffmpeg, respawning the process when the pipe
// breaks.
func (a *Archiver) run(w *cameraWriter) {
	defer close(w.done)
	defer a.stopProcess(w)

	for frame := range w.queue {
		if w.stdin == nil {
			if err := a.startProcess(w); err != nil {
				log.Printf("[archive] error starting ffmpeg for %s: %v", w.cameraID, err)
				time.Sleep(2 * time.Second)
				continue
			}
		}
		if _, err := w.stdin.Write(frame); err != nil {
			log.Printf("[archive] %v for %s: %v, respawning ffmpeg", ErrArchiverWrite, w.cameraID, err)
			a.stopProcess(w)
		}
	}
}

func (a *Archiver) startProcess(w *cameraWriter) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return err
	}

	playlist := filepath.Join(w.dir, "index.m3u8")
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "image2pipe",
		"-framerate", "10",
		"-i", "pipe:0",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-pix_fmt", "yuv420p",
		"-f", "hls",
		"-hls_time", fmt.Sprintf("%d", a.cfg.SegmentSeconds),
		"-hls_list_size", fmt.Sprintf("%d", a.cfg.SegmentKeep),
		"-hls_flags", "append_list",
		"-hls_segment_filename", filepath.Join(w.dir, "segment_%Y%m%d_%H%M%S.ts"),
		"-strftime", "1",
		playlist,
	}

	cmd := exec.Command(a.cfg.FFmpegPath, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	w.cmd = cmd
	w.stdin = stdin
	log.Printf("[archive] started ffmpeg for %s -> %s", w.cameraID, playlist)
	return nil
}

func (a *Archiver) stopProcess(w *cameraWriter) {
	if w.stdin != nil {
		w.stdin.Close()
		w.stdin = nil
	}
	if w.cmd != nil {
		w.cmd.Wait()
		w.cmd = nil
	}
}
