package detect

import (
	"errors"
	"fmt"
	"image"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrDetectorLoad indicates a model version could not be loaded. The
// previously active model keeps serving.
var ErrDetectorLoad = errors.New("detector load failure")

// Detection is one labeled bounding box produced for a frame. Ephemeral:
// consumed immediately by annotation and the event recorder, never persisted.
type Detection struct {
	Label      string
	Confidence float64
	Box        image.Rectangle
}

// Labels joins the labels of a detection set into the comma-separated string
// stored on alert rows. Duplicate labels collapse; order is deterministic.
func Labels(dets []Detection) string {
	seen := make(map[string]bool, len(dets))
	var labels []string
	for _, d := range dets {
		if !seen[d.Label] {
			seen[d.Label] = true
			labels = append(labels, d.Label)
		}
	}
	sort.Strings(labels)
	return strings.Join(labels, ",")
}

// Model is one loaded detection network. Side-effect free: Infer never
// mutates the model.
type Model interface {
	Version() string
	Infer(frame Frame, threshold float64) ([]Detection, error)
	Close() error
}

// Loader loads a model by version identifier.
type Loader interface {
	Load(version string) (Model, error)
}

// modelRef wraps a model with a borrow count so a hot-swap never closes a
// model still running an in-flight frame.
type modelRef struct {
	model     Model
	borrows   atomic.Int64
	retired   atomic.Bool
	closeOnce sync.Once
}

// acquire borrows the model for one inference. Fails once the ref is
// retired, since the model may already be closed by then; the caller reloads
// the current ref and tries again.
func (r *modelRef) acquire() (Model, bool) {
	r.borrows.Add(1)
	if r.retired.Load() {
		r.release()
		return nil, false
	}
	return r.model, true
}

func (r *modelRef) release() {
	if r.borrows.Add(-1) == 0 && r.retired.Load() {
		r.close()
	}
}

// retire marks the ref replaced; the model closes once the last borrow ends.
func (r *modelRef) retire() {
	r.retired.Store(true)
	if r.borrows.Load() == 0 {
		r.close()
	}
}

func (r *modelRef) close() {
	r.closeOnce.Do(func() {
		if err := r.model.Close(); err != nil {
			log.Printf("[detect] error closing retired model %s: %v", r.model.Version(), err)
		}
	})
}

// Adapter wraps the active detection model behind an atomic reference.
// Readers borrow the current model for one frame's inference; Swap installs
// a fully loaded replacement without blocking readers.
type Adapter struct {
	loader  Loader
	current atomic.Pointer[modelRef]

	// OpenCV's dnn::Net forward pass is not reentrant, so inference from
	// concurrent sessions serializes here.
	inferMu sync.Mutex
}

// NewAdapter creates an adapter with no model loaded; Detect returns no
// detections until a Swap succeeds.
func NewAdapter(loader Loader) *Adapter {
	return &Adapter{loader: loader}
}

// Version returns the active model version ("" when none is loaded).
func (a *Adapter) Version() string {
	ref := a.current.Load()
	if ref == nil {
		return ""
	}
	return ref.model.Version()
}

// Detect runs inference on the frame at the given confidence threshold.
// Without a loaded model it reports zero detections rather than an error.
func (a *Adapter) Detect(frame Frame, threshold float64) ([]Detection, error) {
	for {
		ref := a.current.Load()
		if ref == nil {
			return nil, nil
		}
		model, ok := ref.acquire()
		if !ok {
			// Lost the race with a swap; reload the fresh ref.
			continue
		}

		a.inferMu.Lock()
		dets, err := model.Infer(frame, threshold)
		a.inferMu.Unlock()
		ref.release()

		if err != nil {
			return nil, fmt.Errorf("inference failed on model %s: %v", model.Version(), err)
		}
		return dets, nil
	}
}

// Swap loads the requested version and installs it atomically. All-or-
// nothing: on load failure the running model is untouched. A no-op when the
// version is already active.
func (a *Adapter) Swap(version string) error {
	if ref := a.current.Load(); ref != nil && ref.model.Version() == version {
		return nil
	}

	model, err := a.loader.Load(version)
	if err != nil {
		return fmt.Errorf("%w: version %s: %v", ErrDetectorLoad, version, err)
	}

	next := &modelRef{model: model}
	prev := a.current.Swap(next)
	if prev != nil {
		prev.retire()
	}
	log.Printf("[detect] model %s active", version)
	return nil
}

// Close retires the active model.
func (a *Adapter) Close() {
	if prev := a.current.Swap(nil); prev != nil {
		prev.retire()
	}
}
