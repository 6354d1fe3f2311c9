package detect

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"
)

// Frame is the pixel buffer a model runs inference on.
type Frame = gocv.Mat

const (
	dnnInputSize    = 416
	nmsOverlapLimit = 0.4
)

// DNNLoader loads YOLO-family models through OpenCV's DNN module. A version
// identifier maps to <dir>/<version>.weights, .cfg and .names.
type DNNLoader struct {
	dir string
}

// NewDNNLoader creates a loader rooted at the given model directory.
func NewDNNLoader(dir string) *DNNLoader {
	return &DNNLoader{dir: dir}
}

// Load reads the network and its class names. Either everything loads or
// nothing does.
func (l *DNNLoader) Load(version string) (Model, error) {
	weights := filepath.Join(l.dir, version+".weights")
	cfg := filepath.Join(l.dir, version+".cfg")
	names := filepath.Join(l.dir, version+".names")

	for _, path := range []string{weights, cfg, names} {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("model file missing: %s", path)
		}
	}

	classNames, err := readClassNames(names)
	if err != nil {
		return nil, err
	}

	net := gocv.ReadNet(weights, cfg)
	if net.Empty() {
		return nil, fmt.Errorf("failed to read network %s", version)
	}

	return &dnnModel{version: version, net: net, classNames: classNames}, nil
}

func readClassNames(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read class names: %v", err)
	}
	var names []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("class name file %s is empty", path)
	}
	return names, nil
}

type dnnModel struct {
	version    string
	net        gocv.Net
	classNames []string
}

func (m *dnnModel) Version() string { return m.version }

// Infer runs one forward pass and returns detections above the threshold,
// de-duplicated with non-maximum suppression. Box coordinates are in the
// input frame's pixel space.
func (m *dnnModel) Infer(frame Frame, threshold float64) ([]Detection, error) {
	if frame.Empty() {
		return nil, nil
	}

	blob := gocv.BlobFromImage(frame, 1.0/255.0,
		image.Pt(dnnInputSize, dnnInputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	m.net.SetInput(blob, "")
	output := m.net.Forward("")
	defer output.Close()

	frameW := float32(frame.Cols())
	frameH := float32(frame.Rows())

	var boxes []image.Rectangle
	var scores []float32
	var classIDs []int

	// Each output row is [cx, cy, w, h, objectness, class scores...],
	// coordinates normalized to the input size
	for i := 0; i < output.Rows(); i++ {
		row := output.RowRange(i, i+1)
		data := row.Clone()
		row.Close()

		classScores := data.ColRange(5, data.Cols())
		_, maxVal, _, maxLoc := gocv.MinMaxLoc(classScores)
		classScores.Close()

		if float64(maxVal) < threshold {
			data.Close()
			continue
		}

		cx := data.GetFloatAt(0, 0) * frameW
		cy := data.GetFloatAt(0, 1) * frameH
		w := data.GetFloatAt(0, 2) * frameW
		h := data.GetFloatAt(0, 3) * frameH
		data.Close()

		left := int(cx - w/2)
		top := int(cy - h/2)
		boxes = append(boxes, image.Rect(left, top, left+int(w), top+int(h)))
		scores = append(scores, maxVal)
		classIDs = append(classIDs, maxLoc.X)
	}

	if len(boxes) == 0 {
		return nil, nil
	}

	var dets []Detection
	for _, idx := range gocv.NMSBoxes(boxes, scores, float32(threshold), nmsOverlapLimit) {
		label := "unknown"
		if classIDs[idx] < len(m.classNames) {
			label = m.classNames[classIDs[idx]]
		}
		dets = append(dets, Detection{
			Label:      label,
			Confidence: float64(scores[idx]),
			Box:        boxes[idx],
		})
	}
	return dets, nil
}

func (m *dnnModel) Close() error {
	return m.net.Close()
}
