package process

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/BrianShiroe/calbi-luka/config"
	"github.com/BrianShiroe/calbi-luka/detect"
)

// Block size divisor applied when privacy pixelation is on.
const pixelationFactor = 16

var (
	boxColor    = color.RGBA{R: 255, G: 80, B: 80, A: 0}
	borderColor = color.RGBA{R: 255, G: 0, B: 0, A: 0}
	textColor   = color.RGBA{R: 255, G: 255, B: 255, A: 0}
)

// Processor turns raw frames into annotated JPEG bytes. It is stateless
// apart from the overlay value cache, so one instance is shared by all
// stream sessions.
type Processor struct {
	overlay *Overlay
}

// NewProcessor creates a processor. The overlay may be nil when no metrics
// panel is wanted.
func NewProcessor(overlay *Overlay) *Processor {
	return &Processor{overlay: overlay}
}

// Apply resizes, pixelates and annotates the frame in place according to
// the settings snapshot, then returns it JPEG-encoded. Detections are the
// objects found in this frame, and may be nil.
func (p *Processor) Apply(frame *gocv.Mat, settings *config.Settings, detections []detect.Detection) ([]byte, error) {
	if frame == nil || frame.Empty() {
		return nil, fmt.Errorf("process: empty frame")
	}

	target, ok := config.ResolutionSize(settings.Resolution)
	if ok && (frame.Cols() != target.X || frame.Rows() != target.Y) {
		sx := float64(target.X) / float64(frame.Cols())
		sy := float64(target.Y) / float64(frame.Rows())
		scaleDetections(detections, sx, sy)
		gocv.Resize(*frame, frame, target, 0, 0, gocv.InterpolationArea)
	}

	if settings.Pixelation {
		pixelate(frame, pixelationFactor)
	}

	if settings.DetectionEnabled && len(detections) > 0 {
		if settings.MarkScreen {
			drawBorder(frame)
		} else if settings.ShowBoxes {
			drawBoxes(frame, detections, settings.ShowConfidence)
		}
	}

	if settings.ShowMetrics && p.overlay != nil {
		p.overlay.Draw(frame, settings)
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, *frame,
		[]int{gocv.IMWriteJpegQuality, settings.JPEGQuality})
	if err != nil {
		return nil, fmt.Errorf("process: encode: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// pixelate shrinks the frame by the given factor and blows it back up with
// nearest-neighbor interpolation, producing square blocks.
func pixelate(frame *gocv.Mat, factor int) {
	w, h := frame.Cols(), frame.Rows()
	smallW, smallH := w/factor, h/factor
	if smallW < 1 {
		smallW = 1
	}
	if smallH < 1 {
		smallH = 1
	}
	small := gocv.NewMat()
	defer small.Close()
	gocv.Resize(*frame, &small, image.Pt(smallW, smallH), 0, 0, gocv.InterpolationArea)
	gocv.Resize(small, frame, image.Pt(w, h), 0, 0, gocv.InterpolationNearestNeighbor)
}

func scaleDetections(detections []detect.Detection, sx, sy float64) {
	for i := range detections {
		b := detections[i].Box
		detections[i].Box = image.Rect(
			int(float64(b.Min.X)*sx), int(float64(b.Min.Y)*sy),
			int(float64(b.Max.X)*sx), int(float64(b.Max.Y)*sy),
		)
	}
}

func drawBoxes(frame *gocv.Mat, detections []detect.Detection, withConfidence bool) {
	for _, det := range detections {
		gocv.Rectangle(frame, det.Box, boxColor, 2)
		label := det.Label
		if withConfidence {
			label = fmt.Sprintf("%s %.2f", det.Label, det.Confidence)
		}
		origin := image.Pt(det.Box.Min.X, det.Box.Min.Y-6)
		if origin.Y < 12 {
			origin.Y = det.Box.Min.Y + 14
		}
		gocv.PutText(frame, label, origin, gocv.FontHersheySimplex, 0.5, textColor, 1)
	}
}

// drawBorder flags the whole frame instead of individual objects.
func drawBorder(frame *gocv.Mat) {
	thickness := frame.Rows() / 40
	if thickness < 4 {
		thickness = 4
	}
	rect := image.Rect(0, 0, frame.Cols(), frame.Rows())
	gocv.Rectangle(frame, rect, borderColor, thickness)
}
