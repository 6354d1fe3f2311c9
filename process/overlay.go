package process

import (
	"fmt"
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/BrianShiroe/calbi-luka/config"
)

const (
	overlayAlpha   = 0.55
	overlayPadding = 8
	lineHeight     = 16
)

// OverlaySources supplies the process-wide values shown on the metrics
// panel. Each func may be nil, in which case its line is omitted.
type OverlaySources struct {
	CPUPercent    func() float64
	ActiveStreams func() int
	ModelVersion  func() string
}

// Overlay renders a semi-transparent metrics panel onto frames. One overlay
// belongs to one stream session; per-frame stats are fed in with SetStats
// while the formatted lines are cached and only rebuilt at the refresh
// interval so the text stays readable.
type Overlay struct {
	sources OverlaySources

	mu        sync.Mutex
	fps       float64
	latencyMS float64
	lagMS     float64

	cachedLines []string
	lastRefresh time.Time
}

// NewOverlay creates an overlay drawing values from the given sources.
func NewOverlay(sources OverlaySources) *Overlay {
	return &Overlay{sources: sources}
}

// SetStats records the session's current delivery numbers for the next
// panel refresh.
func (o *Overlay) SetStats(fps, latencyMS, lagMS float64) {
	o.mu.Lock()
	o.fps = fps
	o.latencyMS = latencyMS
	o.lagMS = lagMS
	o.mu.Unlock()
}

// Draw paints the panel onto the frame.
func (o *Overlay) Draw(frame *gocv.Mat, settings *config.Settings) {
	lines := o.lines(settings)
	if len(lines) == 0 {
		return
	}

	panelW := 0
	for _, line := range lines {
		sz := gocv.GetTextSize(line, gocv.FontHersheyPlain, 1.0, 1)
		if sz.X > panelW {
			panelW = sz.X
		}
	}
	panelW += overlayPadding * 2
	panelH := len(lines)*lineHeight + overlayPadding*2
	if panelW > frame.Cols() {
		panelW = frame.Cols()
	}
	if panelH > frame.Rows() {
		panelH = frame.Rows()
	}

	region := frame.Region(image.Rect(0, 0, panelW, panelH))
	defer region.Close()
	panel := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0),
		region.Rows(), region.Cols(), region.Type())
	defer panel.Close()
	gocv.AddWeighted(panel, overlayAlpha, region, 1-overlayAlpha, 0, &region)

	y := overlayPadding + lineHeight - 4
	for _, line := range lines {
		gocv.PutText(frame, line, image.Pt(overlayPadding, y),
			gocv.FontHersheyPlain, 1.0, textColor, 1)
		y += lineHeight
	}
}

func (o *Overlay) lines(settings *config.Settings) []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	refresh := time.Duration(settings.MetricsRefreshSecs) * time.Second
	if refresh <= 0 {
		refresh = time.Second
	}
	if o.cachedLines != nil && time.Since(o.lastRefresh) < refresh {
		return o.cachedLines
	}

	lines := []string{time.Now().Format("2006-01-02 15:04:05")}

	model := "off"
	if settings.DetectionEnabled {
		model = "no model"
		if o.sources.ModelVersion != nil {
			if v := o.sources.ModelVersion(); v != "" {
				model = v
			}
		}
	}
	lines = append(lines, "model: "+model)
	lines = append(lines, fmt.Sprintf("fps: %.1f", o.fps))
	lines = append(lines, fmt.Sprintf("proc: %.0f ms", o.latencyMS))
	lines = append(lines, fmt.Sprintf("lag: %.0f ms", o.lagMS))
	lines = append(lines, "res: "+settings.Resolution)
	if o.sources.CPUPercent != nil {
		lines = append(lines, fmt.Sprintf("cpu: %.0f%%", o.sources.CPUPercent()))
	}
	if o.sources.ActiveStreams != nil {
		lines = append(lines, fmt.Sprintf("streams: %d", o.sources.ActiveStreams()))
	}

	o.cachedLines = lines
	o.lastRefresh = time.Now()
	return lines
}
