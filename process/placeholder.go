package process

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

var (
	placeholderOnce sync.Once
	placeholderJPEG []byte
)

// Placeholder returns a cached "no signal" JPEG served while a camera
// source is unreachable.
func Placeholder() []byte {
	placeholderOnce.Do(func() {
		placeholderJPEG = renderPlaceholder(640, 360, "NO SIGNAL")
	})
	return placeholderJPEG
}

func renderPlaceholder(w, h int, message string) []byte {
	frame := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	defer frame.Close()

	sz := gocv.GetTextSize(message, gocv.FontHersheySimplex, 1.2, 2)
	origin := image.Pt((w-sz.X)/2, (h+sz.Y)/2)
	gocv.PutText(&frame, message, origin, gocv.FontHersheySimplex, 1.2, textColor, 2)

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	if err != nil {
		return nil
	}
	defer buf.Close()
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out
}
