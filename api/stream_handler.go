package api

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/BrianShiroe/calbi-luka/alert"
	"github.com/BrianShiroe/calbi-luka/process"
)

const mjpegBoundary = "frame"

// GET /stream?device_id=...&stream_url=...&device_title=...&device_location=...
// Streams the camera as multipart MJPEG until the client disconnects.
func (s *Server) handleStream(c *gin.Context) {
	deviceID := c.Query("device_id")
	url := c.Query("stream_url")

	c.Writer.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.WriteHeader(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		log.Printf("[api] response writer does not support flushing")
		return
	}

	// A missing source still gets an image, never an HTTP error.
	if deviceID == "" || url == "" {
		writePart(c.Writer, process.Placeholder())
		flusher.Flush()
		return
	}

	camera := alert.Camera{
		ID:       deviceID,
		Title:    c.DefaultQuery("device_title", deviceID),
		Location: c.Query("device_location"),
	}

	viewer := s.manager.Subscribe(camera, url)
	defer viewer.Close()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, open := <-viewer.Frames():
			if !open {
				// Session ended, leave the client on a placeholder.
				writePart(c.Writer, process.Placeholder())
				flusher.Flush()
				return
			}
			if err := writePart(c.Writer, frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writePart(w http.ResponseWriter, frame []byte) error {
	if len(frame) == 0 {
		return nil
	}
	header := fmt.Sprintf("--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n",
		mjpegBoundary, len(frame))
	if _, err := w.Write([]byte(header)); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

// POST /stop_stream {"device_id": "..."}
func (s *Server) handleStopStream(c *gin.Context) {
	var req struct {
		DeviceID string `json:"device_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.DeviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_id is required"})
		return
	}

	stopped := s.manager.Stop(req.DeviceID)
	c.JSON(http.StatusOK, gin.H{
		"device_id": req.DeviceID,
		"stopped":   stopped,
	})
}

// GET /api/active_streams
func (s *Server) listActiveStreams(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"count":   s.manager.ActiveCount(),
		"streams": s.manager.ActiveStreams(),
	})
}
