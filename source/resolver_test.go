package source

import (
	"context"
	"errors"
	"testing"
)

func TestIsYouTubeURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://www.youtube.com/watch?v=abc123", true},
		{"https://youtube.com/watch?v=abc123", true},
		{"http://www.youtube.com/live/abc123", true},
		{"https://www.youtube.com/shorts/abc123", true},
		{"https://youtu.be/abc123", true},
		{"rtsp://192.168.1.10:554/stream", false},
		{"http://camera.local/mjpeg", false},
		{"https://example.com/watch?v=abc123", false},
		{"https://www.youtube.com/channel/abc123", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsYouTubeURL(tt.url); got != tt.want {
			t.Errorf("IsYouTubeURL(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestResolvePassesThroughDirectURLs(t *testing.T) {
	r := NewResolver("")

	url := "rtsp://192.168.1.10:554/stream"
	got, err := r.Resolve(context.Background(), url)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != url {
		t.Errorf("Resolve(%q) = %q, want unchanged", url, got)
	}
}

func TestResolveRejectsEmptyURL(t *testing.T) {
	r := NewResolver("")

	_, err := r.Resolve(context.Background(), "")
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestResolveReportsExtractorFailure(t *testing.T) {
	// Point at a binary that does not exist so extraction fails fast.
	r := NewResolver("/nonexistent/yt-dlp")

	_, err := r.Resolve(context.Background(), "https://www.youtube.com/watch?v=abc123")
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("expected ErrSourceUnavailable, got %v", err)
	}
}
