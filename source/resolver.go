package source

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// ErrSourceUnavailable indicates the resolver could not produce a connectable
// media URL for the requested source.
var ErrSourceUnavailable = errors.New("source unavailable")

// YouTube page URLs need an extraction step; direct RTSP/HTTP sources do not.
var youtubePattern = regexp.MustCompile(`^https?://(www\.)?(youtube\.com/(watch|live|shorts)|youtu\.be/)`)

const extractTimeout = 20 * time.Second

// Resolver turns user-supplied camera URLs into connectable media URLs.
// Extracted YouTube URLs are time-limited, so Resolve must be called again on
// every reconnect rather than caching its result.
type Resolver struct {
	ytDlpPath string
}

// NewResolver creates a resolver using the given yt-dlp binary.
func NewResolver(ytDlpPath string) *Resolver {
	if ytDlpPath == "" {
		ytDlpPath = "yt-dlp"
	}
	return &Resolver{ytDlpPath: ytDlpPath}
}

// IsYouTubeURL reports whether the URL needs stream extraction.
func IsYouTubeURL(url string) bool {
	return youtubePattern.MatchString(url)
}

// Resolve returns a connectable media URL for the given source. Non-YouTube
// URLs pass through unchanged.
func (r *Resolver) Resolve(ctx context.Context, url string) (string, error) {
	if url == "" {
		return "", fmt.Errorf("%w: empty url", ErrSourceUnavailable)
	}
	if !IsYouTubeURL(url) {
		return url, nil
	}
	return r.extract(ctx, url)
}

// extract shells out to yt-dlp for the direct media URL of a YouTube page.
func (r *Resolver) extract(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.ytDlpPath,
		"-g",
		"-f", "best",
		"--no-playlist",
		"--quiet",
		url,
	)

	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			log.Printf("[source] yt-dlp failed for %s: %s", url, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("%w: stream extraction failed: %v", ErrSourceUnavailable, err)
	}

	// yt-dlp may print one URL per requested format; the first line is the
	// merged/best one
	extracted := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	if extracted == "" {
		return "", fmt.Errorf("%w: extractor returned no url", ErrSourceUnavailable)
	}
	return extracted, nil
}
