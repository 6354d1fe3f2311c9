package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BrianShiroe/calbi-luka/config"
)

func testArchiver(t *testing.T) *Archiver {
	t.Helper()
	cfg := &config.Config{
		PlaybackPath:     t.TempDir(),
		ArchiveQueueSize: 4,
		SegmentSeconds:   4,
		SegmentKeep:      15,
		FFmpegPath:       "ffmpeg",
	}
	return NewArchiver(cfg)
}

func readMetadata(t *testing.T, path string) Metadata {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading metadata: %v", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Fatalf("parsing metadata: %v", err)
	}
	return meta
}

func TestUpdateMetadataWritesFile(t *testing.T) {
	a := testArchiver(t)

	err := a.UpdateMetadata(Metadata{CameraID: "cam1", Title: "Front Gate", Location: "Gate"})
	if err != nil {
		t.Fatalf("UpdateMetadata failed: %v", err)
	}

	meta := readMetadata(t, filepath.Join(a.cfg.PlaybackPath, "cam1", "metadata.json"))
	if meta.Title != "Front Gate" || meta.Location != "Gate" {
		t.Errorf("metadata = %+v", meta)
	}
	if meta.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
}

func TestUpdateMetadataDetectsRename(t *testing.T) {
	a := testArchiver(t)

	if err := a.UpdateMetadata(Metadata{CameraID: "cam1", Title: "Old", Location: "A"}); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	first := readMetadata(t, filepath.Join(a.cfg.PlaybackPath, "cam1", "metadata.json"))

	// Unchanged write must not rewrite the file
	if err := a.UpdateMetadata(Metadata{CameraID: "cam1", Title: "Old", Location: "A"}); err != nil {
		t.Fatalf("unchanged write failed: %v", err)
	}
	same := readMetadata(t, filepath.Join(a.cfg.PlaybackPath, "cam1", "metadata.json"))
	if !same.UpdatedAt.Equal(first.UpdatedAt) {
		t.Error("unchanged metadata was rewritten")
	}

	if err := a.UpdateMetadata(Metadata{CameraID: "cam1", Title: "New", Location: "B"}); err != nil {
		t.Fatalf("rename write failed: %v", err)
	}
	renamed := readMetadata(t, filepath.Join(a.cfg.PlaybackPath, "cam1", "metadata.json"))
	if renamed.Title != "New" || renamed.Location != "B" {
		t.Errorf("metadata after rename = %+v", renamed)
	}
}

func TestPruneRemovesOldSegments(t *testing.T) {
	a := testArchiver(t)
	dir := filepath.Join(a.cfg.PlaybackPath, "cam1")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}

	old := filepath.Join(dir, "segment_old.ts")
	fresh := filepath.Join(dir, "segment_new.ts")
	playlist := filepath.Join(dir, "index.m3u8")
	for _, f := range []string{old, fresh, playlist} {
		if err := os.WriteFile(f, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}

	removed, err := a.Prune(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("old segment still present")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh segment was removed")
	}
	if _, err := os.Stat(playlist); err != nil {
		t.Error("playlist must never be pruned")
	}
}

func TestPruneMissingRootIsNotAnError(t *testing.T) {
	a := NewArchiver(&config.Config{PlaybackPath: filepath.Join(t.TempDir(), "missing")})
	removed, err := a.Prune(time.Now())
	if err != nil || removed != 0 {
		t.Errorf("Prune = %d, %v; want 0, nil", removed, err)
	}
}
