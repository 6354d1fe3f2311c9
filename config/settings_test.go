package config

import (
	"encoding/json"
	"sync"
	"testing"
)

type fakePersister struct {
	saved map[string]string
}

func newFakePersister() *fakePersister {
	return &fakePersister{saved: make(map[string]string)}
}

func (f *fakePersister) SetSetting(key, value string) error {
	f.saved[key] = value
	return nil
}

func (f *fakePersister) GetAllSettings() (map[string]string, error) {
	return f.saved, nil
}

func payload(kv map[string]string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(kv))
	for k, v := range kv {
		out[k] = json.RawMessage(v)
	}
	return out
}

func TestUpdateAppliesValidKeys(t *testing.T) {
	store := NewSettingsStore(nil)

	applied, rejected := store.Update(payload(map[string]string{
		"confidence":   "0.8",
		"resolution":   `"720p"`,
		"show_boxes":   "false",
		"jpeg_quality": "90",
	}))

	if len(applied) != 4 {
		t.Fatalf("expected 4 applied keys, got %d (%v)", len(applied), applied)
	}
	if len(rejected) != 0 {
		t.Fatalf("expected no rejections, got %v", rejected)
	}

	got := store.Get()
	if got.Confidence != 0.8 {
		t.Errorf("confidence = %v, want 0.8", got.Confidence)
	}
	if got.Resolution != "720p" {
		t.Errorf("resolution = %q, want 720p", got.Resolution)
	}
	if got.ShowBoxes {
		t.Errorf("show_boxes should be false")
	}
	if got.JPEGQuality != 90 {
		t.Errorf("jpeg_quality = %d, want 90", got.JPEGQuality)
	}
}

func TestUpdateRejectsInvalidKeysIndividually(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown key", "bogus_key", "true"},
		{"confidence out of range", "confidence", "1.5"},
		{"confidence wrong type", "confidence", `"high"`},
		{"unknown resolution", "resolution", `"999p"`},
		{"empty model version", "model_version", `""`},
		{"frame skip negative", "frame_skip", "-1"},
		{"max frame rate zero", "max_frame_rate", "0"},
		{"volume above one", "alert_sound_volume", "2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewSettingsStore(nil)
			before := store.Get()

			applied, rejected := store.Update(payload(map[string]string{tt.key: tt.value}))
			if len(applied) != 0 {
				t.Fatalf("expected no applied keys, got %v", applied)
			}
			if _, ok := rejected[tt.key]; !ok {
				t.Fatalf("expected %s to be rejected, got %v", tt.key, rejected)
			}
			if store.Get() != before {
				t.Errorf("settings changed after rejected update")
			}
		})
	}
}

func TestUpdateMixedPayloadAppliesValidPart(t *testing.T) {
	store := NewSettingsStore(nil)

	applied, rejected := store.Update(payload(map[string]string{
		"confidence": "0.9",
		"resolution": `"8000p"`,
	}))

	if len(applied) != 1 || applied[0] != "confidence" {
		t.Fatalf("applied = %v, want [confidence]", applied)
	}
	if _, ok := rejected["resolution"]; !ok {
		t.Fatalf("expected resolution rejection, got %v", rejected)
	}
	if got := store.Get().Confidence; got != 0.9 {
		t.Errorf("confidence = %v, want 0.9", got)
	}
}

func TestIntKeysAcceptStringForm(t *testing.T) {
	store := NewSettingsStore(nil)

	applied, rejected := store.Update(payload(map[string]string{
		"frame_skip": `"3"`,
	}))
	if len(applied) != 1 || len(rejected) != 0 {
		t.Fatalf("applied=%v rejected=%v", applied, rejected)
	}
	if got := store.Get().FrameSkip; got != 3 {
		t.Errorf("frame_skip = %d, want 3", got)
	}
}

func TestSettingsSurviveRestart(t *testing.T) {
	persister := newFakePersister()

	store := NewSettingsStore(persister)
	store.Update(payload(map[string]string{
		"resolution":        `"1080p"`,
		"detection_enabled": "false",
	}))

	restored := NewSettingsStore(persister)
	got := restored.Get()
	if got.Resolution != "1080p" {
		t.Errorf("resolution = %q after restart, want 1080p", got.Resolution)
	}
	if got.DetectionEnabled {
		t.Errorf("detection_enabled should stay false after restart")
	}
}

func TestConcurrentUpdatesKeepEveryKey(t *testing.T) {
	for i := 0; i < 50; i++ {
		store := NewSettingsStore(nil)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			store.Update(payload(map[string]string{"confidence": "0.9"}))
		}()
		go func() {
			defer wg.Done()
			store.Update(payload(map[string]string{"frame_skip": "7"}))
		}()
		wg.Wait()

		got := store.Get()
		if got.Confidence != 0.9 || got.FrameSkip != 7 {
			t.Fatalf("iteration %d: concurrent update dropped a key: confidence=%v frame_skip=%d",
				i, got.Confidence, got.FrameSkip)
		}
	}
}

func TestResolutionSize(t *testing.T) {
	size, ok := ResolutionSize("480p")
	if !ok {
		t.Fatal("480p should be known")
	}
	if size.X != 854 || size.Y != 480 {
		t.Errorf("480p = %v, want 854x480", size)
	}
	if _, ok := ResolutionSize("500p"); ok {
		t.Error("500p should be unknown")
	}
}
