package models

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

var testCatalog = NewCatalog([]Voice{
	{Key: "en_US-test-medium", Name: "test", Quality: "medium", Path: "en/en_US/test/medium/en_US-test-medium.onnx"},
	{Key: "fi_FI-test-low", Name: "test", Quality: "low", Path: "fi/fi_FI/test/low/fi_FI-test-low.onnx"},
})

// newAssetServer serves deterministic model bytes for any path.
func newAssetServer(t *testing.T) (*httptest.Server, *sync.Map) {
	t.Helper()
	var hits sync.Map
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Store(r.URL.Path, true)
		if strings.HasSuffix(r.URL.Path, ".json") {
			_, _ = w.Write([]byte(`{"audio":{"sample_rate":22050}}`))
			return
		}
		_, _ = w.Write(bytes.Repeat([]byte{0x42}, 64*1024))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestStore_DownloadStoresBothAssets(t *testing.T) {
	srv, hits := newAssetServer(t)
	dir := t.TempDir()
	s := NewStore(Config{Dir: dir, BaseURL: srv.URL, TrustedHost: srv.URL}, testCatalog)

	var mu sync.Mutex
	var events []Progress
	err := s.Download(context.Background(), "en_US-test-medium", func(p Progress) {
		mu.Lock()
		events = append(events, p)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}

	for _, name := range []string{"en_US-test-medium.onnx", "en_US-test-medium.onnx.json"} {
		st, err := os.Stat(filepath.Join(dir, name))
		if err != nil || st.Size() == 0 {
			t.Errorf("asset %s not stored: %v", name, err)
		}
	}
	if _, ok := hits.Load("/en/en_US/test/medium/en_US-test-medium.onnx.json"); !ok {
		t.Error("model config was not fetched")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) == 0 {
		t.Fatal("no progress events")
	}
	last := events[len(events)-1]
	if last.Loaded != 64*1024 || last.Total != 64*1024 {
		t.Errorf("final progress = %+v", last)
	}
	for _, e := range events {
		if strings.HasSuffix(e.URL, ".json") {
			t.Errorf("progress reported for config asset %s", e.URL)
		}
	}
}

func TestStore_StoredListsCatalogModels(t *testing.T) {
	srv, _ := newAssetServer(t)
	dir := t.TempDir()
	s := NewStore(Config{Dir: dir, BaseURL: srv.URL, TrustedHost: srv.URL}, testCatalog)

	ids, err := s.Stored()
	if err != nil || len(ids) != 0 {
		t.Fatalf("Stored on empty dir = %v, %v", ids, err)
	}

	if err := s.Download(context.Background(), "fi_FI-test-low", nil); err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	// Files outside the catalog are ignored.
	_ = os.WriteFile(filepath.Join(dir, "stray-voice.onnx"), []byte("x"), 0o644)

	ids, err = s.Stored()
	if err != nil {
		t.Fatalf("Stored failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "fi_FI-test-low" {
		t.Errorf("Stored = %v, want [fi_FI-test-low]", ids)
	}
}

func TestStore_UntrustedHostIsNotPersisted(t *testing.T) {
	srv, _ := newAssetServer(t)
	dir := t.TempDir()
	s := NewStore(Config{Dir: dir, BaseURL: srv.URL, TrustedHost: "https://huggingface.co"}, testCatalog)

	if err := s.Download(context.Background(), "en_US-test-medium", nil); err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("untrusted assets persisted: %d files", len(entries))
	}
}

func TestStore_Trusted(t *testing.T) {
	s := NewStore(Config{Dir: t.TempDir(), TrustedHost: "https://huggingface.co"}, testCatalog)

	tests := []struct {
		url  string
		want bool
	}{
		{"https://huggingface.co/rhasspy/piper-voices/resolve/main/voices.json", true},
		{"https://HuggingFace.co/rhasspy/voice.onnx", true},
		{"https://huggingface.co.evil.example/rhasspy/voice.onnx", false},
		{"https://huggingface.com/rhasspy/voice.onnx", false},
		{"http://huggingface.co/rhasspy/voice.onnx", false},
		{"https://huggingface.co:8443/rhasspy/voice.onnx", false},
		{"https://evil.example/https://huggingface.co/voice.onnx", false},
		{"not a url", false},
	}
	for _, tt := range tests {
		if got := s.trusted(tt.url); got != tt.want {
			t.Errorf("trusted(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestStore_EmptyFileIsMissAndRemoved(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(Config{Dir: dir, BaseURL: "https://huggingface.co/voices", TrustedHost: "https://huggingface.co"}, testCatalog)

	modelURL, _, err := s.URLs("en_US-test-medium")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "en_US-test-medium.onnx")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, ok := s.Read(modelURL); ok {
		t.Error("empty file should be a miss")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("empty file was not removed")
	}
}

func TestStore_ModelFiles(t *testing.T) {
	srv, _ := newAssetServer(t)
	s := NewStore(Config{Dir: t.TempDir(), BaseURL: srv.URL, TrustedHost: srv.URL}, testCatalog)

	if _, _, ok := s.ModelFiles("en_US-test-medium"); ok {
		t.Fatal("ModelFiles reported a voice that was never downloaded")
	}
	if err := s.Download(context.Background(), "en_US-test-medium", nil); err != nil {
		t.Fatal(err)
	}
	model, config, ok := s.ModelFiles("en_US-test-medium")
	if !ok {
		t.Fatal("ModelFiles missed a downloaded voice")
	}
	if filepath.Base(model) != "en_US-test-medium.onnx" || filepath.Base(config) != "en_US-test-medium.onnx.json" {
		t.Errorf("ModelFiles = %s, %s", model, config)
	}
}

func TestStore_FlushAndRemove(t *testing.T) {
	srv, _ := newAssetServer(t)
	dir := filepath.Join(t.TempDir(), "models")
	s := NewStore(Config{Dir: dir, BaseURL: srv.URL, TrustedHost: srv.URL}, testCatalog)

	for _, id := range []string{"en_US-test-medium", "fi_FI-test-low"} {
		if err := s.Download(context.Background(), id, nil); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.Remove("fi_FI-test-low"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if ok, _ := s.IsStored("fi_FI-test-low"); ok {
		t.Error("removed voice still stored")
	}

	if err := s.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("model directory still exists after Flush")
	}
	if ids, err := s.Stored(); err != nil || len(ids) != 0 {
		t.Errorf("Stored after Flush = %v, %v", ids, err)
	}
}

func TestStore_UnknownVoice(t *testing.T) {
	s := NewStore(Config{Dir: t.TempDir()}, testCatalog)
	if err := s.Download(context.Background(), "xx_XX-nobody-low", nil); err == nil {
		t.Error("expected error for unknown voice")
	}
}

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()
	v, ok := c.Lookup(DefaultVoiceID)
	if !ok {
		t.Fatalf("default voice %s missing from catalog", DefaultVoiceID)
	}
	if !strings.HasSuffix(v.Path, DefaultVoiceID+".onnx") {
		t.Errorf("default voice path = %s", v.Path)
	}
	if len(c.Voices()) < 2 {
		t.Error("catalog unexpectedly small")
	}
}
