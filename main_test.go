package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/arre-reader/arre/internal/audio"
	"github.com/arre-reader/arre/internal/models"
	"github.com/arre-reader/arre/internal/state"
)

func TestApplyControl(t *testing.T) {
	sink := audio.NewMockSink()
	p := audio.NewScheduler(sink)

	tests := []struct {
		key    byte
		msg    string
		rate   float64
		paused bool
	}{
		{' ', "paused", 1, true},
		{'p', "playing", 1, false},
		{'+', "speed 1.25x", 1.25, false},
		{'=', "speed 1.5x", 1.5, false},
		{'-', "speed 1.25x", 1.25, false},
		{'s', "speed 0.5x", 0.5, false},
		{'-', "speed 0.5x", 0.5, false},
		{'f', "speed 1.5x", 1.5, false},
		{'n', "speed 1x", 1, false},
		{'r', "restarted", 1, false},
	}
	for _, tt := range tests {
		c, ok := keyControls[tt.key]
		if !ok {
			t.Fatalf("key %q is not bound", tt.key)
		}
		msg, err := applyControl(p, c)
		if err != nil {
			t.Fatalf("key %q: %v", tt.key, err)
		}
		if msg != tt.msg {
			t.Errorf("key %q: msg = %q, want %q", tt.key, msg, tt.msg)
		}
		if got := sink.Rate(); got != tt.rate {
			t.Errorf("key %q: rate = %v, want %v", tt.key, got, tt.rate)
		}
		if got := sink.Paused(); got != tt.paused {
			t.Errorf("key %q: paused = %v, want %v", tt.key, got, tt.paused)
		}
	}

	for _, k := range []byte{'q', 3, 0x1b} {
		if keyControls[k] != controlQuit {
			t.Errorf("key %q should quit", k)
		}
	}
	if _, ok := keyControls['x']; ok {
		t.Error("unexpected binding for x")
	}
}

func TestStatusDeduplicatesPhases(t *testing.T) {
	var buf bytes.Buffer
	s := newStatus(&buf)

	s.phase(state.TextLoading{})
	s.phase(state.TextLoading{})
	s.phase(state.AudioLoading{Done: 1, Total: 3})
	s.phase(state.ModelLoading{Progress: models.Progress{Loaded: 2048, Total: 4096}})

	out := buf.String()
	if n := strings.Count(out, "text/loading"); n != 1 {
		t.Errorf("text/loading printed %d times:\n%s", n, out)
	}
	for _, want := range []string{"audio/loading 1/3", "model/loading 50%", "2.0 KiB / 4.0 KiB"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
	if !strings.HasSuffix(out, "\r\n") {
		t.Error("status lines must end in CRLF")
	}
}

func TestFilterVoices(t *testing.T) {
	voices := []models.Voice{
		{Key: "en_US-a-medium", Language: models.Language{Code: "en_US", Family: "en"}},
		{Key: "en_GB-b-low", Language: models.Language{Code: "en_GB", Family: "en"}},
		{Key: "de_DE-c-medium", Language: models.Language{Code: "de_DE", Family: "de"}},
	}

	tests := []struct {
		lang string
		want int
	}{
		{"", 3},
		{"en", 2},
		{"en_gb", 1},
		{"DE", 1},
		{"fi", 0},
	}
	for _, tt := range tests {
		if got := filterVoices(voices, tt.lang); len(got) != tt.want {
			t.Errorf("filterVoices(%q) = %d voices, want %d", tt.lang, len(got), tt.want)
		}
	}

	var buf bytes.Buffer
	if err := printVoices(&buf, voices, []string{"de_DE-c-medium"}); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	if !strings.HasSuffix(strings.TrimSpace(lines[3]), "yes") {
		t.Errorf("stored voice not marked: %q", lines[3])
	}
}

func TestServiceConfig(t *testing.T) {
	s := settings{
		Engine:      "mock",
		Workers:     3,
		Timeout:     time.Minute,
		MaxQueued:   8,
		CacheDir:    "/tmp/arre-cache",
		MemoryMB:    2,
		Compression: 5,
		ModelsDir:   "/tmp/arre-models",
		BaseURL:     "https://example.com/voices",
	}
	cfg := s.serviceConfig()

	if cfg.Engine != "mock" || cfg.Pool.Size != 3 || cfg.Pool.MaxQueued != 8 || cfg.Pool.Timeout != time.Minute {
		t.Errorf("unexpected pool config: %+v", cfg.Pool)
	}
	if cfg.Cache.MemoryCapacity != 2<<20 || cfg.Cache.CompressionLevel != 5 || cfg.Cache.Dir != s.CacheDir {
		t.Errorf("unexpected cache config: %+v", cfg.Cache)
	}
	if cfg.Models.Dir != s.ModelsDir || cfg.Models.BaseURL != s.BaseURL {
		t.Errorf("unexpected models config: %+v", cfg.Models)
	}
}

func TestNewServiceRejectsUnknownBus(t *testing.T) {
	s := settings{Engine: "mock", Workers: 1, BusURL: "amqp://localhost", CacheDir: t.TempDir(), ModelsDir: t.TempDir()}
	if _, _, err := newService(context.Background(), s, nil); err == nil {
		t.Fatal("expected an error for an unsupported bus")
	}
}

func testSettings(t *testing.T) settings {
	t.Helper()
	return settings{
		Voice:       models.DefaultVoiceID,
		Engine:      "mock",
		Workers:     2,
		Rate:        audio.RateNormal,
		Timeout:     10 * time.Second,
		CacheDir:    t.TempDir(),
		MemoryMB:    4,
		Compression: 3,
		ModelsDir:   t.TempDir(),
		BusSubject:  "arre.test",
		FetchTTL:    time.Hour,
	}
}

func TestReadFileWithMockAudio(t *testing.T) {
	processEnv = Env{MockAudio: true}
	t.Cleanup(func() { processEnv = Env{} })

	path := filepath.Join(t.TempDir(), "note.txt")
	if err := os.WriteFile(path, []byte("Hi there. Bye now."), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := read(ctx, testSettings(t), path); err != nil {
		t.Fatalf("read failed: %v", err)
	}
}

func TestReadOverEmbeddedBus(t *testing.T) {
	processEnv = Env{MockAudio: true}
	t.Cleanup(func() { processEnv = Env{} })

	path := filepath.Join(t.TempDir(), "note.md")
	if err := os.WriteFile(path, []byte("# Title\n\nShort one."), 0o600); err != nil {
		t.Fatal(err)
	}

	s := testSettings(t)
	s.BusURL = busEmbedded

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := read(ctx, s, path); err != nil {
		t.Fatalf("read failed: %v", err)
	}
}

func TestReadMissingFile(t *testing.T) {
	processEnv = Env{MockAudio: true}
	t.Cleanup(func() { processEnv = Env{} })

	err := read(context.Background(), testSettings(t), filepath.Join(t.TempDir(), "missing.txt"))
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want ErrNotExist", err)
	}
}
