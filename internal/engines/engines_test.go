package engines

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/go-audio/wav"
)

func decode(t *testing.T, b []byte) (rate int, frames int) {
	t.Helper()
	d := wav.NewDecoder(bytes.NewReader(b))
	buf, err := d.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode wav: %v", err)
	}
	return int(d.SampleRate), buf.NumFrames()
}

func TestEncodeWAV(t *testing.T) {
	samples := RawToSamples([]byte{0x01, 0x00, 0xff, 0xff, 0x00, 0x80})
	want := []int{1, -1, -32768}
	for i := range want {
		if samples[i] != want[i] {
			t.Fatalf("RawToSamples = %v, want %v", samples, want)
		}
	}

	b, err := EncodeWAV(make([]int, 2205), 22050)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(b, []byte("RIFF")) {
		t.Fatal("missing RIFF header")
	}
	rate, frames := decode(t, b)
	if rate != 22050 || frames != 2205 {
		t.Errorf("decoded rate=%d frames=%d", rate, frames)
	}
}

func TestMock(t *testing.T) {
	m := NewMock(MockConfig{Voice: "v", PerRune: 10 * time.Millisecond})

	b, err := m.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	_, frames := decode(t, b)
	if want := DefaultSampleRate * 50 / 1000; frames != want {
		t.Errorf("frames = %d, want %d", frames, want)
	}

	if _, err := m.Synthesize(context.Background(), "  "); !errors.Is(err, ErrEmptyText) {
		t.Errorf("blank text error = %v", err)
	}
	if _, err := m.Synthesize(context.Background(), strings.Repeat("a", MaxTextSize+1)); !errors.Is(err, ErrTextTooLong) {
		t.Errorf("long text error = %v", err)
	}
}

func TestMock_DelayHonoursContext(t *testing.T) {
	m := NewMock(MockConfig{Delay: time.Minute})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := m.Synthesize(ctx, "slow"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

// fakePiper writes a script that discards stdin and prints raw PCM.
func fakePiper(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake requires a POSIX shell")
	}
	p := filepath.Join(t.TempDir(), "piper")
	script := "#!/bin/sh\ncat > /dev/null\n" + body + "\n"
	if err := os.WriteFile(p, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return p
}

func modelFiles(t *testing.T, config string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	model := filepath.Join(dir, "v.onnx")
	if err := os.WriteFile(model, []byte("model"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := model + ".json"
	if err := os.WriteFile(cfg, []byte(config), 0o644); err != nil {
		t.Fatal(err)
	}
	return model, cfg
}

func TestNewPiper(t *testing.T) {
	model, cfg := modelFiles(t, `{"audio":{"sample_rate":16000}}`)

	tests := []struct {
		name    string
		config  PiperConfig
		rate    int
		wantErr bool
	}{
		{name: "valid", config: PiperConfig{ModelPath: model, ConfigPath: cfg}, rate: 16000},
		{name: "default config path", config: PiperConfig{ModelPath: model}, rate: 16000},
		{name: "missing model path", config: PiperConfig{}, wantErr: true},
		{name: "missing model", config: PiperConfig{ModelPath: "/non/existent.onnx"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPiper(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewPiper() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && p.Info().SampleRate != tt.rate {
				t.Errorf("sample rate = %d, want %d", p.Info().SampleRate, tt.rate)
			}
		})
	}
}

func TestPiper_Synthesize(t *testing.T) {
	model, cfg := modelFiles(t, `{"audio":{"sample_rate":22050}}`)
	bin := fakePiper(t, "head -c 4410 /dev/zero")

	p, err := NewPiper(PiperConfig{Binary: bin, ModelPath: model, ConfigPath: cfg})
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Synthesize(context.Background(), "Hello there.")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if _, frames := decode(t, b); frames != 2205 {
		t.Errorf("frames = %d, want 2205", frames)
	}
}

func TestPiper_Failures(t *testing.T) {
	model, cfg := modelFiles(t, `{}`)

	t.Run("exit status", func(t *testing.T) {
		p, _ := NewPiper(PiperConfig{Binary: fakePiper(t, "echo boom >&2; exit 3"), ModelPath: model, ConfigPath: cfg})
		_, err := p.Synthesize(context.Background(), "x")
		if err == nil || !strings.Contains(err.Error(), "boom") {
			t.Errorf("err = %v, want stderr in message", err)
		}
	})

	t.Run("no output", func(t *testing.T) {
		p, _ := NewPiper(PiperConfig{Binary: fakePiper(t, "true"), ModelPath: model, ConfigPath: cfg})
		if _, err := p.Synthesize(context.Background(), "x"); err == nil {
			t.Error("expected error for empty output")
		}
	})

	t.Run("timeout", func(t *testing.T) {
		p, _ := NewPiper(PiperConfig{
			Binary:    fakePiper(t, "exec sleep 5"),
			ModelPath: model, ConfigPath: cfg,
			Timeout: 50 * time.Millisecond,
		})
		start := time.Now()
		_, err := p.Synthesize(context.Background(), "x")
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("err = %v, want deadline exceeded", err)
		}
		if time.Since(start) > 3*time.Second {
			t.Error("timeout did not stop the process")
		}
	})
}

func TestLookup(t *testing.T) {
	model, cfg := modelFiles(t, `{}`)
	files := func(id string) (string, string, bool) {
		if id == "stored" {
			return model, cfg, true
		}
		return "", "", false
	}

	f, err := Lookup("piper", files)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f("stored"); err != nil {
		t.Errorf("piper factory for stored voice: %v", err)
	}
	if _, err := f("missing"); err == nil {
		t.Error("piper factory accepted a missing voice")
	}

	if _, err := Lookup("espeak", files); !errors.Is(err, ErrUnknownEngine) {
		t.Errorf("err = %v, want ErrUnknownEngine", err)
	}
}
