package engines

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

const maxAudioSize = 10 * 1024 * 1024

// PiperConfig configures a piper session.
type PiperConfig struct {
	// Binary is the piper executable; "piper" from PATH when empty.
	Binary string

	Voice      string
	ModelPath  string
	ConfigPath string

	// Speaker selects a speaker of multi-speaker models.
	Speaker int

	// LengthScale stretches phoneme durations; 1 when zero.
	LengthScale float64

	// Timeout bounds one synthesis run.
	Timeout time.Duration
}

// Piper synthesizes speech with the piper binary. Each call starts a fresh
// process with the text already attached to stdin.
type Piper struct {
	cfg        PiperConfig
	sampleRate int
}

type piperModelConfig struct {
	Audio struct {
		SampleRate int `json:"sample_rate"`
	} `json:"audio"`
}

// NewPiper validates the model files and reads the sample rate from the
// model config.
func NewPiper(cfg PiperConfig) (*Piper, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("model path is required")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %w", err)
	}
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = cfg.ModelPath + ".json"
	}
	if cfg.Binary == "" {
		cfg.Binary = "piper"
	}
	if cfg.LengthScale <= 0 {
		cfg.LengthScale = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	rate := DefaultSampleRate
	if b, err := os.ReadFile(cfg.ConfigPath); err != nil {
		log.Warn("Could not read model config, assuming default sample rate", "path", cfg.ConfigPath, "err", err)
	} else {
		var mc piperModelConfig
		if err := json.Unmarshal(b, &mc); err != nil {
			return nil, fmt.Errorf("parse model config: %w", err)
		}
		if mc.Audio.SampleRate > 0 {
			rate = mc.Audio.SampleRate
		}
	}

	return &Piper{cfg: cfg, sampleRate: rate}, nil
}

// Synthesize runs piper once and wraps its raw output in a WAV container.
func (p *Piper) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if err := validateText(text); err != nil {
		return nil, err
	}

	args := []string{
		"--model", p.cfg.ModelPath,
		"--config", p.cfg.ConfigPath,
		"--output-raw",
		"--length_scale", strconv.FormatFloat(p.cfg.LengthScale, 'f', 2, 64),
	}
	if p.cfg.Speaker > 0 {
		args = append(args, "--speaker", strconv.Itoa(p.cfg.Speaker))
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.cfg.Binary, args...)
	cmd.Stdin = strings.NewReader(text)
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = 100 * time.Millisecond

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("piper: %w", ctx.Err())
		}
		return nil, fmt.Errorf("piper failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}

	raw := stdout.Bytes()
	if len(raw) == 0 {
		return nil, fmt.Errorf("piper produced no audio output, stderr: %s", strings.TrimSpace(stderr.String()))
	}
	if len(raw) > maxAudioSize {
		return nil, fmt.Errorf("piper output too large: %d bytes (max %d)", len(raw), maxAudioSize)
	}

	log.Debug("Synthesized sentence", "engine", "piper", "voice", p.cfg.Voice, "bytes", len(raw), "took", time.Since(start))
	return EncodeWAV(RawToSamples(raw), p.sampleRate)
}

// Info describes the session.
func (p *Piper) Info() Info {
	return Info{Name: "piper", Voice: p.cfg.Voice, SampleRate: p.sampleRate}
}

// Close is a no-op; piper holds no state between runs.
func (p *Piper) Close() error {
	return nil
}

var _ Engine = (*Piper)(nil)
