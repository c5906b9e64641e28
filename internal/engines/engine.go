// Package engines contains the synthesizers a worker drives.
//
// Every engine produces a complete 16-bit mono WAV file per call. Piper runs
// as a fresh subprocess per sentence; Mock renders a tone whose length
// follows the text, for tests and machines without piper installed.
package engines

import (
	"context"
	"errors"
	"fmt"
)

// MaxTextSize bounds the text accepted by a single synthesis call.
const MaxTextSize = 5000

var (
	// ErrEmptyText is returned when there is nothing to synthesize.
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrTextTooLong is returned for texts above MaxTextSize.
	ErrTextTooLong = errors.New("text too long")

	// ErrUnknownEngine is returned by Lookup for unregistered names.
	ErrUnknownEngine = errors.New("unknown engine")
)

// Engine synthesizes text into a WAV artifact.
type Engine interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
	Close() error
}

// Info describes an engine instance.
type Info struct {
	Name       string
	Voice      string
	SampleRate int
	IsOnline   bool
}

// Files locates the model and model config of a voice on disk.
type Files func(voiceID string) (model, config string, ok bool)

// Factory creates an engine session for a voice.
type Factory func(voiceID string) (Engine, error)

// Names lists the selectable engines.
var Names = []string{"piper", "mock"}

// Lookup returns the factory registered under name.
func Lookup(name string, files Files) (Factory, error) {
	switch name {
	case "piper":
		return func(voiceID string) (Engine, error) {
			model, config, ok := files(voiceID)
			if !ok {
				return nil, fmt.Errorf("model for voice %s is not downloaded", voiceID)
			}
			return NewPiper(PiperConfig{Voice: voiceID, ModelPath: model, ConfigPath: config})
		}, nil
	case "mock":
		return func(voiceID string) (Engine, error) {
			return NewMock(MockConfig{Voice: voiceID}), nil
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, name)
	}
}

func validateText(text string) error {
	if text == "" {
		return ErrEmptyText
	}
	if len(text) > MaxTextSize {
		return fmt.Errorf("%w: %d characters (max %d)", ErrTextTooLong, len(text), MaxTextSize)
	}
	return nil
}
