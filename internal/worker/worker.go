// Package worker is the synthesis side of the pool: a Worker owns one engine
// session and serves the worker call surface over an rpc transport.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/arre-reader/arre/internal/engines"
	"github.com/arre-reader/arre/internal/models"
)

// Result types of AudioResult.
const (
	ResultAudio = "result"
	ResultError = "error"
)

// AudioResult is the outcome of one synthesis: audio bytes or an error
// message, never both.
type AudioResult struct {
	Type    string `json:"type"`
	Audio   []byte `json:"audio,omitempty"`
	Message string `json:"message,omitempty"`
}

// OK reports whether r carries audio.
func (r AudioResult) OK() bool {
	return r.Type == ResultAudio
}

// Err returns the failure carried by r, or nil.
func (r AudioResult) Err() error {
	if r.OK() {
		return nil
	}
	if r.Message == "" {
		return errors.New("synthesis failed")
	}
	return errors.New(r.Message)
}

// Worker serves one engine session. The session is created lazily and
// recreated whenever a request names a different voice.
type Worker struct {
	store   *models.Store
	factory engines.Factory

	mu      sync.Mutex
	session engines.Engine
	voice   string
}

// New creates a worker synthesizing with sessions from factory.
func New(store *models.Store, factory engines.Factory) *Worker {
	return &Worker{store: store, factory: factory}
}

// Local returns a constructor of workers that share one model store and
// synthesize with the named engine.
func Local(cfg models.Config, engine string) (func() *Worker, error) {
	store := models.NewStore(cfg, nil)
	factory, err := engines.Lookup(engine, store.ModelFiles)
	if err != nil {
		return nil, err
	}
	return func() *Worker { return New(store, factory) }, nil
}

// DownloadModel fetches the assets of voiceID. A voice that is already
// stored is not downloaded again.
func (w *Worker) DownloadModel(ctx context.Context, voiceID string, onProgress func(models.Progress)) error {
	if _, _, ok := w.store.ModelFiles(voiceID); ok {
		log.Debug("Model already stored", "voice", voiceID)
		return nil
	}
	return w.store.Download(ctx, voiceID, onProgress)
}

// DeleteModels removes every stored model and drops the current session.
func (w *Worker) DeleteModels() error {
	w.mu.Lock()
	w.closeSession()
	w.mu.Unlock()
	return w.store.Flush()
}

// Voices returns the voice catalog.
func (w *Worker) Voices() []models.Voice {
	return w.store.Catalog().Voices()
}

// Models returns the ids of the stored voices.
func (w *Worker) Models() ([]string, error) {
	return w.store.Stored()
}

// Audio synthesizes text with voiceID. Failures are reported in the result.
func (w *Worker) Audio(ctx context.Context, text, voiceID string) AudioResult {
	if _, ok := w.store.Catalog().Lookup(voiceID); !ok {
		return AudioResult{Type: ResultError, Message: fmt.Sprintf("%v: %s", models.ErrUnknownVoice, voiceID)}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.session == nil || w.voice != voiceID {
		w.closeSession()
		s, err := w.factory(voiceID)
		if err != nil {
			return AudioResult{Type: ResultError, Message: fmt.Sprintf("init session: %v", err)}
		}
		log.Debug("Worker session initialized", "voice", voiceID)
		w.session, w.voice = s, voiceID
	}

	start := time.Now()
	audio, err := w.session.Synthesize(ctx, text)
	if err != nil {
		return AudioResult{Type: ResultError, Message: err.Error()}
	}
	log.Debug("Worker synthesized", "voice", voiceID, "chars", len(text), "took", time.Since(start))
	return AudioResult{Type: ResultAudio, Audio: audio}
}

// Voice returns the voice of the current session, if any.
func (w *Worker) Voice() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.voice
}

// Close releases the session.
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeSession()
}

func (w *Worker) closeSession() error {
	if w.session == nil {
		return nil
	}
	err := w.session.Close()
	w.session, w.voice = nil, ""
	return err
}
