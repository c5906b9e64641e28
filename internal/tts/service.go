package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/arre-reader/arre/internal/audio"
	"github.com/arre-reader/arre/internal/cache"
	"github.com/arre-reader/arre/internal/models"
	"github.com/arre-reader/arre/internal/pool"
	"github.com/arre-reader/arre/internal/reassembly"
	"github.com/arre-reader/arre/internal/worker"
)

// Handle is the worker surface the service drives. *worker.Client
// implements it for in-process and bus workers alike.
type Handle interface {
	DownloadModel(ctx context.Context, voiceID string, onProgress func(models.Progress)) error
	DeleteModels(ctx context.Context) error
	Voices(ctx context.Context) ([]models.Voice, error)
	Models(ctx context.Context) ([]string, error)
	Audio(ctx context.Context, text, voiceID string) (worker.AudioResult, error)
	Close() error
}

var _ Handle = (*worker.Client)(nil)

// Config holds the service configuration.
type Config struct {
	Pool   pool.Config
	Cache  cache.Config
	Models models.Config

	// Engine names the synthesis backend of in-process workers.
	Engine string
}

// DefaultConfig returns a configuration using piper and an in-memory cache.
func DefaultConfig() Config {
	return Config{
		Pool:   pool.DefaultConfig(),
		Cache:  cache.DefaultConfig(),
		Engine: "piper",
	}
}

// Option customizes a Service.
type Option func(*Service)

// WithSpawn replaces the in-process worker factory. The pool uses ids
// [0, Size) and the control handle uses id Size.
func WithSpawn(spawn pool.SpawnFunc[Handle]) Option {
	return func(s *Service) { s.spawn = spawn }
}

// WithCache uses c instead of opening one from Config.Cache. The service
// closes it.
func WithCache(c *cache.Manager) Option {
	return func(s *Service) { s.cache = c }
}

// WithSink plays audio on sink. The service closes it. Without a sink,
// Speak fails with ErrNoPlayer.
func WithSink(sink audio.Sink) Option {
	return func(s *Service) { s.player = audio.NewScheduler(sink) }
}

// Result is the outcome of synthesizing one sentence. Exactly one of
// Audio and Err is set.
type Result struct {
	Audio  []byte
	Err    error
	Cached bool
}

// OK reports whether the result carries audio.
func (r Result) OK() bool {
	return r.Err == nil
}

// Service turns sentences into audio through the cache, the worker pool and
// the playback scheduler.
type Service struct {
	cfg   Config
	spawn pool.SpawnFunc[Handle]

	pool    *pool.Pool[Handle]
	control Handle
	cache   *cache.Manager
	player  *audio.Scheduler
	flight  singleflight.Group

	mu     sync.Mutex
	closed bool

	sentences metric.Int64Counter
}

// New creates the service and spawns its workers.
func New(cfg Config, opts ...Option) (*Service, error) {
	s := &Service{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}

	if s.spawn == nil {
		spawn, err := localSpawn(cfg)
		if err != nil {
			return nil, err
		}
		s.spawn = spawn
	}

	if s.cache == nil {
		c, err := cache.Open(cfg.Cache)
		if err != nil {
			return nil, fmt.Errorf("open audio cache: %w", err)
		}
		s.cache = c
	}

	p, err := pool.New(cfg.Pool, s.spawn)
	if err != nil {
		_ = s.cache.Close()
		return nil, fmt.Errorf("start worker pool: %w", err)
	}
	s.pool = p

	control, err := s.spawn(cfg.Pool.Size)
	if err != nil {
		_ = p.Close()
		_ = s.cache.Close()
		return nil, fmt.Errorf("spawn control worker: %w", err)
	}
	s.control = control

	meter := otel.Meter("github.com/arre-reader/arre/internal/tts")
	s.sentences, _ = meter.Int64Counter("arre.tts.sentences",
		metric.WithDescription("Synthesized sentences by outcome"))

	log.Debug("TTS service started", "workers", cfg.Pool.Size, "engine", cfg.Engine)
	return s, nil
}

// localSpawn runs each worker in-process behind a pipe transport.
func localSpawn(cfg Config) (pool.SpawnFunc[Handle], error) {
	newWorker, err := worker.Local(cfg.Models, cfg.Engine)
	if err != nil {
		return nil, err
	}
	return func(id int) (Handle, error) {
		log.Debug("Spawning worker", "id", id)
		return worker.Spawn(newWorker()), nil
	}, nil
}

// Player returns the playback scheduler, or nil without a sink.
func (s *Service) Player() *audio.Scheduler {
	return s.player
}

// DownloadModel fetches the assets of voiceID on the control worker.
func (s *Service) DownloadModel(ctx context.Context, voiceID string, onProgress func(models.Progress)) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := s.control.DownloadModel(ctx, voiceID, onProgress); err != nil {
		return NewError(ErrorCodeModel, "download model", err).WithContext("voice", voiceID)
	}
	return nil
}

// DeleteModels removes every stored model.
func (s *Service) DeleteModels(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := s.control.DeleteModels(ctx); err != nil {
		return NewError(ErrorCodeModel, "delete models", err)
	}
	return nil
}

// Voices returns the voice catalog.
func (s *Service) Voices(ctx context.Context) ([]models.Voice, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.control.Voices(ctx)
}

// Models returns the ids of the stored voices.
func (s *Service) Models(ctx context.Context) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.control.Models(ctx)
}

// Audio synthesizes text with voiceID. Cached audio is returned without
// touching the pool, and concurrent requests for the same key share one
// worker call. A synthesis failure is reported in Result.Err; the error
// return covers cancellation, timeouts and pool failures.
func (s *Service) Audio(ctx context.Context, text, voiceID string) (Result, error) {
	if err := s.check(); err != nil {
		return Result{}, err
	}
	// The key covers the exact text; whitespace only decides emptiness.
	if strings.TrimSpace(text) == "" {
		return Result{Err: ErrEmptyText}, nil
	}

	key := cache.Key(voiceID, text)
	if data, ok := s.cache.Get(ctx, key); ok {
		return Result{Audio: data, Cached: true}, nil
	}

	ch := s.flight.DoChan(key, func() (any, error) {
		// Shared by every caller of key; one caller leaving must not
		// cancel the others. The pool timeout still bounds it.
		return s.synthesize(context.WithoutCancel(ctx), key, text, voiceID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Result{}, classify("synthesize", res.Err)
		}
		return res.Val.(Result), nil
	case <-ctx.Done():
		return Result{}, classify("synthesize", ctx.Err())
	}
}

func (s *Service) synthesize(ctx context.Context, key, text, voiceID string) (Result, error) {
	if data, ok := s.cache.Get(ctx, key); ok {
		return Result{Audio: data, Cached: true}, nil
	}

	res, err := pool.Exec(ctx, s.pool, func(ctx context.Context, h Handle) (worker.AudioResult, error) {
		return h.Audio(ctx, text, voiceID)
	})
	if err != nil {
		return Result{}, err
	}
	if !res.OK() {
		return Result{Err: fmt.Errorf("%w: %w", ErrSynthesisFailed, res.Err())}, nil
	}

	s.cache.Set(key, res.Audio)
	return Result{Audio: res.Audio}, nil
}

// SentenceFunc observes each sentence result as it settles, in completion
// order.
type SentenceFunc func(index int, res Result)

// Speak synthesizes sentences concurrently and plays them in order. Failed
// sentences are skipped, but if none of them reaches the player Speak
// reports the first failure. Speak returns once playback has finished, or
// stops playback and returns when ctx ends.
func (s *Service) Speak(ctx context.Context, sentences []string, voiceID string, onSentence SentenceFunc) error {
	if err := s.check(); err != nil {
		return err
	}
	if s.player == nil {
		return ErrNoPlayer
	}

	// A new document replaces whatever was playing.
	s.player.Stop()

	// emit calls are serialized by the buffer.
	var played int
	var firstErr error
	buf := reassembly.New(func(i int, res Result) {
		if !res.OK() {
			log.Warn("Skipping sentence", "index", i, "err", res.Err)
			if firstErr == nil {
				firstErr = res.Err
			}
			return
		}
		if err := s.player.Enqueue(res.Audio); err != nil {
			log.Warn("Could not play sentence", "index", i, "err", err)
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		played++
	})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.inflight())
	for i, text := range sentences {
		g.Go(func() error {
			res, err := s.Audio(gctx, text, voiceID)
			if err != nil {
				var e *Error
				if errors.As(err, &e) && e.IsFatal() {
					return err
				}
				res = Result{Err: err}
			}
			s.record(gctx, res)
			buf.Put(i, res)
			if onSentence != nil {
				onSentence(i, res)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.player.Stop()
		return err
	}
	if played == 0 && len(sentences) > 0 {
		return NewError(ErrorCodeSynthesis, "no sentence could be played", firstErr).
			WithContext("sentences", len(sentences))
	}
	if err := s.player.Wait(ctx); err != nil {
		s.player.Stop()
		return classify("speak", err)
	}
	return nil
}

// inflight bounds the sentences submitted at once so a bounded pool queue
// is not overrun.
func (s *Service) inflight() int {
	size := max(s.cfg.Pool.Size, 1)
	if s.cfg.Pool.MaxQueued > 0 {
		return size + s.cfg.Pool.MaxQueued
	}
	return 2 * size
}

func (s *Service) record(ctx context.Context, res Result) {
	outcome := "synthesized"
	switch {
	case !res.OK():
		outcome = "failed"
	case res.Cached:
		outcome = "cached"
	}
	s.sentences.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// CacheStats returns the audio cache statistics.
func (s *Service) CacheStats(ctx context.Context) cache.ManagerStats {
	return s.cache.Stats(ctx)
}

// ClearCache removes every cached artifact.
func (s *Service) ClearCache(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.cache.Clear(ctx)
}

// PoolStats returns a snapshot of the worker pool.
func (s *Service) PoolStats() pool.Stats {
	return s.pool.Stats()
}

func (s *Service) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close stops playback, terminates the workers and flushes the cache.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	if s.player != nil {
		s.player.Stop()
		errs = append(errs, s.player.Sink().Close())
	}
	errs = append(errs,
		s.pool.Close(),
		s.control.Close(),
		s.cache.Close(),
	)
	log.Debug("TTS service closed")
	return errors.Join(errs...)
}
