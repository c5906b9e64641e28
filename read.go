package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/arre-reader/arre/internal/audio"
	"github.com/arre-reader/arre/internal/cache"
	"github.com/arre-reader/arre/internal/models"
	"github.com/arre-reader/arre/internal/source"
	"github.com/arre-reader/arre/internal/state"
	"github.com/arre-reader/arre/internal/telemetry"
	"github.com/arre-reader/arre/internal/tts"
)

// mockTick is how often the virtual clock of ARRE_MOCK_AUDIO advances.
const mockTick = 10 * time.Millisecond

// read speaks the document named by arg.
func read(ctx context.Context, s settings, arg string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Setup(ctx, telemetry.Config{ServiceName: appName, Version: Version})
	if err != nil {
		return err
	}
	defer tel.Shutdown(context.Background()) //nolint:errcheck
	if s.MetricsAddr != "" {
		if _, err := tel.Serve(s.MetricsAddr); err != nil {
			return err
		}
	}

	out := newStatus(os.Stderr)
	machine := state.NewMachine(func(from, to state.State) {
		log.Debug("Phase changed", "from", from, "to", to)
		out.phase(to)
	})

	sink, err := openSink(ctx, s)
	if err != nil {
		_, _ = machine.Fire(state.Failed{Err: err})
		return err
	}

	svc, closeSvc, err := newService(ctx, s, sink)
	if err != nil {
		_ = sink.Close()
		_, _ = machine.Fire(state.Failed{Err: err})
		return err
	}
	defer closeSvc()
	_, _ = machine.Fire(state.Initialized{})

	if err := ensureModel(ctx, svc, s, machine); err != nil {
		_, _ = machine.Fire(state.Failed{Err: err})
		return err
	}

	_, _ = machine.Fire(state.TextRequested{})
	doc, err := readSource(ctx, s, arg)
	if err != nil {
		_, _ = machine.Fire(state.Failed{Err: err})
		return err
	}
	sentences := doc.Sentences()
	log.Info("Document loaded", "origin", doc.Origin, "title", doc.Title, "sentences", len(sentences))
	_, _ = machine.Fire(state.TextReady{Sentences: len(sentences)})
	if len(sentences) == 0 {
		return nil
	}

	player := svc.Player()
	if err := player.SetRate(s.Rate); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if restore, err := watchKeys(ctx, os.Stdin, player, cancel, out); err != nil {
		log.Debug("Keyboard controls disabled", "err", err)
	} else {
		defer restore()
	}

	err = svc.Speak(ctx, sentences, s.Voice, func(i int, res tts.Result) {
		if !res.OK() {
			out.warn(fmt.Sprintf("sentence %d skipped: %v", i+1, res.Err))
		}
		_, _ = machine.Fire(state.SentenceDone{})
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		_, _ = machine.Fire(state.Failed{Err: err})
		return err
	}
	_, _ = machine.Fire(state.PlaybackDone{})

	st := svc.CacheStats(ctx)
	log.Debug("Cache usage", "memory", humanize.IBytes(uint64(st.Memory.Size)), "l1_hits", st.L1Hits, "l2_hits", st.L2Hits, "misses", st.Misses)
	return nil
}

// openSink opens the sound device, or a virtual one with ARRE_MOCK_AUDIO.
func openSink(ctx context.Context, s settings) (audio.Sink, error) {
	if processEnv.MockAudio {
		log.Debug("Using mock audio output")
		sink := audio.NewMockSink()
		go sink.Run(ctx, mockTick)
		return sink, nil
	}

	cfg := audio.DefaultOtoConfig()
	cfg.SampleRate = s.SampleRate
	sink, err := audio.NewOtoSink(cfg)
	if err != nil {
		return nil, tts.NewError(tts.ErrorCodeAudioDevice, "open audio device", err)
	}
	sink.SetVolume(s.Volume)
	return sink, nil
}

// ensureModel downloads the configured voice unless it is already stored.
// The mock engine needs no model.
func ensureModel(ctx context.Context, svc *tts.Service, s settings, machine *state.Machine) error {
	if s.Engine == "mock" {
		_, err := machine.Fire(state.ModelStored{})
		return err
	}

	stored, err := svc.Models(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(stored, s.Voice) {
		_, err := machine.Fire(state.ModelStored{})
		return err
	}

	log.Info("Downloading voice model", "voice", s.Voice)
	err = svc.DownloadModel(ctx, s.Voice, func(p models.Progress) {
		_, _ = machine.Fire(state.ModelProgress{Progress: p})
	})
	if err != nil {
		return err
	}
	_, err = machine.Fire(state.ModelReady{})
	return err
}

// readSource resolves arg with a fetcher whose caches live next to the
// audio cache.
func readSource(ctx context.Context, s settings, arg string) (source.Document, error) {
	opts := source.Options{Stdin: os.Stdin, Clipboard: clipboard}
	if source.IsURL(arg) {
		docs := cache.OpenDocuments(s.CacheDir, cache.FlushInterval, cache.NamespaceRobots, cache.NamespaceContent)
		defer docs.Close() //nolint:errcheck
		opts.Fetcher = source.NewFetcher(source.FetcherConfig{
			UserAgent: s.UserAgent,
			Documents: docs,
			TTL:       s.FetchTTL,
		})
	}
	return source.Read(ctx, arg, opts)
}

// status prints phase changes as single lines. Lines end in "\r\n" so they
// render correctly while the terminal is in raw mode.
type status struct {
	mu   sync.Mutex
	w    io.Writer
	last string
}

func newStatus(w io.Writer) *status {
	return &status{w: w}
}

func (s *status) phase(st state.State) {
	line := st.String()
	if l, ok := st.(state.ModelLoading); ok {
		p := l.Progress
		line = fmt.Sprintf("%s (%s / %s)", line, humanize.IBytes(uint64(max(p.Loaded, 0))), humanize.IBytes(uint64(max(p.Total, 0))))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if line == s.last {
		return
	}
	s.last = line
	s.write(faint(line))
}

func (s *status) info(msg string) {
	s.print(keyword(msg))
}

func (s *status) warn(msg string) {
	s.print(alert(msg))
}

func (s *status) print(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.write(line)
}

func (s *status) write(line string) {
	_, _ = fmt.Fprint(s.w, "\r"+line+"\r\n")
}

// isTerminal reports whether f is an interactive terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd())) //nolint:gosec
}
