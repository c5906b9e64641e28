// Package models stores voice model assets on disk and describes the voices
// that can be downloaded.
//
// Assets are addressed by the trailing path segment of their source URL and
// only assets served from the trusted host are persisted.
package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL hosts the piper voice models.
	DefaultBaseURL = "https://huggingface.co/rhasspy/piper-voices/resolve/v1.0.0"

	// DefaultTrustedHost is the only origin whose assets are persisted.
	DefaultTrustedHost = "https://huggingface.co"

	modelExt = ".onnx"
)

// ErrUnknownVoice is returned for voice ids missing from the catalog.
var ErrUnknownVoice = errors.New("unknown voice")

// Progress reports download progress of a single asset.
type Progress struct {
	URL    string `json:"url"`
	Loaded int64  `json:"loaded"`
	Total  int64  `json:"total"`
}

// Percent returns the completed share in [0,100], or -1 when the total is
// unknown.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return -1
	}
	return float64(p.Loaded) * 100 / float64(p.Total)
}

// Config configures a Store.
type Config struct {
	// Dir is the private directory holding the assets.
	Dir string

	BaseURL     string
	TrustedHost string

	// ProgressInterval throttles progress events. The final event of each
	// asset is always delivered.
	ProgressInterval time.Duration

	HTTPClient *http.Client
}

// Store manages downloaded model assets.
type Store struct {
	cfg     Config
	catalog *Catalog
	client  *http.Client
}

// NewStore creates a store rooted at cfg.Dir.
func NewStore(cfg Config, catalog *Catalog) *Store {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.TrustedHost == "" {
		cfg.TrustedHost = DefaultTrustedHost
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 100 * time.Millisecond
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Store{cfg: cfg, catalog: catalog, client: client}
}

// Catalog returns the voice catalog the store validates against.
func (s *Store) Catalog() *Catalog {
	return s.catalog
}

// Dir returns the asset directory.
func (s *Store) Dir() string {
	return s.cfg.Dir
}

// URLs returns the model and model config URLs of a voice.
func (s *Store) URLs(voiceID string) (model, config string, err error) {
	v, ok := s.catalog.Lookup(voiceID)
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnknownVoice, voiceID)
	}
	model = strings.TrimSuffix(s.cfg.BaseURL, "/") + "/" + v.Path
	return model, model + ".json", nil
}

// Download fetches both assets of a voice concurrently. Progress is only
// reported for the model itself.
func (s *Store) Download(ctx context.Context, voiceID string, onProgress func(Progress)) error {
	modelURL, configURL, err := s.URLs(voiceID)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.fetch(ctx, modelURL, onProgress) })
	g.Go(func() error { return s.fetch(ctx, configURL, nil) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("download %s: %w", voiceID, err)
	}
	return nil
}

// Remove deletes the assets of a voice.
func (s *Store) Remove(voiceID string) error {
	modelURL, configURL, err := s.URLs(voiceID)
	if err != nil {
		return err
	}
	var errs []error
	for _, u := range []string{modelURL, configURL} {
		if err := os.Remove(s.pathFor(u)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stored returns the ids of voices whose model file is present.
func (s *Store) Stored() ([]string, error) {
	entries, err := os.ReadDir(s.cfg.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}

	ids := []string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, modelExt) {
			continue
		}
		key := strings.SplitN(name, ".", 2)[0]
		if _, ok := s.catalog.Lookup(key); ok {
			ids = append(ids, key)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// IsStored reports whether the model of voiceID is present.
func (s *Store) IsStored(voiceID string) (bool, error) {
	ids, err := s.Stored()
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == voiceID {
			return true, nil
		}
	}
	return false, nil
}

// Flush removes the whole asset directory.
func (s *Store) Flush() error {
	if err := os.RemoveAll(s.cfg.Dir); err != nil {
		return fmt.Errorf("remove models: %w", err)
	}
	return nil
}

// ModelFiles returns the local paths of a voice's model and config. Missing
// or empty files count as not stored.
func (s *Store) ModelFiles(voiceID string) (model, config string, ok bool) {
	modelURL, configURL, err := s.URLs(voiceID)
	if err != nil {
		return "", "", false
	}
	model, ok = s.local(modelURL)
	if !ok {
		return "", "", false
	}
	config, ok = s.local(configURL)
	if !ok {
		return "", "", false
	}
	return model, config, true
}

// Read returns the stored asset for url. Untrusted URLs, missing files and
// empty files are misses; empty files are removed.
func (s *Store) Read(url string) ([]byte, bool) {
	p, ok := s.local(url)
	if !ok {
		return nil, false
	}
	b, err := os.ReadFile(p)
	if err != nil {
		log.Warn("Could not read model asset", "path", p, "err", err)
		return nil, false
	}
	return b, true
}

func (s *Store) local(url string) (string, bool) {
	if !s.trusted(url) {
		return "", false
	}
	p := s.pathFor(url)
	st, err := os.Stat(p)
	if err != nil {
		return "", false
	}
	if st.Size() == 0 {
		log.Warn("Removing empty model asset", "path", p)
		_ = os.Remove(p)
		return "", false
	}
	return p, true
}

// trusted reports whether raw is served from the trusted origin. Scheme and
// host must match exactly.
func (s *Store) trusted(raw string) bool {
	want, err := url.Parse(s.cfg.TrustedHost)
	if err != nil || want.Host == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, want.Scheme) && strings.EqualFold(u.Host, want.Host)
}

// pathFor maps a URL to its file: the trailing path segment.
func (s *Store) pathFor(url string) string {
	return filepath.Join(s.cfg.Dir, path.Base(url))
}

func (s *Store) fetch(ctx context.Context, url string, onProgress func(Progress)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: HTTP status %d", url, resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if onProgress != nil {
		body = &progressReader{
			r:        resp.Body,
			progress: Progress{URL: url, Total: resp.ContentLength},
			emit:     onProgress,
			limit:    &rate.Sometimes{Interval: s.cfg.ProgressInterval},
		}
	}

	if !s.trusted(url) {
		// Only trusted assets are persisted; drain so progress completes.
		n, err := io.Copy(io.Discard, body)
		log.Debug("Not persisting untrusted asset", "url", url, "size", humanize.Bytes(uint64(n)))
		return err
	}
	return s.writeAsset(url, body)
}

func (s *Store) writeAsset(url string, body io.Reader) error {
	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create model directory: %w", err)
	}

	dest := s.pathFor(url)
	tmp, err := os.CreateTemp(s.cfg.Dir, path.Base(url)+".*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	n, err := io.Copy(tmp, body)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", dest, err)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}

	log.Info("Stored model asset", "file", filepath.Base(dest), "size", humanize.Bytes(uint64(n)))
	return nil
}

// progressReader reports bytes read, throttled by limit. EOF always emits
// the final count.
type progressReader struct {
	r        io.Reader
	progress Progress
	emit     func(Progress)
	limit    *rate.Sometimes
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.progress.Loaded += int64(n)

	if errors.Is(err, io.EOF) {
		if p.progress.Total <= 0 {
			p.progress.Total = p.progress.Loaded
		}
		p.emit(p.progress)
		return n, err
	}
	if n > 0 {
		p.limit.Do(func() { p.emit(p.progress) })
	}
	return n, err
}
