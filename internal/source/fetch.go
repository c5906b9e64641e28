package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"

	"github.com/arre-reader/arre/internal/cache"
)

const (
	// DefaultUserAgent is sent with every request.
	DefaultUserAgent = "Mozilla/5.0 (TTS Reader)"

	maxPageSize = 10 << 20
)

// ErrDisallowed is returned when robots.txt forbids fetching a page.
var ErrDisallowed = errors.New("disallowed by robots.txt")

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	UserAgent  string
	HTTPClient *http.Client

	// Documents caches robots.txt bodies and extracted pages. Nil disables
	// caching.
	Documents *cache.Documents

	// TTL is how long cached entries are served without refetching.
	TTL time.Duration

	Now func() time.Time
}

// Fetcher downloads web pages politely and caches what it extracts.
type Fetcher struct {
	cfg    FetcherConfig
	client *http.Client
}

type robotsEntry struct {
	Body      string    `json:"body"`
	FetchedAt time.Time `json:"fetchedAt"`
}

type contentEntry struct {
	Page
	FetchedAt time.Time `json:"fetchedAt"`
}

// NewFetcher creates a fetcher.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.TTL <= 0 {
		cfg.TTL = cache.DocumentTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Fetcher{cfg: cfg, client: client}
}

// Fetch returns the readable text of the page at rawURL. Fresh cached
// copies are served without a request; stale ones are refetched and used
// only when the refetch fails.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Document, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Document{}, fmt.Errorf("invalid URL %q", rawURL)
	}
	key := u.String()

	var cached contentEntry
	hit := f.lookup(cache.NamespaceContent, key, &cached)
	if hit && f.fresh(cached.FetchedAt) {
		log.Debug("Serving cached page", "url", key)
		return cached.document(key), nil
	}

	page, err := f.fetchPage(ctx, u)
	if err != nil {
		if hit && !errors.Is(err, ErrDisallowed) {
			log.Warn("Refetch failed, using stale page", "url", key, "err", err)
			return cached.document(key), nil
		}
		return Document{}, err
	}

	f.store(cache.NamespaceContent, key, contentEntry{Page: page, FetchedAt: f.cfg.Now()})
	return Document{Title: page.Title, Text: page.Text, Origin: key}, nil
}

func (e contentEntry) document(origin string) Document {
	return Document{Title: e.Title, Text: e.Text, Origin: origin}
}

func (f *Fetcher) fetchPage(ctx context.Context, u *url.URL) (Page, error) {
	rules, err := f.robots(ctx, u)
	if err != nil {
		return Page{}, err
	}
	if !rules.allowed(u.EscapedPath()) {
		return Page{}, fmt.Errorf("%w: %s", ErrDisallowed, u)
	}

	resp, err := f.get(ctx, u.String(), "text/html")
	if err != nil {
		return Page{}, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("fetch %s: HTTP status %d", u, resp.StatusCode)
	}
	return ExtractText(io.LimitReader(resp.Body, maxPageSize))
}

// robots returns the rules of u's host, from cache when fresh. Hosts
// without a robots.txt allow everything.
func (f *Fetcher) robots(ctx context.Context, u *url.URL) (robots, error) {
	robotsURL := (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/robots.txt"}).String()

	var cached robotsEntry
	hit := f.lookup(cache.NamespaceRobots, robotsURL, &cached)
	if hit && f.fresh(cached.FetchedAt) {
		return parseRobots(cached.Body, f.cfg.UserAgent), nil
	}

	body, err := f.fetchRobots(ctx, robotsURL)
	if err != nil {
		if hit {
			log.Warn("Refetching robots.txt failed, using stale copy", "url", robotsURL, "err", err)
			return parseRobots(cached.Body, f.cfg.UserAgent), nil
		}
		return robots{}, err
	}

	f.store(cache.NamespaceRobots, robotsURL, robotsEntry{Body: body, FetchedAt: f.cfg.Now()})
	return parseRobots(body, f.cfg.UserAgent), nil
}

func (f *Fetcher) fetchRobots(ctx context.Context, robotsURL string) (string, error) {
	resp, err := f.get(ctx, robotsURL, "text/plain")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusOK:
		b, err := io.ReadAll(io.LimitReader(resp.Body, 512<<10))
		if err != nil {
			return "", fmt.Errorf("read %s: %w", robotsURL, err)
		}
		return string(b), nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return "", nil
	default:
		return "", fmt.Errorf("fetch %s: HTTP status %d", robotsURL, resp.StatusCode)
	}
}

func (f *Fetcher) get(ctx context.Context, rawURL, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", accept)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	return resp, nil
}

func (f *Fetcher) fresh(fetchedAt time.Time) bool {
	return f.cfg.Now().Sub(fetchedAt) < f.cfg.TTL
}

func (f *Fetcher) lookup(ns, key string, v any) bool {
	if f.cfg.Documents == nil {
		return false
	}
	ok, err := f.cfg.Documents.Get(ns, key, v)
	if err != nil {
		log.Warn("Dropping unreadable cache entry", "namespace", ns, "key", key, "err", err)
		_ = f.cfg.Documents.Delete(ns, key)
		return false
	}
	return ok
}

func (f *Fetcher) store(ns, key string, v any) {
	if f.cfg.Documents == nil {
		return
	}
	if err := f.cfg.Documents.Set(ns, key, v); err != nil {
		log.Warn("Could not cache document", "namespace", ns, "key", key, "err", err)
	}
}
