package cache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DatabaseName is the file name of the artifact database inside Config.Dir.
const DatabaseName = "audio.db"

// storeTimeout bounds a single flush to the persistent store.
const storeTimeout = 30 * time.Second

// Manager is the content-addressed artifact cache. Reads go through memory,
// then unflushed writes, then the persistent store. Writes are visible
// immediately and reach the store in debounced batches.
type Manager struct {
	memory *MemoryCache
	store  Store // nil when running memory-only

	mu      sync.Mutex
	pending map[string][]byte
	closed  bool

	flusher *Debouncer

	l1Hits atomic.Int64
	l2Hits atomic.Int64
	misses atomic.Int64

	lookups metric.Int64Counter
}

// Open creates a Manager backed by a SQLite store in cfg.Dir. An empty
// directory yields a memory-only cache.
func Open(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		return NewManager(cfg, nil), nil
	}
	store, err := OpenSQLiteStore(filepath.Join(cfg.Dir, DatabaseName), cfg.CompressionLevel)
	if err != nil {
		return nil, err
	}
	return NewManager(cfg, store), nil
}

// NewManager creates a Manager on top of store, which may be nil.
func NewManager(cfg Config, store Store) *Manager {
	if cfg.MemoryCapacity <= 0 {
		cfg.MemoryCapacity = DefaultConfig().MemoryCapacity
	}

	m := &Manager{
		memory:  NewMemoryCache(cfg.MemoryCapacity),
		store:   store,
		pending: make(map[string][]byte),
	}
	m.flusher = NewDebouncer("audio", cfg.FlushInterval, m.flush)

	meter := otel.Meter("github.com/arre-reader/arre/internal/cache")
	m.lookups, _ = meter.Int64Counter("arre.cache.lookups",
		metric.WithDescription("Audio cache lookups by tier and result"))

	return m
}

// Get returns the artifact stored under key.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, bool) {
	if data, ok := m.memory.Get(key); ok {
		m.record(ctx, CacheLevelL1, true)
		return data, true
	}

	m.mu.Lock()
	data, ok := m.pending[key]
	m.mu.Unlock()
	if ok {
		m.record(ctx, CacheLevelPending, true)
		return data, true
	}

	if m.store == nil {
		m.record(ctx, CacheLevelL2, false)
		return nil, false
	}

	data, err := m.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			log.Warn("Audio cache read failed", "key", key, "err", err)
		}
		m.record(ctx, CacheLevelL2, false)
		return nil, false
	}

	_ = m.memory.Put(key, data)
	m.record(ctx, CacheLevelL2, true)
	return data, true
}

// Set stores an artifact. Concurrent writers of the same key are resolved
// last-writer-wins; since keys are content-derived the values are equivalent.
func (m *Manager) Set(key string, data []byte) {
	if err := m.memory.Put(key, data); err != nil {
		log.Debug("Artifact skipped L1", "key", key, "size", len(data), "err", err)
	}
	if m.store == nil {
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.pending[key] = data
	m.mu.Unlock()

	m.flusher.Mark()
}

// Delete removes key from every tier.
func (m *Manager) Delete(ctx context.Context, key string) error {
	m.memory.Delete(key)

	m.mu.Lock()
	delete(m.pending, key)
	m.mu.Unlock()

	if m.store == nil {
		return nil
	}
	return m.store.Delete(ctx, key)
}

// Clear removes every artifact from every tier.
func (m *Manager) Clear(ctx context.Context) error {
	m.memory.Clear()

	m.mu.Lock()
	m.pending = make(map[string][]byte)
	m.mu.Unlock()

	if m.store == nil {
		return nil
	}
	return m.store.Clear(ctx)
}

// Flush writes all pending artifacts to the persistent store now.
func (m *Manager) Flush() error {
	return m.flusher.Flush()
}

// Stats returns a snapshot of the cache statistics.
func (m *Manager) Stats(ctx context.Context) ManagerStats {
	m.mu.Lock()
	pending := len(m.pending)
	m.mu.Unlock()

	stats := ManagerStats{
		Memory:  m.memory.Stats(),
		Pending: pending,
		L1Hits:  m.l1Hits.Load(),
		L2Hits:  m.l2Hits.Load(),
		Misses:  m.misses.Load(),
	}
	stats.Flushes, _ = m.flusher.Flushes()

	if m.store != nil {
		if n, err := m.store.Len(ctx); err == nil {
			stats.Stored = n
		}
	}
	return stats
}

// Close flushes pending writes and closes the persistent store.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	flushErr := m.flusher.Close()
	if m.store == nil {
		return flushErr
	}
	if err := m.store.Close(); err != nil {
		return errors.Join(flushErr, fmt.Errorf("close store: %w", err))
	}
	return flushErr
}

// flush moves the pending set to the store in one batch. On failure the
// batch is merged back, keeping any newer value written in the meantime.
func (m *Manager) flush() error {
	m.mu.Lock()
	batch := m.pending
	m.pending = make(map[string][]byte)
	m.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := m.store.PutBatch(ctx, batch); err != nil {
		m.mu.Lock()
		for k, v := range batch {
			if _, newer := m.pending[k]; !newer {
				m.pending[k] = v
			}
		}
		m.mu.Unlock()
		return err
	}

	log.Debug("Audio cache flushed", "entries", len(batch))
	return nil
}

func (m *Manager) record(ctx context.Context, level CacheLevel, hit bool) {
	switch {
	case !hit:
		m.misses.Add(1)
	case level == CacheLevelL1:
		m.l1Hits.Add(1)
	default:
		m.l2Hits.Add(1)
	}
	if m.lookups != nil {
		m.lookups.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tier", level.String()),
			attribute.Bool("hit", hit),
		))
	}
}
