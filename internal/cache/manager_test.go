package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// countingStore records batches instead of persisting them.
type countingStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	batches []int
	failN   int // number of PutBatch calls to fail
}

func newCountingStore() *countingStore {
	return &countingStore{data: make(map[string][]byte)}
}

func (s *countingStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return v, nil
}

func (s *countingStore) PutBatch(_ context.Context, entries map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failN > 0 {
		s.failN--
		return errors.New("store unavailable")
	}
	for k, v := range entries {
		s.data[k] = v
	}
	s.batches = append(s.batches, len(entries))
	return nil
}

func (s *countingStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *countingStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string][]byte)
	return nil
}

func (s *countingStore) Len(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data), nil
}

func (s *countingStore) Close() error { return nil }

func (s *countingStore) Batches() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.batches...)
}

func TestManager_SetIsVisibleBeforeFlush(t *testing.T) {
	store := newCountingStore()
	m := NewManager(Config{MemoryCapacity: 1024, FlushInterval: time.Hour}, store)
	defer m.Close()

	key := Key("voiceA", "hello")
	m.Set(key, []byte("audio"))

	got, ok := m.Get(context.Background(), key)
	if !ok {
		t.Fatal("Get failed: key not found")
	}
	if string(got) != "audio" {
		t.Errorf("Get = %q, want %q", got, "audio")
	}
	if n := len(store.Batches()); n != 0 {
		t.Errorf("store written %d times before the debounce window elapsed", n)
	}
}

func TestManager_CoalescesWrites(t *testing.T) {
	store := newCountingStore()
	m := NewManager(Config{MemoryCapacity: 1 << 20, FlushInterval: 20 * time.Millisecond}, store)
	defer m.Close()

	for i := 0; i < 25; i++ {
		m.Set(Key("voiceA", fmt.Sprintf("sentence %d", i)), []byte{byte(i)})
	}

	waitFor(t, time.Second, func() bool { return len(store.Batches()) > 0 })

	batches := store.Batches()
	if len(batches) != 1 || batches[0] != 25 {
		t.Errorf("batches = %v, want one batch of 25", batches)
	}
}

func TestManager_FailedFlushKeepsEntries(t *testing.T) {
	store := newCountingStore()
	store.failN = 1
	m := NewManager(Config{MemoryCapacity: 1024, FlushInterval: time.Hour}, store)
	defer m.Close()

	key := Key("voiceA", "hello")
	m.Set(key, []byte("audio"))

	if err := m.Flush(); err == nil {
		t.Fatal("expected first flush to fail")
	}
	if stats := m.Stats(context.Background()); stats.Pending != 1 {
		t.Errorf("Pending = %d after failed flush, want 1", stats.Pending)
	}

	if err := m.Flush(); err != nil {
		t.Fatalf("second flush failed: %v", err)
	}
	if _, err := store.Get(context.Background(), key); err != nil {
		t.Errorf("entry not persisted after retry: %v", err)
	}
}

func TestManager_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Dir:              dir,
		MemoryCapacity:   1 << 20,
		CompressionLevel: 3,
		FlushInterval:    time.Hour,
	}

	m, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	want := map[string][]byte{
		Key("voiceA", "small"): []byte("tiny artifact"),
		// Large and repetitive, so it is stored compressed.
		Key("voiceA", "large"): bytes.Repeat([]byte("RIFF0000WAVEfmt "), 512),
	}
	for k, v := range want {
		m.Set(k, v)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	for k, v := range want {
		got, ok := reopened.Get(context.Background(), k)
		if !ok {
			t.Fatalf("key %s missing after reopen", k)
		}
		if !bytes.Equal(got, v) {
			t.Errorf("key %s: got %d bytes, want %d", k, len(got), len(v))
		}
	}

	stats := reopened.Stats(context.Background())
	if stats.Stored != len(want) {
		t.Errorf("Stored = %d, want %d", stats.Stored, len(want))
	}
	if stats.L2Hits != int64(len(want)) {
		t.Errorf("L2Hits = %d, want %d", stats.L2Hits, len(want))
	}
}

func TestManager_Clear(t *testing.T) {
	store := newCountingStore()
	m := NewManager(Config{MemoryCapacity: 1024, FlushInterval: time.Hour}, store)
	defer m.Close()

	key := Key("voiceA", "hello")
	m.Set(key, []byte("audio"))
	_ = m.Flush()

	if err := m.Clear(context.Background()); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, ok := m.Get(context.Background(), key); ok {
		t.Error("key still present after Clear")
	}
}

func TestManager_MemoryOnly(t *testing.T) {
	m, err := Open(Config{MemoryCapacity: 1024})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer m.Close()

	m.Set("k", []byte("v"))
	if _, ok := m.Get(context.Background(), "k"); !ok {
		t.Error("memory-only cache lost its entry")
	}
	if _, ok := m.Get(context.Background(), "missing"); ok {
		t.Error("unexpected hit for missing key")
	}
}
