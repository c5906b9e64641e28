package cache

import (
	"errors"
	"time"
)

// Common errors for cache operations
var (
	// ErrItemTooLarge is returned when an item exceeds the cache capacity
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrCacheMiss is returned when an item is not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheCorrupted is returned when cache data is corrupted
	ErrCacheCorrupted = errors.New("cache data corrupted")

	// ErrClosed is returned when the cache has already been closed
	ErrClosed = errors.New("cache is closed")
)

// CacheLevel represents the cache tier
type CacheLevel int

const (
	// CacheLevelL1 represents the memory cache (fastest)
	CacheLevelL1 CacheLevel = iota

	// CacheLevelPending represents entries set but not yet flushed
	CacheLevelPending

	// CacheLevelL2 represents the persistent store
	CacheLevelL2
)

// String returns the string representation of the cache level
func (l CacheLevel) String() string {
	switch l {
	case CacheLevelL1:
		return "L1-Memory"
	case CacheLevelPending:
		return "Pending"
	case CacheLevelL2:
		return "L2-SQLite"
	default:
		return "Unknown"
	}
}

// CacheStats holds cache performance metrics
type CacheStats struct {
	Capacity int64 // Maximum capacity in bytes

	Size      int64 // Current size in bytes
	ItemCount int64 // Number of items in cache

	Hits      int64
	Misses    int64
	Evictions int64
	HitRate   float64 // hits / (hits + misses)
}

// ManagerStats aggregates the statistics of every tier.
type ManagerStats struct {
	Memory  CacheStats
	Pending int   // Entries waiting for the next flush
	Stored  int   // Entries in the persistent store
	L1Hits  int64 // Hits served from memory
	L2Hits  int64 // Hits served from the persistent store
	Misses  int64
	Flushes int64 // Completed persistent flushes
}

// Config holds configuration for the cache manager.
type Config struct {
	// Dir holds the SQLite database. Empty keeps everything in memory.
	Dir string

	// MemoryCapacity bounds the L1 cache in bytes.
	MemoryCapacity int64

	// CompressionLevel is the zstd level (1-22). Zero disables compression.
	CompressionLevel int

	// FlushInterval is the debounce window for persistent writes.
	FlushInterval time.Duration
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		MemoryCapacity:   64 * 1024 * 1024, // 64MB
		CompressionLevel: 3,
		FlushInterval:    FlushInterval,
	}
}

// FlushInterval is the default debounce window for persisted writes.
const FlushInterval = time.Second
