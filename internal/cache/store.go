package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Store is the persistent tier of the cache.
type Store interface {
	// Get returns the artifact for key or ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// PutBatch writes all entries in a single transaction.
	PutBatch(ctx context.Context, entries map[string][]byte) error

	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Len(ctx context.Context) (int, error)
	Close() error
}

const schema = `
CREATE TABLE IF NOT EXISTS artifacts (
	key        TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	compressed INTEGER NOT NULL DEFAULT 0,
	size       INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);`

// compressThreshold is the smallest artifact worth compressing.
const compressThreshold = 1024

// SQLiteStore persists artifacts in a SQLite database with optional zstd
// compression of the blobs.
type SQLiteStore struct {
	db      *sql.DB
	path    string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// OpenSQLiteStore opens (or creates) the artifact database at path.
// A compressionLevel of zero stores blobs uncompressed.
func OpenSQLiteStore(path string, compressionLevel int) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cache schema: %w", err)
	}

	s := &SQLiteStore{db: db, path: path}
	if compressionLevel > 0 {
		s.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}
	// The decoder is always available so databases written with compression
	// stay readable after it is turned off.
	s.decoder, err = zstd.NewReader(nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var (
		data       []byte
		compressed int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT data, compressed FROM artifacts WHERE key = ?`, key).Scan(&data, &compressed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("query artifact: %w", err)
	}

	if compressed != 0 {
		data, err = s.decoder.DecodeAll(data, nil)
		if err != nil {
			_ = s.Delete(ctx, key)
			return nil, fmt.Errorf("%w: %v", ErrCacheCorrupted, err)
		}
	}
	return data, nil
}

// PutBatch implements Store.
func (s *SQLiteStore) PutBatch(ctx context.Context, entries map[string][]byte) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cache transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO artifacts (key, data, compressed, size, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			data = excluded.data,
			compressed = excluded.compressed,
			size = excluded.size,
			created_at = excluded.created_at`)
	if err != nil {
		return fmt.Errorf("prepare cache insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().Unix()
	for key, value := range entries {
		data, compressed := s.compress(value)
		flag := 0
		if compressed {
			flag = 1
		}
		if _, err := stmt.ExecContext(ctx, key, data, flag, len(value), now); err != nil {
			return fmt.Errorf("write artifact: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cache transaction: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}

// Clear implements Store.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM artifacts`); err != nil {
		return fmt.Errorf("clear artifacts: %w", err)
	}
	return nil
}

// Len implements Store.
func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM artifacts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count artifacts: %w", err)
	}
	return n, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if s.encoder != nil {
		_ = s.encoder.Close()
	}
	s.decoder.Close()
	return s.db.Close()
}

// compress returns the blob to write and whether it is compressed. Only
// blobs above the threshold that actually shrink are stored compressed.
func (s *SQLiteStore) compress(value []byte) ([]byte, bool) {
	if s.encoder == nil || len(value) <= compressThreshold {
		return value, false
	}
	out := s.encoder.EncodeAll(value, nil)
	if len(out) >= len(value) {
		return value, false
	}
	return out, true
}
