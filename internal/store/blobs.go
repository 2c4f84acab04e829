package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"emocall/internal/domain"
)

// BlobScheme prefixes references returned by Upload.
const BlobScheme = "blob://"

// SQLiteBlobs stores recordings and profile pictures in a local SQLite file.
type SQLiteBlobs struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLiteBlobs opens (creating if needed) the blob database at path.
func OpenSQLiteBlobs(path string) (*SQLiteBlobs, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create blob dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open blob database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping blob database: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS blobs (
			path         TEXT PRIMARY KEY,
			content_type TEXT NOT NULL,
			size         INTEGER NOT NULL,
			data         BLOB NOT NULL,
			created_at   INTEGER NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create blobs table: %w", err)
	}
	return &SQLiteBlobs{db: db, now: time.Now}, nil
}

func (s *SQLiteBlobs) Close() error {
	return s.db.Close()
}

// Upload writes data under path, replacing any existing object.
func (s *SQLiteBlobs) Upload(ctx context.Context, path, contentType string, data []byte) (string, error) {
	path, err := cleanBlobPath(path)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO blobs (path, content_type, size, data, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (path) DO UPDATE SET
			content_type = excluded.content_type,
			size = excluded.size,
			data = excluded.data,
			created_at = excluded.created_at`,
		path, contentType, len(data), data, s.now().UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", path, err)
	}
	return BlobScheme + path, nil
}

// Download reads an object by reference or bare path.
func (s *SQLiteBlobs) Download(ctx context.Context, ref string) ([]byte, error) {
	path, err := cleanBlobPath(strings.TrimPrefix(ref, BlobScheme))
	if err != nil {
		return nil, err
	}
	var data []byte
	err = s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE path = ?`, path).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("blob %s: %w", path, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", path, err)
	}
	return data, nil
}

// MemoryBlobs is an in-process BlobStore.
type MemoryBlobs struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	types map[string]string
}

func NewMemoryBlobs() *MemoryBlobs {
	return &MemoryBlobs{blobs: make(map[string][]byte), types: make(map[string]string)}
}

func (m *MemoryBlobs) Upload(_ context.Context, path, contentType string, data []byte) (string, error) {
	path, err := cleanBlobPath(path)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[path] = bytes.Clone(data)
	m.types[path] = contentType
	return BlobScheme + path, nil
}

func (m *MemoryBlobs) Download(_ context.Context, ref string) ([]byte, error) {
	path, err := cleanBlobPath(strings.TrimPrefix(ref, BlobScheme))
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[path]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", path, domain.ErrNotFound)
	}
	return bytes.Clone(data), nil
}

// ContentType reports the type recorded for path.
func (m *MemoryBlobs) ContentType(path string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.types[path]
}

func cleanBlobPath(path string) (string, error) {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return "", errors.New("blob path is required")
	}
	for _, part := range strings.Split(path, "/") {
		if part == "" || part == "." || part == ".." {
			return "", fmt.Errorf("invalid blob path %q", path)
		}
	}
	return path, nil
}
