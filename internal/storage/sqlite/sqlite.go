// Package sqlite stores sessions, the listing index and image blobs in a
// single embedded database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/GriffinCanCode/StorySpark/internal/domain/story"
	"github.com/GriffinCanCode/StorySpark/internal/storage"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// FileName is the database file created inside the storage root
const FileName = "storyspark.db"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		file_id TEXT PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		created_time TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		document BLOB NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at DESC, id DESC);`,
	`CREATE TABLE IF NOT EXISTS blobs (
		name TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		created_at_ns INTEGER NOT NULL
	);`,
}

// Backend is the SQLite storage backend
type Backend struct {
	root   string
	path   string
	logger *zap.Logger

	mu sync.Mutex
	db *sql.DB
}

// New creates a backend whose database lives at <dir>/storyspark.db
func New(dir string, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	dir = filepath.Clean(dir)
	return &Backend{root: dir, path: filepath.Join(dir, FileName), logger: logger}
}

// Kind implements storage.Backend
func (b *Backend) Kind() storage.Kind {
	return storage.KindSQLite
}

// Path returns the database file path
func (b *Backend) Path() string {
	return b.path
}

// Initialize opens the database and applies the schema. A failed attempt
// can be retried.
func (b *Backend) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db != nil {
		return nil
	}

	if err := os.MkdirAll(b.root, 0o755); err != nil {
		return b.wrap("initialize", "", err)
	}
	db, err := sql.Open("sqlite", b.path)
	if err != nil {
		return b.wrap("initialize", "", err)
	}
	// One connection keeps pragmas and write ordering consistent
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return b.wrap("initialize", "", err)
		}
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return b.wrap("initialize", "", err)
		}
	}

	b.db = db
	b.logger.Debug("SQLite storage ready", zap.String("path", b.path))
	return nil
}

func (b *Backend) conn() (*sql.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil, fmt.Errorf("%w: sqlite backend not initialized", storage.ErrUnavailable)
	}
	return b.db, nil
}

// Put upserts the document and its index columns in one transaction
func (b *Backend) Put(ctx context.Context, s *story.Session) (string, error) {
	if err := storage.CheckDocument(s); err != nil {
		return "", err
	}
	db, err := b.conn()
	if err != nil {
		return "", err
	}

	doc, err := sonic.Marshal(s)
	if err != nil {
		return "", b.wrap("put", s.ID, err)
	}
	entry := s.Entry(s.ID)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", b.wrap("put", s.ID, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (file_id, id, name, created_time, created_at, updated_at, document)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_id) DO UPDATE SET
			name = excluded.name,
			created_time = excluded.created_time,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			document = excluded.document`,
		entry.FileID, entry.ID, entry.Name, entry.CreatedTime, s.CreatedAt, s.UpdatedAt, doc,
	)
	if err != nil {
		return "", b.wrap("put", s.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return "", b.wrap("put", s.ID, err)
	}
	return entry.FileID, nil
}

// Get reads a document
func (b *Backend) Get(ctx context.Context, fileID string) (*story.Session, error) {
	db, err := b.conn()
	if err != nil {
		return nil, err
	}

	var doc []byte
	err = db.QueryRowContext(ctx, `SELECT document FROM sessions WHERE file_id = ?`, fileID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, b.wrap("get", fileID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, b.wrap("get", fileID, err)
	}

	var s story.Session
	if err := sonic.Unmarshal(doc, &s); err != nil {
		return nil, b.wrap("get", fileID, fmt.Errorf("%w: %v", storage.ErrInvalidDocument, err))
	}
	s.Normalize()
	if err := storage.CheckDocument(&s); err != nil {
		return nil, b.wrap("get", fileID, err)
	}
	return &s, nil
}

// List returns the index, newest-created first
func (b *Backend) List(ctx context.Context) ([]story.IndexEntry, error) {
	db, err := b.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, name, created_time, file_id FROM sessions ORDER BY created_time DESC, id DESC`)
	if err != nil {
		return nil, b.wrap("list", "", err)
	}
	defer rows.Close()

	entries := []story.IndexEntry{}
	for rows.Next() {
		var e story.IndexEntry
		if err := rows.Scan(&e.ID, &e.Name, &e.CreatedTime, &e.FileID); err != nil {
			return nil, b.wrap("list", "", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, b.wrap("list", "", err)
	}
	return entries, nil
}

// Remove deletes a document; missing rows are not an error
func (b *Backend) Remove(ctx context.Context, fileID string) error {
	db, err := b.conn()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM sessions WHERE file_id = ?`, fileID); err != nil {
		return b.wrap("remove", fileID, err)
	}
	return nil
}

// PutImage stores a blob under name
func (b *Backend) PutImage(ctx context.Context, data []byte, name string) (string, error) {
	if err := storage.ValidateBlobName(name); err != nil {
		return "", err
	}
	db, err := b.conn()
	if err != nil {
		return "", err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO blobs (name, data, created_at_ns) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data, created_at_ns = excluded.created_at_ns`,
		name, data, time.Now().UnixNano(),
	)
	if err != nil {
		return "", b.wrap("put_image", name, err)
	}
	return name, nil
}

// GetImage reads a blob
func (b *Backend) GetImage(ctx context.Context, ref string) ([]byte, error) {
	db, err := b.conn()
	if err != nil {
		return nil, err
	}
	var data []byte
	err = db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE name = ?`, ref).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, b.wrap("get_image", ref, storage.ErrNotFound)
	}
	if err != nil {
		return nil, b.wrap("get_image", ref, err)
	}
	return data, nil
}

// RemoveImage deletes a blob
func (b *Backend) RemoveImage(ctx context.Context, ref string) error {
	db, err := b.conn()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM blobs WHERE name = ?`, ref); err != nil {
		return b.wrap("remove_image", ref, err)
	}
	return nil
}

// URLFor returns the sqlite:// locator for ref
func (b *Backend) URLFor(ref string) string {
	return "sqlite://" + ref
}

// Close closes the database
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

func (b *Backend) wrap(op, key string, err error) error {
	return storage.Wrap(storage.KindSQLite, op, key, err)
}
