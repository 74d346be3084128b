// Package local stores sessions as JSON files inside a data directory.
//
// Layout:
//
//	<root>/session_<id>.json  one document per session
//	<root>/sessions.json      the listing index
//	<root>/<blob name>        image blobs
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/GriffinCanCode/StorySpark/internal/domain/story"
	"github.com/GriffinCanCode/StorySpark/internal/storage"
	"github.com/bytedance/sonic"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"
)

const (
	documentPrefix  = "session_"
	documentPattern = "session_*.json"
	filePerm        = 0o644
	dirPerm         = 0o755
)

var codec = sonic.ConfigStd

// Backend is the filesystem storage backend
type Backend struct {
	root   string
	logger *zap.Logger

	// mu serializes index read-modify-write cycles
	mu sync.Mutex
}

// New creates a backend rooted at dir. Nothing touches disk until Initialize.
func New(dir string, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{root: filepath.Clean(dir), logger: logger}
}

// Kind implements storage.Backend
func (b *Backend) Kind() storage.Kind {
	return storage.KindLocal
}

// Root returns the data directory
func (b *Backend) Root() string {
	return b.root
}

// Initialize creates the data directory and reconciles the index with the
// documents actually present
func (b *Backend) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(b.root, dirPerm); err != nil {
		return b.wrap("initialize", "", err)
	}
	report, err := b.Reconcile(ctx)
	if err != nil {
		return err
	}
	if report.Changed() {
		b.logger.Info("Rebuilt session index",
			zap.String("root", b.root),
			zap.Int("documents", report.Documents),
			zap.Int("added", report.Added),
			zap.Int("updated", report.Updated),
			zap.Int("dropped", report.Dropped),
		)
	}
	return nil
}

// Put writes the document, then its index entry. The document always lands
// first so a crash in between leaves an orphan that Reconcile repairs.
func (b *Backend) Put(ctx context.Context, s *story.Session) (string, error) {
	if err := storage.CheckDocument(s); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := codec.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", b.wrap("put", s.ID, err)
	}
	if err := writeAtomic(b.documentPath(s.ID), data); err != nil {
		return "", b.wrap("put", s.ID, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := b.readIndex()
	if err != nil {
		return "", b.wrap("put", s.ID, err)
	}
	entries = storage.UpsertEntry(entries, s.Entry(s.ID))
	if err := b.writeIndex(entries); err != nil {
		return "", b.wrap("put", s.ID, err)
	}
	return s.ID, nil
}

// Get reads a document
func (b *Backend) Get(ctx context.Context, fileID string) (*story.Session, error) {
	if err := checkFileID(fileID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(b.documentPath(fileID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, b.wrap("get", fileID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, b.wrap("get", fileID, err)
	}

	var s story.Session
	if err := codec.Unmarshal(data, &s); err != nil {
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
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := b.readIndex()
	if err != nil {
		return nil, b.wrap("list", "", err)
	}
	storage.SortEntries(entries)
	return entries, nil
}

// Remove deletes a document and its index entry. Missing documents are not
// an error.
func (b *Backend) Remove(ctx context.Context, fileID string) error {
	if err := checkFileID(fileID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(b.documentPath(fileID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return b.wrap("remove", fileID, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := b.readIndex()
	if err != nil {
		return b.wrap("remove", fileID, err)
	}
	kept := storage.RemoveEntries(entries, fileID)
	if len(kept) == len(entries) {
		return nil
	}
	return b.wrap("remove", fileID, b.writeIndex(kept))
}

// PutImage writes a blob under name and returns name as its ref
func (b *Backend) PutImage(ctx context.Context, data []byte, name string) (string, error) {
	if err := storage.ValidateBlobName(name); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := writeAtomic(filepath.Join(b.root, name), data); err != nil {
		return "", b.wrap("put_image", name, err)
	}
	return name, nil
}

// GetImage reads a blob
func (b *Backend) GetImage(ctx context.Context, ref string) ([]byte, error) {
	if err := storage.ValidateBlobName(ref); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(b.root, ref))
	if errors.Is(err, os.ErrNotExist) {
		return nil, b.wrap("get_image", ref, storage.ErrNotFound)
	}
	if err != nil {
		return nil, b.wrap("get_image", ref, err)
	}
	return data, nil
}

// RemoveImage deletes a blob; a missing blob is not an error
func (b *Backend) RemoveImage(ctx context.Context, ref string) error {
	if err := storage.ValidateBlobName(ref); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(b.root, ref)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return b.wrap("remove_image", ref, err)
	}
	return nil
}

// URLFor returns the local:// locator for ref
func (b *Backend) URLFor(ref string) string {
	return "local://" + ref
}

// Close implements storage.Backend
func (b *Backend) Close() error {
	return nil
}

func (b *Backend) documentPath(id string) string {
	return filepath.Join(b.root, documentPrefix+id+".json")
}

func (b *Backend) indexPath() string {
	return filepath.Join(b.root, storage.IndexFile)
}

// readIndex treats a missing index as empty. Callers hold mu.
func (b *Backend) readIndex() ([]story.IndexEntry, error) {
	data, err := os.ReadFile(b.indexPath())
	if errors.Is(err, os.ErrNotExist) {
		return []story.IndexEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return []story.IndexEntry{}, nil
	}
	var entries []story.IndexEntry
	if err := codec.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	if entries == nil {
		entries = []story.IndexEntry{}
	}
	return entries, nil
}

// writeIndex callers hold mu
func (b *Backend) writeIndex(entries []story.IndexEntry) error {
	if entries == nil {
		entries = []story.IndexEntry{}
	}
	data, err := codec.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(b.indexPath(), data)
}

func (b *Backend) wrap(op, key string, err error) error {
	return storage.Wrap(storage.KindLocal, op, key, err)
}

func checkFileID(fileID string) error {
	if !story.ValidID(fileID) {
		return fmt.Errorf("%w: file id %q", storage.ErrInvalidKey, fileID)
	}
	return nil
}

// isDocumentName reports whether base is a session document file name
func isDocumentName(base string) bool {
	ok, err := doublestar.Match(documentPattern, base)
	return err == nil && ok
}

// listDocuments returns the base names of every document directly in root
func (b *Backend) listDocuments(ctx context.Context) ([]string, error) {
	var (
		mu    sync.Mutex
		names []string
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, b.root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if p == b.root {
				return nil
			}
			return filepath.SkipDir
		}
		if !d.Type().IsRegular() || !isDocumentName(d.Name()) {
			return nil
		}
		mu.Lock()
		names = append(names, d.Name())
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// writeAtomic writes through a temp file in the same directory and renames
// it into place
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
