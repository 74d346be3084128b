package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/GriffinCanCode/StorySpark/internal/domain/story"
	"github.com/bmatcuk/doublestar/v4"
)

// Kind names a backend implementation
type Kind string

const (
	KindLocal  Kind = "local"
	KindSQLite Kind = "sqlite"
	KindDrive  Kind = "drive"
)

// IndexFile is the well-known index record name inside a storage root
const IndexFile = "sessions.json"

// reservedPatterns match session document names of the local and drive layouts
var reservedPatterns = []string{"session_*.json", "session-*.json"}

// Backend persists session documents, their index and image blobs.
//
// Keys passed to Get/Remove are file IDs as returned by Put and listed in
// the index; they equal the session ID for local and sqlite backends but
// not for drive.
type Backend interface {
	Kind() Kind
	Initialize(ctx context.Context) error
	Put(ctx context.Context, s *story.Session) (string, error)
	Get(ctx context.Context, fileID string) (*story.Session, error)
	List(ctx context.Context) ([]story.IndexEntry, error)
	Remove(ctx context.Context, fileID string) error
	PutImage(ctx context.Context, data []byte, name string) (string, error)
	GetImage(ctx context.Context, ref string) ([]byte, error)
	RemoveImage(ctx context.Context, ref string) error
	URLFor(ref string) string
	Close() error
}

// ValidateBlobName rejects names that are not plain file names or that
// collide with session documents and the index
func ValidateBlobName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("%w: empty blob name", ErrInvalidKey)
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, name)
	}
	if name == IndexFile {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidKey, name)
	}
	for _, pattern := range reservedPatterns {
		ok, err := doublestar.Match(pattern, name)
		if err != nil {
			return fmt.Errorf("match reserved pattern %q: %w", pattern, err)
		}
		if ok {
			return fmt.Errorf("%w: %q is reserved", ErrInvalidKey, name)
		}
	}
	return nil
}

// UpsertEntry removes any entry for e.ID and inserts e, keeping newest-created
// first. Used by backends that store the index as a single record.
func UpsertEntry(entries []story.IndexEntry, e story.IndexEntry) []story.IndexEntry {
	out := make([]story.IndexEntry, 0, len(entries)+1)
	out = append(out, e)
	for _, existing := range entries {
		if existing.ID != e.ID {
			out = append(out, existing)
		}
	}
	SortEntries(out)
	return out
}

// RemoveEntries drops every entry stored under fileID
func RemoveEntries(entries []story.IndexEntry, fileID string) []story.IndexEntry {
	out := make([]story.IndexEntry, 0, len(entries))
	for _, e := range entries {
		if e.FileID != fileID {
			out = append(out, e)
		}
	}
	return out
}

// SortEntries orders entries newest-created first, by id on ties
func SortEntries(entries []story.IndexEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CreatedTime != entries[j].CreatedTime {
			return entries[i].CreatedTime > entries[j].CreatedTime
		}
		return entries[i].ID > entries[j].ID
	})
}

// CheckDocument validates a session and tags failures as ErrInvalidDocument
func CheckDocument(s *story.Session) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return nil
}
