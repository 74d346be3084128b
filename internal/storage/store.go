package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/StorySpark/internal/domain/story"
	"go.uber.org/zap"
)

// Recorder receives per-operation storage timings
type Recorder interface {
	RecordStorageOp(backend, op, status string, duration time.Duration)
}

// Store is the storage client owned by the application wiring. It selects
// the first candidate backend that initializes and delegates to it.
type Store struct {
	candidates []Backend
	logger     *zap.Logger
	recorder   Recorder

	mu     sync.RWMutex
	active Backend
}

// NewStore creates a store trying candidates in order of preference.
// The last candidate is the degraded-mode fallback.
func NewStore(logger *zap.Logger, candidates ...Backend) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{candidates: candidates, logger: logger}
}

// WithRecorder attaches a metrics recorder
func (s *Store) WithRecorder(r Recorder) *Store {
	s.recorder = r
	return s
}

// Initialize selects a backend. It is idempotent; once a backend is active
// later calls return immediately. An error means no candidate, including
// the fallback, could be prepared.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.RLock()
	ready := s.active != nil
	s.mu.RUnlock()
	if ready {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return nil
	}

	var errs []error
	for _, b := range s.candidates {
		if err := b.Initialize(ctx); err != nil {
			s.logger.Warn("Storage backend unavailable, trying next",
				zap.String("backend", string(b.Kind())),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		s.active = b
		s.logger.Info("Storage backend initialized", zap.String("backend", string(b.Kind())))
		return nil
	}

	if len(errs) == 0 {
		return fmt.Errorf("%w: no backends configured", ErrUnavailable)
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(errs...))
}

// Active returns the selected backend kind, or "" before initialization
func (s *Store) Active() Kind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return ""
	}
	return s.active.Kind()
}

func (s *Store) backend() (Backend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return nil, fmt.Errorf("%w: not initialized", ErrUnavailable)
	}
	return s.active, nil
}

func (s *Store) record(b Backend, op string, start time.Time, err error) {
	if s.recorder == nil {
		return
	}
	status := "success"
	switch {
	case err == nil:
	case IsNotFound(err):
		status = "not_found"
	default:
		status = "error"
	}
	s.recorder.RecordStorageOp(string(b.Kind()), op, status, time.Since(start))
}

// Put writes the full document and refreshes its index entry
func (s *Store) Put(ctx context.Context, sess *story.Session) (string, error) {
	b, err := s.backend()
	if err != nil {
		return "", err
	}
	start := time.Now()
	fileID, err := b.Put(ctx, sess)
	s.record(b, "put", start, err)
	return fileID, err
}

// Get reads a document by file ID
func (s *Store) Get(ctx context.Context, fileID string) (*story.Session, error) {
	b, err := s.backend()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	sess, err := b.Get(ctx, fileID)
	s.record(b, "get", start, err)
	return sess, err
}

// List returns the index entries
func (s *Store) List(ctx context.Context) ([]story.IndexEntry, error) {
	b, err := s.backend()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	entries, err := b.List(ctx)
	s.record(b, "list", start, err)
	if entries == nil && err == nil {
		entries = []story.IndexEntry{}
	}
	return entries, err
}

// Remove deletes a document and its index entry
func (s *Store) Remove(ctx context.Context, fileID string) error {
	b, err := s.backend()
	if err != nil {
		return err
	}
	start := time.Now()
	err = b.Remove(ctx, fileID)
	s.record(b, "remove", start, err)
	return err
}

// PutImage stores a blob and returns its reference
func (s *Store) PutImage(ctx context.Context, data []byte, name string) (string, error) {
	b, err := s.backend()
	if err != nil {
		return "", err
	}
	start := time.Now()
	ref, err := b.PutImage(ctx, data, name)
	s.record(b, "put_image", start, err)
	return ref, err
}

// GetImage reads a blob
func (s *Store) GetImage(ctx context.Context, ref string) ([]byte, error) {
	b, err := s.backend()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	data, err := b.GetImage(ctx, ref)
	s.record(b, "get_image", start, err)
	return data, err
}

// RemoveImage deletes a blob
func (s *Store) RemoveImage(ctx context.Context, ref string) error {
	b, err := s.backend()
	if err != nil {
		return err
	}
	start := time.Now()
	err = b.RemoveImage(ctx, ref)
	s.record(b, "remove_image", start, err)
	return err
}

// URLFor returns an opaque locator for ref on the active backend
func (s *Store) URLFor(ref string) string {
	b, err := s.backend()
	if err != nil {
		return ""
	}
	return b.URLFor(ref)
}

// RefFor maps an image reference back to a blob ref on the active backend.
// It accepts bare blob names and locators produced by URLFor; other URLs
// report false.
func (s *Store) RefFor(locator string) (string, bool) {
	b, err := s.backend()
	if err != nil || locator == "" {
		return "", false
	}
	if prefix := b.URLFor(""); prefix != "" && strings.HasPrefix(locator, prefix) {
		ref, err := url.PathUnescape(strings.TrimPrefix(locator, prefix))
		if err != nil || ref == "" {
			return "", false
		}
		return ref, true
	}
	if strings.Contains(locator, "://") {
		return "", false
	}
	return locator, true
}

// Close releases every candidate backend
func (s *Store) Close() error {
	var errs []error
	for _, b := range s.candidates {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", b.Kind(), err))
		}
	}
	return errors.Join(errs...)
}
