// Package sessions is the server-side session service: it validates
// requests, lazily initializes storage and performs the storage calls behind
// the HTTP and editor-stream surfaces.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GriffinCanCode/StorySpark/internal/domain/story"
	"github.com/GriffinCanCode/StorySpark/internal/shared/utils"
	"github.com/GriffinCanCode/StorySpark/internal/storage"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

var (
	// ErrValidation marks failures caused by the caller's input
	ErrValidation = errors.New("validation failed")
	// ErrUnavailable marks a storage client that could not be initialized
	ErrUnavailable = errors.New("storage unavailable")
)

// Upload is the result of storing a session or image
type Upload struct {
	FileID  string `json:"fileId"`
	FileURL string `json:"fileUrl"`
}

// Store is the storage surface the service needs
type Store interface {
	Initialize(ctx context.Context) error
	Put(ctx context.Context, s *story.Session) (string, error)
	Get(ctx context.Context, fileID string) (*story.Session, error)
	List(ctx context.Context) ([]story.IndexEntry, error)
	Remove(ctx context.Context, fileID string) error
	PutImage(ctx context.Context, data []byte, name string) (string, error)
	GetImage(ctx context.Context, ref string) ([]byte, error)
	RemoveImage(ctx context.Context, ref string) error
	URLFor(ref string) string
	RefFor(locator string) (string, bool)
}

// Recorder receives per-operation timings
type Recorder interface {
	RecordServiceCall(service, method, status string, duration time.Duration)
}

// Options tunes the service
type Options struct {
	// Sanitize strips unsafe markup from session content before storing
	Sanitize bool
	// MaxImageBytes caps decoded image uploads; zero means no limit
	MaxImageBytes int64
	// Now is the clock used for upload names
	Now func() time.Time
}

// DefaultOptions returns the production defaults
func DefaultOptions() Options {
	return Options{Sanitize: true, MaxImageBytes: 10 << 20, Now: time.Now}
}

// Service implements the session operations
type Service struct {
	store    Store
	logger   *zap.Logger
	recorder Recorder
	policy   *bluemonday.Policy
	opts     Options
}

// NewService creates a service over store
func NewService(store Store, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Service{store: store, logger: logger, opts: opts}
	if opts.Sanitize {
		s.policy = newContentPolicy()
	}
	return s
}

// WithRecorder attaches a metrics recorder
func (s *Service) WithRecorder(r Recorder) *Service {
	s.recorder = r
	return s
}

// newContentPolicy allows the rich-text markup the editor produces
func newContentPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowDataURIImages()
	p.AllowAttrs("style").OnElements("p", "span", "h1", "h2", "h3", "img")
	p.AllowAttrs("class").Globally()
	return p
}

func validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ready initializes storage on first use
func (s *Service) ready(ctx context.Context) error {
	if err := s.store.Initialize(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (s *Service) observe(method string, start time.Time, err error) {
	if s.recorder == nil {
		return
	}
	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrValidation):
		status = "invalid"
	case storage.IsNotFound(err):
		status = "not_found"
	case errors.Is(err, ErrUnavailable):
		status = "unavailable"
	default:
		status = "error"
	}
	s.recorder.RecordServiceCall("sessions", method, status, time.Since(start))
}

// ListSessions returns every index entry, newest-created first. An empty
// store yields an empty, non-nil list.
func (s *Service) ListSessions(ctx context.Context) (entries []story.IndexEntry, err error) {
	defer func(start time.Time) { s.observe("list", start, err) }(time.Now())

	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	entries, err = s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []story.IndexEntry{}
	}
	return entries, nil
}

// FetchSession returns one full session
func (s *Service) FetchSession(ctx context.Context, fileID string) (sess *story.Session, err error) {
	defer func(start time.Time) { s.observe("fetch", start, err) }(time.Now())

	if err := utils.ValidateFileID(fileID); err != nil {
		return nil, validation("%v", err)
	}
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	sess, err = s.store.Get(ctx, fileID)
	if errors.Is(err, storage.ErrInvalidKey) {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return sess, err
}

// UpsertSession validates, sanitizes and stores a full session
func (s *Service) UpsertSession(ctx context.Context, sess *story.Session) (up *Upload, err error) {
	defer func(start time.Time) { s.observe("upsert", start, err) }(time.Now())

	if sess == nil {
		return nil, validation("session is required")
	}
	if err := checkSession(sess); err != nil {
		return nil, err
	}
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	for _, ref := range s.ownedRefs(sess) {
		if err := storage.ValidateBlobName(ref); err != nil {
			return nil, validation("image %q: %v", ref, err)
		}
	}

	doc := sess.Clone()
	if s.policy != nil {
		doc.Content = s.policy.Sanitize(doc.Content)
	}

	fileID, err := s.store.Put(ctx, doc)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidDocument) {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return nil, err
	}
	s.logger.Debug("Session stored",
		zap.String("session_id", doc.ID),
		zap.String("file_id", fileID),
	)
	return &Upload{FileID: fileID, FileURL: s.store.URLFor(fileID)}, nil
}

func checkSession(sess *story.Session) error {
	if err := utils.ValidateID(sess.ID, "id", true); err != nil {
		return validation("%v", err)
	}
	if err := utils.ValidateTitle(sess.Title); err != nil {
		return validation("%v", err)
	}
	if len(sess.Content) > utils.MaxSessionSize {
		return validation("content exceeds %d bytes", utils.MaxSessionSize)
	}
	if len(sess.ChatHistory) > utils.MaxChatHistoryCount {
		return validation("chat history exceeds %d messages", utils.MaxChatHistoryCount)
	}
	for i, m := range sess.ChatHistory {
		if err := utils.ValidateChatMessage(m.Content); err != nil {
			return validation("chatHistory[%d]: %v", i, err)
		}
	}
	if err := sess.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}

// DeleteSession removes a session and the images it owns. Deleting a
// session that does not exist succeeds.
func (s *Service) DeleteSession(ctx context.Context, fileID string) (err error) {
	defer func(start time.Time) { s.observe("delete", start, err) }(time.Now())

	if err := utils.ValidateFileID(fileID); err != nil {
		return validation("%v", err)
	}
	if err := s.ready(ctx); err != nil {
		return err
	}

	sess, err := s.store.Get(ctx, fileID)
	switch {
	case storage.IsNotFound(err):
		return nil
	case errors.Is(err, storage.ErrInvalidKey):
		return fmt.Errorf("%w: %w", ErrValidation, err)
	case errors.Is(err, storage.ErrInvalidDocument):
		// Unreadable documents are still removable; their blobs are orphaned
		s.logger.Warn("Deleting unreadable session", zap.String("file_id", fileID), zap.Error(err))
		sess = nil
	case err != nil:
		return err
	}

	if err := s.store.Remove(ctx, fileID); err != nil {
		return err
	}
	if sess == nil {
		return nil
	}

	for _, ref := range s.ownedRefs(sess) {
		if err := s.store.RemoveImage(ctx, ref); err != nil {
			s.logger.Warn("Failed to remove session image",
				zap.String("session_id", sess.ID),
				zap.String("ref", ref),
				zap.Error(err),
			)
		}
	}
	return nil
}

// ownedRefs resolves the session's owned image references to blob refs.
// References to other hosts are skipped.
func (s *Service) ownedRefs(sess *story.Session) []string {
	var refs []string
	for _, image := range sess.OwnedImages() {
		if ref, ok := s.store.RefFor(image); ok {
			refs = append(refs, ref)
		}
	}
	return refs
}
