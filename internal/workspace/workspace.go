// Package workspace is the client-side session cache. It holds the session
// list and the open session in memory, applies edits optimistically and
// persists them through a Remote with a per-session write queue.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/StorySpark/internal/domain/sessions"
	"github.com/GriffinCanCode/StorySpark/internal/domain/story"
	"github.com/GriffinCanCode/StorySpark/internal/storage"
	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period before a debounced edit is written
const DefaultDebounce = time.Second

var (
	// ErrClosed is returned by operations on a closed workspace
	ErrClosed = errors.New("workspace closed")
	// ErrBlankTitle rejects renames to an empty title
	ErrBlankTitle = errors.New("title cannot be empty")
)

// Remote is the session service as seen from a client
type Remote interface {
	ListSessions(ctx context.Context) ([]story.IndexEntry, error)
	FetchSession(ctx context.Context, fileID string) (*story.Session, error)
	UpsertSession(ctx context.Context, s *story.Session) (*sessions.Upload, error)
	DeleteSession(ctx context.Context, fileID string) error
}

// State is the session-list load state
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

// EventType identifies a workspace notification
type EventType string

const (
	EventLoaded     EventType = "loaded"
	EventSaved      EventType = "saved"
	EventSaveFailed EventType = "save_failed"
	EventRemoved    EventType = "removed"
)

// Event reports the outcome of background work
type Event struct {
	Type      EventType
	SessionID string
	FileID    string
	UpdatedAt int64
	Err       error
}

// Options configures a workspace
type Options struct {
	// Debounce is the trailing-edge delay used by UpdateDebounced
	Debounce time.Duration
	// WriteTimeout bounds each upsert; zero means no bound
	WriteTimeout time.Duration
	// OnEvent receives notifications; it must not call back into the workspace
	OnEvent func(Event)
	Now     func() time.Time
	Logger  *zap.Logger
}

// Workspace caches sessions and serializes their writes
type Workspace struct {
	remote Remote
	opts   Options
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	loadErr  error
	loadGen  uint64
	sessions map[string]*story.Session
	fileIDs  map[string]string
	active   string
	timers   map[string]*pendingTimer
	timerGen uint64
	writers  map[string]*writer
	closed   bool
}

// New creates an idle workspace over remote
func New(remote Remote, opts Options) *Workspace {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Workspace{
		remote:   remote,
		opts:     opts,
		logger:   opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
		state:    StateIdle,
		sessions: make(map[string]*story.Session),
		fileIDs:  make(map[string]string),
		timers:   make(map[string]*pendingTimer),
		writers:  make(map[string]*writer),
	}
}

// State returns the load state and the error that caused StateError
func (w *Workspace) State() (State, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state, w.loadErr
}

func (w *Workspace) emit(e Event) {
	if w.opts.OnEvent != nil {
		w.opts.OnEvent(e)
	}
}

// Fetch loads the index and then every document it lists. Any failure
// leaves the workspace in StateError with an empty list. Sessions with
// unsaved local edits keep their local copy.
func (w *Workspace) Fetch(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.loadGen++
	gen := w.loadGen
	w.state = StateLoading
	w.loadErr = nil
	w.mu.Unlock()

	loaded, fileIDs, err := w.load(ctx)

	w.mu.Lock()
	if gen != w.loadGen {
		// A newer fetch owns the state
		w.mu.Unlock()
		return err
	}
	if err != nil {
		w.state = StateError
		w.loadErr = err
		for id := range w.sessions {
			if !w.dirty(id) {
				delete(w.sessions, id)
			}
		}
		w.mu.Unlock()
		w.logger.Warn("Failed to load sessions", zap.Error(err))
		return err
	}

	next := make(map[string]*story.Session, len(loaded))
	for _, s := range loaded {
		next[s.ID] = s
	}
	for id, s := range w.sessions {
		if w.dirty(id) {
			next[id] = s
		}
	}
	w.sessions = next
	w.fileIDs = fileIDs
	w.state = StateReady
	w.mu.Unlock()

	w.logger.Debug("Sessions loaded", zap.Int("count", len(loaded)))
	w.emit(Event{Type: EventLoaded})
	return nil
}

func (w *Workspace) load(ctx context.Context) ([]*story.Session, map[string]string, error) {
	entries, err := w.remote.ListSessions(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list sessions: %w", err)
	}
	loaded := make([]*story.Session, 0, len(entries))
	fileIDs := make(map[string]string, len(entries))
	for _, e := range entries {
		s, err := w.remote.FetchSession(ctx, e.FileID)
		if err != nil {
			return nil, nil, fmt.Errorf("fetch session %s: %w", e.FileID, err)
		}
		loaded = append(loaded, s)
		fileIDs[s.ID] = e.FileID
	}
	return loaded, fileIDs, nil
}

// dirty reports whether id has edits not yet confirmed by the remote.
// Callers hold w.mu.
func (w *Workspace) dirty(id string) bool {
	_, pending := w.timers[id]
	_, writing := w.writers[id]
	return pending || writing
}

// Create builds a new session, makes it active and writes it. The session
// stays cached even when the write fails.
func (w *Workspace) Create(ctx context.Context) (*story.Session, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrClosed
	}
	now := w.opts.Now()
	s := story.New(now)
	for w.sessions[s.ID] != nil {
		now = now.Add(time.Millisecond)
		s = story.New(now)
	}
	w.sessions[s.ID] = s
	w.active = s.ID
	done := w.enqueue(s.ID)
	out := s.Clone()
	w.mu.Unlock()

	w.logger.Debug("Session created", zap.String("session_id", s.ID))
	return out, wait(ctx, done)
}

// Get returns a copy of a cached session
func (w *Workspace) Get(id string) (*story.Session, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.sessions[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// Sessions returns copies of every cached session, newest created first
func (w *Workspace) Sessions() []*story.Session {
	w.mu.Lock()
	out := make([]*story.Session, 0, len(w.sessions))
	for _, s := range w.sessions {
		out = append(out, s.Clone())
	}
	w.mu.Unlock()

	sortNewest(out)
	return out
}

func sortNewest(list []*story.Session) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt != list[j].CreatedAt {
			return list[i].CreatedAt > list[j].CreatedAt
		}
		return list[i].ID > list[j].ID
	})
}

// FindBySlug resolves a route parameter that is either a session id or the
// slug of a title. Ids win over slugs; when several titles share a slug the
// newest-created session is returned.
func (w *Workspace) FindBySlug(ctx context.Context, slug string) (*story.Session, error) {
	if s, ok := w.Get(slug); ok {
		return s, nil
	}
	if story.ValidID(slug) {
		s, err := w.fetchOne(ctx, slug)
		if err == nil {
			return s, nil
		}
		if !storage.IsNotFound(err) && !errors.Is(err, sessions.ErrValidation) {
			return nil, err
		}
	}

	if state, _ := w.State(); state != StateReady {
		if err := w.Fetch(ctx); err != nil {
			return nil, err
		}
	}
	for _, s := range w.Sessions() {
		if story.Slug(s.Title) == slug {
			return s, nil
		}
	}
	return nil, fmt.Errorf("session %q: %w", slug, storage.ErrNotFound)
}

// fetchOne loads a session by id from the remote and caches it
func (w *Workspace) fetchOne(ctx context.Context, id string) (*story.Session, error) {
	fileID, err := w.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if fileID == "" {
		fileID = id
	}
	s, err := w.remote.FetchSession(ctx, fileID)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if cached, ok := w.sessions[s.ID]; ok && w.dirty(s.ID) {
		return cached.Clone(), nil
	}
	w.sessions[s.ID] = s
	return s.Clone(), nil
}

// resolve maps a session id to its storage key, consulting the remote
// index when the key is not known yet. It returns "" when the index has
// no entry for id.
func (w *Workspace) resolve(ctx context.Context, id string) (string, error) {
	w.mu.Lock()
	fileID, ok := w.fileIDs[id]
	w.mu.Unlock()
	if ok {
		return fileID, nil
	}
	return w.lookup(ctx, id)
}

// lookup reads the remote index, refreshing the known storage keys
func (w *Workspace) lookup(ctx context.Context, id string) (string, error) {
	entries, err := w.remote.ListSessions(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve session %s: %w", id, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	fileID := ""
	for _, e := range entries {
		w.fileIDs[e.ID] = e.FileID
		if e.ID == id {
			fileID = e.FileID
		}
	}
	if fileID == "" {
		delete(w.fileIDs, id)
	}
	return fileID, nil
}

// FileID returns the storage key of a saved session. Sessions missing from
// the remote index report storage.ErrNotFound.
func (w *Workspace) FileID(ctx context.Context, id string) (string, error) {
	fileID, err := w.resolve(ctx, id)
	if err != nil {
		return "", err
	}
	if fileID == "" {
		return "", fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	return fileID, nil
}

// Open makes id the active session, loading it when it is not cached
func (w *Workspace) Open(ctx context.Context, id string) (*story.Session, error) {
	s, ok := w.Get(id)
	if !ok {
		var err error
		if s, err = w.fetchOne(ctx, id); err != nil {
			return nil, err
		}
	}

	w.mu.Lock()
	w.active = s.ID
	w.mu.Unlock()
	return s, nil
}

// Active returns the open session
func (w *Workspace) Active() (*story.Session, bool) {
	w.mu.Lock()
	id := w.active
	w.mu.Unlock()
	if id == "" {
		return nil, false
	}
	return w.Get(id)
}

// Rename changes a session title and writes it immediately
func (w *Workspace) Rename(ctx context.Context, id, title string) error {
	if strings.TrimSpace(title) == "" {
		return ErrBlankTitle
	}
	return w.Update(ctx, story.Patch{ID: id, Title: &title})
}

// Remove deletes a session. The storage key is resolved through the index;
// a session without an index entry is only dropped from the cache.
func (w *Workspace) Remove(ctx context.Context, id string) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if t, ok := w.timers[id]; ok {
		t.timer.Stop()
		delete(w.timers, id)
	}
	delete(w.sessions, id)
	if w.active == id {
		w.active = ""
	}
	var idle <-chan struct{}
	if wr, ok := w.writers[id]; ok {
		idle = wr.idle
	}
	w.mu.Unlock()

	// The in-flight write must land before the delete
	if idle != nil {
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	fileID, err := w.lookup(ctx, id)
	if err != nil {
		return err
	}
	if fileID != "" {
		if err := w.remote.DeleteSession(ctx, fileID); err != nil {
			return err
		}
	}

	w.mu.Lock()
	delete(w.fileIDs, id)
	delete(w.sessions, id)
	w.mu.Unlock()

	w.logger.Debug("Session removed", zap.String("session_id", id), zap.String("file_id", fileID))
	w.emit(Event{Type: EventRemoved, SessionID: id, FileID: fileID})
	return nil
}

// Close stops pending debounce timers, waits for in-flight writes and
// releases the workspace. Call Flush first to keep pending edits.
func (w *Workspace) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for id, t := range w.timers {
		t.timer.Stop()
		delete(w.timers, id)
	}
	idle := make([]<-chan struct{}, 0, len(w.writers))
	for _, wr := range w.writers {
		idle = append(idle, wr.idle)
	}
	w.mu.Unlock()

	for _, ch := range idle {
		<-ch
	}
	w.cancel()
	return nil
}
