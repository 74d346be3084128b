package sessions

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/StorySpark/internal/domain/story"
	"github.com/GriffinCanCode/StorySpark/internal/storage"
	"github.com/GriffinCanCode/StorySpark/internal/storage/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A 1x1 transparent PNG
const pngBase64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

func pngDataURI() string {
	return "data:image/png;base64," + pngBase64
}

func newService(t *testing.T) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	store := storage.NewStore(nil, local.New(dir, nil))
	opts := DefaultOptions()
	opts.Now = func() time.Time { return time.UnixMilli(1700000000000) }
	return NewService(store, nil, opts), dir
}

func newSession(id int64, title string) *story.Session {
	s := story.New(time.UnixMilli(id))
	s.Title = title
	return s
}

type recorded struct {
	method, status string
}

type recorder struct {
	mu    sync.Mutex
	calls []recorded
}

func (r *recorder) RecordServiceCall(service, method, status string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recorded{method, status})
}

func TestListEmpty(t *testing.T) {
	svc, _ := newService(t)

	entries, err := svc.ListSessions(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestUpsertFetchRoundTrip(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	s := newSession(1700000000000, "My Adventure")
	up, err := svc.UpsertSession(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, s.ID, up.FileID)
	assert.Equal(t, "local://"+s.ID, up.FileURL)

	got, err := svc.FetchSession(ctx, up.FileID)
	require.NoError(t, err)
	assert.Equal(t, s, got)

	entries, err := svc.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, story.IndexEntry{
		ID:          s.ID,
		Name:        "My Adventure",
		CreatedTime: "2023-11-14T22:13:20.000Z",
		FileID:      s.ID,
	}, entries[0])
}

func TestUpsertSanitizesContent(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	s := newSession(1000, "Unsafe")
	s.Content = `<h2>Title</h2><p onclick="steal()">Hi<script>alert(1)</script></p>`
	_, err := svc.UpsertSession(ctx, s)
	require.NoError(t, err)

	got, err := svc.FetchSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, `<h2>Title</h2><p>Hi</p>`, got.Content)

	// The caller's copy is untouched
	assert.Contains(t, s.Content, "<script>")
}

func TestUpsertWithoutSanitizing(t *testing.T) {
	store := storage.NewStore(nil, local.New(t.TempDir(), nil))
	svc := NewService(store, nil, Options{})
	ctx := context.Background()

	s := newSession(1000, "Raw")
	s.Content = `<p onclick="x()">raw</p>`
	_, err := svc.UpsertSession(ctx, s)
	require.NoError(t, err)

	got, err := svc.FetchSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Content, got.Content)
}

func TestUpsertValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(s *story.Session)
	}{
		{"missing id", func(s *story.Session) { s.ID = "" }},
		{"path id", func(s *story.Session) { s.ID = "../x" }},
		{"blank title", func(s *story.Session) { s.Title = "  " }},
		{"time travel", func(s *story.Session) { s.UpdatedAt = s.CreatedAt - 1 }},
		{"user image", func(s *story.Session) {
			s.ChatHistory = []story.Message{{Role: story.RoleUser, Content: "x", ImageURL: "y"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession(1000, "Valid")
			tt.mutate(s)
			_, err := svc.UpsertSession(ctx, s)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	_, err := svc.UpsertSession(ctx, nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestFetchErrors(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.FetchSession(ctx, "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.FetchSession(ctx, "../../etc/passwd")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.FetchSession(ctx, "404")
	assert.True(t, storage.IsNotFound(err))
}

func TestDeleteRemovesOwnedImages(t *testing.T) {
	svc, dir := newService(t)
	ctx := context.Background()

	cover, err := svc.UploadImage(ctx, pngDataURI(), "cover_1.png")
	require.NoError(t, err)
	drawing, err := svc.UploadImage(ctx, pngDataURI(), "drawing_1.png")
	require.NoError(t, err)
	shared, err := svc.UploadImage(ctx, pngDataURI(), "illustration_1.png")
	require.NoError(t, err)

	s := newSession(1000, "With Images")
	s.Images.CoverImage = cover.FileID
	s.Images.Drawings = []string{drawing.FileID, "https://example.com/remote.png"}
	s.Images.Illustrations = []string{shared.FileID}
	_, err = svc.UpsertSession(ctx, s)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteSession(ctx, s.ID))

	_, err = svc.FetchSession(ctx, s.ID)
	assert.True(t, storage.IsNotFound(err))
	assert.NoFileExists(t, filepath.Join(dir, cover.FileID))
	assert.NoFileExists(t, filepath.Join(dir, drawing.FileID))
	// Illustrations are not owned by the session
	assert.FileExists(t, filepath.Join(dir, shared.FileID))
}

func TestDeleteRemovesImagesStoredByURL(t *testing.T) {
	svc, dir := newService(t)
	ctx := context.Background()

	cover, err := svc.UploadImage(ctx, pngDataURI(), "cover_1700000000000.png")
	require.NoError(t, err)
	drawing, err := svc.UploadImage(ctx, pngDataURI(), "drawing_1700000000000.png")
	require.NoError(t, err)
	require.Equal(t, "local://cover_1700000000000.png", cover.FileURL)

	s := newSession(1000, "Linked Images")
	s.Images.CoverImage = cover.FileURL
	s.Images.Drawings = []string{drawing.FileURL}
	_, err = svc.UpsertSession(ctx, s)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteSession(ctx, s.ID))
	assert.NoFileExists(t, filepath.Join(dir, cover.FileID))
	assert.NoFileExists(t, filepath.Join(dir, drawing.FileID))
}

func TestUploadCannotShadowDocuments(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	s := newSession(1700000000000, "Safe")
	_, err := svc.UpsertSession(ctx, s)
	require.NoError(t, err)

	for _, name := range []string{"session_1700000000000.json", "session-1700000000000.json", "sessions.json"} {
		_, err = svc.UploadImage(ctx, pngDataURI(), name)
		assert.ErrorIs(t, err, ErrValidation, name)
	}

	got, err := svc.FetchSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "Safe", got.Title)
}

func TestUpsertRejectsReservedImageRefs(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	other := newSession(2000, "Other")
	_, err := svc.UpsertSession(ctx, other)
	require.NoError(t, err)

	s := newSession(1000, "Greedy")
	s.Images.Drawings = []string{"session_2000.json"}
	_, err = svc.UpsertSession(ctx, s)
	assert.ErrorIs(t, err, ErrValidation)

	s.Images.Drawings = nil
	s.Images.CoverImage = "local://../outside.png"
	_, err = svc.UpsertSession(ctx, s)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.FetchSession(ctx, other.ID)
	assert.NoError(t, err)
}

func TestFetchRejectsMalformedDocument(t *testing.T) {
	svc, dir := newService(t)
	ctx := context.Background()

	_, err := svc.ListSessions(ctx)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session_1.json"),
		[]byte(`{"id":"1","title":"","content":"","chatHistory":[],"images":{"illustrations":[],"drawings":[]},"createdAt":10,"updatedAt":5}`), 0o644))

	_, err = svc.FetchSession(ctx, "1")
	assert.ErrorIs(t, err, storage.ErrInvalidDocument)
}

func TestDeleteKeepsPlaceholderCover(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	s := newSession(1000, "Placeholder")
	s.Images.CoverImage = "https://placehold.co/600x800?text=Story"
	_, err := svc.UpsertSession(ctx, s)
	require.NoError(t, err)

	assert.NoError(t, svc.DeleteSession(ctx, s.ID))
}

func TestDeleteMissingIsNoop(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	assert.NoError(t, svc.DeleteSession(ctx, "does-not-exist"))
	assert.ErrorIs(t, svc.DeleteSession(ctx, ""), ErrValidation)
}

func TestDeleteUnreadableDocument(t *testing.T) {
	svc, dir := newService(t)
	ctx := context.Background()

	_, err := svc.UpsertSession(ctx, newSession(1000, "Soon corrupt"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session_1000.json"), []byte("{"), 0o644))

	require.NoError(t, svc.DeleteSession(ctx, "1000"))
	entries, err := svc.ListSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUploadImage(t *testing.T) {
	svc, dir := newService(t)
	ctx := context.Background()

	t.Run("named file", func(t *testing.T) {
		up, err := svc.UploadImage(ctx, pngDataURI(), "drawing-1-1700000000000.png")
		require.NoError(t, err)
		assert.Equal(t, "drawing-1-1700000000000.png", up.FileID)
		assert.Equal(t, "local://drawing-1-1700000000000.png", up.FileURL)
		assert.FileExists(t, filepath.Join(dir, up.FileID))
	})

	t.Run("prefix only", func(t *testing.T) {
		up, err := svc.UploadImage(ctx, pngBase64, "My Cover")
		require.NoError(t, err)
		assert.Equal(t, "my-cover_1700000000000.png", up.FileID)
	})

	t.Run("not an image", func(t *testing.T) {
		text := base64.StdEncoding.EncodeToString([]byte("hello, world"))
		_, err := svc.UploadImage(ctx, "data:image/png;base64,"+text, "x.png")
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("bad base64", func(t *testing.T) {
		_, err := svc.UploadImage(ctx, "data:image/png;base64,@@@", "x.png")
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := svc.UploadImage(ctx, "", "x.png")
		assert.ErrorIs(t, err, ErrValidation)
		_, err = svc.UploadImage(ctx, pngDataURI(), "")
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("reserved name", func(t *testing.T) {
		_, err := svc.UploadImage(ctx, pngDataURI(), "sessions.json")
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestUploadImageTooLarge(t *testing.T) {
	store := storage.NewStore(nil, local.New(t.TempDir(), nil))
	svc := NewService(store, nil, Options{MaxImageBytes: 16})

	_, err := svc.UploadImage(context.Background(), pngDataURI(), "x.png")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestImage(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	up, err := svc.UploadImage(ctx, pngDataURI(), "cover.png")
	require.NoError(t, err)

	img, err := svc.Image(ctx, up.FileID)
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.ContentType)

	_, err = svc.Image(ctx, "missing.png")
	assert.True(t, storage.IsNotFound(err))

	_, err = svc.Image(ctx, "../secret")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestExport(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	s := newSession(1000, "Export Me")
	_, err := svc.UpsertSession(ctx, s)
	require.NoError(t, err)

	d, err := svc.Export(ctx, s.ID, "md")
	require.NoError(t, err)
	assert.Equal(t, "export-me.md", d.FileName)
	assert.Contains(t, string(d.Data), "# Export Me")

	_, err = svc.Export(ctx, s.ID, "pdf")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Export(ctx, "nope", "md")
	assert.True(t, storage.IsNotFound(err))
}

// brokenBackend never initializes
type brokenBackend struct {
	storage.Backend
}

func (brokenBackend) Kind() storage.Kind                   { return storage.KindLocal }
func (brokenBackend) Initialize(ctx context.Context) error { return errors.New("disk on fire") }
func (brokenBackend) Close() error                         { return nil }

func TestUnavailableStore(t *testing.T) {
	store := storage.NewStore(nil, brokenBackend{})
	rec := &recorder{}
	svc := NewService(store, nil, DefaultOptions()).WithRecorder(rec)
	ctx := context.Background()

	_, err := svc.ListSessions(ctx)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, storage.ErrUnavailable)

	_, err = svc.FetchSession(ctx, "1")
	assert.ErrorIs(t, err, ErrUnavailable)

	// Validation happens before initialization
	_, err = svc.FetchSession(ctx, "")
	assert.ErrorIs(t, err, ErrValidation)

	assert.Equal(t, []recorded{
		{"list", "unavailable"},
		{"fetch", "unavailable"},
		{"fetch", "invalid"},
	}, rec.calls)
}

func TestRenameScenario(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	s := newSession(1700000000000, story.DefaultTitle)
	_, err := svc.UpsertSession(ctx, s)
	require.NoError(t, err)

	s.Title = "The Lost Key"
	s.UpdatedAt = 1700000005000
	_, err = svc.UpsertSession(ctx, s)
	require.NoError(t, err)

	entries, err := svc.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "The Lost Key", entries[0].Name)
	assert.Equal(t, "the-lost-key", story.Slug(entries[0].Name))
}
