package local

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/GriffinCanCode/StorySpark/internal/domain/story"
	"github.com/GriffinCanCode/StorySpark/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackend(t *testing.T) *Backend {
	t.Helper()
	b := New(filepath.Join(t.TempDir(), "data"), nil)
	require.NoError(t, b.Initialize(context.Background()))
	return b
}

func sessionAt(id string, created int64, title string) *story.Session {
	s := story.New(time.UnixMilli(created))
	s.ID = id
	s.Title = title
	return s
}

// TestInitializeCreatesRoot tests that the data directory is created on demand
func TestInitializeCreatesRoot(t *testing.T) {
	b := newBackend(t)

	info, err := os.Stat(b.Root())
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	entries, err := b.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

// TestPutGetRoundTrip tests that a stored document reads back unchanged
func TestPutGetRoundTrip(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	s := sessionAt("1700000000000", 1700000000000, "My Adventure")
	s.ChatHistory = []story.Message{
		story.UserMessage("a dragon"),
		{Role: story.RoleModel, Content: "Once upon a time", ImageURL: "https://img.example/1.png"},
	}
	s.Images.CoverImage = "cover_1.png"

	fileID, err := b.Put(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, s.ID, fileID)

	got, err := b.Get(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, s, got)

	entries, err := b.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, story.IndexEntry{
		ID:          s.ID,
		Name:        "My Adventure",
		CreatedTime: "2023-11-14T22:13:20.000Z",
		FileID:      s.ID,
	}, entries[0])
}

// TestPutOverwritesIndexEntry tests that re-saving keeps a single entry
func TestPutOverwritesIndexEntry(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	s := sessionAt("1", 1000, "First")
	_, err := b.Put(ctx, s)
	require.NoError(t, err)

	s.Title = "Renamed"
	_, err = b.Put(ctx, s)
	require.NoError(t, err)

	entries, err := b.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Renamed", entries[0].Name)
}

// TestListOrdering tests newest-created first ordering
func TestListOrdering(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	for _, s := range []*story.Session{
		sessionAt("1000", 1000, "Old"),
		sessionAt("3000", 3000, "Newest"),
		sessionAt("2000", 2000, "Middle"),
	} {
		_, err := b.Put(ctx, s)
		require.NoError(t, err)
	}

	entries, err := b.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "3000", entries[0].ID)
	assert.Equal(t, "2000", entries[1].ID)
	assert.Equal(t, "1000", entries[2].ID)
}

// TestGetMissing tests that absent documents are reported as not found
func TestGetMissing(t *testing.T) {
	b := newBackend(t)

	_, err := b.Get(context.Background(), "404")
	require.Error(t, err)
	assert.True(t, storage.IsNotFound(err))

	var serr *storage.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, storage.KindLocal, serr.Backend)
	assert.Equal(t, "get", serr.Op)
}

// TestGetCorruptDocument tests that undecodable documents are distinct from missing ones
func TestGetCorruptDocument(t *testing.T) {
	b := newBackend(t)
	require.NoError(t, os.WriteFile(filepath.Join(b.Root(), "session_bad.json"), []byte("{nope"), 0o644))

	_, err := b.Get(context.Background(), "bad")
	require.Error(t, err)
	assert.False(t, storage.IsNotFound(err))
	assert.ErrorIs(t, err, storage.ErrInvalidDocument)
}

// TestGetRejectsInvalidDocument tests that decodable but malformed documents
// are refused on read and left out of a rebuilt index
func TestGetRejectsInvalidDocument(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session_1.json"),
		[]byte(`{"id":"1","title":"","content":"","chatHistory":[],"images":{"illustrations":[],"drawings":[]},"createdAt":10,"updatedAt":5}`), 0o644))

	b := New(dir, nil)
	require.NoError(t, b.Initialize(ctx))

	_, err := b.Get(ctx, "1")
	assert.ErrorIs(t, err, storage.ErrInvalidDocument)
	assert.False(t, storage.IsNotFound(err))

	entries, err := b.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// TestPutRejectsInvalid tests storage-boundary validation
func TestPutRejectsInvalid(t *testing.T) {
	b := newBackend(t)

	s := sessionAt("../escape", 1000, "x")
	_, err := b.Put(context.Background(), s)
	assert.ErrorIs(t, err, storage.ErrInvalidDocument)

	_, err = b.Get(context.Background(), "../escape")
	assert.ErrorIs(t, err, storage.ErrInvalidKey)
}

// TestRemove tests document and index removal
func TestRemove(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	_, err := b.Put(ctx, sessionAt("1", 1000, "Keep"))
	require.NoError(t, err)
	_, err = b.Put(ctx, sessionAt("2", 2000, "Drop"))
	require.NoError(t, err)

	require.NoError(t, b.Remove(ctx, "2"))

	_, err = b.Get(ctx, "2")
	assert.True(t, storage.IsNotFound(err))

	entries, err := b.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "1", entries[0].ID)

	// Removing again is a no-op
	assert.NoError(t, b.Remove(ctx, "2"))
}

// TestImages tests blob storage
func TestImages(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()
	data := []byte{0x89, 'P', 'N', 'G'}

	ref, err := b.PutImage(ctx, data, "cover_1.png")
	require.NoError(t, err)
	assert.Equal(t, "cover_1.png", ref)
	assert.Equal(t, "local://cover_1.png", b.URLFor(ref))

	got, err := b.GetImage(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, b.RemoveImage(ctx, ref))
	_, err = b.GetImage(ctx, ref)
	assert.True(t, storage.IsNotFound(err))
	assert.NoError(t, b.RemoveImage(ctx, ref))
}

// TestImageNameValidation tests that blob names cannot escape the root or shadow documents
func TestImageNameValidation(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	for _, name := range []string{"", "../x.png", "a/b.png", "sessions.json", "session_1.json"} {
		_, err := b.PutImage(ctx, []byte("x"), name)
		assert.ErrorIs(t, err, storage.ErrInvalidKey, name)
	}
}

// TestReconcileAddsOrphans tests that documents written without an index entry are indexed
func TestReconcileAddsOrphans(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b := New(dir, nil)
	require.NoError(t, b.Initialize(ctx))
	_, err := b.Put(ctx, sessionAt("1", 1000, "Indexed"))
	require.NoError(t, err)
	_, err = b.Put(ctx, sessionAt("2", 2000, "Orphan"))
	require.NoError(t, err)

	// Simulate a crash between the document write and the index write
	require.NoError(t, os.WriteFile(filepath.Join(dir, storage.IndexFile),
		[]byte(`[{"id":"1","name":"Indexed","createdTime":"1970-01-01T00:00:01.000Z","fileId":"1"},`+
			`{"id":"9","name":"Ghost","createdTime":"1970-01-01T00:00:09.000Z","fileId":"9"}]`), 0o644))

	report, err := b.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Documents)
	assert.Equal(t, 1, report.Added)
	assert.Equal(t, 1, report.Dropped)
	assert.True(t, report.Changed())

	entries, err := b.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "2", entries[0].ID)
	assert.Equal(t, "1", entries[1].ID)

	report, err = b.Reconcile(ctx)
	require.NoError(t, err)
	assert.False(t, report.Changed())
}

// TestReconcileRebuildsCorruptIndex tests recovery from an unreadable index
func TestReconcileRebuildsCorruptIndex(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b := New(dir, nil)
	require.NoError(t, b.Initialize(ctx))
	_, err := b.Put(ctx, sessionAt("1", 1000, "Survivor"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, storage.IndexFile), []byte("not json"), 0o644))

	_, err = b.List(ctx)
	require.Error(t, err)

	require.NoError(t, New(dir, nil).Initialize(ctx))
	entries, err := b.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Survivor", entries[0].Name)
}

// TestReconcileIgnoresSubdirectories tests that nested files are not indexed
func TestReconcileIgnoresSubdirectories(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "backup")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "session_1.json"),
		[]byte(`{"id":"1","title":"Nested","content":"","chatHistory":[],"images":{"illustrations":[],"drawings":[]},"createdAt":1,"updatedAt":1}`), 0o644))

	b := New(dir, nil)
	require.NoError(t, b.Initialize(context.Background()))

	entries, err := b.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// TestConcurrentPuts tests that parallel writers never lose index entries
func TestConcurrentPuts(t *testing.T) {
	b := newBackend(t)
	ctx := context.Background()

	const n = 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			s := sessionAt("s"+strconv.Itoa(i), int64(1000+i), "Story")
			_, err := b.Put(ctx, s)
			errs <- err
		}(i)
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-errs)
	}

	entries, err := b.List(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, n)
}
