package drive

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/StorySpark/internal/domain/story"
	"github.com/GriffinCanCode/StorySpark/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// objectServer is an in-memory stand-in for the drive object API
type objectServer struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	healthy bool
}

func newObjectServer(t *testing.T) (*objectServer, *httptest.Server) {
	t.Helper()
	o := &objectServer{objects: map[string][]byte{}, types: map[string]string{}, healthy: true}
	srv := httptest.NewServer(o)
	t.Cleanup(srv.Close)
	return o, srv
}

func (o *objectServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || user != "client" || pass != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if r.URL.Path == "/health" {
		if !o.healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	key, ok := strings.CutPrefix(r.URL.Path, "/objects/")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		o.objects[key] = body
		o.types[key] = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusCreated)
	case http.MethodGet:
		data, found := o.objects[key]
		if !found {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(data)
	case http.MethodDelete:
		if _, found := o.objects[key]; !found {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(o.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (o *objectServer) has(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.objects[key]
	return ok
}

func (o *objectServer) contentType(key string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.types[key]
}

func newBackend(t *testing.T, endpoint string) *Backend {
	t.Helper()
	b := New(Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     endpoint,
		Timeout:      2 * time.Second,
	}, nil)
	b.Client().Resty.SetRetryCount(0)
	return b
}

func TestInitialize(t *testing.T) {
	t.Run("missing credentials", func(t *testing.T) {
		b := New(Config{Endpoint: "http://127.0.0.1:0"}, nil)
		err := b.Initialize(context.Background())
		assert.ErrorIs(t, err, storage.ErrUnavailable)
	})

	t.Run("healthy service", func(t *testing.T) {
		_, srv := newObjectServer(t)
		b := newBackend(t, srv.URL)
		assert.NoError(t, b.Initialize(context.Background()))
	})

	t.Run("unhealthy service", func(t *testing.T) {
		o, srv := newObjectServer(t)
		o.healthy = false
		b := newBackend(t, srv.URL)
		assert.ErrorIs(t, b.Initialize(context.Background()), storage.ErrUnavailable)
	})

	t.Run("wrong credentials", func(t *testing.T) {
		_, srv := newObjectServer(t)
		b := New(Config{ClientID: "client", ClientSecret: "nope", Endpoint: srv.URL}, nil)
		assert.Error(t, b.Initialize(context.Background()))
	})
}

func TestPutGetList(t *testing.T) {
	o, srv := newObjectServer(t)
	b := newBackend(t, srv.URL)
	ctx := context.Background()
	require.NoError(t, b.Initialize(ctx))

	entries, err := b.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	s := story.New(time.UnixMilli(1700000000000))
	s.Title = "Remote Tale"

	fileID, err := b.Put(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, "session-1700000000000.json", fileID)
	assert.NotEqual(t, s.ID, fileID)
	assert.True(t, o.has(fileID))
	assert.True(t, o.has(storage.IndexFile))

	got, err := b.Get(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, s, got)

	entries, err = b.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, s.ID, entries[0].ID)
	assert.Equal(t, fileID, entries[0].FileID)
	assert.Equal(t, "Remote Tale", entries[0].Name)
}

func TestGetMissing(t *testing.T) {
	_, srv := newObjectServer(t)
	b := newBackend(t, srv.URL)

	_, err := b.Get(context.Background(), FileID("404"))
	assert.True(t, storage.IsNotFound(err))

	_, err = b.Get(context.Background(), "404")
	assert.ErrorIs(t, err, storage.ErrInvalidKey)
}

func TestGetRejectsInvalidDocument(t *testing.T) {
	o, srv := newObjectServer(t)
	b := newBackend(t, srv.URL)

	o.mu.Lock()
	o.objects[FileID("1")] = []byte(`{"id":"1","title":"","content":"","chatHistory":[],"images":{"illustrations":[],"drawings":[]},"createdAt":10,"updatedAt":5}`)
	o.mu.Unlock()

	_, err := b.Get(context.Background(), FileID("1"))
	assert.ErrorIs(t, err, storage.ErrInvalidDocument)
	assert.False(t, storage.IsNotFound(err))
}

func TestRemove(t *testing.T) {
	o, srv := newObjectServer(t)
	b := newBackend(t, srv.URL)
	ctx := context.Background()

	s := story.New(time.UnixMilli(1000))
	fileID, err := b.Put(ctx, s)
	require.NoError(t, err)

	require.NoError(t, b.Remove(ctx, fileID))
	assert.False(t, o.has(fileID))

	entries, err := b.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.NoError(t, b.Remove(ctx, fileID))
}

func TestImages(t *testing.T) {
	o, srv := newObjectServer(t)
	b := newBackend(t, srv.URL)
	ctx := context.Background()

	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	ref, err := b.PutImage(ctx, png, "cover_1.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", o.contentType(ref))
	assert.Equal(t, srv.URL+"/objects/cover_1.png", b.URLFor(ref))

	got, err := b.GetImage(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, png, got)

	require.NoError(t, b.RemoveImage(ctx, ref))
	require.NoError(t, b.RemoveImage(ctx, ref))
	_, err = b.GetImage(ctx, ref)
	assert.True(t, storage.IsNotFound(err))
}

func TestURLForPublicBase(t *testing.T) {
	b := New(Config{Endpoint: "http://internal:9000/", PublicURL: "https://cdn.example.com/"}, nil)
	assert.Equal(t, "https://cdn.example.com/objects/a.png", b.URLFor("a.png"))
}
