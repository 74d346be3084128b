package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/StorySpark/internal/domain/sessions"
	"github.com/GriffinCanCode/StorySpark/internal/domain/story"
	"github.com/GriffinCanCode/StorySpark/internal/storage"
	"github.com/GriffinCanCode/StorySpark/internal/storage/local"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counters struct {
	mu       sync.Mutex
	messages map[string]int
	open     int
}

func (c *counters) RecordWSMessage(direction, msgType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages[direction+":"+msgType]++
}

func (c *counters) IncWSConnections() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open++
}

func (c *counters) DecWSConnections() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open--
}

func (c *counters) openCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

type fixture struct {
	svc     *sessions.Service
	url     string
	metrics *counters
}

func newFixture(t *testing.T, debounce time.Duration) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := storage.NewStore(nil, local.New(t.TempDir(), nil))
	svc := sessions.NewService(store, nil, sessions.DefaultOptions())
	metrics := &counters{messages: make(map[string]int)}

	router := gin.New()
	router.GET("/stream/editor", NewHandler(svc, Options{Debounce: debounce, Metrics: metrics}).HandleConnection)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &fixture{svc: svc, url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream/editor", metrics: metrics}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	greeting := read(t, conn)
	require.Equal(t, "system", greeting["type"])
	require.NotEmpty(t, greeting["connectionId"])
	return conn
}

func (f *fixture) seed(t *testing.T, title string) *story.Session {
	t.Helper()
	s := story.New(time.UnixMilli(1700000000000))
	s.Title = title
	_, err := f.svc.UpsertSession(context.Background(), s)
	require.NoError(t, err)
	return s
}

func read(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestPing(t *testing.T) {
	f := newFixture(t, time.Second)
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(Message{Type: "ping"}))
	assert.Equal(t, "pong", read(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(Message{Type: "dance"}))
	frame := read(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "unknown message type", frame["message"])
}

func TestOpenAndDebouncedContent(t *testing.T) {
	f := newFixture(t, 150*time.Millisecond)
	s := f.seed(t, "Stream Story")
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(Message{Type: "open", SessionID: s.ID}))
	opened := read(t, conn)
	require.Equal(t, "opened", opened["type"])
	assert.Equal(t, "Stream Story", opened["session"].(map[string]any)["title"])

	for _, body := range []string{"<p>a</p>", "<p>ab</p>", "<p>abc</p>"} {
		content := body
		require.NoError(t, conn.WriteJSON(Message{Type: "content", SessionID: s.ID, Content: &content}))
	}

	saved := read(t, conn)
	require.Equal(t, "saved", saved["type"])
	assert.Equal(t, s.ID, saved["sessionId"])

	assert.Eventually(t, func() bool {
		stored, err := f.svc.FetchSession(context.Background(), s.ID)
		return err == nil && stored.Content == "<p>abc</p>" && stored.Title == "Stream Story"
	}, 3*time.Second, 10*time.Millisecond)
}

func TestTitleAndSave(t *testing.T) {
	f := newFixture(t, time.Hour)
	s := f.seed(t, "Old Name")
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(Message{Type: "title", SessionID: s.ID, Title: "  "}))
	frame := read(t, conn)
	assert.Equal(t, "error", frame["type"])

	require.NoError(t, conn.WriteJSON(Message{Type: "title", SessionID: s.ID, Title: "New Name"}))
	assert.Equal(t, "saved", read(t, conn)["type"])

	content := "<p>typed</p>"
	require.NoError(t, conn.WriteJSON(Message{Type: "content", SessionID: s.ID, Content: &content}))
	require.NoError(t, conn.WriteJSON(Message{Type: "save", SessionID: s.ID}))
	assert.Equal(t, "saved", read(t, conn)["type"])

	stored, err := f.svc.FetchSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, "New Name", stored.Title)
	assert.Equal(t, content, stored.Content)

	// Nothing pending: save is still acknowledged
	require.NoError(t, conn.WriteJSON(Message{Type: "save", SessionID: s.ID}))
	assert.Equal(t, "saved", read(t, conn)["type"])
}

func TestFlushOnDisconnect(t *testing.T) {
	f := newFixture(t, time.Hour)
	s := f.seed(t, "Unsaved")
	conn := f.dial(t)

	content := "<p>last words</p>"
	require.NoError(t, conn.WriteJSON(Message{Type: "content", SessionID: s.ID, Content: &content}))
	require.NoError(t, conn.WriteJSON(Message{Type: "ping"}))
	require.Equal(t, "pong", read(t, conn)["type"])
	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		stored, err := f.svc.FetchSession(context.Background(), s.ID)
		return err == nil && stored.Content == content
	}, 3*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return f.metrics.openCount() == 0 }, 3*time.Second, 10*time.Millisecond)
}

func TestUnknownSession(t *testing.T) {
	f := newFixture(t, time.Second)
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(Message{Type: "open", SessionID: "404"}))
	frame := read(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "404", frame["sessionId"])

	require.NoError(t, conn.WriteJSON(Message{Type: "content", SessionID: ""}))
	assert.Equal(t, "error", read(t, conn)["type"])
}

// stallingRemote blocks every write until its context ends
type stallingRemote struct {
	*sessions.Service
}

func (r stallingRemote) UpsertSession(ctx context.Context, _ *story.Session) (*sessions.Upload, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestWriteTimeoutReportsStalledSave(t *testing.T) {
	f := newFixture(t, time.Hour)
	s := f.seed(t, "Stuck")

	router := gin.New()
	router.GET("/stream/editor", NewHandler(stallingRemote{f.svc}, Options{
		Debounce:     time.Hour,
		WriteTimeout: 50 * time.Millisecond,
	}).HandleConnection)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	f.url = "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream/editor"
	conn := f.dial(t)

	start := time.Now()
	require.NoError(t, conn.WriteJSON(Message{Type: "title", SessionID: s.ID, Title: "Renamed"}))
	frame := read(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, s.ID, frame["sessionId"])
	assert.Contains(t, frame["message"], "deadline exceeded")
	assert.Less(t, time.Since(start), 2*time.Second)
}
