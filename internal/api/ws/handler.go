package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/StorySpark/internal/domain/story"
	"github.com/GriffinCanCode/StorySpark/internal/shared/utils"
	"github.com/GriffinCanCode/StorySpark/internal/workspace"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// flushTimeout bounds the final flush when a connection closes
const flushTimeout = 10 * time.Second

// Message is a client frame
type Message struct {
	Type      string  `json:"type"`
	SessionID string  `json:"sessionId,omitempty"`
	Content   *string `json:"content,omitempty"`
	Title     string  `json:"title,omitempty"`
}

// Recorder receives connection and message counts
type Recorder interface {
	RecordWSMessage(direction, msgType string)
	IncWSConnections()
	DecWSConnections()
}

// Options configures the handler
type Options struct {
	// Debounce is the quiet period before content edits are written
	Debounce time.Duration
	// WriteTimeout bounds each session write; zero means no bound
	WriteTimeout time.Duration
	// CheckOrigin validates the upgrade request; nil allows every origin
	CheckOrigin func(r *http.Request) bool
	Logger      *zap.Logger
	Metrics     Recorder
}

// Handler manages editor WebSocket connections
type Handler struct {
	remote   workspace.Remote
	opts     Options
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a handler whose connections persist through remote
func NewHandler(remote workspace.Remote, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Handler{
		remote: remote,
		opts:   opts,
		logger: opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

// conn is one editor tab: a socket plus its own workspace
type conn struct {
	id     string
	ws     *websocket.Conn
	h      *Handler
	logger *zap.Logger
	space  *workspace.Workspace
	saves  atomic.Int64

	writeMu sync.Mutex
}

// HandleConnection upgrades the request and serves editor messages until
// the client disconnects. Pending edits are flushed before returning.
func (h *Handler) HandleConnection(c *gin.Context) {
	sock, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer sock.Close()
	sock.SetReadLimit(utils.MaxStreamFrameSize)

	cn := &conn{id: uuid.NewString(), ws: sock, h: h}
	cn.logger = h.logger.With(zap.String("conn_id", cn.id))
	cn.space = workspace.New(h.remote, workspace.Options{
		Debounce:     h.opts.Debounce,
		WriteTimeout: h.opts.WriteTimeout,
		Logger:       cn.logger,
		OnEvent:      cn.onEvent,
	})

	if m := h.opts.Metrics; m != nil {
		m.IncWSConnections()
		defer m.DecWSConnections()
	}
	cn.logger.Info("Editor connected")

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		if err := cn.space.Flush(ctx); err != nil {
			cn.logger.Error("Failed to flush edits on disconnect", zap.Error(err))
		}
		_ = cn.space.Close()
		cn.logger.Info("Editor disconnected")
	}()

	cn.send(gin.H{
		"type":         "system",
		"message":      "Connected to StorySpark editor stream",
		"connectionId": cn.id,
	})

	ctx := c.Request.Context()
	for {
		var msg Message
		if err := sock.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cn.logger.Debug("WebSocket read ended", zap.Error(err))
			}
			return
		}
		h.record("in", msg.Type)
		cn.dispatch(ctx, msg)
	}
}

func (h *Handler) record(direction, msgType string) {
	if h.opts.Metrics != nil {
		h.opts.Metrics.RecordWSMessage(direction, msgType)
	}
}

func (cn *conn) dispatch(ctx context.Context, msg Message) {
	switch msg.Type {
	case "open":
		cn.handleOpen(ctx, msg)
	case "content":
		cn.handleContent(ctx, msg)
	case "title":
		cn.handleTitle(ctx, msg)
	case "save":
		cn.handleSave(ctx, msg)
	case "ping":
		cn.send(gin.H{"type": "pong"})
	default:
		cn.sendError("", "unknown message type")
	}
}

func (cn *conn) handleOpen(ctx context.Context, msg Message) {
	if msg.SessionID == "" {
		cn.sendError("", "sessionId is required")
		return
	}
	s, err := cn.space.Open(ctx, msg.SessionID)
	if err != nil {
		cn.sendError(msg.SessionID, err.Error())
		return
	}
	cn.send(gin.H{"type": "opened", "session": s})
}

func (cn *conn) handleContent(ctx context.Context, msg Message) {
	if msg.Content == nil {
		cn.sendError(msg.SessionID, "content is required")
		return
	}
	if !cn.ensure(ctx, msg.SessionID) {
		return
	}
	if err := cn.space.UpdateDebounced(story.Patch{ID: msg.SessionID, Content: msg.Content}); err != nil {
		cn.sendError(msg.SessionID, err.Error())
	}
}

func (cn *conn) handleTitle(ctx context.Context, msg Message) {
	if !cn.ensure(ctx, msg.SessionID) {
		return
	}
	// Saved or failed writes are reported through onEvent
	if err := cn.space.Rename(ctx, msg.SessionID, msg.Title); errors.Is(err, workspace.ErrBlankTitle) {
		cn.sendError(msg.SessionID, err.Error())
	}
}

func (cn *conn) handleSave(ctx context.Context, msg Message) {
	before := cn.saves.Load()
	if err := cn.space.Flush(ctx); err != nil {
		// Each failed write was already reported
		return
	}
	if cn.saves.Load() != before || msg.SessionID == "" {
		return
	}
	// Nothing was pending; acknowledge with the current state
	if s, ok := cn.space.Get(msg.SessionID); ok {
		cn.send(gin.H{"type": "saved", "sessionId": s.ID, "updatedAt": s.UpdatedAt})
	}
}

// ensure loads a session into the workspace on first use
func (cn *conn) ensure(ctx context.Context, id string) bool {
	if id == "" {
		cn.sendError("", "sessionId is required")
		return false
	}
	if _, ok := cn.space.Get(id); ok {
		return true
	}
	if _, err := cn.space.Open(ctx, id); err != nil {
		cn.sendError(id, err.Error())
		return false
	}
	return true
}

func (cn *conn) onEvent(e workspace.Event) {
	switch e.Type {
	case workspace.EventSaved:
		cn.saves.Add(1)
		cn.send(gin.H{"type": "saved", "sessionId": e.SessionID, "fileId": e.FileID, "updatedAt": e.UpdatedAt})
	case workspace.EventSaveFailed:
		cn.sendError(e.SessionID, "Failed to save session: "+e.Err.Error())
	}
}

func (cn *conn) send(data gin.H) {
	cn.writeMu.Lock()
	defer cn.writeMu.Unlock()
	if err := cn.ws.WriteJSON(data); err != nil {
		cn.logger.Debug("WebSocket write failed", zap.Error(err))
		return
	}
	if t, ok := data["type"].(string); ok {
		cn.h.record("out", t)
	}
}

func (cn *conn) sendError(sessionID, message string) {
	frame := gin.H{"type": "error", "message": message, "timestamp": time.Now().Unix()}
	if sessionID != "" {
		frame["sessionId"] = sessionID
	}
	cn.send(frame)
}
