package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxLogBatch caps the entries accepted per request
const maxLogBatch = 200

// ClientLogEntry is one log line forwarded by the editor
type ClientLogEntry struct {
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	SessionID string         `json:"sessionId,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// ClientLogBatch is the body of POST /api/logs
type ClientLogBatch struct {
	Source  string           `json:"source"`
	Entries []ClientLogEntry `json:"entries"`
}

// StreamLogs handles POST /api/logs, writing editor log lines to the server log
func (h *Handlers) StreamLogs(c *gin.Context) {
	var req ClientLogBatch
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid log request format", err.Error())
		return
	}
	if len(req.Entries) == 0 {
		badRequest(c, "No log entries provided", "entries must not be empty")
		return
	}
	if len(req.Entries) > maxLogBatch {
		req.Entries = req.Entries[:maxLogBatch]
	}

	source := req.Source
	if source == "" {
		source = "editor"
	}
	logger := h.logger.With(zap.String("source", source))
	for _, entry := range req.Entries {
		logClientEntry(logger, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"received": len(req.Entries),
		"at":       time.Now().Unix(),
	})
}

func logClientEntry(logger *zap.Logger, entry ClientLogEntry) {
	fields := make([]zap.Field, 0, len(entry.Context)+2)
	fields = append(fields, zap.String("client_timestamp", entry.Timestamp))
	if entry.SessionID != "" {
		fields = append(fields, zap.String("session_id", entry.SessionID))
	}
	for key, value := range entry.Context {
		fields = append(fields, zap.Any(key, value))
	}

	switch entry.Level {
	case "error":
		logger.Error(entry.Message, fields...)
	case "warn":
		logger.Warn(entry.Message, fields...)
	case "debug", "verbose":
		logger.Debug(entry.Message, fields...)
	default:
		logger.Info(entry.Message, fields...)
	}
}
