package http

import (
	"errors"
	"net/http"

	"github.com/GriffinCanCode/StorySpark/internal/domain/sessions"
	"github.com/GriffinCanCode/StorySpark/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/StorySpark/internal/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Version is reported by the root endpoint
const Version = "0.3.0"

// BackendInfo reports which storage backend is serving requests
type BackendInfo interface {
	Active() storage.Kind
}

// Handlers contains all HTTP handlers
type Handlers struct {
	service *sessions.Service
	backend BackendInfo
	logger  *zap.Logger
}

// NewHandlers creates a new handler set
func NewHandlers(service *sessions.Service, backend BackendInfo, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{service: service, backend: backend, logger: logger}
}

// Register mounts the session API on r
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	drive := r.Group("/api/drive")
	drive.GET("/sessions", h.ListSessions)
	drive.POST("/sessions", h.FetchSession)
	drive.DELETE("/sessions", h.DeleteSession)
	drive.POST("/upload-session", h.UploadSession)
	drive.POST("/upload-image", h.UploadImage)
	drive.GET("/images/:fileId", h.GetImage)
	drive.GET("/sessions/:fileId/export", h.ExportSession)

	r.POST("/api/logs", h.StreamLogs)
}

// Root handles liveness checks
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "StorySpark Session Service",
		"version": Version,
	})
}

// Health reports the active storage backend. Before the first request
// initializes storage the backend is reported as pending.
func (h *Handlers) Health(c *gin.Context) {
	backend := "pending"
	if h.backend != nil {
		if kind := h.backend.Active(); kind != "" {
			backend = string(kind)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"storage": gin.H{"backend": backend},
	})
}

// fail writes the error envelope, choosing the status from the error kind
func (h *Handlers) fail(c *gin.Context, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(message,
			zap.Error(err),
			zap.String("trace_id", string(tracing.GetTraceID(c.Request.Context()))),
		)
	} else {
		h.logger.Debug(message, zap.Error(err), zap.Int("status", status))
	}
	c.JSON(status, gin.H{
		"success": false,
		"error":   message,
		"details": err.Error(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, sessions.ErrValidation):
		return http.StatusBadRequest
	case storage.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, sessions.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// badRequest writes a client error for input rejected before the service
func badRequest(c *gin.Context, message, details string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": message, "details": details})
}
