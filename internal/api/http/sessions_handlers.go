package http

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/GriffinCanCode/StorySpark/internal/domain/sessions"
	"github.com/GriffinCanCode/StorySpark/internal/domain/story"
	"github.com/GriffinCanCode/StorySpark/internal/shared/utils"
	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
)

// fileRequest is the body shared by fetch and delete
type fileRequest struct {
	FileID string `json:"fileId"`
}

// imageRequest is the upload-image body
type imageRequest struct {
	ImageData string `json:"imageData"`
	FileName  string `json:"fileName"`
}

// ListSessions handles GET /api/drive/sessions
func (h *Handlers) ListSessions(c *gin.Context) {
	entries, err := h.service.ListSessions(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to list sessions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "sessions": entries})
}

// FetchSession handles POST /api/drive/sessions
func (h *Handlers) FetchSession(c *gin.Context) {
	var req fileRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.FileID) == "" {
		badRequest(c, "Missing file ID", "request body must be {\"fileId\": \"...\"}")
		return
	}

	sess, err := h.service.FetchSession(c.Request.Context(), req.FileID)
	if err != nil {
		h.fail(c, "Failed to fetch session", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": sess})
}

// DeleteSession handles DELETE /api/drive/sessions. The file id may also
// be passed as the fileId query parameter.
func (h *Handlers) DeleteSession(c *gin.Context) {
	req := fileRequest{FileID: c.Query("fileId")}
	if req.FileID == "" && c.Request.ContentLength != 0 {
		_ = c.ShouldBindJSON(&req)
	}
	if strings.TrimSpace(req.FileID) == "" {
		badRequest(c, "Missing file ID", "pass fileId as a query parameter or in the JSON body")
		return
	}

	if err := h.service.DeleteSession(c.Request.Context(), req.FileID); err != nil {
		h.fail(c, "Failed to delete session", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// UploadSession handles POST /api/drive/upload-session. The body is the
// full session document.
func (h *Handlers) UploadSession(c *gin.Context) {
	body, err := readBody(c, utils.MaxJSONSize)
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"success": false,
			"error":   "Session too large",
			"details": err.Error(),
		})
		return
	}
	if err := utils.DefaultJSONValidator().ValidateJSON(body); err != nil {
		badRequest(c, "Invalid session JSON", err.Error())
		return
	}

	var sess story.Session
	if err := sonic.Unmarshal(body, &sess); err != nil {
		h.fail(c, "Failed to upload session", fmt.Errorf("%w: %v", sessions.ErrValidation, err))
		return
	}
	if sess.ID == "" || strings.TrimSpace(sess.Title) == "" {
		badRequest(c, "Missing session id or title", "id and title are required")
		return
	}

	up, err := h.service.UpsertSession(c.Request.Context(), &sess)
	if err != nil {
		h.fail(c, "Failed to upload session", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "fileId": up.FileID, "fileUrl": up.FileURL})
}

// UploadImage handles POST /api/drive/upload-image
func (h *Handlers) UploadImage(c *gin.Context) {
	var req imageRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ImageData == "" || req.FileName == "" {
		badRequest(c, "Missing imageData or fileName", "request body must carry imageData and fileName")
		return
	}

	up, err := h.service.UploadImage(c.Request.Context(), req.ImageData, req.FileName)
	if err != nil {
		h.fail(c, "Failed to upload image", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "fileId": up.FileID, "fileUrl": up.FileURL})
}

// GetImage handles GET /api/drive/images/:fileId
func (h *Handlers) GetImage(c *gin.Context) {
	img, err := h.service.Image(c.Request.Context(), c.Param("fileId"))
	if err != nil {
		h.fail(c, "Failed to fetch image", err)
		return
	}

	etag := utils.DefaultHasher().ETag(img.Data)
	c.Header("ETag", etag)
	c.Header("Cache-Control", "private, max-age=3600")
	if c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)
		return
	}
	c.Data(http.StatusOK, img.ContentType, img.Data)
}

// ExportSession handles GET /api/drive/sessions/:fileId/export?format=
func (h *Handlers) ExportSession(c *gin.Context) {
	d, err := h.service.Export(c.Request.Context(), c.Param("fileId"), c.Query("format"))
	if err != nil {
		h.fail(c, "Failed to export session", err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", d.FileName))
	c.Data(http.StatusOK, d.ContentType, d.Data)
}

// readBody reads at most limit bytes of the request body
func readBody(c *gin.Context, limit int) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, int64(limit)+1))
	if err != nil {
		return nil, err
	}
	if len(body) > limit {
		return nil, fmt.Errorf("request body exceeds %d bytes", limit)
	}
	return body, nil
}
