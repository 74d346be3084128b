// Package client talks to a StorySpark server over its session API. Client
// implements workspace.Remote, so a Workspace can run against a remote
// server exactly as it runs against the in-process service.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/GriffinCanCode/StorySpark/internal/domain/sessions"
	"github.com/GriffinCanCode/StorySpark/internal/domain/story"
	"github.com/GriffinCanCode/StorySpark/internal/infrastructure/httpclient"
	"github.com/GriffinCanCode/StorySpark/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/StorySpark/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/StorySpark/internal/storage"
	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Config configures a Client
type Config struct {
	BaseURL string
	Timeout time.Duration
	// RateLimit caps requests per second; zero means unlimited
	RateLimit float64
	// Retry overrides the default retry policy when set
	Retry *httpclient.RetryConfig
}

// Client is the HTTP implementation of the session API
type Client struct {
	http   *httpclient.Client
	logger *zap.Logger
}

// Health is the server's /health payload
type Health struct {
	Status  string `json:"status"`
	Storage struct {
		Backend string `json:"backend"`
	} `json:"storage"`
}

type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
}

type listResponse struct {
	envelope
	Sessions []story.IndexEntry `json:"sessions"`
}

type fetchResponse struct {
	envelope
	Session *story.Session `json:"session"`
}

type uploadResponse struct {
	envelope
	FileID  string `json:"fileId"`
	FileURL string `json:"fileUrl"`
}

// New creates a client for the server at cfg.BaseURL
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := httpclient.DefaultOptions("storyspark-api")
	opts.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	opts.RateLimit = cfg.RateLimit
	if cfg.Timeout > 0 {
		opts.Timeout = cfg.Timeout
	}
	if cfg.Retry != nil {
		opts.Retry = *cfg.Retry
	}
	opts.OnStateChange = func(name string, from, to resilience.State) {
		logger.Warn("API circuit breaker state changed",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	hc := httpclient.New(opts)
	hc.Resty.
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal).
		SetHeader("Accept", "application/json")
	return &Client{http: hc, logger: logger}
}

// Health calls GET /health
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if _, err := c.call(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetResult(&out).Get("/health")
	}); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSessions calls GET /api/drive/sessions
func (c *Client) ListSessions(ctx context.Context) ([]story.IndexEntry, error) {
	var out listResponse
	if _, err := c.call(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetResult(&out).Get("/api/drive/sessions")
	}); err != nil {
		return nil, err
	}
	if out.Sessions == nil {
		out.Sessions = []story.IndexEntry{}
	}
	return out.Sessions, nil
}

// FetchSession calls POST /api/drive/sessions
func (c *Client) FetchSession(ctx context.Context, fileID string) (*story.Session, error) {
	var out fetchResponse
	if _, err := c.call(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(map[string]string{"fileId": fileID}).SetResult(&out).Post("/api/drive/sessions")
	}); err != nil {
		return nil, err
	}
	if out.Session == nil {
		return nil, fmt.Errorf("fetch %s: empty session in response", fileID)
	}
	out.Session.Normalize()
	return out.Session, nil
}

// UpsertSession calls POST /api/drive/upload-session
func (c *Client) UpsertSession(ctx context.Context, s *story.Session) (*sessions.Upload, error) {
	var out uploadResponse
	if _, err := c.call(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(s).SetResult(&out).Post("/api/drive/upload-session")
	}); err != nil {
		return nil, err
	}
	return &sessions.Upload{FileID: out.FileID, FileURL: out.FileURL}, nil
}

// DeleteSession calls DELETE /api/drive/sessions
func (c *Client) DeleteSession(ctx context.Context, fileID string) error {
	_, err := c.call(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetQueryParam("fileId", fileID).Delete("/api/drive/sessions")
	})
	return err
}

// UploadImage calls POST /api/drive/upload-image with a data URI
func (c *Client) UploadImage(ctx context.Context, imageData, fileName string) (*sessions.Upload, error) {
	var out uploadResponse
	if _, err := c.call(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(map[string]string{"imageData": imageData, "fileName": fileName}).
			SetResult(&out).
			Post("/api/drive/upload-image")
	}); err != nil {
		return nil, err
	}
	return &sessions.Upload{FileID: out.FileID, FileURL: out.FileURL}, nil
}

// Image downloads a stored blob
func (c *Client) Image(ctx context.Context, ref string) (*sessions.Image, error) {
	resp, err := c.call(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("ref", ref).Get("/api/drive/images/{ref}")
	})
	if err != nil {
		return nil, err
	}
	return &sessions.Image{Data: resp.Body(), ContentType: resp.Header().Get("Content-Type")}, nil
}

// Export downloads a rendered session
func (c *Client) Export(ctx context.Context, fileID, format string) (*sessions.Download, error) {
	resp, err := c.call(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("fileId", fileID).
			SetQueryParam("format", format).
			Get("/api/drive/sessions/{fileId}/export")
	})
	if err != nil {
		return nil, err
	}
	return &sessions.Download{
		FileName:    attachmentName(resp.Header().Get("Content-Disposition")),
		ContentType: resp.Header().Get("Content-Type"),
		Data:        resp.Body(),
	}, nil
}

// Close releases idle connections
func (c *Client) Close() error {
	c.http.Resty.GetClient().CloseIdleConnections()
	return nil
}

// call sends a request and maps failure envelopes onto the service error kinds
func (c *Client) call(ctx context.Context, send func(*resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	headers := map[string]string{}
	tracing.InjectTraceContext(ctx, headers)
	resp, err := c.http.Do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return send(r.SetHeaders(headers))
	})
	if err == nil {
		return resp, nil
	}

	var se *httpclient.StatusError
	if !errors.As(err, &se) {
		return nil, err
	}
	var env envelope
	_ = sonic.Unmarshal(se.Body, &env)
	msg := env.Error
	if env.Details != "" {
		msg += ": " + env.Details
	}
	if msg == "" {
		msg = se.Error()
	}

	switch se.Code {
	case http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", msg, storage.ErrNotFound)
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return nil, fmt.Errorf("%w: %s", sessions.ErrValidation, msg)
	case http.StatusServiceUnavailable:
		return nil, fmt.Errorf("%w: %s", sessions.ErrUnavailable, msg)
	}
	c.logger.Debug("API request failed", zap.Int("status", se.Code), zap.String("url", se.URL))
	return nil, fmt.Errorf("%s (status %d)", msg, se.Code)
}

func attachmentName(disposition string) string {
	_, name, ok := strings.Cut(disposition, "filename=")
	if !ok {
		return ""
	}
	return strings.Trim(name, `"`)
}
