// Package drive stores sessions in a remote object service reached over HTTP.
//
// Objects live under /objects/{key}: one session-<id>.json document per
// session, the sessions.json index, and image blobs by name. The service
// authenticates with basic auth using the configured client credentials.
package drive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/StorySpark/internal/domain/story"
	"github.com/GriffinCanCode/StorySpark/internal/infrastructure/httpclient"
	"github.com/GriffinCanCode/StorySpark/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/StorySpark/internal/storage"
	"github.com/bytedance/sonic"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	documentPrefix = "session-"
	documentSuffix = ".json"
)

// Config holds the remote service settings
type Config struct {
	ClientID     string
	ClientSecret string
	Endpoint     string
	PublicURL    string
	Timeout      time.Duration
}

// Configured reports whether every credential needed to try the drive is set
func (c Config) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.Endpoint != ""
}

// Backend is the remote drive storage backend
type Backend struct {
	cfg    Config
	client *httpclient.Client
	logger *zap.Logger

	// mu serializes index read-modify-write cycles from this process
	mu sync.Mutex
}

// New creates a drive backend. The HTTP client is built immediately but no
// request is made until Initialize.
func New(cfg Config, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")

	opts := httpclient.DefaultOptions("drive-storage")
	opts.BaseURL = cfg.Endpoint
	if cfg.Timeout > 0 {
		opts.Timeout = cfg.Timeout
	}
	opts.OnStateChange = func(name string, from, to resilience.State) {
		logger.Warn("Drive circuit breaker state changed",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	client := httpclient.New(opts)
	client.SetBasicAuth(cfg.ClientID, cfg.ClientSecret)

	return &Backend{cfg: cfg, client: client, logger: logger}
}

// Kind implements storage.Backend
func (b *Backend) Kind() storage.Kind {
	return storage.KindDrive
}

// Client exposes the underlying HTTP client
func (b *Backend) Client() *httpclient.Client {
	return b.client
}

// Initialize checks credentials and that the service answers its health trial
func (b *Backend) Initialize(ctx context.Context) error {
	if !b.cfg.Configured() {
		return b.wrap("initialize", "", fmt.Errorf("%w: drive credentials not configured", storage.ErrUnavailable))
	}
	_, err := b.client.Do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.Get("/health")
	})
	if err != nil {
		return b.wrap("initialize", "", fmt.Errorf("%w: %v", storage.ErrUnavailable, err))
	}
	return nil
}

// FileID returns the object key for a session id
func FileID(id string) string {
	return documentPrefix + id + documentSuffix
}

// Put uploads the document, then refreshes the index object
func (b *Backend) Put(ctx context.Context, s *story.Session) (string, error) {
	if err := storage.CheckDocument(s); err != nil {
		return "", err
	}
	doc, err := sonic.Marshal(s)
	if err != nil {
		return "", b.wrap("put", s.ID, err)
	}
	fileID := FileID(s.ID)
	if err := b.putObject(ctx, fileID, doc, "application/json"); err != nil {
		return "", b.wrap("put", fileID, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := b.readIndex(ctx)
	if err != nil {
		return "", b.wrap("put", fileID, err)
	}
	entries = storage.UpsertEntry(entries, s.Entry(fileID))
	if err := b.writeIndex(ctx, entries); err != nil {
		return "", b.wrap("put", fileID, err)
	}
	return fileID, nil
}

// Get downloads a document
func (b *Backend) Get(ctx context.Context, fileID string) (*story.Session, error) {
	if err := checkFileID(fileID); err != nil {
		return nil, err
	}
	data, err := b.getObject(ctx, fileID)
	if err != nil {
		return nil, b.wrap("get", fileID, err)
	}
	var s story.Session
	if err := sonic.Unmarshal(data, &s); err != nil {
		return nil, b.wrap("get", fileID, fmt.Errorf("%w: %v", storage.ErrInvalidDocument, err))
	}
	s.Normalize()
	if err := storage.CheckDocument(&s); err != nil {
		return nil, b.wrap("get", fileID, err)
	}
	return &s, nil
}

// List downloads the index; a missing index is an empty listing
func (b *Backend) List(ctx context.Context) ([]story.IndexEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := b.readIndex(ctx)
	if err != nil {
		return nil, b.wrap("list", "", err)
	}
	storage.SortEntries(entries)
	return entries, nil
}

// Remove deletes a document and its index entry
func (b *Backend) Remove(ctx context.Context, fileID string) error {
	if err := checkFileID(fileID); err != nil {
		return err
	}
	if err := b.deleteObject(ctx, fileID); err != nil {
		return b.wrap("remove", fileID, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := b.readIndex(ctx)
	if err != nil {
		return b.wrap("remove", fileID, err)
	}
	kept := storage.RemoveEntries(entries, fileID)
	if len(kept) == len(entries) {
		return nil
	}
	return b.wrap("remove", fileID, b.writeIndex(ctx, kept))
}

// PutImage uploads a blob with its detected content type
func (b *Backend) PutImage(ctx context.Context, data []byte, name string) (string, error) {
	if err := storage.ValidateBlobName(name); err != nil {
		return "", err
	}
	if err := b.putObject(ctx, name, data, mimetype.Detect(data).String()); err != nil {
		return "", b.wrap("put_image", name, err)
	}
	return name, nil
}

// GetImage downloads a blob
func (b *Backend) GetImage(ctx context.Context, ref string) ([]byte, error) {
	if err := storage.ValidateBlobName(ref); err != nil {
		return nil, err
	}
	data, err := b.getObject(ctx, ref)
	if err != nil {
		return nil, b.wrap("get_image", ref, err)
	}
	return data, nil
}

// RemoveImage deletes a blob
func (b *Backend) RemoveImage(ctx context.Context, ref string) error {
	if err := storage.ValidateBlobName(ref); err != nil {
		return err
	}
	return b.wrap("remove_image", ref, b.deleteObject(ctx, ref))
}

// URLFor returns the public object URL for ref
func (b *Backend) URLFor(ref string) string {
	base := b.cfg.PublicURL
	if base == "" {
		base = b.cfg.Endpoint
	}
	return base + "/objects/" + url.PathEscape(ref)
}

// Close implements storage.Backend
func (b *Backend) Close() error {
	b.client.Resty.GetClient().CloseIdleConnections()
	return nil
}

func (b *Backend) objectPath(key string) string {
	return "/objects/" + url.PathEscape(key)
}

func (b *Backend) putObject(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := b.client.Do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetHeader("Content-Type", contentType).SetBody(data).Put(b.objectPath(key))
	})
	return err
}

func (b *Backend) getObject(ctx context.Context, key string) ([]byte, error) {
	resp, err := b.client.Do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.Get(b.objectPath(key))
	})
	if httpclient.IsStatus(err, http.StatusNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

func (b *Backend) deleteObject(ctx context.Context, key string) error {
	_, err := b.client.Do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.Delete(b.objectPath(key))
	})
	if httpclient.IsStatus(err, http.StatusNotFound) {
		return nil
	}
	return err
}

// readIndex callers hold mu
func (b *Backend) readIndex(ctx context.Context) ([]story.IndexEntry, error) {
	data, err := b.getObject(ctx, storage.IndexFile)
	if errors.Is(err, storage.ErrNotFound) {
		return []story.IndexEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []story.IndexEntry
	if err := sonic.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	if entries == nil {
		entries = []story.IndexEntry{}
	}
	return entries, nil
}

// writeIndex callers hold mu
func (b *Backend) writeIndex(ctx context.Context, entries []story.IndexEntry) error {
	data, err := sonic.Marshal(entries)
	if err != nil {
		return err
	}
	return b.putObject(ctx, storage.IndexFile, data, "application/json")
}

func (b *Backend) wrap(op, key string, err error) error {
	return storage.Wrap(storage.KindDrive, op, key, err)
}

func checkFileID(fileID string) error {
	id, ok := strings.CutPrefix(fileID, documentPrefix)
	if ok {
		id, ok = strings.CutSuffix(id, documentSuffix)
	}
	if !ok || !story.ValidID(id) {
		return fmt.Errorf("%w: file id %q", storage.ErrInvalidKey, fileID)
	}
	return nil
}
