package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/StorySpark/internal/api/http"
	"github.com/GriffinCanCode/StorySpark/internal/api/middleware"
	"github.com/GriffinCanCode/StorySpark/internal/api/ws"
	"github.com/GriffinCanCode/StorySpark/internal/domain/sessions"
	"github.com/GriffinCanCode/StorySpark/internal/infrastructure/config"
	"github.com/GriffinCanCode/StorySpark/internal/infrastructure/logging"
	"github.com/GriffinCanCode/StorySpark/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/StorySpark/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/StorySpark/internal/storage"
	"github.com/GriffinCanCode/StorySpark/internal/storage/drive"
	"github.com/GriffinCanCode/StorySpark/internal/storage/local"
	"github.com/GriffinCanCode/StorySpark/internal/storage/sqlite"
)

// EditorStreamPath is the editor WebSocket route
const EditorStreamPath = "/stream/editor"

// Server wraps the HTTP server and the storage client it owns
type Server struct {
	router  *gin.Engine
	handler http.Handler
	store   *storage.Store
	service *sessions.Service
	tracer  *tracing.Tracer
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// NewServer creates a server with a logger built from cfg
func NewServer(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return New(cfg, logger)
}

// New creates a server logging through logger
func New(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info("Initializing StorySpark server",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("storage_root", cfg.Storage.Root),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(reg)

	tracer := tracing.New("storyspark", logger.Logger)

	// Storage is created here and initialized on first use
	store := BuildStore(cfg, logger.Logger).WithRecorder(metrics)
	service := sessions.NewService(store, logger.Logger, sessions.Options{
		Sanitize:      cfg.Editor.SanitizeContent,
		MaxImageBytes: cfg.Editor.MaxImageBytes,
	}).WithRecorder(metrics)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(corsConfig(cfg.Server.AllowedOrigins)))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}

	apihttp.NewHandlers(service, store, logger.Logger).Register(router)
	metrics.Register(router)

	wsHandler := ws.NewHandler(service, ws.Options{
		Debounce:     cfg.Editor.Debounce,
		WriteTimeout: cfg.Editor.WriteTimeout,
		CheckOrigin:  originChecker(cfg.Server.AllowedOrigins),
		Logger:       logger.Logger,
		Metrics:      metrics,
	})
	router.GET(EditorStreamPath, wsHandler.HandleConnection)

	handler, err := compress(router)
	if err != nil {
		return nil, err
	}

	logger.Info("Server initialized successfully")

	return &Server{
		router:  router,
		handler: handler,
		store:   store,
		service: service,
		tracer:  tracer,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// BuildStore lists storage candidates in order of preference. Local
// storage under the storage root is always the last candidate.
func BuildStore(cfg *config.Config, logger *zap.Logger) *storage.Store {
	root := cfg.Storage.Root
	fallback := local.New(root, logger.Named("local"))

	var candidates []storage.Backend
	switch strings.ToLower(cfg.Storage.Backend) {
	case "sqlite":
		candidates = append(candidates, sqlite.New(root, logger.Named("sqlite")))
	case "local":
	default:
		dc := drive.Config{
			ClientID:     cfg.Drive.ClientID,
			ClientSecret: cfg.Drive.ClientSecret,
			Endpoint:     cfg.Drive.Endpoint,
			PublicURL:    cfg.Drive.PublicURL,
			Timeout:      cfg.Drive.Timeout,
		}
		if dc.Configured() {
			candidates = append(candidates, drive.New(dc, logger.Named("drive")))
		} else if cfg.Storage.Backend != "" {
			logger.Warn("Drive storage requested without credentials, using local storage")
		}
	}
	candidates = append(candidates, fallback)

	logger.Info("Storage candidates configured",
		zap.Strings("backends", kinds(candidates)),
		zap.String("root", filepath.Clean(root)),
	)
	return storage.NewStore(logger, candidates...)
}

func kinds(bs []storage.Backend) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = string(b.Kind())
	}
	return out
}

func corsConfig(origins []string) middleware.CORSConfig {
	c := middleware.DefaultCORSConfig()
	if len(origins) > 0 {
		c.AllowOrigins = origins
	}
	return c
}

// originChecker allows same-origin tools (no Origin header) and the
// configured browser origins
func originChecker(origins []string) func(*http.Request) bool {
	if slices.Contains(origins, "*") {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(origins, origin)
	}
}

// compress gzips API responses. The editor stream is left unwrapped so the
// WebSocket upgrade can hijack the connection.
func compress(next http.Handler) (http.Handler, error) {
	wrap, err := gzhttp.NewWrapper(gzhttp.MinSize(1024))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip wrapper: %w", err)
	}
	gz := wrap(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/stream/") {
			next.ServeHTTP(w, r)
			return
		}
		gz.ServeHTTP(w, r)
	}), nil
}

// Handler returns the full HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Store returns the storage client owned by the server
func (s *Server) Store() *storage.Store {
	return s.store
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	addr := s.config.Server.Addr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.logger.Info("Shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

// Close releases the storage client and flushes logs
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	s.tracer.Close()

	var err error
	if cerr := s.store.Close(); cerr != nil {
		s.logger.Error("Failed to close storage", zap.Error(cerr))
		err = fmt.Errorf("failed to close storage: %w", cerr)
	} else {
		s.logger.Info("Closed storage")
	}

	s.logger.Sync()
	return err
}
