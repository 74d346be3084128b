package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Drive     DriveConfig
	Editor    EditorConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8000"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
	// AllowedOrigins lists CORS origins; "*" allows any
	AllowedOrigins []string `envconfig:"CORS_ORIGINS" default:"http://localhost:3000"`
}

// StorageConfig selects and locates the storage backend.
type StorageConfig struct {
	Root string `envconfig:"STORAGE_ROOT" default:"./data"`
	// Backend forces "sqlite"; empty selects drive or local by credentials
	Backend string `envconfig:"STORAGE_BACKEND"`
}

// DriveConfig holds the remote object store credentials.
type DriveConfig struct {
	ClientID     string        `envconfig:"DRIVE_CLIENT_ID"`
	ClientSecret string        `envconfig:"DRIVE_CLIENT_SECRET"`
	Endpoint     string        `envconfig:"DRIVE_ENDPOINT"`
	PublicURL    string        `envconfig:"DRIVE_PUBLIC_URL"`
	Timeout      time.Duration `envconfig:"DRIVE_TIMEOUT" default:"30s"`
}

// EditorConfig tunes session writes.
type EditorConfig struct {
	Debounce        time.Duration `envconfig:"EDITOR_DEBOUNCE" default:"1s"`
	WriteTimeout    time.Duration `envconfig:"EDITOR_WRITE_TIMEOUT" default:"30s"`
	SanitizeContent bool          `envconfig:"SANITIZE_CONTENT" default:"true"`
	MaxImageBytes   int64         `envconfig:"MAX_IMAGE_BYTES" default:"10485760"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8000",
			Host:            "0.0.0.0",
			ShutdownTimeout: 15 * time.Second,
			AllowedOrigins:  []string{"http://localhost:3000"},
		},
		Storage: StorageConfig{
			Root: "./data",
		},
		Drive: DriveConfig{
			Timeout: 30 * time.Second,
		},
		Editor: EditorConfig{
			Debounce:        time.Second,
			WriteTimeout:    30 * time.Second,
			SanitizeContent: true,
			MaxImageBytes:   10 << 20,
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Storage.Backend) {
	case "", "sqlite", "local", "drive":
	default:
		return fmt.Errorf("invalid STORAGE_BACKEND %q", c.Storage.Backend)
	}
	if c.Storage.Root == "" {
		return fmt.Errorf("STORAGE_ROOT must not be empty")
	}
	if c.Editor.Debounce < 0 {
		return fmt.Errorf("EDITOR_DEBOUNCE must not be negative")
	}
	if c.Editor.WriteTimeout < 0 {
		return fmt.Errorf("EDITOR_WRITE_TIMEOUT must not be negative")
	}
	if c.Editor.MaxImageBytes < 0 {
		return fmt.Errorf("MAX_IMAGE_BYTES must not be negative")
	}
	return nil
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return c.Host + ":" + c.Port
}
