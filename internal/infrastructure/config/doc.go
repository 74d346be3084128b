// Package config provides 12-factor configuration for the StorySpark server.
//
// Configuration is loaded from environment variables with defaults; the
// server's command-line flags override a few of them.
//
// Environment Variables:
//   - PORT, HOST, SHUTDOWN_TIMEOUT, CORS_ORIGINS
//   - STORAGE_ROOT, STORAGE_BACKEND
//   - DRIVE_CLIENT_ID, DRIVE_CLIENT_SECRET, DRIVE_ENDPOINT, DRIVE_PUBLIC_URL, DRIVE_TIMEOUT
//   - EDITOR_DEBOUNCE, SANITIZE_CONTENT, MAX_IMAGE_BYTES
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//
// Drive credentials are optional. When they are absent the server stores
// sessions on the local filesystem.
package config
