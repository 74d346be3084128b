// Package main runs the StorySpark session server.
//
// The server persists story sessions (title, rich-text content, chat
// history and image references) behind a small JSON API and an editor
// WebSocket stream:
//
//	Editor (browser) → StorySpark server → Drive object store
//	                                     → SQLite database
//	                                     → Local filesystem (fallback)
//
// Configuration comes from environment variables (see package config);
// flags override the most common ones.
//
// Usage:
//
//	# Local storage under ./data
//	./server -port 8000
//
//	# Transactional SQLite storage, colored debug logs
//	./server -backend sqlite -data /var/lib/storyspark -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
