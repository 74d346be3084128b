// Package storage defines the session persistence contract and the Store
// that picks a concrete backend at startup.
//
// Backends live in subpackages: local (a data directory of JSON files),
// sqlite (an embedded database) and drive (a remote object service).
package storage
