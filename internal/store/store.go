// Package store provides the key-value persistence layer behind settings,
// credentials, and per-session transcript snapshots.
//
// Well-known keys mirror the settings surface: "apiKeys" (provider id →
// secret), "activeProvider", "fontSize", "darkMode", "lowContrast",
// "windowPosition", "windowSize", and snapshot keys of the form
// "session_<id>".
package store

import (
	"context"
	"errors"
)

// Well-known storage keys.
const (
	KeyAPIKeys        = "apiKeys"
	KeyActiveProvider = "activeProvider"
	KeyFontSize       = "fontSize"
	KeyDarkMode       = "darkMode"
	KeyLowContrast    = "lowContrast"
	KeyWindowPosition = "windowPosition"
	KeyWindowSize     = "windowSize"

	// SessionKeyPrefix prefixes per-session snapshot keys.
	SessionKeyPrefix = "session_"
)

// ErrNotFound is returned by Get when the key has no stored value.
var ErrNotFound = errors.New("store: key not found")

// Store is a process-wide key-value persistence abstraction. Values are
// opaque JSON-encoded bytes; callers own the encoding.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns all stored keys with the given prefix, in no particular
	// order. An empty prefix returns every key.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}
