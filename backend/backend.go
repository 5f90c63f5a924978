// Package backend defines the durable key-value store boundary.
//
// The backend is assumed strongly consistent per key but expensive and
// rate-limited: callers batch mutations and commit rarely. Implementations
// must be byte-for-byte transparent: Get returns exactly the []byte a
// previous Update stored for the key, with no added metadata, re-encoding
// or mutation.
package backend

import (
	"context"
	"errors"
)

// ErrUnchanged may be returned by an UpdateFunc to leave the stored value
// untouched. Update then reports the current value without failing.
var ErrUnchanged = errors.New("backend: value unchanged")

// UpdateFunc receives the current stored value (present=false when the key
// is absent, cur nil) and returns its replacement. It may be invoked more
// than once if the implementation retries a contended write, so it must be
// free of side effects beyond its return value.
type UpdateFunc func(cur []byte, present bool) ([]byte, error)

// Store is a slow, durable key-value store with an atomic read-modify-write
// primitive. Must be safe for concurrent use.
type Store interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Update atomically applies fn to the key's current value and stores
	// the result. Returns the value held after the call and whether the
	// key is present. An fn error other than ErrUnchanged aborts the
	// write and is returned as-is.
	Update(ctx context.Context, key string, fn UpdateFunc) (val []byte, present bool, err error)

	// Close releases resources.
	Close(ctx context.Context) error
}
