// Package lease defines the shared TTL-lease store boundary used for
// cross-process mutual exclusion.
//
// The store only needs individually consistent get/set/remove; no
// atomicity across them is assumed. The resulting check-then-set race is
// tolerated by the coordination protocol and resolved as false contention,
// with TTL expiry as the safety net for abandoned leases.
package lease

import (
	"context"
	"time"
)

// Store holds short-lived exclusivity leases keyed by resource.
// Must be safe for concurrent use.
type Store interface {
	// Get returns the current holder of key, ok=false when unheld or
	// expired.
	Get(ctx context.Context, key string) (holder string, ok bool, err error)

	// Set records holder as the owner of key for ttl. Overwrites any
	// existing holder.
	Set(ctx context.Context, key, holder string, ttl time.Duration) error

	// Remove releases the lease (best-effort; expiry covers failures).
	Remove(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}
