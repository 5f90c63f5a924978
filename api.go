package writeback

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	be "github.com/unkn0wn-root/writeback/backend"
	"github.com/unkn0wn-root/writeback/bus"
	cd "github.com/unkn0wn-root/writeback/codec"
	"github.com/unkn0wn-root/writeback/lease"
)

// Transform maps the current value of a key to its replacement.
// present=false is the absence marker: the key has no known value and cur is
// the zero V. remote=true when the transform runs inside a commit fold
// against the backend's authoritative value (each transform runs once
// locally at Update time and once remotely at commit time).
//
// Returning Skip (or any error) turns this invocation into a no-op without
// aborting the rest of the chain. Transforms are called with the store's
// internal lock held and must not call back into the store.
type Transform[V any] func(cur V, present, remote bool) (V, error)

// Store is one coordinated namespace of keys. All methods are safe for
// concurrent use.
type Store[V any] interface {
	// Get returns the cached value for key, or fetches it from the backend
	// when the cache has no entry or skipCache is set. Absent keys resolve
	// to def. The read always leaves the key populated in the local cache.
	Get(ctx context.Context, key string, def V, skipCache bool) (V, error)

	// Update queues t for the next flush and applies it to the local cache
	// immediately. When fireLocal is set and the optimistic apply is
	// accepted, key watchers are notified with the new value. Failures are
	// absorbed (logged, hooked); callers never see them.
	Update(key string, t Transform[V], fireLocal bool)

	// Watch subscribes to value changes for key. The returned cancel func
	// releases the subscription; Destroy closes the channel. Delivery is
	// best-effort: a full channel drops the value.
	Watch(key string) (<-chan V, func())

	// Flush runs one on-demand flush pass over all queued keys.
	Flush(ctx context.Context)

	// Destroy flushes once more, drains background tasks, cancels the
	// broadcast subscription, closes watcher channels and deregisters the
	// store. Idempotent.
	Destroy(ctx context.Context) error
}

// Config wires a Registry to its collaborators. Backend, Leases, Bus and
// Codec are required; everything else has defaults.
type Config[V any] struct {
	Backend be.Store     // durable, rate-limited key-value store
	Leases  lease.Store  // shared TTL-lease store
	Bus     bus.Bus      // best-effort broadcast transport
	Codec   cd.Codec[V]  // value <-> backend bytes

	Logger Logger // nil => NopLogger
	Hooks  Hooks  // nil => NopHooks

	// ProcessID tags lease ownership and notification origin. Must be
	// unique per running process; defaults to a random UUID.
	ProcessID string

	LeaseTTL        time.Duration // 0 => 15s
	LeasePollEvery  time.Duration // inter-poll delay; 0 => 100ms
	LeasePollBudget int           // polls before giving up; 0 => 40
	ReleaseAfter    time.Duration // lease release cooldown; 0 => 6s
	FlushEvery      time.Duration // periodic flush base interval; 0 => 10s
	FlushJitter     time.Duration // uniform extra sleep; 0 => 5s
	ShutdownDelay   time.Duration // cooldown for mid-flush stores at shutdown; 0 => 7s
}

// NewRegistry validates cfg and returns a registry ready to hand out
// stores. Construct one per process and pass it to consumers.
func NewRegistry[V any](cfg Config[V]) (*Registry[V], error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("writeback: backend is required")
	}
	if cfg.Leases == nil {
		return nil, fmt.Errorf("writeback: lease store is required")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("writeback: bus is required")
	}
	if cfg.Codec == nil {
		return nil, fmt.Errorf("writeback: codec is required")
	}

	cfg.Logger = coalesce[Logger](cfg.Logger, NopLogger{})
	cfg.Hooks = coalesce[Hooks](cfg.Hooks, NopHooks{})
	cfg.ProcessID = coalesce(cfg.ProcessID, uuid.NewString())
	cfg.LeaseTTL = coalesce(cfg.LeaseTTL, defaultLeaseTTL)
	cfg.LeasePollEvery = coalesce(cfg.LeasePollEvery, defaultLeasePollEvery)
	cfg.LeasePollBudget = coalesce(cfg.LeasePollBudget, defaultLeasePollBudget)
	cfg.ReleaseAfter = coalesce(cfg.ReleaseAfter, defaultReleaseAfter)
	cfg.FlushEvery = coalesce(cfg.FlushEvery, defaultFlushEvery)
	cfg.FlushJitter = coalesce(cfg.FlushJitter, defaultFlushJitter)
	cfg.ShutdownDelay = coalesce(cfg.ShutdownDelay, defaultShutdownDelay)

	return &Registry[V]{
		cfg:    cfg,
		stores: make(map[string]*store[V]),
	}, nil
}
