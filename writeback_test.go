package writeback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	be "github.com/unkn0wn-root/writeback/backend"
	"github.com/unkn0wn-root/writeback/bus"
	cd "github.com/unkn0wn-root/writeback/codec"
	"github.com/unkn0wn-root/writeback/lease"
)

// countingBackend wraps a Store and counts calls, so tests can assert the
// cache path never touched the backend.
type countingBackend struct {
	be.Store
	gets    atomic.Int64
	updates atomic.Int64
}

func (b *countingBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b.gets.Add(1)
	return b.Store.Get(ctx, key)
}

func (b *countingBackend) Update(ctx context.Context, key string, fn be.UpdateFunc) ([]byte, bool, error) {
	b.updates.Add(1)
	return b.Store.Update(ctx, key, fn)
}

// flakyBackend fails the first failN Update calls.
type flakyBackend struct {
	be.Store
	failN atomic.Int64
}

func (b *flakyBackend) Update(ctx context.Context, key string, fn be.UpdateFunc) ([]byte, bool, error) {
	if b.failN.Add(-1) >= 0 {
		return nil, false, errors.New("backend unavailable")
	}
	return b.Store.Update(ctx, key, fn)
}

// flakyLease fails the first getFails polls and the first setFails claims,
// then delegates.
type flakyLease struct {
	lease.Store
	getFails atomic.Int64
	setFails atomic.Int64
}

func (l *flakyLease) Get(ctx context.Context, key string) (string, bool, error) {
	if l.getFails.Add(-1) >= 0 {
		return "", false, errors.New("lease store unavailable")
	}
	return l.Store.Get(ctx, key)
}

func (l *flakyLease) Set(ctx context.Context, key, holder string, ttl time.Duration) error {
	if l.setFails.Add(-1) >= 0 {
		return errors.New("lease store unavailable")
	}
	return l.Store.Set(ctx, key, holder, ttl)
}

// pubFailBus subscribes fine but every publish fails.
type pubFailBus struct {
	bus.Bus
}

func (pubFailBus) Publish(context.Context, string, []byte) error {
	return errors.New("bus unavailable")
}

// deadBus fails everything, including the standing subscription.
type deadBus struct{}

func (deadBus) Publish(context.Context, string, []byte) error { return errors.New("bus down") }
func (deadBus) Subscribe(context.Context, string, bus.Handler) (bus.Subscription, error) {
	return nil, errors.New("bus down")
}
func (deadBus) Close(context.Context) error { return nil }

// heldLease reports every key as held by a foreign process; acquisition can
// never succeed.
type heldLease struct{}

func (heldLease) Get(context.Context, string) (string, bool, error) { return "someone-else", true, nil }
func (heldLease) Set(context.Context, string, string, time.Duration) error { return nil }
func (heldLease) Remove(context.Context, string) error                     { return nil }
func (heldLease) Close(context.Context) error                              { return nil }

// gateLease blocks every Get poll until the gate opens, keeping flush
// attempts parked inside acquisition.
type gateLease struct {
	lease.Store
	gate chan struct{}
}

func (l *gateLease) Get(ctx context.Context, key string) (string, bool, error) {
	<-l.gate
	return l.Store.Get(ctx, key)
}

// gateBackend parks Update calls until the gate opens and signals entry so
// tests can interleave deterministically with an in-flight commit.
type gateBackend struct {
	be.Store
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func newGateBackend(inner be.Store) *gateBackend {
	return &gateBackend{Store: inner, entered: make(chan struct{}), gate: make(chan struct{})}
}

func (b *gateBackend) Update(ctx context.Context, key string, fn be.UpdateFunc) ([]byte, bool, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.gate
	return b.Store.Update(ctx, key, fn)
}

// recordHooks captures hook events for assertions.
type recordHooks struct {
	mu           sync.Mutex
	lockTimeouts []string
	skipped      []string
	commitErrs   int
	leaseErrs    int
	publishErrs  int
}

func (h *recordHooks) TransformSkipped(_, key string, _ bool, _ error) {
	h.mu.Lock()
	h.skipped = append(h.skipped, key)
	h.mu.Unlock()
}

func (h *recordHooks) LockTimeout(_, key string, _ int) {
	h.mu.Lock()
	h.lockTimeouts = append(h.lockTimeouts, key)
	h.mu.Unlock()
}

func (h *recordHooks) CommitError(_, _ string, _ error) {
	h.mu.Lock()
	h.commitErrs++
	h.mu.Unlock()
}

func (h *recordHooks) LeaseError(string, string, string, error) {
	h.mu.Lock()
	h.leaseErrs++
	h.mu.Unlock()
}

func (h *recordHooks) PublishError(string, string, error) {
	h.mu.Lock()
	h.publishErrs++
	h.mu.Unlock()
}

func (h *recordHooks) NoticeDropped(string, string) {}
func (h *recordHooks) WatchDropped(string, string)  {}

func (h *recordHooks) timeouts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.lockTimeouts)
}

func (h *recordHooks) leaseErrors() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaseErrs
}

func (h *recordHooks) publishErrors() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.publishErrs
}

// testConfig returns fast knobs over in-process collaborators. The periodic
// loop is effectively disabled so tests drive flushes explicitly.
func testConfig(procID string) Config[int] {
	return Config[int]{
		Backend:         be.NewLocal(),
		Leases:          lease.NewLocal(),
		Bus:             bus.NewLocal(),
		Codec:           cd.JSON[int]{},
		ProcessID:       procID,
		LeaseTTL:        time.Second,
		LeasePollEvery:  time.Millisecond,
		LeasePollBudget: 50,
		ReleaseAfter:    time.Millisecond,
		FlushEvery:      time.Hour,
		FlushJitter:     time.Millisecond,
		ShutdownDelay:   time.Millisecond,
	}
}

func newTestRegistry(t *testing.T, mod func(*Config[int])) *Registry[int] {
	t.Helper()
	cfg := testConfig("proc-test")
	if mod != nil {
		mod(&cfg)
	}
	r, err := NewRegistry[int](cfg)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Close(ctx)
	})
	return r
}

func mustImpl[V any](t *testing.T, s Store[V]) *store[V] {
	t.Helper()
	impl, ok := s.(*store[V])
	if !ok {
		t.Fatalf("unexpected concrete type for Store")
	}
	return impl
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func addN(n int) Transform[int] {
	return func(cur int, present, _ bool) (int, error) {
		if !present {
			cur = 0
		}
		return cur + n, nil
	}
}

func (s *store[V]) queueLen(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue[key])
}

func (s *store[V]) idle(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue[key]) == 0 && !s.inFlight[key]
}
