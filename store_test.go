package writeback

import (
	"context"
	"errors"
	"testing"

	be "github.com/unkn0wn-root/writeback/backend"
	cd "github.com/unkn0wn-root/writeback/codec"
)

// ==============================
// Read path
// ==============================

// TestCacheFirstRead verifies a cached key never touches the backend unless
// skipCache forces it.
func TestCacheFirstRead(t *testing.T) {
	ctx := context.Background()
	cb := &countingBackend{Store: be.NewLocal()}
	seed(t, cb.Store, "acct:gold", 7)

	r := newTestRegistry(t, func(c *Config[int]) { c.Backend = cb })
	s := r.GetOrCreate("acct")

	if v, err := s.Get(ctx, "gold", 0, false); err != nil || v != 7 {
		t.Fatalf("first Get: v=%d err=%v", v, err)
	}
	if got := cb.gets.Load(); got != 1 {
		t.Fatalf("expected 1 backend get after fill, got %d", got)
	}

	if v, err := s.Get(ctx, "gold", 0, false); err != nil || v != 7 {
		t.Fatalf("cached Get: v=%d err=%v", v, err)
	}
	if got := cb.gets.Load(); got != 1 {
		t.Fatalf("cached Get should not consult backend, got %d gets", got)
	}

	if _, err := s.Get(ctx, "gold", 0, true); err != nil {
		t.Fatalf("skipCache Get: %v", err)
	}
	if got := cb.gets.Load(); got != 2 {
		t.Fatalf("skipCache Get must consult backend, got %d gets", got)
	}
}

// TestFallbackThenFill verifies an absent key resolves to the default, and
// that the miss is cached as an absence marker.
func TestFallbackThenFill(t *testing.T) {
	ctx := context.Background()
	cb := &countingBackend{Store: be.NewLocal()}
	r := newTestRegistry(t, func(c *Config[int]) { c.Backend = cb })
	s := r.GetOrCreate("acct")

	if v, err := s.Get(ctx, "gold", 42, false); err != nil || v != 42 {
		t.Fatalf("Get absent: v=%d err=%v", v, err)
	}

	// the marker is cached: a second read resolves locally, with the
	// caller's default of that call
	if v, err := s.Get(ctx, "gold", 9, false); err != nil || v != 9 {
		t.Fatalf("Get absent (cached marker): v=%d err=%v", v, err)
	}
	if got := cb.gets.Load(); got != 1 {
		t.Fatalf("marker should be cached, got %d backend gets", got)
	}
}

// TestGetBackendError surfaces backend IO errors to the reader without
// caching anything.
func TestGetBackendError(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, func(c *Config[int]) { c.Backend = failingGetBackend{} })
	s := mustImpl[int](t, r.GetOrCreate("acct"))

	if _, err := s.Get(ctx, "gold", 0, false); err == nil {
		t.Fatalf("expected error from failing backend")
	}
	s.mu.Lock()
	_, cached := s.cache["gold"]
	s.mu.Unlock()
	if cached {
		t.Fatalf("failed read must not populate the cache")
	}
}

type failingGetBackend struct{}

func (failingGetBackend) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("backend down")
}

func (failingGetBackend) Update(context.Context, string, be.UpdateFunc) ([]byte, bool, error) {
	return nil, false, errors.New("backend down")
}

func (failingGetBackend) Close(context.Context) error { return nil }

// ==============================
// Update path
// ==============================

// TestOptimisticLocalApply verifies Update changes the local cache
// synchronously, and that failed or cancelled transforms change nothing
// while still entering the queue for the remote chain.
func TestOptimisticLocalApply(t *testing.T) {
	r := newTestRegistry(t, nil)
	s := mustImpl[int](t, r.GetOrCreate("acct"))

	s.Update("gold", addN(10), false)
	s.Update("gold", addN(10), false)

	if v, _ := s.Get(context.Background(), "gold", 0, false); v != 20 {
		t.Fatalf("optimistic value: got %d, want 20", v)
	}

	// failing transform: cache untouched, still queued
	s.Update("gold", func(int, bool, bool) (int, error) {
		return 0, errors.New("boom")
	}, false)
	if v, _ := s.Get(context.Background(), "gold", 0, false); v != 20 {
		t.Fatalf("failed transform must not change cache, got %d", v)
	}

	// cancelled transform: same
	s.Update("gold", func(int, bool, bool) (int, error) {
		return 0, Skip
	}, false)
	if v, _ := s.Get(context.Background(), "gold", 0, false); v != 20 {
		t.Fatalf("cancelled transform must not change cache, got %d", v)
	}

	if n := s.queueLen("gold"); n != 4 {
		t.Fatalf("all submissions stay queued, got %d, want 4", n)
	}
}

// TestUpdateSeesAbsenceMarker verifies transforms get present=false until a
// value exists.
func TestUpdateSeesAbsenceMarker(t *testing.T) {
	r := newTestRegistry(t, nil)
	s := mustImpl[int](t, r.GetOrCreate("acct"))

	var sawPresent bool
	s.Update("gold", func(_ int, present, _ bool) (int, error) {
		sawPresent = present
		return 1, nil
	}, false)
	if sawPresent {
		t.Fatalf("first transform should see the absence marker")
	}

	s.Update("gold", func(cur int, present, _ bool) (int, error) {
		sawPresent = present
		return cur + 1, nil
	}, false)
	if !sawPresent {
		t.Fatalf("second transform should see the optimistic value")
	}
}

// ==============================
// Watchers
// ==============================

// TestWatchLocalFire verifies fireLocal delivery and cancellation.
func TestWatchLocalFire(t *testing.T) {
	r := newTestRegistry(t, nil)
	s := r.GetOrCreate("acct")

	ch, cancel := s.Watch("gold")
	defer cancel()

	s.Update("gold", addN(5), true)
	select {
	case v := <-ch:
		if v != 5 {
			t.Fatalf("watcher got %d, want 5", v)
		}
	default:
		t.Fatalf("watcher should have been notified synchronously")
	}

	// fireLocal=false stays silent
	s.Update("gold", addN(5), false)
	select {
	case v := <-ch:
		t.Fatalf("unexpected delivery %d with fireLocal=false", v)
	default:
	}

	cancel()
	if _, open := <-ch; open {
		t.Fatalf("cancel should close the channel")
	}

	// post-cancel updates must not panic or deliver
	s.Update("gold", addN(5), true)
}

// TestWatchClosedOnDestroy verifies Destroy closes subscriber channels.
func TestWatchClosedOnDestroy(t *testing.T) {
	r := newTestRegistry(t, nil)
	s := r.GetOrCreate("acct")

	ch, cancel := s.Watch("gold")
	if err := s.Destroy(context.Background()); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, open := <-ch; open {
		t.Fatalf("Destroy should close watcher channels")
	}
	cancel() // must be safe after the channel is gone
}

// ==============================
// Destroy
// ==============================

// TestDestroySemantics covers the terminal state: final flush, rejected
// reads, dropped updates, idempotence, registry re-creation.
func TestDestroySemantics(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, nil)
	s := r.GetOrCreate("acct")

	s.Update("gold", addN(30), false)
	if err := s.Destroy(ctx); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	// the final pass committed the queue
	impl := mustImpl[int](t, s)
	raw, ok, err := impl.cfg.Backend.Get(ctx, "acct:gold")
	if err != nil || !ok {
		t.Fatalf("backend after destroy: ok=%v err=%v", ok, err)
	}
	if string(raw) != "30" {
		t.Fatalf("backend holds %q, want 30", raw)
	}

	if _, err := s.Get(ctx, "gold", 0, false); !errors.Is(err, ErrDestroyed) {
		t.Fatalf("Get after destroy: %v, want ErrDestroyed", err)
	}
	s.Update("gold", addN(1), false) // dropped, no panic

	if err := s.Destroy(ctx); err != nil {
		t.Fatalf("second Destroy: %v", err)
	}

	// the registry hands out a fresh store now
	if again := r.GetOrCreate("acct"); again == s {
		t.Fatalf("destroyed store must not be resurrected by the registry")
	}
}

// seed writes an encoded int directly into a backend.
func seed(t *testing.T, b be.Store, key string, v int) {
	t.Helper()
	raw, err := cd.JSON[int]{}.Encode(v)
	if err != nil {
		t.Fatalf("encode seed: %v", err)
	}
	if _, _, err := b.Update(context.Background(), key, func([]byte, bool) ([]byte, error) {
		return raw, nil
	}); err != nil {
		t.Fatalf("seed backend: %v", err)
	}
}
