package writeback

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Registry hands out one Store per name within this process. It replaces a
// process-global singleton: build it once at startup and inject it.
type Registry[V any] struct {
	cfg Config[V]

	mu     sync.Mutex
	stores map[string]*store[V]
}

// GetOrCreate returns the live Store for name, constructing (and starting)
// one on first use. Idempotent per name: no two Store instances for the
// same name coexist in one process. After a store is destroyed, the next
// call builds a fresh one.
func (r *Registry[V]) GetOrCreate(name string) Store[V] {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[name]; ok {
		return s
	}
	s := newStore(r, name)
	r.stores[name] = s
	return s
}

// FlushAll runs an on-demand flush pass for every live store.
func (r *Registry[V]) FlushAll(ctx context.Context) {
	for _, s := range r.live() {
		s.Flush(ctx)
	}
}

// Shutdown is the process-termination path; wire it to your shutdown hook.
// Stores that are mid-flush get a short randomized cooldown before their
// final pass to avoid racing the in-progress one; the rest flush
// immediately. Best-effort: Shutdown returns when ctx expires even if
// flushes are still draining.
func (r *Registry[V]) Shutdown(ctx context.Context) {
	stores := r.live()
	var wg sync.WaitGroup
	for _, s := range stores {
		wg.Add(1)
		go func(s *store[V]) {
			defer wg.Done()
			if s.midFlush() {
				d := r.cfg.ShutdownDelay + time.Duration(rand.Int63n(int64(time.Second)))
				select {
				case <-time.After(d):
				case <-ctx.Done():
					return
				}
			}
			s.Flush(ctx)
			_ = s.drain(ctx)
		}(s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Close destroys every live store. Returns the first destroy error.
func (r *Registry[V]) Close(ctx context.Context) error {
	var first error
	for _, s := range r.live() {
		if err := s.Destroy(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (r *Registry[V]) live() []*store[V] {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*store[V], 0, len(r.stores))
	for _, s := range r.stores {
		out = append(out, s)
	}
	return out
}

func (r *Registry[V]) remove(name string, s *store[V]) {
	r.mu.Lock()
	if cur, ok := r.stores[name]; ok && cur == s {
		delete(r.stores, name)
	}
	r.mu.Unlock()
}
