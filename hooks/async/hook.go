// Package asynchook decouples hook sinks from the store's hot paths: events
// are queued to a small worker pool and dropped when the queue is full.
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/writeback"
)

type Hooks struct {
	inner writeback.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ writeback.Hooks = (*Hooks)(nil)

func New(inner writeback.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) TransformSkipped(store, key string, remote bool, err error) {
	h.try(func() { h.inner.TransformSkipped(store, key, remote, err) })
}

func (h *Hooks) LockTimeout(store, key string, polls int) {
	h.try(func() { h.inner.LockTimeout(store, key, polls) })
}

func (h *Hooks) LeaseError(store, key, op string, err error) {
	h.try(func() { h.inner.LeaseError(store, key, op, err) })
}

func (h *Hooks) CommitError(store, key string, err error) {
	h.try(func() { h.inner.CommitError(store, key, err) })
}

func (h *Hooks) PublishError(store, key string, err error) {
	h.try(func() { h.inner.PublishError(store, key, err) })
}

func (h *Hooks) NoticeDropped(store, reason string) {
	h.try(func() { h.inner.NoticeDropped(store, reason) })
}

func (h *Hooks) WatchDropped(store, key string) {
	h.try(func() { h.inner.WatchDropped(store, key) })
}
