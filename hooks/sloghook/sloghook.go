// Package sloghook logs writeback hook events through log/slog, with
// sampling for the two events that can flood under pathological load.
package sloghook

import (
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/writeback"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	TransformSkipEvery uint64
	WatchDropEvery     uint64
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	transformCtr atomic.Uint64
	watchDropCtr atomic.Uint64
}

var _ writeback.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) TransformSkipped(store, key string, remote bool, err error) {
	if h.l == nil || !sample(h.opts.TransformSkipEvery, &h.transformCtr) {
		return
	}
	h.l.Debug("writeback.transform_skipped",
		"store", store,
		"key", key,
		"remote", remote,
		"err", err)
}

func (h *Hooks) LockTimeout(store, key string, polls int) {
	if h.l == nil {
		return
	}
	h.l.Warn("writeback.lock_timeout",
		"store", store,
		"key", key,
		"polls", polls)
}

func (h *Hooks) LeaseError(store, key, op string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("writeback.lease_error",
		"store", store,
		"key", key,
		"op", op,
		"err", err)
}

func (h *Hooks) CommitError(store, key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("writeback.commit_error",
		"store", store,
		"key", key,
		"err", err)
}

func (h *Hooks) PublishError(store, key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Info("writeback.publish_error",
		"store", store,
		"key", key,
		"err", err)
}

func (h *Hooks) NoticeDropped(store, reason string) {
	if h.l == nil {
		return
	}
	h.l.Debug("writeback.notice_dropped",
		"store", store,
		"reason", reason)
}

func (h *Hooks) WatchDropped(store, key string) {
	if h.l == nil || !sample(h.opts.WatchDropEvery, &h.watchDropCtr) {
		return
	}
	h.l.Debug("writeback.watch_dropped",
		"store", store,
		"key", key)
}
