package writeback

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/unkn0wn-root/writeback/bus"
	"github.com/unkn0wn-root/writeback/internal/wire"
)

// entry is a local cache slot. ok=false is the absence marker: the key was
// looked up and the backend had nothing.
type entry[V any] struct {
	val V
	ok  bool
}

type store[V any] struct {
	name  string
	topic string
	reg   *Registry[V]
	cfg   Config[V]
	log   Logger
	hooks Hooks

	mu        sync.Mutex
	cache     map[string]entry[V]
	queue     map[string][]Transform[V]
	inFlight  map[string]bool // keys with a live flush attempt in this process
	watchers  map[string][]chan V
	flushing  bool // a flush pass is iterating the queue
	destroyed bool

	active int // background tasks in flight (flush attempts, publishes, releases)

	sub      bus.Subscription
	stop     chan struct{}
	loopDone chan struct{}

	destroyOnce sync.Once
	destroyErr  error
}

func newStore[V any](r *Registry[V], name string) *store[V] {
	s := &store[V]{
		name:     name,
		topic:    "writeback:" + name,
		reg:      r,
		cfg:      r.cfg,
		log:      r.cfg.Logger,
		hooks:    r.cfg.Hooks,
		cache:    make(map[string]entry[V]),
		queue:    make(map[string][]Transform[V]),
		inFlight: make(map[string]bool),
		watchers: make(map[string][]chan V),
		stop:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}

	// standing subscription; best-effort. A store without one still
	// coalesces and commits, it just never sees other processes' commits.
	sub, err := s.cfg.Bus.Subscribe(context.Background(), s.topic, s.onNotice)
	if err != nil {
		s.log.Warn("broadcast subscribe failed; remote refresh disabled",
			Fields{"store": name, "topic": s.topic, "err": err})
	} else {
		s.sub = sub
	}

	go s.run()
	return s
}

// spawn runs f as a tracked background task so drain can join it.
func (s *store[V]) spawn(f func()) {
	s.mu.Lock()
	s.active++
	s.mu.Unlock()
	go func() {
		defer func() {
			s.mu.Lock()
			s.active--
			s.mu.Unlock()
		}()
		f()
	}()
}

func (s *store[V]) backendKey(key string) string { return s.name + ":" + key }
func (s *store[V]) leaseKey(key string) string   { return "lease:" + s.name + ":" + key }

func (s *store[V]) Get(ctx context.Context, key string, def V, skipCache bool) (V, error) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return def, ErrDestroyed
	}
	if !skipCache {
		if e, ok := s.cache[key]; ok {
			s.mu.Unlock()
			if !e.ok {
				return def, nil
			}
			return e.val, nil
		}
	}
	s.mu.Unlock()

	raw, present, err := s.cfg.Backend.Get(ctx, s.backendKey(key))
	if err != nil {
		return def, fmt.Errorf("writeback: get %q/%q: %w", s.name, key, err)
	}

	var ent entry[V]
	if present {
		v, derr := s.cfg.Codec.Decode(raw)
		if derr != nil {
			// undecodable backend value: treat as absent, leave it to the
			// next commit to overwrite
			s.log.Warn("backend value decode failed", Fields{"store": s.name, "key": key, "err": derr})
		} else {
			ent = entry[V]{val: v, ok: true}
		}
	}

	s.mu.Lock()
	if !s.destroyed {
		s.cache[key] = ent
	}
	s.mu.Unlock()

	if !ent.ok {
		return def, nil
	}
	return ent.val, nil
}

func (s *store[V]) Update(key string, t Transform[V], fireLocal bool) {
	if t == nil {
		return
	}
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		s.log.Debug("update on destroyed store dropped", Fields{"store": s.name, "key": key})
		return
	}
	s.queue[key] = append(s.queue[key], t)

	// optimistic local apply
	e := s.cache[key]
	nv, err := t(e.val, e.ok, false)
	if err != nil {
		s.mu.Unlock()
		s.hooks.TransformSkipped(s.name, key, false, err)
		s.log.Debug("local transform skipped", Fields{"store": s.name, "key": key, "err": err})
		return
	}
	s.cache[key] = entry[V]{val: nv, ok: true}
	if fireLocal {
		s.fanoutLocked(key, nv)
	}
	s.mu.Unlock()
}

func (s *store[V]) Watch(key string) (<-chan V, func()) {
	ch := make(chan V, watchBuffer)
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.watchers[key] = append(s.watchers[key], ch)
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			if s.removeWatcherLocked(key, ch) {
				s.mu.Unlock()
				close(ch)
				return
			}
			// Destroy already closed it
			s.mu.Unlock()
		})
	}
	return ch, cancel
}

// fanoutLocked delivers v to key's watchers. Caller holds s.mu; sends are
// non-blocking so a stalled subscriber cannot wedge the store.
func (s *store[V]) fanoutLocked(key string, v V) {
	for _, ch := range s.watchers[key] {
		select {
		case ch <- v:
		default:
			s.hooks.WatchDropped(s.name, key)
		}
	}
}

func (s *store[V]) removeWatcherLocked(key string, ch chan V) bool {
	subs := s.watchers[key]
	for i, c := range subs {
		if c == ch {
			s.watchers[key] = append(subs[:i], subs[i+1:]...)
			if len(s.watchers[key]) == 0 {
				delete(s.watchers, key)
			}
			return true
		}
	}
	return false
}

// onNotice handles one inbound commit notification from the bus.
func (s *store[V]) onNotice(payload []byte) {
	n, err := wire.DecodeNotice(payload)
	if err != nil {
		s.hooks.NoticeDropped(s.name, "decode")
		s.log.Debug("malformed notice dropped", Fields{"store": s.name, "err": err})
		return
	}
	if n.Origin == s.cfg.ProcessID {
		// self-echo
		return
	}

	var zero V
	v, err := s.Get(context.Background(), n.Key, zero, true)
	if err != nil {
		s.hooks.NoticeDropped(s.name, "refresh")
		s.log.Debug("refresh after notice failed", Fields{"store": s.name, "key": n.Key, "err": err})
		return
	}

	s.mu.Lock()
	if !s.destroyed {
		s.fanoutLocked(n.Key, v)
	}
	s.mu.Unlock()
}

// run is the periodic flush loop. One per store, lives until Destroy.
func (s *store[V]) run() {
	defer close(s.loopDone)
	for {
		d := s.cfg.FlushEvery + time.Duration(rand.Int63n(int64(s.cfg.FlushJitter)+1))
		select {
		case <-time.After(d):
			s.flushPass(context.Background())
		case <-s.stop:
			return
		}
	}
}

func (s *store[V]) Flush(ctx context.Context) {
	s.flushPass(ctx)
}

func (s *store[V]) midFlush() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushing
}

// drain waits for background tasks (flush attempts, delayed releases,
// pending publishes), bounded by ctx.
func (s *store[V]) drain(ctx context.Context) error {
	for {
		s.mu.Lock()
		n := s.active
		s.mu.Unlock()
		if n == 0 {
			return nil
		}
		select {
		case <-time.After(time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *store[V]) Destroy(ctx context.Context) error {
	s.destroyOnce.Do(func() {
		s.reg.remove(s.name, s)

		s.mu.Lock()
		s.destroyed = true
		s.mu.Unlock()
		close(s.stop) // stops the periodic loop, fast-forwards delayed releases
		<-s.loopDone

		// final pass over whatever is still queued
		s.flushPass(ctx)
		drainErr := s.drain(ctx)

		var subErr error
		if s.sub != nil {
			subErr = s.sub.Close()
		}

		s.mu.Lock()
		for key, subs := range s.watchers {
			for _, ch := range subs {
				close(ch)
			}
			delete(s.watchers, key)
		}
		s.cache = nil
		s.queue = nil
		s.inFlight = nil
		s.mu.Unlock()

		if drainErr != nil || subErr != nil {
			s.destroyErr = &DestroyError{Name: s.name, DrainErr: drainErr, SubErr: subErr}
		}
	})
	return s.destroyErr
}
