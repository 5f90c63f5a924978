package bus

import (
	"context"
	"sync"
)

// Local is an in-process Bus for tests and single-process deployments.
// Handlers run synchronously on the publisher's goroutine; a handler that
// panics or blocks affects the publisher, so keep handlers cheap.
type Local struct {
	mu     sync.Mutex
	topics map[string][]*localSub
	closed bool
}

var _ Bus = (*Local)(nil)

func NewLocal() *Local {
	return &Local{topics: make(map[string][]*localSub)}
}

func (b *Local) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	subs := make([]*localSub, len(b.topics[topic]))
	copy(subs, b.topics[topic])
	b.mu.Unlock()

	for _, s := range subs {
		s.h(payload)
	}
	return nil
}

func (b *Local) Subscribe(_ context.Context, topic string, h Handler) (Subscription, error) {
	s := &localSub{bus: b, topic: topic, h: h}
	b.mu.Lock()
	if !b.closed {
		b.topics[topic] = append(b.topics[topic], s)
	}
	b.mu.Unlock()
	return s, nil
}

func (b *Local) Close(context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.topics = make(map[string][]*localSub)
	b.mu.Unlock()
	return nil
}

type localSub struct {
	bus   *Local
	topic string
	h     Handler
	once  sync.Once
}

func (s *localSub) Close() error {
	s.once.Do(func() {
		b := s.bus
		b.mu.Lock()
		subs := b.topics[s.topic]
		for i, cur := range subs {
			if cur == s {
				b.topics[s.topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(b.topics[s.topic]) == 0 {
			delete(b.topics, s.topic)
		}
		b.mu.Unlock()
	})
	return nil
}
