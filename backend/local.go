package backend

import (
	"context"
	"errors"
	"sync"
)

// Local is an in-process Store for tests and single-process deployments.
// Update holds the map lock for the duration of fn, which makes the
// read-modify-write trivially atomic.
type Local struct {
	mu sync.Mutex
	m  map[string][]byte
}

var _ Store = (*Local)(nil)

func NewLocal() *Local {
	return &Local{m: make(map[string][]byte)}
}

func (b *Local) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.m[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (b *Local) Update(_ context.Context, key string, fn UpdateFunc) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, exists := b.m[key]

	next, err := fn(cur, exists)
	if errors.Is(err, ErrUnchanged) {
		return cur, exists, nil
	}
	if err != nil {
		return nil, false, err
	}

	cp := make([]byte, len(next))
	copy(cp, next)
	b.m[key] = cp
	return next, true, nil
}

func (b *Local) Close(context.Context) error { return nil }
