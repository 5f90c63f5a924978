package lease

import (
	"context"
	"sync"
	"time"
)

type localEntry struct {
	holder string
	expiry time.Time
}

// Local is an in-process Store for tests and single-process deployments.
// Expired entries are dropped lazily on read and overwritten on Set.
type Local struct {
	mu sync.Mutex
	m  map[string]localEntry
}

var _ Store = (*Local)(nil)

func NewLocal() *Local {
	return &Local{m: make(map[string]localEntry)}
}

func (s *Local) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[key]
	if !ok {
		return "", false, nil
	}
	if time.Now().After(e.expiry) {
		delete(s.m, key)
		return "", false, nil
	}
	return e.holder, true, nil
}

func (s *Local) Set(_ context.Context, key, holder string, ttl time.Duration) error {
	s.mu.Lock()
	s.m[key] = localEntry{holder: holder, expiry: time.Now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

func (s *Local) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
	return nil
}

func (s *Local) Close(context.Context) error { return nil }
