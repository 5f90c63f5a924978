package writeback

import (
	"context"
	"errors"
	"time"

	be "github.com/unkn0wn-root/writeback/backend"
	"github.com/unkn0wn-root/writeback/internal/wire"
)

// flushPass starts one flush attempt per queued key. Keys already in flight
// in this process are skipped, which is what bounds the system to at most
// one remote attempt per key per process.
func (s *store[V]) flushPass(ctx context.Context) {
	s.mu.Lock()
	s.flushing = true
	var keys []string
	for key, q := range s.queue {
		if len(q) == 0 || s.inFlight[key] {
			continue
		}
		s.inFlight[key] = true
		keys = append(keys, key)
	}
	s.mu.Unlock()

	for _, key := range keys {
		key := key
		s.spawn(func() { s.flushKey(ctx, key) })
	}

	s.mu.Lock()
	s.flushing = false
	s.mu.Unlock()
}

// flushKey drives one key through the full pipeline: lease acquisition,
// commit fold, cache/queue reconciliation, async notify, delayed release.
func (s *store[V]) flushKey(ctx context.Context, key string) {
	if !s.acquire(ctx, key) {
		// queue untouched; the key re-enters contention next cycle
		s.mu.Lock()
		delete(s.inFlight, key)
		s.mu.Unlock()
		return
	}

	// Snapshot the chain now; transforms submitted after this point stay
	// queued for the next cycle.
	s.mu.Lock()
	chain := make([]Transform[V], len(s.queue[key]))
	copy(chain, s.queue[key])
	s.mu.Unlock()

	if len(chain) > 0 {
		s.commit(ctx, key, chain)
	}

	// release is scheduled whether or not the commit succeeded; TTL expiry
	// is the fallback if the remove itself fails
	s.spawn(func() { s.releaseLater(key) })
}

// commit performs the atomic read-modify-write: fold every queued transform
// over the backend's current value in submission order, skipping failed and
// cancelled invocations without aborting the chain.
func (s *store[V]) commit(ctx context.Context, key string, chain []Transform[V]) {
	raw, present, err := s.cfg.Backend.Update(ctx, s.backendKey(key), func(cur []byte, exists bool) ([]byte, error) {
		var val V
		ok := exists
		if exists {
			v, derr := s.cfg.Codec.Decode(cur)
			if derr != nil {
				s.log.Warn("backend value decode failed during commit; treating as absent",
					Fields{"store": s.name, "key": key, "err": derr})
				ok = false
			} else {
				val = v
			}
		}

		applied := 0
		for _, t := range chain {
			nv, terr := t(val, ok, true)
			if terr != nil {
				s.hooks.TransformSkipped(s.name, key, true, terr)
				if !errors.Is(terr, Skip) {
					s.log.Debug("remote transform skipped", Fields{"store": s.name, "key": key, "err": terr})
				}
				continue
			}
			val, ok = nv, true
			applied++
		}
		if applied == 0 && !exists {
			// chain exhausted against an absent key: nothing to write
			return nil, be.ErrUnchanged
		}
		return s.cfg.Codec.Encode(val)
	})
	if err != nil {
		s.hooks.CommitError(s.name, key, err)
		s.log.Warn("commit failed; queue retained for next cycle",
			Fields{"store": s.name, "key": key, "err": err})
		return
	}

	// Commit attempt completed (success or exhausted chain): drop exactly
	// the applied prefix so transforms submitted mid-flight survive, and
	// republish the committed value locally.
	var committed entry[V]
	if present {
		if v, derr := s.cfg.Codec.Decode(raw); derr == nil {
			committed = entry[V]{val: v, ok: true}
		}
	}

	s.mu.Lock()
	if q := s.queue[key]; len(chain) < len(q) {
		s.queue[key] = q[len(chain):]
	} else {
		delete(s.queue, key)
	}
	if committed.ok && !s.destroyed {
		s.cache[key] = committed
	}
	s.mu.Unlock()

	if present {
		s.spawn(func() { s.publish(key) })
	}
}

// acquire runs the cross-process lease protocol for one key: poll for a
// holder, claim when free, bounded by the poll budget. Transient lease
// store failures are absorbed and polling continues.
func (s *store[V]) acquire(ctx context.Context, key string) bool {
	lk := s.leaseKey(key)
	for poll := 0; poll < s.cfg.LeasePollBudget; poll++ {
		if poll > 0 {
			select {
			case <-time.After(s.cfg.LeasePollEvery):
			case <-ctx.Done():
				return false
			}
		}

		holder, held, err := s.cfg.Leases.Get(ctx, lk)
		if err != nil {
			s.hooks.LeaseError(s.name, key, "poll", err)
			s.log.Debug("lease poll failed; retrying", Fields{"store": s.name, "key": key, "err": err})
			continue
		}
		if held && holder != s.cfg.ProcessID {
			continue // another process holds the key
		}
		// free (or already ours): claim it. The check-then-set window is
		// tolerated; worst case is false contention resolved by TTL.
		if err := s.cfg.Leases.Set(ctx, lk, s.cfg.ProcessID, s.cfg.LeaseTTL); err != nil {
			s.hooks.LeaseError(s.name, key, "set", err)
			s.log.Debug("lease set failed; retrying", Fields{"store": s.name, "key": key, "err": err})
			continue
		}
		return true
	}

	// no sleep before the first poll, so budget polls wait budget-1 intervals
	waited := time.Duration(s.cfg.LeasePollBudget-1) * s.cfg.LeasePollEvery
	s.hooks.LockTimeout(s.name, key, s.cfg.LeasePollBudget)
	s.log.Warn("lease not acquired within poll budget; flush attempt abandoned",
		Fields{"store": s.name, "key": key, "polls": s.cfg.LeasePollBudget, "waited": waited.String()})
	return false
}

// releaseLater removes the lease after the cooldown and clears the key's
// in-flight marker. Destroy fast-forwards the cooldown via s.stop.
func (s *store[V]) releaseLater(key string) {
	select {
	case <-time.After(s.cfg.ReleaseAfter):
	case <-s.stop:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.cfg.Leases.Remove(ctx, s.leaseKey(key)); err != nil {
		// TTL expiry is the safety net
		s.hooks.LeaseError(s.name, key, "remove", err)
		s.log.Debug("lease remove failed; TTL will expire it", Fields{"store": s.name, "key": key, "err": err})
	}

	s.mu.Lock()
	if s.inFlight != nil {
		delete(s.inFlight, key)
	}
	s.mu.Unlock()
}

// publish sends the commit notification. Best-effort: failures are logged
// and never retried.
func (s *store[V]) publish(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload, err := wire.EncodeNotice(wire.Notice{Origin: s.cfg.ProcessID, Key: key})
	if err != nil {
		s.hooks.PublishError(s.name, key, err)
		return
	}
	if err := s.cfg.Bus.Publish(ctx, s.topic, payload); err != nil {
		s.hooks.PublishError(s.name, key, err)
		s.log.Debug("commit notice publish failed", Fields{"store": s.name, "key": key, "err": err})
	}
}
