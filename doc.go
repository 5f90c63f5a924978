// Package writeback implements a write-coalescing cache in front of a slow,
// rate-limited key-value backend, coordinated across processes through a
// TTL-lease store and a best-effort broadcast channel.
//
// Many processes share logical keys. Each process reads and mutates values
// locally (cheap, immediate), while the backend sees one coalesced write per
// key per flush cycle, committed under an exclusive per-key lease so two
// processes never write the same key concurrently.
//
// Components:
//   - backend.Store: the durable, expensive key-value store (e.g. Redis).
//   - lease.Store: fast shared store holding short-TTL exclusivity leases.
//   - bus.Bus: publish/subscribe transport for commit notifications.
//   - codec.Codec[V]: (de)serializes V <-> []byte at the backend boundary.
//
// Mutations are Transform functions. Update applies the transform to the
// local cache immediately (read-your-writes within the process) and queues
// it; a periodic or on-demand flush acquires the key's lease, folds every
// queued transform over the backend's current value in submission order,
// and commits the result once. Other processes learn about the commit via
// the bus and refresh their caches.
//
// Consistency horizons, weakest to strongest: local (immediate, this
// process only), committed (after a flush), replicated (after notification
// delivery, unordered and possibly dropped). Reads are not linearizable:
// a local cache may trail the backend by up to one flush interval plus
// notification latency.
//
// The lease store is the only cross-process synchronization primitive;
// lease TTL expiry is the safety net when a holder dies without releasing.
package writeback
