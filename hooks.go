package writeback

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; the store calls them from
// flush goroutines and from the Update hot path. Wrap with hooks/async if
// your sink can block.
type Hooks interface {
	// A transform raised an error or returned Skip and was dropped from
	// that invocation. remote=true means it happened inside a commit fold.
	TransformSkipped(store, key string, remote bool, err error)

	// Lease acquisition exhausted its poll budget; the key's queue is
	// retained for the next flush cycle.
	LockTimeout(store, key string, polls int)

	// A lease store call failed. op is one of "poll", "set", "remove".
	LeaseError(store, key, op string, err error)

	// The backend commit for a key's flush failed; queue retained.
	CommitError(store, key string, err error)

	// A commit notification could not be published (best-effort path).
	PublishError(store, key string, err error)

	// An inbound notification was dropped.
	// reason is one of "decode", "refresh".
	NoticeDropped(store, reason string)

	// A watcher channel was full; one value was not delivered.
	WatchDropped(store, key string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) TransformSkipped(string, string, bool, error) {}
func (NopHooks) LockTimeout(string, string, int)              {}
func (NopHooks) LeaseError(string, string, string, error)     {}
func (NopHooks) CommitError(string, string, error)            {}
func (NopHooks) PublishError(string, string, error)           {}
func (NopHooks) NoticeDropped(string, string)                 {}
func (NopHooks) WatchDropped(string, string)                  {}
