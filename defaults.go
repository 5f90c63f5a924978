package writeback

import "time"

const (
	defaultLeaseTTL        = 15 * time.Second
	defaultLeasePollEvery  = 100 * time.Millisecond
	defaultLeasePollBudget = 40
	defaultReleaseAfter    = 6 * time.Second
	defaultFlushEvery      = 10 * time.Second
	defaultFlushJitter     = 5 * time.Second
	defaultShutdownDelay   = 7 * time.Second

	// watcher channels drop rather than block the store
	watchBuffer = 8
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
