package writeback

import (
	"errors"
	"fmt"
)

// Skip is the cancellation sentinel for transforms. A transform returning
// Skip (or any other error) makes that single invocation a no-op: local and
// remote state are left unchanged and the rest of the chain still runs.
var Skip = errors.New("writeback: transform cancelled")

// ErrDestroyed is returned by operations on a store after Destroy.
var ErrDestroyed = errors.New("writeback: store destroyed")

// DestroyError reports partial failures during Store.Destroy. The store is
// unusable afterwards regardless; callers typically only log this.
type DestroyError struct {
	Name     string
	DrainErr error // background tasks not drained before the deadline
	SubErr   error // broadcast subscription close failed
}

func (e *DestroyError) Error() string {
	switch {
	case e.DrainErr != nil && e.SubErr != nil:
		return fmt.Sprintf("destroy %q: drain and subscription close failed: drain=%v; sub=%v",
			e.Name, e.DrainErr, e.SubErr)
	case e.DrainErr != nil:
		return fmt.Sprintf("destroy %q: drain failed: %v", e.Name, e.DrainErr)
	case e.SubErr != nil:
		return fmt.Sprintf("destroy %q: subscription close failed: %v", e.Name, e.SubErr)
	default:
		return fmt.Sprintf("destroy %q: unknown error", e.Name)
	}
}

func (e *DestroyError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.DrainErr != nil {
		errs = append(errs, e.DrainErr)
	}
	if e.SubErr != nil {
		errs = append(errs, e.SubErr)
	}
	return errs
}
