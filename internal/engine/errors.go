package engine

import "github.com/pkg/errors"

// Sentinel errors form the closed set of error kinds the engine can return.
// Callers compare against these with errors.Is; the underlying OS error, if
// any, remains reachable through the wrapped chain.
var (
	// ErrNotOpen is returned by any data operation attempted before Open()
	// or after Close().
	ErrNotOpen = errors.New("engine: not open")

	// ErrIO wraps any filesystem operation failure (open, write, sync,
	// rename, remove, list, read).
	ErrIO = errors.New("engine: io error")

	// ErrCorruption indicates an SST line that parses but violates sort
	// order, or a referenced SST file that disappeared mid-compaction; both
	// are detected while compaction reads the segments.
	// Malformed-but-skippable lines are not corruption.
	ErrCorruption = errors.New("engine: corruption detected")
)

// wrapIO annotates err with ErrIO so callers can errors.Is(err, ErrIO) while
// still being able to reach the original *os.PathError via errors.As or
// errors.Unwrap. errors.Cause stops at the sentinel wrapper, which has no
// Cause method.
func wrapIO(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(joinSentinel(ErrIO, err), msg)
}

// joinSentinel lets a wrapped error satisfy errors.Is against both the
// sentinel and the original cause without pulling in a second error tree.
func joinSentinel(sentinel, cause error) error {
	return &sentinelError{sentinel: sentinel, cause: cause}
}

type sentinelError struct {
	sentinel error
	cause    error
}

func (e *sentinelError) Error() string { return e.cause.Error() }
func (e *sentinelError) Unwrap() error { return e.cause }
func (e *sentinelError) Is(target error) bool {
	return target == e.sentinel
}
