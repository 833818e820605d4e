package reactor

import (
	"context"
	"errors"
)

// ErrSnapshotTimeout is returned when a core's own goroutine doesn't drain a
// snapshot request before ctx expires, so the stats ticker can log "snapshot
// timed out" rather than block if the reactor is wedged.
var ErrSnapshotTimeout = errors.New("reactor: snapshot request timed out")

// requestSnapshot posts a closure onto l's snapshot channel and waits for it
// to run. get is called from l's own goroutine, inside drainSnapshots, never
// from the caller's goroutine — a channel round-trip in place of locking the
// core's maps.
func requestSnapshot[T any](ctx context.Context, l *schemeLoop, get func() T) (T, error) {
	result := make(chan T, 1)
	fn := func() { result <- get() }

	select {
	case l.snapshots <- fn:
	case <-ctx.Done():
		var zero T
		return zero, ErrSnapshotTimeout
	}

	select {
	case v := <-result:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ErrSnapshotTimeout
	}
}
