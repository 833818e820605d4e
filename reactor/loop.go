package reactor

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/redox-os/ipcd/scheme"
	"github.com/redox-os/ipcd/scheme/chanscheme"
	"github.com/redox-os/ipcd/scheme/shmscheme"
	"github.com/redox-os/ipcd/transport"
)

// schemeLoop drives one scheme's transport.Conn against one core,
// implementing the drain-then-sweep deferral algorithm.
type schemeLoop struct {
	name    string
	conn    transport.Conn
	core    core
	queue   *deferredQueue
	unmount bool

	// snapshots carries read-only introspection requests from the
	// diagnostics HTTP server and the stats ticker: a buffered channel of
	// closures this loop's own goroutine drains at the top of every
	// iteration, so a core is never read from any goroutine but the one
	// that owns it.
	snapshots chan func()
}

func newSchemeLoop(name string, conn transport.Conn, c core) *schemeLoop {
	return &schemeLoop{name: name, conn: conn, core: c, queue: newDeferredQueue(), snapshots: make(chan func(), 8)}
}

// drainSnapshots runs every pending introspection closure before the loop
// touches the transport or the deferred queue.
func (l *schemeLoop) drainSnapshots() {
	for {
		select {
		case fn := <-l.snapshots:
			fn()
		default:
			return
		}
	}
}

// runOnce drains every immediately-available request, routes cancellations,
// then sweeps the deferred queue front-to-back. It
// returns false once the scheme has unmounted and fully drained.
func (l *schemeLoop) runOnce() (bool, error) {
	l.drainSnapshots()

	for {
		req, err := l.conn.NextRequest()
		if errors.Is(err, transport.ErrWouldBlock) {
			break
		}
		if err != nil {
			return false, fmt.Errorf("%s: next request: %w", l.name, err)
		}

		switch req.Kind {
		case transport.KindCall:
			l.queue.pushFront(req)
		case transport.KindCancel:
			l.queue.markCanceling(req.CancelID)
		case transport.KindEOF:
			l.unmount = true
		}

		if l.unmount {
			break
		}
	}

	if l.unmount {
		l.queue.drainAll(func(req transport.Request, canceling bool) {
			kind := scheme.ErrNoSuchDevice
			if canceling {
				kind = scheme.ErrInterrupted
			}

			_ = l.conn.WriteResponse(transport.Response{ID: req.ID, HasErr: true, ErrKind: kind})
		})

		return !l.queue.empty(), nil
	}

	l.queue.sweep(
		func(req transport.Request, canceling bool) (transport.Response, bool) {
			resp, err := l.core.dispatch(req)
			if errors.Is(err, scheme.WouldBlock) {
				if canceling {
					return transport.Response{ID: req.ID, HasErr: true, ErrKind: scheme.ErrInterrupted}, true
				}
				return transport.Response{}, false
			}

			return resp, true
		},
		func(resp transport.Response) {
			_ = l.conn.WriteResponse(resp)
		},
	)

	return true, nil
}

// Run drives the loop until the scheme unmounts and every parked request
// has been resolved — here scoped to this one scheme; Loop below joins both.
func (l *schemeLoop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		more, err := l.runOnce()
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

// Loop owns both scheme loops and runs them concurrently with
// golang.org/x/sync/errgroup, the same coordination pattern lxd uses for
// independent long-running operations (e.g. storage migration's paired
// sender/receiver goroutines).
type Loop struct {
	chanLoop *schemeLoop
	shmLoop  *schemeLoop
	chanCore *chanCoreAdapter
	shmCore  *shmCoreAdapter
}

// NewLoop builds a Loop driving chanConn against chanscheme.Core (wrapped
// in chanCoreAdapter) and shmConn against shmscheme.Core (wrapped in
// shmCoreAdapter).
func NewLoop(chanConn, shmConn transport.Conn, chanCore *chanCoreAdapter, shmCore *shmCoreAdapter) *Loop {
	return &Loop{
		chanLoop: newSchemeLoop("chan", chanConn, chanCore),
		shmLoop:  newSchemeLoop("shm", shmConn, shmCore),
		chanCore: chanCore,
		shmCore:  shmCore,
	}
}

// ChanSnapshot and ShmSnapshot round-trip a read-only state snapshot through
// each scheme's own goroutine, used by the
// diagnostics HTTP server and the stats ticker. They never touch core state
// directly.
func (lp *Loop) ChanSnapshot(ctx context.Context) (chanscheme.Snapshot, error) {
	return requestSnapshot(ctx, lp.chanLoop, lp.chanCore.c.Snapshot)
}

func (lp *Loop) ShmSnapshot(ctx context.Context) (shmscheme.Snapshot, error) {
	return requestSnapshot(ctx, lp.shmLoop, lp.shmCore.c.Snapshot)
}

// NewChanCoreAdapter and NewShmCoreAdapter let callers outside this package
// (chand's daemon wiring) build the adapters NewLoop expects, while keeping
// the adapter types themselves unexported implementation detail.
func NewChanCoreAdapter(c *chanscheme.Core) *chanCoreAdapter { return &chanCoreAdapter{c: c} }
func NewShmCoreAdapter(c *shmscheme.Core) *shmCoreAdapter    { return &shmCoreAdapter{c: c} }

// Run blocks until both schemes unmount or ctx is cancelled.
func (lp *Loop) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return lp.chanLoop.Run(ctx) })
	g.Go(func() error { return lp.shmLoop.Run(ctx) })

	return g.Wait()
}
