// Package reactor implements the event loop and deferral engine that turns
// the chan/shm cores' nonblocking "would-block" results into apparently
// blocking I/O for clients.
package reactor

import (
	"container/list"

	"github.com/redox-os/ipcd/transport"
)

// slot is one parked call request, together with its cancellation flag.
type slot struct {
	req       transport.Request
	canceling bool
}

// deferredQueue is a per-scheme ordered queue of parked requests. New
// entries are pushed to the front so a just-arrived request is tried
// before older blocked ones, and a full front-to-back sweep retries
// everything after any state change.
type deferredQueue struct {
	l *list.List // of *slot
}

func newDeferredQueue() *deferredQueue {
	return &deferredQueue{l: list.New()}
}

// pushFront parks a freshly-arrived call request.
func (q *deferredQueue) pushFront(req transport.Request) {
	q.l.PushFront(&slot{req: req})
}

// markCanceling finds the parked slot for requestID and sets its canceling
// flag. A request that already completed (and is no longer parked) has
// nothing to mark — its response was already on the wire.
func (q *deferredQueue) markCanceling(requestID uint64) {
	for e := q.l.Front(); e != nil; e = e.Next() {
		s := e.Value.(*slot)
		if s.req.ID == requestID {
			s.canceling = true
			return
		}
	}
}

// sweep walks the queue front-to-back, calling dispatch for each parked
// request. dispatch returns (response, completed): completed true means the
// request finished (normally or via interruption) and onComplete receives
// its response before the slot is removed; completed false leaves the slot
// parked. A pass that completed anything is followed by another pass, so a
// slot ahead of the request whose completion unblocked it is retried within
// the same sweep; the sweep ends after a pass that completes nothing.
func (q *deferredQueue) sweep(
	dispatch func(req transport.Request, canceling bool) (transport.Response, bool),
	onComplete func(transport.Response),
) {
	for progress := true; progress; {
		progress = false

		var next *list.Element
		for e := q.l.Front(); e != nil; e = next {
			next = e.Next()
			s := e.Value.(*slot)

			resp, completed := dispatch(s.req, s.canceling)
			if completed {
				onComplete(resp)
				q.l.Remove(e)
				progress = true
			}
		}
	}
}

// drainAll removes every slot, invoking onRemove for each (used on EOF,
// where every parked request is resolved at once rather than retried).
func (q *deferredQueue) drainAll(onRemove func(req transport.Request, canceling bool)) {
	for e := q.l.Front(); e != nil; {
		s := e.Value.(*slot)
		onRemove(s.req, s.canceling)
		next := e.Next()
		q.l.Remove(e)
		e = next
	}
}

func (q *deferredQueue) empty() bool {
	return q.l.Len() == 0
}
