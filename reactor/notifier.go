package reactor

import (
	"github.com/redox-os/ipcd/scheme"
	"github.com/redox-os/ipcd/scheme/chanscheme"
	"github.com/redox-os/ipcd/transport"
)

// schemeNotifier adapts a chanscheme.Notifier callback to transport.Event
// writes. Only the chan core posts readiness; the shm core has no notifier.
type schemeNotifier struct {
	conn transport.Conn
}

func newSchemeNotifier(conn transport.Conn) *schemeNotifier {
	return &schemeNotifier{conn: conn}
}

// notify matches the chanscheme.Notifier function signature.
func (n *schemeNotifier) notify(handleID uint64, mask scheme.EventMask) {
	// Best-effort: a failed event write means the transport is already
	// going down: the loop's own NextRequest calls will observe the same
	// failure (as a read error or EOF) and end that scheme's loop.
	_ = n.conn.WriteEvent(transport.Event{HandleID: handleID, Mask: mask})
}

// NewChanCore builds a chanscheme.Core whose readiness events are posted
// back through conn — the wiring chand's daemon setup uses to connect the
// `chan` scheme socket to its core.
func NewChanCore(conn transport.Conn) *chanscheme.Core {
	n := newSchemeNotifier(conn)
	return chanscheme.NewCore(n.notify)
}
