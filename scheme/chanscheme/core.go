package chanscheme

import (
	"unicode/utf8"

	"github.com/redox-os/ipcd/scheme"
)

// Notifier posts edge-triggered readiness for a handle back through the
// scheme socket. The core calls it only on specific state transitions (a
// listener gaining its first waiter, a client gaining buffered data, a peer
// connecting, or a peer closing); it never polls.
type Notifier func(handleID uint64, mask scheme.EventMask)

// Core owns the handle table and registry exclusively. It is not safe for
// concurrent use: the event loop that drives it is the only permitted
// caller, from a single goroutine.
type Core struct {
	handles  map[uint64]*Handle
	registry map[string]uint64
	nextID   uint64
	notify   Notifier
}

// NewCore builds an empty channel core. notify may be nil in tests that
// don't care about readiness events.
func NewCore(notify Notifier) *Core {
	if notify == nil {
		notify = func(uint64, scheme.EventMask) {}
	}

	return &Core{
		handles:  make(map[uint64]*Handle),
		registry: make(map[string]uint64),
		notify:   notify,
	}
}

func (c *Core) allocID() uint64 {
	c.nextID++
	return c.nextID
}

// Open implements open(path, flags, uid, gid). uid/gid are
// accepted for contract fidelity with the kernel's generic open request but
// are not consulted: chand performs no ACL checks of its own (see
// DESIGN.md).
func (c *Core) Open(path string, flags scheme.OpenFlags, uid, gid uint32) (uint64, error) {
	if !utf8.ValidString(path) {
		return 0, scheme.NewError(scheme.ErrPermission, "path is not valid UTF-8")
	}

	existingID, bound := c.registry[path]

	if flags.Has(scheme.FlagCreate) && !bound {
		// path == "" is never bound (empty names are never inserted into
		// the registry below), so this also covers "unnamed listener":
		// a second open("chan:") always allocates a fresh one rather than
		// rejoining an earlier unnamed listener.
		id := c.allocID()
		h := newListener(id, flags)
		if path != "" {
			name := path
			h.boundName = &name
			c.registry[path] = id
		}

		c.handles[id] = h
		return id, nil
	}

	if flags.Has(scheme.FlagCreate) && flags.Has(scheme.FlagExclusive) && bound {
		return 0, scheme.NewError(scheme.ErrAlreadyExists, "listener already bound: "+path)
	}

	if !bound {
		return 0, scheme.NewError(scheme.ErrNotFound, "no listener bound to: "+path)
	}

	listener, ok := c.handles[existingID]
	if !ok || !listener.isListener() {
		return 0, scheme.NewError(scheme.ErrNotFound, "no listener bound to: "+path)
	}

	id := c.allocID()
	client := newClient(id, flags)
	// The connecting side's own handle carries no origin path until (and
	// unless) it is accepted — origin path is stamped only on the handle
	// dup(peerID, "listen") returns, never by open() itself; only the
	// accept path assigns it from the listener's bound name.
	c.handles[id] = client

	wasEmpty := len(listener.awaiting) == 0
	listener.awaiting = append(listener.awaiting, id)
	if wasEmpty {
		c.notify(listener.id, scheme.EventReadable|scheme.EventWritable)
	}

	return id, nil
}

// Dup implements dup(id, sub). There is no separate per-call
// flags word on dup requests (unlike read/write) — NONBLOCK behavior comes
// entirely from the handle's own persistent flags. Returns scheme.WouldBlock
// when "listen" finds no pending waiter and the listener is blocking.
func (c *Core) Dup(id uint64, sub string) (uint64, error) {
	h, ok := c.handles[id]
	if !ok {
		return 0, scheme.NewError(scheme.ErrBadFile, "no such handle")
	}

	switch sub {
	case "listen":
		return c.dupListen(h)
	case "connect":
		return c.dupConnect(h)
	case "":
		return 0, scheme.NewError(scheme.ErrBadFile, "empty dup sub-path")
	default:
		return c.dupLateBind(h, sub)
	}
}

func (c *Core) dupListen(h *Handle) (uint64, error) {
	if !h.isListener() {
		return 0, scheme.NewError(scheme.ErrBadFile, "dup \"listen\" requires a listener")
	}

	sawStale := false

	for len(h.awaiting) > 0 {
		peerID := h.awaiting[0]
		h.awaiting = h.awaiting[1:]

		peer, ok := c.handles[peerID]
		if !ok {
			// Stale waiter: peer closed before accept. Skip and retry
			// the pop, but remember it happened: if the queue empties out
			// entirely because every waiter was stale, the caller sees
			// connection-reset rather than would-block/again, not a
			// silent empty-queue result.
			sawStale = true
			continue
		}

		id := c.allocID()
		accepted := newClient(id, h.flags)
		accepted.remote = remoteOpen
		accepted.peer = peerID
		if h.boundName != nil {
			accepted.originPath = *h.boundName
			accepted.hasOrigin = true
		}

		c.handles[id] = accepted

		peer.remote = remoteOpen
		peer.peer = id
		c.notify(peer.id, scheme.EventWritable)

		return id, nil
	}

	if sawStale {
		return 0, scheme.NewError(scheme.ErrConnectionReset, "queued peer disappeared before accept")
	}

	if h.effectiveNonblock(0) {
		return 0, scheme.NewError(scheme.ErrAgain, "no pending connection")
	}

	return 0, scheme.WouldBlock
}

func (c *Core) dupConnect(h *Handle) (uint64, error) {
	if !h.isListener() {
		return 0, scheme.NewError(scheme.ErrBadFile, "dup \"connect\" requires a listener")
	}

	id := c.allocID()
	client := newClient(id, 0)
	// Same rule as Open: the connecting side gets an origin path only once
	// accepted via dup(listenerID, "listen").
	c.handles[id] = client

	wasEmpty := len(h.awaiting) == 0
	h.awaiting = append(h.awaiting, id)
	if wasEmpty {
		c.notify(h.id, scheme.EventReadable|scheme.EventWritable)
	}

	return id, nil
}

// dupLateBind names a handle post hoc by re-running the open sequence for
// name with h's stored flags passed unchanged rather than forcing CREATE,
// and returns the handle that open produces; h itself is not modified. A
// handle whose own flags lack CREATE will therefore only succeed here if a
// listener already exists under that name.
func (c *Core) dupLateBind(h *Handle, name string) (uint64, error) {
	alreadyBound := h.hasOrigin || h.boundName != nil
	if alreadyBound || name == "" {
		return 0, scheme.NewError(scheme.ErrBadFile, "handle already bound or empty name")
	}

	return c.Open(name, h.flags, 0, 0)
}

// Read implements read(id, buf, flags).
func (c *Core) Read(id uint64, buf []byte, flags scheme.OpenFlags) (int, error) {
	h, ok := c.handles[id]
	if !ok || !h.isClient() {
		return 0, scheme.NewError(scheme.ErrBadFile, "read requires a client handle")
	}

	if len(h.buf) > 0 {
		n := len(buf)
		if len(h.buf) < n {
			n = len(h.buf)
		}

		copy(buf, h.buf[:n])
		h.buf = h.buf[n:]
		return n, nil
	}

	if h.remote == remoteClosed {
		return 0, nil
	}

	if h.effectiveNonblock(flags) {
		return 0, scheme.NewError(scheme.ErrAgain, "no data available")
	}

	return 0, scheme.WouldBlock
}

// Write implements write(id, buf, flags). Writes are never
// short: a successful write always reports len(buf).
func (c *Core) Write(id uint64, buf []byte, flags scheme.OpenFlags) (int, error) {
	h, ok := c.handles[id]
	if !ok || !h.isClient() {
		return 0, scheme.NewError(scheme.ErrBadFile, "write requires a client handle")
	}

	switch h.remote {
	case remoteOpen:
		peer, ok := c.handles[h.peer]
		if !ok || !peer.isClient() {
			return 0, scheme.NewError(scheme.ErrBrokenPipe, "peer no longer exists")
		}

		wasEmpty := len(peer.buf) == 0
		peer.buf = append(peer.buf, buf...)
		if wasEmpty && len(buf) > 0 {
			c.notify(peer.id, scheme.EventReadable)
		}

		return len(buf), nil
	case remoteClosed:
		return 0, scheme.NewError(scheme.ErrBrokenPipe, "peer closed")
	default: // remoteWaiting
		if h.effectiveNonblock(flags) {
			return 0, scheme.NewError(scheme.ErrAgain, "peer not yet connected")
		}

		return 0, scheme.WouldBlock
	}
}

// Close implements close(id).
func (c *Core) Close(id uint64) error {
	h, ok := c.handles[id]
	if !ok {
		return scheme.NewError(scheme.ErrBadFile, "no such handle")
	}

	delete(c.handles, id)

	if h.isClient() && h.remote == remoteOpen {
		if peer, ok := c.handles[h.peer]; ok && peer.isClient() {
			peer.remote = remoteClosed
			if len(peer.buf) == 0 {
				c.notify(peer.id, scheme.EventReadable)
			}
		}
	}

	if h.isListener() && h.boundName != nil {
		delete(c.registry, *h.boundName)
	}

	return nil
}

// Fcntl implements fcntl(id, cmd, arg).
func (c *Core) Fcntl(id uint64, cmd scheme.FcntlCmd, arg uint32) (uint32, error) {
	h, ok := c.handles[id]
	if !ok {
		return 0, scheme.NewError(scheme.ErrBadFile, "no such handle")
	}

	switch cmd {
	case scheme.FcntlGetFL:
		return uint32(h.flags), nil
	case scheme.FcntlSetFL:
		h.flags = scheme.OpenFlags(arg)
		return 0, nil
	default:
		return 0, scheme.NewError(scheme.ErrInvalidArgument, "unknown fcntl command")
	}
}

// Fevent implements fevent(id, requested_mask). It derives
// readiness without side effects and masks the result with requestedMask;
// the kernel's own filtering against the same mask is unaffected by this.
func (c *Core) Fevent(id uint64, requestedMask scheme.EventMask) (scheme.EventMask, error) {
	h, ok := c.handles[id]
	if !ok {
		return 0, scheme.NewError(scheme.ErrBadFile, "no such handle")
	}

	var mask scheme.EventMask

	if h.isClient() {
		if h.remote == remoteOpen {
			mask |= scheme.EventWritable
		}

		if len(h.buf) > 0 || h.remote == remoteClosed {
			mask |= scheme.EventReadable
		}
	} else if len(h.awaiting) > 0 {
		mask |= scheme.EventReadable | scheme.EventWritable
	}

	return mask & requestedMask, nil
}

// Fpath implements fpath(id, buf): writes "chan:" + origin
// path, truncated to fit, and returns the number of bytes written (the
// truncated length).
func (c *Core) Fpath(id uint64, buf []byte) (int, error) {
	h, ok := c.handles[id]
	if !ok {
		return 0, scheme.NewError(scheme.ErrBadFile, "no such handle")
	}

	if !h.hasOrigin {
		return 0, scheme.NewError(scheme.ErrBadFile, "handle has no origin path")
	}

	full := "chan:" + h.originPath
	n := copy(buf, full)
	return n, nil
}

// Fsync implements fsync(id): always succeeds if the handle exists.
func (c *Core) Fsync(id uint64) error {
	if _, ok := c.handles[id]; !ok {
		return scheme.NewError(scheme.ErrBadFile, "no such handle")
	}

	return nil
}

// Snapshot is a read-only view of core state for the diagnostics HTTP
// surface and the stats ticker. It is built from
// the same goroutine that owns handles/registry, never by a remote reader
// reaching into Core directly.
type Snapshot struct {
	Listeners     int
	Clients       int
	RegistrySize  int
	TotalAwaiting int
	TotalBuffered int
}

// Snapshot produces a Snapshot of current core state.
func (c *Core) Snapshot() Snapshot {
	var s Snapshot
	s.RegistrySize = len(c.registry)

	for _, h := range c.handles {
		if h.isListener() {
			s.Listeners++
			s.TotalAwaiting += len(h.awaiting)
		} else {
			s.Clients++
			s.TotalBuffered += len(h.buf)
		}
	}

	return s
}
