// Package chanscheme implements the chan scheme's core: a listen/connect
// rendezvous service with full-duplex byte streams over handles owned
// exclusively by this package's Core.
package chanscheme

import "github.com/redox-os/ipcd/scheme"

// remoteState tags a Client's connection to its peer. Listeners carry no
// remote state at all — their state is the awaiting queue plus registry
// membership.
type remoteState int

const (
	remoteWaiting remoteState = iota
	remoteOpen
	remoteClosed
)

// role distinguishes the two handle shapes. A Handle is exactly one of
// these at any time; role never changes after creation — a sum type with
// pattern matching, not an object hierarchy.
type role int

const (
	roleListener role = iota
	roleClient
)

// Handle is a per-open endpoint. Exactly one of the listener/client field
// groups is meaningful, selected by role.
type Handle struct {
	id    uint64
	flags scheme.OpenFlags
	// originPath is the listener name this handle descends from, used to
	// answer fpath. Only ever set on a client handle returned by
	// dup(listenerID, "listen") — a still-Waiting connecting client
	// carries no origin path until it is accepted. hasOrigin false means
	// "fpath fails bad-file", not "empty path".
	originPath string
	hasOrigin  bool

	role role

	// Listener fields.
	boundName *string // nil: never bound under a name
	awaiting  []uint64

	// Client fields.
	buf    []byte
	remote remoteState
	peer   uint64 // valid only when remote == remoteOpen
}

func newListener(id uint64, flags scheme.OpenFlags) *Handle {
	return &Handle{id: id, flags: flags, role: roleListener}
}

func newClient(id uint64, flags scheme.OpenFlags) *Handle {
	return &Handle{id: id, flags: flags, role: roleClient, remote: remoteWaiting}
}

func (h *Handle) isListener() bool { return h.role == roleListener }
func (h *Handle) isClient() bool   { return h.role == roleClient }

// effectiveNonblock reports whether NONBLOCK applies to a call: effective
// from per-call flags OR'd with the handle's persistent flags.
func (h *Handle) effectiveNonblock(callFlags scheme.OpenFlags) bool {
	return h.flags.Has(scheme.FlagNonblock) || callFlags.Has(scheme.FlagNonblock)
}
