// Package scheme holds the wire-level vocabulary shared by the chan and shm
// cores: error kinds, readiness masks and open/fcntl flag bits. Neither core
// imports the other; both import this package.
package scheme

import "fmt"

// ErrKind is a closed set of wire error values a core operation can report
// back through the scheme socket. It is distinct from ordinary Go error
// wrapping: a CoreError always carries exactly one ErrKind, and callers that
// only care about the wire protocol can switch on Kind without unwrapping.
type ErrKind int

const (
	// ErrPermission is returned when a path is not valid UTF-8.
	ErrPermission ErrKind = iota
	// ErrNotFound is returned when open without CREATE misses the registry.
	ErrNotFound
	// ErrAlreadyExists is returned for CREATE|EXCLUSIVE over an existing name.
	ErrAlreadyExists
	// ErrBadFile is returned for unknown handles, role mismatches, an empty
	// dup sub-path and late-binding a handle that is already bound.
	ErrBadFile
	// ErrInvalidArgument is returned for unknown fcntl commands.
	ErrInvalidArgument
	// ErrConnectionRefused is a legacy wire value; see DESIGN.md.
	ErrConnectionRefused
	// ErrConnectionReset is returned when an accepted waiter has disappeared.
	ErrConnectionReset
	// ErrBrokenPipe is returned for a write against a closed remote.
	ErrBrokenPipe
	// ErrNotConnected is reserved for symmetry with the wire error table.
	ErrNotConnected
	// ErrAgain is returned for a would-block result under NONBLOCK.
	ErrAgain
	// ErrInterrupted is returned when a parked request is cancelled.
	ErrInterrupted
	// ErrNoSuchDevice is returned when a scheme socket unmounts with requests parked.
	ErrNoSuchDevice
	// ErrOutOfRange is returned by shm's mmap-prep on an invalid offset/size.
	ErrOutOfRange
)

func (k ErrKind) String() string {
	switch k {
	case ErrPermission:
		return "permission"
	case ErrNotFound:
		return "not-found"
	case ErrAlreadyExists:
		return "already-exists"
	case ErrBadFile:
		return "bad-file"
	case ErrInvalidArgument:
		return "invalid-argument"
	case ErrConnectionRefused:
		return "connection-refused"
	case ErrConnectionReset:
		return "connection-reset"
	case ErrBrokenPipe:
		return "broken-pipe"
	case ErrNotConnected:
		return "not-connected"
	case ErrAgain:
		return "again"
	case ErrInterrupted:
		return "interrupted"
	case ErrNoSuchDevice:
		return "no-such-device"
	case ErrOutOfRange:
		return "out-of-range"
	default:
		return "unknown"
	}
}

// CoreError is the error type every chan/shm core operation returns on
// failure. Kind is the wire value; the wrapped error (if any) is for local
// logging only and never crosses the scheme socket.
type CoreError struct {
	Kind ErrKind
	Msg  string
	err  error
}

// NewError builds a CoreError carrying Kind with a human-readable message.
func NewError(kind ErrKind, msg string) *CoreError {
	return &CoreError{Kind: kind, Msg: msg}
}

// Wrap builds a CoreError that also carries an underlying Go error for
// %w-style logging, without exposing it on the wire.
func Wrap(kind ErrKind, msg string, err error) *CoreError {
	return &CoreError{Kind: kind, Msg: msg, err: err}
}

func (e *CoreError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.err)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap exposes the underlying Go error, if any, so errors.Is/As keep working.
func (e *CoreError) Unwrap() error {
	return e.err
}

// WouldBlock is the sentinel a core operation returns instead of a result or
// a CoreError when the request cannot complete on current state and must be
// parked by the deferral engine. It carries no payload: the reactor retries
// the exact same call later, and operations are pure enough that a retry is
// indistinguishable from a first attempt.
var WouldBlock = fmt.Errorf("would block")

// Flag bits, bit-compatible with the host kernel's open-flag word. Only the
// bits this daemon inspects are named here.
type OpenFlags uint32

const (
	FlagCreate    OpenFlags = 1 << 0
	FlagExclusive OpenFlags = 1 << 1
	FlagNonblock  OpenFlags = 1 << 2
)

// Has reports whether all bits in want are set in f.
func (f OpenFlags) Has(want OpenFlags) bool {
	return f&want == want
}

// EventMask is a bitwise-OR of readiness bits.
type EventMask uint32

const (
	EventReadable EventMask = 1 << 0
	EventWritable EventMask = 1 << 1
)

// Fcntl commands.
type FcntlCmd int

const (
	FcntlGetFL FcntlCmd = iota
	FcntlSetFL
)
