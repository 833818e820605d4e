package chanscheme

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redox-os/ipcd/scheme"
)

// recordingNotifier captures every readiness edge the core fires, in order,
// so tests can assert on edge-triggered notification rather than polling.
type recordingNotifier struct {
	events []event
}

type event struct {
	id   uint64
	mask scheme.EventMask
}

func (r *recordingNotifier) notify(id uint64, mask scheme.EventMask) {
	r.events = append(r.events, event{id, mask})
}

// Test basic round-trip: listen, connect, accept, write, read.
func TestBasicRoundTrip(t *testing.T) {
	n := &recordingNotifier{}
	c := NewCore(n.notify)

	listenerID, err := c.Open("chan:greeter", scheme.FlagCreate, 0, 0)
	require.NoError(t, err)

	clientID, err := c.Open("chan:greeter", 0, 0, 0)
	require.NoError(t, err)

	acceptedID, err := c.Dup(listenerID, "listen")
	require.NoError(t, err)
	assert.NotEqual(t, clientID, acceptedID)

	n2, err := c.Write(acceptedID, []byte("hello"), 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n2)

	buf := make([]byte, 16)
	read, err := c.Read(clientID, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:read]))
}

// Test close propagation: closing one side of an open pair wakes the other
// as readable with a subsequent EOF read.
func TestClosePropagation(t *testing.T) {
	n := &recordingNotifier{}
	c := NewCore(n.notify)

	listenerID, err := c.Open("chan:x", scheme.FlagCreate, 0, 0)
	require.NoError(t, err)
	clientID, err := c.Open("chan:x", 0, 0, 0)
	require.NoError(t, err)
	acceptedID, err := c.Dup(listenerID, "listen")
	require.NoError(t, err)

	require.NoError(t, c.Close(acceptedID))

	buf := make([]byte, 4)
	read, err := c.Read(clientID, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, read, "close propagation delivers EOF, not an error")

	_, err = c.Write(clientID, []byte("x"), 0)
	var coreErr *scheme.CoreError
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, scheme.ErrBrokenPipe, coreErr.Kind)
}

// Test NONBLOCK would-block surfaces as ErrAgain, not scheme.WouldBlock,
// when the handle's own flags carry NONBLOCK.
func TestNonblockRead(t *testing.T) {
	c := NewCore(nil)

	listenerID, err := c.Open("chan:y", scheme.FlagCreate, 0, 0)
	require.NoError(t, err)
	clientID, err := c.Open("chan:y", scheme.FlagNonblock, 0, 0)
	require.NoError(t, err)
	_, err = c.Dup(listenerID, "listen")
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = c.Read(clientID, buf, 0)
	var coreErr *scheme.CoreError
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, scheme.ErrAgain, coreErr.Kind)
}

// Test a blocking listener's dup("listen") parks with scheme.WouldBlock when
// no connection is pending, and a blocking client's write parks the same way
// while the peer is still Waiting.
func TestWouldBlockParking(t *testing.T) {
	c := NewCore(nil)

	listenerID, err := c.Open("chan:z", scheme.FlagCreate, 0, 0)
	require.NoError(t, err)

	_, err = c.Dup(listenerID, "listen")
	assert.ErrorIs(t, err, scheme.WouldBlock)

	clientID, err := c.Open("chan:z", 0, 0, 0)
	require.NoError(t, err)

	_, err = c.Write(clientID, []byte("a"), 0)
	assert.ErrorIs(t, err, scheme.WouldBlock)
}

// Test accept after peer closed: a waiting connect whose client closed
// before being accepted is skipped, and the next live waiter in line is
// accepted instead.
func TestAcceptAfterPeerClosed(t *testing.T) {
	n := &recordingNotifier{}
	c := NewCore(n.notify)

	listenerID, err := c.Open("chan:w", scheme.FlagCreate, 0, 0)
	require.NoError(t, err)

	firstClient, err := c.Open("chan:w", 0, 0, 0)
	require.NoError(t, err)
	secondClient, err := c.Open("chan:w", 0, 0, 0)
	require.NoError(t, err)

	require.NoError(t, c.Close(firstClient))

	acceptedID, err := c.Dup(listenerID, "listen")
	require.NoError(t, err)
	assert.NotEqual(t, secondClient, acceptedID)
}

// Test that when the only queued waiter disappeared before being accepted,
// dup(server, "listen") reports connection-reset rather than
// would-block/again.
func TestAcceptOnlyWaiterClosedReportsConnectionReset(t *testing.T) {
	c := NewCore(nil)

	listenerID, err := c.Open("chan:hw", scheme.FlagCreate, 0, 0)
	require.NoError(t, err)
	clientID, err := c.Open("chan:hw", 0, 0, 0)
	require.NoError(t, err)

	require.NoError(t, c.Close(clientID))

	_, err = c.Dup(listenerID, "listen")
	var coreErr *scheme.CoreError
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, scheme.ErrConnectionReset, coreErr.Kind)
}

// Test fpath: only the accepted side of a connection resolves a path;
// listeners and still-waiting clients fail bad-file.
func TestFpathOnlyOnAcceptedSide(t *testing.T) {
	c := NewCore(nil)

	listenerID, err := c.Open("named", scheme.FlagCreate, 0, 0)
	require.NoError(t, err)
	clientID, err := c.Open("named", 0, 0, 0)
	require.NoError(t, err)
	acceptedID, err := c.Dup(listenerID, "listen")
	require.NoError(t, err)

	buf := make([]byte, 32)

	_, err = c.Fpath(listenerID, buf)
	var coreErr *scheme.CoreError
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, scheme.ErrBadFile, coreErr.Kind)

	_, err = c.Fpath(clientID, buf)
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, scheme.ErrBadFile, coreErr.Kind)

	n, err := c.Fpath(acceptedID, buf)
	require.NoError(t, err)
	assert.Equal(t, "chan:named", string(buf[:n]))
}

// Test an unnamed listener is never rejoined by a second unnamed open.
func TestUnnamedListenerNeverRejoined(t *testing.T) {
	c := NewCore(nil)

	first, err := c.Open("", scheme.FlagCreate, 0, 0)
	require.NoError(t, err)
	second, err := c.Open("", scheme.FlagCreate, 0, 0)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

// Test CREATE|EXCLUSIVE over an already-bound name fails already-exists.
func TestCreateExclusiveConflict(t *testing.T) {
	c := NewCore(nil)

	_, err := c.Open("chan:dup", scheme.FlagCreate, 0, 0)
	require.NoError(t, err)

	_, err = c.Open("chan:dup", scheme.FlagCreate|scheme.FlagExclusive, 0, 0)
	var coreErr *scheme.CoreError
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, scheme.ErrAlreadyExists, coreErr.Kind)
}

// Test dup with an empty sub-path fails bad-file rather than panicking.
func TestDupEmptySub(t *testing.T) {
	c := NewCore(nil)

	listenerID, err := c.Open("chan:e", scheme.FlagCreate, 0, 0)
	require.NoError(t, err)

	_, err = c.Dup(listenerID, "")
	var coreErr *scheme.CoreError
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, scheme.ErrBadFile, coreErr.Kind)
}

// Test writes are never short: a write larger than one read buffer is
// drained across multiple reads without losing bytes.
func TestWriteNeverShort(t *testing.T) {
	c := NewCore(nil)

	listenerID, err := c.Open("chan:big", scheme.FlagCreate, 0, 0)
	require.NoError(t, err)
	clientID, err := c.Open("chan:big", 0, 0, 0)
	require.NoError(t, err)
	acceptedID, err := c.Dup(listenerID, "listen")
	require.NoError(t, err)

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i)
	}

	written, err := c.Write(acceptedID, payload, 0)
	require.NoError(t, err)
	assert.Equal(t, len(payload), written)

	got := make([]byte, 0, len(payload))
	small := make([]byte, 37)
	for len(got) < len(payload) {
		n, err := c.Read(clientID, small, 0)
		require.NoError(t, err)
		got = append(got, small[:n]...)
	}

	assert.Equal(t, payload, got)
}

// Test the alternative connect flow: dup(listenerID, "connect") queues a
// client handle exactly like open(path) does, so a later
// dup(listenerID, "listen") accepts it and the resulting pair round-trips
// like a normal open-then-accept connection.
func TestDupConnectAlternativeFlow(t *testing.T) {
	c := NewCore(nil)

	listenerID, err := c.Open("chan:alt", scheme.FlagCreate, 0, 0)
	require.NoError(t, err)

	clientID, err := c.Dup(listenerID, "connect")
	require.NoError(t, err)

	acceptedID, err := c.Dup(listenerID, "listen")
	require.NoError(t, err)
	assert.NotEqual(t, clientID, acceptedID)

	n, err := c.Write(acceptedID, []byte("hello"), 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 16)
	read, err := c.Read(clientID, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:read]))
}

// Test a NONBLOCK listener's dup("listen") reports ErrAgain rather than
// parking with scheme.WouldBlock when the awaiting queue is empty.
func TestNonblockListenerAcceptReturnsAgain(t *testing.T) {
	c := NewCore(nil)

	listenerID, err := c.Open("chan:nbl", scheme.FlagCreate|scheme.FlagNonblock, 0, 0)
	require.NoError(t, err)

	_, err = c.Dup(listenerID, "listen")
	var coreErr *scheme.CoreError
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, scheme.ErrAgain, coreErr.Kind)
}

// Test the event-driven readable edge: EventReadable fires exactly once when
// a client's buffer transitions from empty to non-empty, not on every write,
// and fires again only after the buffer has been drained back to empty.
func TestEventDrivenReadableEdge(t *testing.T) {
	n := &recordingNotifier{}
	c := NewCore(n.notify)

	listenerID, err := c.Open("chan:ev", scheme.FlagCreate, 0, 0)
	require.NoError(t, err)
	clientID, err := c.Open("chan:ev", 0, 0, 0)
	require.NoError(t, err)
	acceptedID, err := c.Dup(listenerID, "listen")
	require.NoError(t, err)

	n.events = nil // drop the listener/peer setup edges; only writes matter here

	readableEdges := func() int {
		count := 0
		for _, ev := range n.events {
			if ev.id == clientID && ev.mask&scheme.EventReadable != 0 {
				count++
			}
		}
		return count
	}

	_, err = c.Write(acceptedID, []byte("a"), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, readableEdges(), "first write into an empty buffer fires one readable edge")

	_, err = c.Write(acceptedID, []byte("b"), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, readableEdges(), "a second write before drain fires no new edge")

	buf := make([]byte, 8)
	_, err = c.Read(clientID, buf, 0)
	require.NoError(t, err)

	_, err = c.Write(acceptedID, []byte("c"), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, readableEdges(), "a write after drain-to-empty fires a new edge")
}

// Test fevent reflects readable/writable state without side effects: calling
// it repeatedly never drains the buffer or changes remote state.
func TestFeventIsPure(t *testing.T) {
	c := NewCore(nil)

	listenerID, err := c.Open("chan:fe", scheme.FlagCreate, 0, 0)
	require.NoError(t, err)
	clientID, err := c.Open("chan:fe", 0, 0, 0)
	require.NoError(t, err)
	acceptedID, err := c.Dup(listenerID, "listen")
	require.NoError(t, err)

	_, err = c.Write(acceptedID, []byte("x"), 0)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		mask, err := c.Fevent(clientID, scheme.EventReadable|scheme.EventWritable)
		require.NoError(t, err)
		assert.Equal(t, scheme.EventReadable|scheme.EventWritable, mask)
	}
}
