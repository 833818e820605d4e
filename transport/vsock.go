package transport

import (
	"fmt"
	"io"
	"net"

	"github.com/mdlayher/vsock"
)

// VsockConn adapts a vsock connection to transport.Conn, for guests whose
// kernel-side transport is a VM socket rather than a host Unix-domain
// socket — adapted from vm-agent's use of a vsock listener for its own
// request/response API, re-grounded on mdlayher/vsock since that's the
// teacher's actual go.mod dependency.
//
// Unlike UnixConn, VsockConn does not drive the raw fd directly: the
// mdlayher/vsock package exposes a net.Conn, so nonblocking behavior comes
// from an already-elapsed read deadline tripped on every call instead of
// SetNonblock.
type VsockConn struct {
	ln   *vsock.Listener
	conn net.Conn
}

// ListenVsock creates a vsock listener bound to the given port, accepting
// connections from any context ID (the host, in the guest-agent direction
// vm-agent's own listener used).
func ListenVsock(port uint32) (*VsockConn, error) {
	ln, err := vsock.Listen(port, nil)
	if err != nil {
		return nil, fmt.Errorf("listen on vsock port %d: %w", port, err)
	}

	return &VsockConn{ln: ln}, nil
}

// Accept blocks until the kernel-side transport connects over vsock.
func (v *VsockConn) Accept() error {
	conn, err := v.ln.Accept()
	if err != nil {
		return fmt.Errorf("accept vsock connection: %w", err)
	}

	v.conn = conn
	return nil
}

// NextRequest implements transport.Conn. A read with an already-elapsed
// deadline returns immediately with a timeout error when no data is
// queued, which this treats as would-block.
func (v *VsockConn) NextRequest() (Request, error) {
	if err := v.conn.SetReadDeadline(pastDeadline()); err != nil {
		return Request{}, fmt.Errorf("set vsock read deadline: %w", err)
	}

	hdr := make([]byte, callOrCancelHeaderLen)
	if _, err := io.ReadFull(v.conn, hdr); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return Request{}, ErrWouldBlock
		}
		if err == io.EOF {
			return Request{Kind: KindEOF}, nil
		}
		return Request{}, fmt.Errorf("read vsock request header: %w", err)
	}

	h := decodeCallOrCancelHeader(hdr)

	switch h.kind {
	case frameCall:
		payload := make([]byte, h.payloadLen)
		if h.payloadLen > 0 {
			if err := v.conn.SetReadDeadline(longDeadline()); err != nil {
				return Request{}, fmt.Errorf("set vsock payload deadline: %w", err)
			}
			if _, err := io.ReadFull(v.conn, payload); err != nil {
				return Request{}, fmt.Errorf("read vsock request payload: %w", err)
			}
		}

		return Request{Kind: KindCall, ID: h.id, HandleID: h.handleID, Op: h.op, Bytes: payload}, nil
	case frameCancel:
		return Request{Kind: KindCancel, CancelID: h.id}, nil
	default:
		return Request{}, fmt.Errorf("unknown vsock frame kind %d", h.kind)
	}
}

// WriteResponse implements transport.Conn.
func (v *VsockConn) WriteResponse(resp Response) error {
	buf := append(encodeResponseHeader(resp), resp.Payload...)
	_, err := v.conn.Write(buf)
	return err
}

// WriteEvent implements transport.Conn.
func (v *VsockConn) WriteEvent(ev Event) error {
	_, err := v.conn.Write(encodeEventHeader(ev))
	return err
}

// Close implements transport.Conn.
func (v *VsockConn) Close() error {
	if v.conn != nil {
		_ = v.conn.Close()
	}

	return v.ln.Close()
}
