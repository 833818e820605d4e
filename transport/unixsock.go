package transport

import (
	"fmt"
	"io"
	"net"

	"golang.org/x/sys/unix"
)

// callOrCancelHeaderLen is the fixed length shared by call and cancel
// frames; event and response frames (daemon -> client) use their own
// encoders in wire.go and are never read back by this side.
const callOrCancelHeaderLen = 20

// UnixConn adapts a nonblocking Unix-domain socket to the transport.Conn
// interface. It is the daemon's production backend for the `chan` and `shm`
// scheme sockets.
type UnixConn struct {
	ln   *net.UnixListener
	conn *net.UnixConn
	fd   int
}

// ListenUnix creates and binds a nonblocking Unix-domain scheme socket at
// path, removing any stale socket file first.
func ListenUnix(path string) (*UnixConn, error) {
	_ = unix.Unlink(path)

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("listen on scheme socket %q: %w", path, err)
	}

	return &UnixConn{ln: ln}, nil
}

// Accept blocks until the kernel-side transport connects, then switches the
// accepted connection into nonblocking mode.
func (u *UnixConn) Accept() error {
	conn, err := u.ln.AcceptUnix()
	if err != nil {
		return fmt.Errorf("accept scheme connection: %w", err)
	}

	sc, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("get raw scheme connection: %w", err)
	}

	var ctrlErr error
	err = sc.Control(func(fd uintptr) {
		ctrlErr = unix.SetNonblock(int(fd), true)
		u.fd = int(fd)
	})
	if err != nil {
		return fmt.Errorf("control scheme connection: %w", err)
	}
	if ctrlErr != nil {
		return fmt.Errorf("set scheme connection nonblocking: %w", ctrlErr)
	}

	u.conn = conn
	return nil
}

// NextRequest implements transport.Conn.
func (u *UnixConn) NextRequest() (Request, error) {
	hdr := make([]byte, callOrCancelHeaderLen)
	n, err := unix.Read(u.fd, hdr)
	if err == unix.EAGAIN {
		return Request{}, ErrWouldBlock
	}
	if err != nil {
		return Request{}, fmt.Errorf("read scheme request header: %w", err)
	}
	if n == 0 {
		return Request{Kind: KindEOF}, nil
	}
	if n < callOrCancelHeaderLen {
		return Request{}, fmt.Errorf("short scheme request header: got %d bytes", n)
	}

	h := decodeCallOrCancelHeader(hdr)

	switch h.kind {
	case frameCall:
		payload := make([]byte, h.payloadLen)
		if h.payloadLen > 0 {
			if _, err := io.ReadFull(unixReader{fd: u.fd}, payload); err != nil {
				return Request{}, fmt.Errorf("read scheme request payload: %w", err)
			}
		}

		return Request{Kind: KindCall, ID: h.id, HandleID: h.handleID, Op: h.op, Bytes: payload}, nil
	case frameCancel:
		return Request{Kind: KindCancel, CancelID: h.id}, nil
	default:
		return Request{}, fmt.Errorf("unknown scheme frame kind %d", h.kind)
	}
}

// unixReader adapts a raw nonblocking fd to io.Reader for io.ReadFull, since
// a would-block mid-payload means the frame was written in more than one
// syscall's worth — a genuine wire error for this protocol, not a retry
// condition, because frames are written atomically by the kernel side.
type unixReader struct{ fd int }

func (r unixReader) Read(p []byte) (int, error) {
	n, err := unix.Read(r.fd, p)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// WriteResponse implements transport.Conn.
func (u *UnixConn) WriteResponse(resp Response) error {
	buf := append(encodeResponseHeader(resp), resp.Payload...)
	return u.writeAll(buf)
}

// WriteEvent implements transport.Conn.
func (u *UnixConn) WriteEvent(ev Event) error {
	return u.writeAll(encodeEventHeader(ev))
}

func (u *UnixConn) writeAll(buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Write(u.fd, buf)
		if err == unix.EAGAIN {
			continue // caller is the single-threaded loop; a tight retry is fine for small frames
		}
		if err != nil {
			return fmt.Errorf("write scheme frame: %w", err)
		}
		buf = buf[n:]
	}
	return nil
}

// Close implements transport.Conn.
func (u *UnixConn) Close() error {
	var errs []error
	if u.conn != nil {
		if err := u.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := u.ln.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("close scheme socket: %v", errs)
	}
	return nil
}
