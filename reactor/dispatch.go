package reactor

import (
	"encoding/binary"
	"errors"

	"github.com/redox-os/ipcd/scheme"
	"github.com/redox-os/ipcd/scheme/chanscheme"
	"github.com/redox-os/ipcd/scheme/shmscheme"
	"github.com/redox-os/ipcd/transport"
)

// core is what the dispatcher needs from either scheme core: take a
// request's op-specific payload and the handle it targets, and produce a
// response or report that it would block.
type core interface {
	dispatch(req transport.Request) (transport.Response, error)
}

// chanCoreAdapter decodes transport payloads into chanscheme.Core calls.
// Payload layouts are this daemon's own internal convention (see
// transport/wire.go): the wire transport is an external collaborator, not
// part of the core's contract.
type chanCoreAdapter struct {
	c *chanscheme.Core
}

func (a *chanCoreAdapter) dispatch(req transport.Request) (transport.Response, error) {
	switch req.Op {
	case transport.OpOpen:
		flags := scheme.OpenFlags(binary.BigEndian.Uint32(req.Bytes[0:4]))
		uid := binary.BigEndian.Uint32(req.Bytes[4:8])
		gid := binary.BigEndian.Uint32(req.Bytes[8:12])
		path := string(req.Bytes[12:])

		id, err := a.c.Open(path, flags, uid, gid)
		return resultResponse(req.ID, int(id), err)

	case transport.OpDup:
		sub := string(req.Bytes)

		id, err := a.c.Dup(req.HandleID, sub)
		return resultResponse(req.ID, int(id), err)

	case transport.OpRead:
		flags := scheme.OpenFlags(binary.BigEndian.Uint32(req.Bytes[0:4]))
		bufLen := binary.BigEndian.Uint32(req.Bytes[4:8])
		buf := make([]byte, bufLen)

		n, err := a.c.Read(req.HandleID, buf, flags)
		if err != nil {
			return errResponse(req.ID, err)
		}
		return transport.Response{ID: req.ID, N: n, Payload: buf[:n]}, nil

	case transport.OpWrite:
		flags := scheme.OpenFlags(binary.BigEndian.Uint32(req.Bytes[0:4]))
		data := req.Bytes[4:]

		n, err := a.c.Write(req.HandleID, data, flags)
		return resultResponse(req.ID, n, err)

	case transport.OpClose:
		err := a.c.Close(req.HandleID)
		return resultResponse(req.ID, 0, err)

	case transport.OpFcntl:
		cmd := scheme.FcntlCmd(binary.BigEndian.Uint32(req.Bytes[0:4]))
		arg := binary.BigEndian.Uint32(req.Bytes[4:8])

		v, err := a.c.Fcntl(req.HandleID, cmd, arg)
		return resultResponse(req.ID, int(v), err)

	case transport.OpFevent:
		mask := scheme.EventMask(binary.BigEndian.Uint32(req.Bytes[0:4]))

		got, err := a.c.Fevent(req.HandleID, mask)
		return resultResponse(req.ID, int(got), err)

	case transport.OpFpath:
		bufLen := binary.BigEndian.Uint32(req.Bytes[0:4])
		buf := make([]byte, bufLen)

		n, err := a.c.Fpath(req.HandleID, buf)
		if err != nil {
			return errResponse(req.ID, err)
		}
		return transport.Response{ID: req.ID, N: n, Payload: buf[:n]}, nil

	case transport.OpFsync:
		err := a.c.Fsync(req.HandleID)
		return resultResponse(req.ID, 0, err)

	default:
		return errResponse(req.ID, scheme.NewError(scheme.ErrInvalidArgument, "unknown op"))
	}
}

// shmCoreAdapter mirrors chanCoreAdapter for the shm scheme.
type shmCoreAdapter struct {
	c *shmscheme.Core
}

func (a *shmCoreAdapter) dispatch(req transport.Request) (transport.Response, error) {
	switch req.Op {
	case transport.OpOpen:
		path := string(req.Bytes)

		id, err := a.c.Open(path)
		return resultResponse(req.ID, int(id), err)

	case transport.OpClose:
		err := a.c.Close(req.HandleID)
		return resultResponse(req.ID, 0, err)

	case transport.OpFpath:
		bufLen := binary.BigEndian.Uint32(req.Bytes[0:4])
		buf := make([]byte, bufLen)

		n, err := a.c.Fpath(req.HandleID, buf)
		if err != nil {
			return errResponse(req.ID, err)
		}
		return transport.Response{ID: req.ID, N: n, Payload: buf[:n]}, nil

	case transport.OpFsync:
		err := a.c.Fsync(req.HandleID)
		return resultResponse(req.ID, 0, err)

	default: // mmap-prep is dispatched via OpFcntl's arg slot (no dedicated Op; see DESIGN.md)
		if req.Op != transport.OpFcntl {
			return errResponse(req.ID, scheme.NewError(scheme.ErrInvalidArgument, "unknown op"))
		}

		offset := binary.BigEndian.Uint64(req.Bytes[0:8])
		size := binary.BigEndian.Uint64(req.Bytes[8:16])
		flags := binary.BigEndian.Uint32(req.Bytes[16:20])

		addr, err := a.c.MmapPrep(req.HandleID, offset, size, flags)
		return resultResponse(req.ID, int(addr), err)
	}
}

// resultResponse builds a completed response from an (id-or-count, error)
// pair shared by most ops, translating scheme.WouldBlock into the "not yet
// completed" signal the sweep loop understands.
func resultResponse(reqID uint64, n int, err error) (transport.Response, error) {
	if err != nil {
		return errResponse(reqID, err)
	}
	return transport.Response{ID: reqID, N: n}, nil
}

func errResponse(reqID uint64, err error) (transport.Response, error) {
	if errors.Is(err, scheme.WouldBlock) {
		return transport.Response{}, scheme.WouldBlock
	}

	var coreErr *scheme.CoreError
	if errors.As(err, &coreErr) {
		return transport.Response{ID: reqID, HasErr: true, ErrKind: coreErr.Kind}, nil
	}

	return transport.Response{ID: reqID, HasErr: true, ErrKind: scheme.ErrInvalidArgument}, nil
}
