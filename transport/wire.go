package transport

import "encoding/binary"

// Wire framing is intentionally simple: the kernel-side packet transport is
// an external collaborator out of this daemon's scope, assumed only to
// deliver request frames and accept response frames through a single
// nonblocking socket per scheme. UnixConn and VsockConn just need *a*
// concrete, internally-consistent framing to exercise that contract;
// nothing about its layout is dictated by the core's semantics.
//
// callOrCancelHeaderLen: [reqID:8][handleID:8][kind:1][op:1][payloadLen:2] = 20 bytes.
//   For a cancel frame, reqID carries the cancelled request's id and the
//   remaining fields are zero/ignored.
// response header: [id:8][kind=response:1][hasErr:1][errKind:1][n:4][payloadLen:2][reserved:1] = 18 bytes.
// event header: [handleID:8][kind=event:1][mask:1] = 10 bytes.
const (
	frameCall     byte = iota // client -> daemon
	frameCancel               // client -> daemon
	frameResponse             // daemon -> client
	frameEvent                // daemon -> client
)

func encodeResponseHeader(resp Response) []byte {
	buf := make([]byte, 18)
	binary.BigEndian.PutUint64(buf[0:8], resp.ID)
	buf[8] = frameResponse
	if resp.HasErr {
		buf[9] = 1
		buf[10] = byte(resp.ErrKind)
	}
	binary.BigEndian.PutUint32(buf[11:15], uint32(resp.N))
	binary.BigEndian.PutUint16(buf[15:17], uint16(len(resp.Payload)))
	// buf[17] reserved
	return buf
}

func encodeEventHeader(ev Event) []byte {
	buf := make([]byte, 10)
	binary.BigEndian.PutUint64(buf[0:8], ev.HandleID)
	buf[8] = frameEvent
	buf[9] = byte(ev.Mask)
	return buf
}

// decodedHeader is the parsed form of a call or cancel frame.
type decodedHeader struct {
	kind       byte
	id         uint64
	handleID   uint64
	op         Op
	payloadLen int
}

// decodeCallOrCancelHeader parses a callOrCancelHeaderLen-byte header.
func decodeCallOrCancelHeader(buf []byte) decodedHeader {
	id := binary.BigEndian.Uint64(buf[0:8])
	handleID := binary.BigEndian.Uint64(buf[8:16])
	kind := buf[16]

	if kind == frameCall {
		return decodedHeader{
			kind:       kind,
			id:         id,
			handleID:   handleID,
			op:         Op(buf[17]),
			payloadLen: int(binary.BigEndian.Uint16(buf[18:20])),
		}
	}

	return decodedHeader{kind: kind, id: id}
}
