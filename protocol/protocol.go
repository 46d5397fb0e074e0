// Package protocol implements the framed wire protocol spoken over the
// proxy's unix socket.
//
// A frame is a fixed 14-byte header followed by the body. Readers take the
// header first, learn the body length from it, then read exactly that many
// bytes.
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│   seq   │ bodyLen │    body ...    │
//	│ cpx  │01│  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
package protocol

import (
	"encoding/binary"
	"io"

	"github.com/juju/errors"
)

const (
	// Magic opens every frame.
	Magic = "cpx"

	Version    byte = 0x01
	HeaderSize      = len(Magic) + 3 + 4 + 4

	// MaxBodyLen bounds a single frame body.
	MaxBodyLen uint32 = 16 << 20
)

// MsgType distinguishes request, response, and heartbeat frames.
type MsgType byte

const (
	MsgTypeRequest   MsgType = 0
	MsgTypeResponse  MsgType = 1
	MsgTypeHeartbeat MsgType = 2 // no body
)

// Valid reports whether t is a known message type.
func (t MsgType) Valid() bool {
	return t <= MsgTypeHeartbeat
}

// Codec bytes. The codec package owns the implementations; these mirror
// its CodecType values so protocol does not import it.
const (
	CodecTypeJSON byte = 0
	CodecTypeCBOR byte = 1
)

// Header is the fixed frame header. BodyLen is filled in by Decode;
// Encode always writes the length of the body it is given.
type Header struct {
	CodecType byte
	MsgType   MsgType
	Seq       uint32
	BodyLen   uint32
}

func (h *Header) put(buf []byte, bodyLen int) {
	copy(buf, Magic)
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	binary.BigEndian.PutUint32(buf[10:14], uint32(bodyLen))
}

func parseHeader(buf []byte) (*Header, error) {
	if string(buf[:len(Magic)]) != Magic {
		return nil, errors.NotValidf("magic number %x", buf[:len(Magic)])
	}
	if buf[3] != Version {
		return nil, errors.NotSupportedf("protocol version %d", buf[3])
	}
	h := &Header{
		CodecType: buf[4],
		MsgType:   MsgType(buf[5]),
		Seq:       binary.BigEndian.Uint32(buf[6:10]),
		BodyLen:   binary.BigEndian.Uint32(buf[10:14]),
	}
	switch {
	case h.CodecType != CodecTypeJSON && h.CodecType != CodecTypeCBOR:
		return nil, errors.NotSupportedf("codec type %d", h.CodecType)
	case !h.MsgType.Valid():
		return nil, errors.NotSupportedf("message type %d", h.MsgType)
	case h.BodyLen > MaxBodyLen:
		return nil, errors.NotValidf("body length %d", h.BodyLen)
	}
	return h, nil
}

// Encode writes header and body to w as one Write. Writers shared between
// goroutines need external locking.
func Encode(w io.Writer, h *Header, body []byte) error {
	if uint32(len(body)) > MaxBodyLen {
		return errors.Errorf("frame body of %d bytes exceeds limit %d", len(body), MaxBodyLen)
	}
	frame := make([]byte, HeaderSize+len(body))
	h.put(frame, len(body))
	copy(frame[HeaderSize:], body)

	if _, err := w.Write(frame); err != nil {
		return errors.Annotate(err, "writing frame")
	}
	return nil
}

// Decode reads one frame from r. A peer that closed between frames yields
// a bare io.EOF.
func Decode(r io.Reader) (*Header, []byte, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, nil, err
	}
	h, err := parseHeader(buf[:])
	if err != nil {
		return nil, nil, err
	}

	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, errors.Annotate(err, "reading frame body")
	}
	return h, body, nil
}
