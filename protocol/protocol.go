// Package protocol implements the binary frame protocol spoken between service
// clients and servers.
//
// A frame is a fixed 18-byte header followed by a variable-length body. The
// receiver reads the header first to learn the body length, then reads exactly
// that many bytes, so frames never run together on the TCP stream.
//
// Frame format:
//
//	0      3  4  5  6                 14        18
//	┌──────┬──┬──┬──┬─────────────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│       seq       │ bodyLen │    body ...    │
//	│ svc  │01│  │  │     uint64      │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────────────┴─────────┴───────────────┘
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	MagicByte1 byte = 's'
	MagicByte2 byte = 'v'
	MagicByte3 byte = 'c'
	Version    byte = 0x01
	HeaderSize int  = 18 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 8 (seq) + 4 (bodyLen)

	// MaxBodyLen bounds the allocation made for a single frame body.
	MaxBodyLen uint32 = 16 << 20
)

// MsgType distinguishes request, response, and heartbeat frames.
type MsgType byte

const (
	MsgTypeRequest   MsgType = 0
	MsgTypeResponse  MsgType = 1
	MsgTypeHeartbeat MsgType = 2 // no body
)

func (t MsgType) valid() bool {
	return t <= MsgTypeHeartbeat
}

// Codec type constants, mirrored from the codec package to avoid an import cycle.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

var (
	ErrInvalidMagic       = errors.New("protocol: invalid magic number")
	ErrUnsupportedVersion = errors.New("protocol: unsupported version")
	ErrUnsupportedCodec   = errors.New("protocol: unsupported codec type")
	ErrUnsupportedMsgType = errors.New("protocol: unsupported message type")
	ErrBodyTooLarge       = errors.New("protocol: body too large")
)

// Header is the fixed-size frame header.
type Header struct {
	CodecType byte
	MsgType   MsgType
	Seq       uint64 // matches a response to its request
	BodyLen   uint32
}

// Encode writes a complete frame to w in a single Write call.
// Callers sharing w between goroutines must still serialize calls to Encode.
func Encode(w io.Writer, h *Header, body []byte) error {
	if uint64(len(body)) > uint64(MaxBodyLen) {
		return fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, len(body))
	}

	buf := make([]byte, HeaderSize+len(body))
	buf[0], buf[1], buf[2] = MagicByte1, MagicByte2, MagicByte3
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	binary.BigEndian.PutUint64(buf[6:14], h.Seq)
	binary.BigEndian.PutUint32(buf[14:18], uint32(len(body)))
	copy(buf[HeaderSize:], body)

	_, err := w.Write(buf)
	return err
}

// Decode reads one complete frame from r and validates its header.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicByte1 || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("%w: %x", ErrInvalidMagic, headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, headerBuf[3])
	}
	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeBinary {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnsupportedCodec, headerBuf[4])
	}
	msgType := MsgType(headerBuf[5])
	if !msgType.valid() {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnsupportedMsgType, headerBuf[5])
	}

	h := &Header{
		CodecType: headerBuf[4],
		MsgType:   msgType,
		Seq:       binary.BigEndian.Uint64(headerBuf[6:14]),
		BodyLen:   binary.BigEndian.Uint32(headerBuf[14:18]),
	}
	if h.BodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, h.BodyLen)
	}

	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}
	return h, body, nil
}
