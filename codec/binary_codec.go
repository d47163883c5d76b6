package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"svcrpc/message"
)

var (
	errNotMessage = errors.New("BinaryCodec: v must be *message.RPCMessage")
	errShortData  = errors.New("BinaryCodec: truncated data")
)

// BinaryCodec lays out an RPCMessage as
//
//	uint16 len | Service | uint32 len | Payload | uint16 len | Error
//
// all lengths big-endian.
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return nil, errNotMessage
	}
	if len(msg.Service) > math.MaxUint16 || len(msg.Error) > math.MaxUint16 {
		return nil, fmt.Errorf("BinaryCodec: string field exceeds %d bytes", math.MaxUint16)
	}
	if uint64(len(msg.Payload)) > math.MaxUint32 {
		return nil, fmt.Errorf("BinaryCodec: payload exceeds %d bytes", uint32(math.MaxUint32))
	}

	buf := make([]byte, 0, 2+len(msg.Service)+4+len(msg.Payload)+2+len(msg.Error))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(msg.Service)))
	buf = append(buf, msg.Service...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(msg.Payload)))
	buf = append(buf, msg.Payload...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(msg.Error)))
	buf = append(buf, msg.Error...)
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return errNotMessage
	}

	r := reader{data: data}
	service := r.next(int(r.uint16()))
	payload := r.next(int(r.uint32()))
	errText := r.next(int(r.uint16()))
	if r.err != nil {
		return r.err
	}

	msg.Service = string(service)
	msg.Payload = append([]byte(nil), payload...)
	msg.Error = string(errText)
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

// reader walks data and latches the first short read.
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.err = errShortData
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) uint16() uint16 {
	b := r.next(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) uint32() uint32 {
	b := r.next(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}
