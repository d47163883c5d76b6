// Package codec serializes message.RPCMessage envelopes for the frame body.
package codec

import (
	"fmt"
	"strings"
)

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeBinary:
		return "binary"
	default:
		return fmt.Sprintf("codec(%d)", byte(t))
	}
}

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType
}

// GetCodec returns the codec for t. Unknown types fall back to binary.
func GetCodec(t CodecType) Codec {
	if t == CodecTypeJSON {
		return &JSONCodec{}
	}
	return &BinaryCodec{}
}

// ParseType maps a configuration name ("json", "binary") to a CodecType.
func ParseType(name string) (CodecType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return CodecTypeJSON, nil
	case "binary":
		return CodecTypeBinary, nil
	default:
		return 0, fmt.Errorf("codec: unknown type %q", name)
	}
}
