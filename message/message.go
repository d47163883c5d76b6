// Package message defines the envelope exchanged between a service client and
// the server hosting the service.
//
// RPCMessage is serialized by the codec layer and wrapped in a protocol frame
// for transmission over TCP.
package message

// RPCMessage carries a single service request or response.
//
//   - On request:  Service is set, Payload holds the JSON-encoded request, Error is empty.
//   - On response: Payload holds the JSON-encoded response, Error is non-empty if the handler failed.
type RPCMessage struct {
	Service string // Service name, e.g. "add_two_ints"
	Error   string
	Payload []byte
}

// Failed reports whether the message carries a handler or transport error.
func (m *RPCMessage) Failed() bool {
	return m.Error != ""
}

// IsNull reports whether the payload encodes no value at all.
func (m *RPCMessage) IsNull() bool {
	return len(m.Payload) == 0 || string(m.Payload) == "null"
}
