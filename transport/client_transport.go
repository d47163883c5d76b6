// Package transport implements the client side of the wire: multiplexed
// connections and a per-address pool of them.
//
// ClientTransport runs many concurrent requests over one TCP connection. Each
// request gets a sequence number, and a background recvLoop routes every
// response to the channel registered for its sequence number.
//
//	caller-1 ──Send(seq=1)──┐
//	caller-2 ──Send(seq=2)──┼──→ single TCP conn ──→ Server
//	caller-3 ──Send(seq=3)──┘
//
//	recvLoop:  ←── response(seq=2) → pending[2] → caller-2
package transport

import (
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"svcrpc/codec"
	"svcrpc/message"
	"svcrpc/protocol"
)

var ErrClosed = errors.New("transport: connection closed")

// ClientTransport manages a single multiplexed connection.
type ClientTransport struct {
	conn    net.Conn
	codec   codec.CodecType
	seq     uint64     // guarded by sending
	sending sync.Mutex // one frame at a time on the wire
	pending sync.Map   // uint64 → chan *message.RPCMessage
	closed  atomic.Bool
	done    chan struct{}
}

// NewClientTransport wraps conn and starts the receive loop. A positive
// heartbeat interval also starts a heartbeat loop.
func NewClientTransport(conn net.Conn, ct codec.CodecType, heartbeat time.Duration) *ClientTransport {
	t := &ClientTransport{
		conn:  conn,
		codec: ct,
		done:  make(chan struct{}),
	}
	go t.recvLoop()
	if heartbeat > 0 {
		go t.heartbeatLoop(heartbeat)
	}
	return t
}

// Send encodes args as the payload of a request to service and writes the
// frame. It returns the sequence number and a channel that receives exactly
// one message: the response, or an error message if the connection breaks.
func (t *ClientTransport) Send(service string, args any) (uint64, <-chan *message.RPCMessage, error) {
	if t.closed.Load() {
		return 0, nil, ErrClosed
	}

	payload, err := json.Marshal(args)
	if err != nil {
		return 0, nil, err
	}
	cdc := codec.GetCodec(t.codec)
	body, err := cdc.Encode(&message.RPCMessage{Service: service, Payload: payload})
	if err != nil {
		return 0, nil, err
	}

	t.sending.Lock()
	defer t.sending.Unlock()

	t.seq++
	seq := t.seq

	// Register before writing so recvLoop can never see an unknown seq.
	respChan := make(chan *message.RPCMessage, 1)
	t.pending.Store(seq, respChan)
	if t.closed.Load() {
		t.pending.Delete(seq)
		return 0, nil, ErrClosed
	}

	header := protocol.Header{
		CodecType: byte(t.codec),
		MsgType:   protocol.MsgTypeRequest,
		Seq:       seq,
	}
	if err := protocol.Encode(t.conn, &header, body); err != nil {
		t.pending.Delete(seq)
		return 0, nil, err
	}
	return seq, respChan, nil
}

// Cancel forgets a pending request. A response arriving later is dropped.
// It reports whether seq was still pending.
func (t *ClientTransport) Cancel(seq uint64) bool {
	_, ok := t.pending.LoadAndDelete(seq)
	return ok
}

// Pending returns the number of requests waiting for a response.
func (t *ClientTransport) Pending() int {
	n := 0
	t.pending.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Closed reports whether the connection is no longer usable.
func (t *ClientTransport) Closed() bool {
	return t.closed.Load()
}

// Close shuts the connection; pending callers receive an error message.
func (t *ClientTransport) Close() error {
	err := t.conn.Close()
	t.failAllPending(ErrClosed)
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// recvLoop is the single reader of the connection; frame boundaries can only
// be parsed sequentially.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			t.failAllPending(err)
			return
		}
		if header.MsgType != protocol.MsgTypeResponse {
			continue
		}

		resp := &message.RPCMessage{}
		if err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, resp); err != nil {
			resp = &message.RPCMessage{Error: err.Error()}
		}

		if ch, ok := t.pending.LoadAndDelete(header.Seq); ok {
			ch.(chan *message.RPCMessage) <- resp
		}
	}
}

// failAllPending marks the transport closed and unblocks every caller.
func (t *ClientTransport) failAllPending(err error) {
	if t.closed.Swap(true) {
		return
	}
	close(t.done)
	t.pending.Range(func(key, value any) bool {
		if _, ok := t.pending.LoadAndDelete(key); ok {
			value.(chan *message.RPCMessage) <- &message.RPCMessage{Error: err.Error()}
		}
		return true
	})
}

func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}

		header := &protocol.Header{CodecType: byte(t.codec), MsgType: protocol.MsgTypeHeartbeat}
		t.sending.Lock()
		err := protocol.Encode(t.conn, header, nil)
		t.sending.Unlock()
		if err != nil {
			t.failAllPending(err)
			return
		}
	}
}
