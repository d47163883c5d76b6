package client

import (
	"sync"

	"svcrpc/executor"
	"svcrpc/transport"
)

// Future is the handle of one dispatched request. It completes with the raw
// response payload when the client's callback group runs the response
// callback, i.e. only while an executor spins that group.
type Future struct {
	*executor.Future[[]byte]

	id        uint64
	seq       uint64
	transport *transport.ClientTransport

	abandonOnce sync.Once
	abandon     chan struct{}
}

func newFuture(id uint64) *Future {
	return &Future{
		Future:  executor.NewFuture[[]byte](),
		id:      id,
		abandon: make(chan struct{}),
	}
}

// ID is the client-local request number.
func (f *Future) ID() uint64 {
	return f.id
}

func (f *Future) stop() {
	f.abandonOnce.Do(func() { close(f.abandon) })
}
