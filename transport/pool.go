package transport

import (
	"errors"
	"sync"
)

var ErrPoolClosed = errors.New("transport: pool closed")

// Pool holds up to maxConns multiplexed transports to a single address.
// Transports are created lazily: a new one is dialed only while every existing
// transport already has requests in flight. Closed transports are discarded.
type Pool struct {
	mu         sync.Mutex
	addr       string
	maxConns   int
	transports []*ClientTransport
	factory    func(addr string) (*ClientTransport, error)
	closed     bool
}

func NewPool(addr string, maxConns int, factory func(addr string) (*ClientTransport, error)) *Pool {
	if maxConns <= 0 {
		maxConns = 1
	}
	return &Pool{
		addr:     addr,
		maxConns: maxConns,
		factory:  factory,
	}
}

// Get returns the least loaded live transport, dialing a new one if all are busy
// and the pool has room.
func (p *Pool) Get() (*ClientTransport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	live := p.transports[:0]
	for _, t := range p.transports {
		if !t.Closed() {
			live = append(live, t)
		}
	}
	p.transports = live

	var best *ClientTransport
	bestPending := 0
	for _, t := range p.transports {
		if n := t.Pending(); best == nil || n < bestPending {
			best, bestPending = t, n
		}
	}

	if best != nil && (bestPending == 0 || len(p.transports) >= p.maxConns) {
		return best, nil
	}

	t, err := p.factory(p.addr)
	if err != nil {
		if best != nil {
			return best, nil
		}
		return nil, err
	}
	p.transports = append(p.transports, t)
	return t, nil
}

// Len returns the number of transports currently held.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.transports)
}

// Close closes every transport. Later Get calls fail.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	var errs []error
	for _, t := range p.transports {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.transports = nil
	return errors.Join(errs...)
}
