// Package client is the raw remote-call handle for one named service: it
// discovers instances through the registry, balances across them, multiplexes
// requests over pooled transports, and keeps the set of pending requests.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"svcrpc/codec"
	"svcrpc/executor"
	"svcrpc/loadbalance"
	"svcrpc/message"
	"svcrpc/qos"
	"svcrpc/registry"
	"svcrpc/transport"
)

var (
	ErrClosed             = errors.New("client: closed")
	ErrServiceUnavailable = errors.New("client: service unavailable")
)

// RemoteError is a failure reported by the server or the connection.
type RemoteError struct {
	Service string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("client: %s: %s", e.Service, e.Message)
}

const (
	defaultPoolSize    = 4
	defaultDialTimeout = 5 * time.Second
	recheckInterval    = 200 * time.Millisecond
)

// Config carries what a client shares with its node.
type Config struct {
	Registry    registry.Registry
	Balancer    loadbalance.Balancer
	Codec       codec.CodecType
	PoolSize    int           // transports per server address
	Heartbeat   time.Duration // 0 disables transport heartbeats
	DialTimeout time.Duration
	Logger      *zap.Logger
}

type Client struct {
	service string
	profile qos.Profile
	group   *executor.CallbackGroup
	cfg     Config
	logger  *zap.Logger

	mu      sync.Mutex
	pools   map[string]*transport.Pool // server address → transports
	pending map[uint64]*Future
	nextID  uint64
	closed  bool
}

// New creates a client for service whose response callbacks are queued on
// group.
func New(service string, profile qos.Profile, group *executor.CallbackGroup, cfg Config) (*Client, error) {
	if service == "" {
		return nil, errors.New("client: empty service name")
	}
	if cfg.Registry == nil {
		return nil, errors.New("client: nil registry")
	}
	if group == nil {
		return nil, errors.New("client: nil callback group")
	}
	if cfg.Balancer == nil {
		cfg.Balancer = &loadbalance.RoundRobinBalancer{}
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Client{
		service: service,
		profile: profile,
		group:   group,
		cfg:     cfg,
		logger:  cfg.Logger.With(zap.String("service", service)),
		pools:   make(map[string]*transport.Pool),
		pending: make(map[uint64]*Future),
	}, nil
}

func (c *Client) ServiceName() string {
	return c.service
}

func (c *Client) Profile() qos.Profile {
	return c.profile
}

// ServiceIsReady reports whether at least one instance is registered.
func (c *Client) ServiceIsReady(ctx context.Context) bool {
	instances, err := c.cfg.Registry.Discover(ctx, c.service)
	return err == nil && len(instances) > 0
}

// WaitForService blocks until the service has an instance, timeout passes or
// ctx is done. A negative timeout waits without limit.
func (c *Client) WaitForService(ctx context.Context, timeout time.Duration) bool {
	if c.isClosed() {
		return false
	}

	parent := ctx
	var cancel context.CancelFunc
	if timeout >= 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	// Subscribe before the first lookup so a registration in between is not
	// missed. The lookup uses the parent so a zero timeout still checks once.
	updates := c.cfg.Registry.Watch(ctx, c.service)
	if c.ServiceIsReady(parent) {
		return true
	}

	// The periodic re-check covers registries whose watch stream ends early.
	ticker := time.NewTicker(recheckInterval)
	defer ticker.Stop()
	for {
		select {
		case instances, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if len(instances) > 0 {
				return true
			}
		case <-ticker.C:
			if c.isClosed() {
				return false
			}
			if c.ServiceIsReady(ctx) {
				return true
			}
		case <-ctx.Done():
			return false
		}
	}
}

// AsyncSendRequest dispatches req to one instance of the service and returns
// the pending Future. The future completes only while an executor spins the
// client's callback group. Abandoned futures must be passed to
// RemovePendingRequest.
func (c *Client) AsyncSendRequest(ctx context.Context, req any) (*Future, error) {
	fut, err := c.reserve()
	if err != nil {
		return nil, err
	}

	if err := c.send(ctx, fut, req); err != nil {
		c.release(fut.id)
		return nil, err
	}

	c.logger.Debug("request dispatched", zap.Uint64("id", fut.id), zap.Uint64("seq", fut.seq))
	return fut, nil
}

// reserve adds a future to the pending set. The set is unbounded; the
// profile does not limit in-flight requests.
func (c *Client) reserve() (*Future, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	c.nextID++
	fut := newFuture(c.nextID)
	c.pending[fut.id] = fut
	return fut, nil
}

func (c *Client) release(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) send(ctx context.Context, fut *Future, req any) error {
	instances, err := c.cfg.Registry.Discover(ctx, c.service)
	if err != nil {
		return err
	}
	if len(instances) == 0 {
		return fmt.Errorf("%w: %s", ErrServiceUnavailable, c.service)
	}

	instance, err := c.cfg.Balancer.Pick(instances)
	if err != nil {
		return err
	}

	pool, err := c.pool(instance.Addr)
	if err != nil {
		return err
	}
	t, err := pool.Get()
	if err != nil {
		return err
	}

	seq, ch, err := t.Send(c.service, req)
	if err != nil {
		return err
	}

	// Set before the waiter can post, and before RemovePendingRequest can
	// observe the future.
	c.mu.Lock()
	fut.seq, fut.transport = seq, t
	_, stillPending := c.pending[fut.id]
	c.mu.Unlock()
	if !stillPending {
		t.Cancel(seq)
	}

	go c.await(fut, ch)
	return nil
}

// await hands the response to the callback group; it never completes the
// future itself.
func (c *Client) await(fut *Future, ch <-chan *message.RPCMessage) {
	select {
	case resp := <-ch:
		c.group.Post(func() { c.complete(fut, resp) })
	case <-fut.abandon:
	}
}

func (c *Client) complete(fut *Future, resp *message.RPCMessage) {
	c.mu.Lock()
	_, ok := c.pending[fut.id]
	delete(c.pending, fut.id)
	c.mu.Unlock()

	if !ok {
		// Retracted after the response arrived but before the group ran.
		return
	}

	if resp.Failed() {
		fut.Set(nil, &RemoteError{Service: c.service, Message: resp.Error})
		return
	}
	fut.Set(resp.Payload, nil)
}

// RemovePendingRequest retracts fut from the pending set and from its
// transport, so a late response is dropped. The remote side is not told. It
// reports whether fut was still pending; retracting twice is a no-op.
func (c *Client) RemovePendingRequest(fut *Future) bool {
	if fut == nil {
		return false
	}

	c.mu.Lock()
	_, ok := c.pending[fut.id]
	delete(c.pending, fut.id)
	t, seq := fut.transport, fut.seq
	c.mu.Unlock()

	if !ok {
		return false
	}
	if t != nil {
		t.Cancel(seq)
	}
	fut.stop()
	c.logger.Debug("pending request removed", zap.Uint64("id", fut.id), zap.Uint64("seq", seq))
	return true
}

// PendingRequests returns the number of dispatched, unresolved requests.
func (c *Client) PendingRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Client) pool(addr string) (*transport.Pool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	p, ok := c.pools[addr]
	if !ok {
		p = transport.NewPool(addr, c.cfg.PoolSize, c.dial)
		c.pools[addr] = p
	}
	return p, nil
}

func (c *Client) dial(addr string) (*transport.ClientTransport, error) {
	conn, err := net.DialTimeout("tcp", addr, c.cfg.DialTimeout)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("connected", zap.String("addr", addr))
	return transport.NewClientTransport(conn, c.cfg.Codec, c.cfg.Heartbeat), nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close fails every pending future with ErrClosed and closes the transports.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[uint64]*Future)
	pools := c.pools
	c.pools = make(map[string]*transport.Pool)
	c.mu.Unlock()

	for _, fut := range pending {
		fut.stop()
		fut.Set(nil, ErrClosed)
	}

	var errs []error
	for _, p := range pools {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
