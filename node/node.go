// Package node provides the execution context that service clients belong
// to. A node owns a logger, a registry handle and the clients it created; it
// is OK until Shutdown, after which blocked waits on its clients return.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"svcrpc/client"
	"svcrpc/codec"
	"svcrpc/config"
	"svcrpc/executor"
	"svcrpc/loadbalance"
	"svcrpc/logging"
	"svcrpc/qos"
	"svcrpc/registry"
)

var ErrShutdown = errors.New("node: shut down")

type Node struct {
	name         string
	logger       *zap.Logger
	registry     registry.Registry
	ownsRegistry bool
	balancer     loadbalance.Balancer
	codec        codec.CodecType
	poolSize     int
	heartbeat    time.Duration
	dialTimeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	clients []*client.Client
}

type Option func(*Node)

func WithLogger(logger *zap.Logger) Option {
	return func(n *Node) { n.logger = logger }
}

// WithBalancer overrides the default consistent-hash balancer keyed by the
// node name.
func WithBalancer(b loadbalance.Balancer) Option {
	return func(n *Node) { n.balancer = b }
}

func WithCodec(t codec.CodecType) Option {
	return func(n *Node) { n.codec = t }
}

func WithPoolSize(size int) Option {
	return func(n *Node) { n.poolSize = size }
}

func WithHeartbeat(d time.Duration) Option {
	return func(n *Node) { n.heartbeat = d }
}

func WithDialTimeout(d time.Duration) Option {
	return func(n *Node) { n.dialTimeout = d }
}

// New creates a running node named name that discovers services through reg.
// The registry is not closed by Shutdown.
func New(name string, reg registry.Registry, opts ...Option) (*Node, error) {
	if name == "" {
		return nil, errors.New("node: empty name")
	}
	if reg == nil {
		return nil, errors.New("node: nil registry")
	}

	n := &Node{
		name:     name,
		registry: reg,
		logger:   zap.NewNop(),
		codec:    codec.CodecTypeJSON,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.balancer == nil {
		n.balancer = loadbalance.NewConsistentHashBalancer(name)
	}
	n.logger = n.logger.Named(name)
	n.ctx, n.cancel = context.WithCancel(context.Background())
	return n, nil
}

// FromConfig builds the logger and registry described by cfg and a node that
// owns both.
func FromConfig(cfg *config.Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	ct, err := codec.ParseType(cfg.Client.Codec)
	if err != nil {
		return nil, err
	}
	bal, err := loadbalance.New(cfg.Client.Balancer, cfg.Node.Name)
	if err != nil {
		return nil, err
	}
	reg, err := NewRegistry(cfg.Registry, logger)
	if err != nil {
		return nil, err
	}

	n, err := New(cfg.Node.Name, reg,
		WithLogger(logger),
		WithBalancer(bal),
		WithCodec(ct),
		WithPoolSize(cfg.Client.PoolSize),
		WithHeartbeat(cfg.Client.Heartbeat.Duration),
		WithDialTimeout(cfg.Client.DialTimeout.Duration),
	)
	if err != nil {
		reg.Close()
		return nil, err
	}
	n.ownsRegistry = true
	return n, nil
}

// NewRegistry opens the registry selected by cfg.Type.
func NewRegistry(cfg config.RegistryConfig, logger *zap.Logger) (registry.Registry, error) {
	switch cfg.Type {
	case "memory":
		return registry.NewMemoryRegistry(), nil
	case "etcd":
		reg, err := registry.NewEtcdRegistry(registry.EtcdConfig{
			Endpoints:   cfg.Endpoints,
			DialTimeout: cfg.DialTimeout.Duration,
			Logger:      logger,
		})
		if err != nil {
			return nil, fmt.Errorf("node: connect etcd %v: %w", cfg.Endpoints, err)
		}
		return reg, nil
	default:
		return nil, fmt.Errorf("node: unknown registry type %q", cfg.Type)
	}
}

func (n *Node) Name() string {
	return n.name
}

func (n *Node) Logger() *zap.Logger {
	return n.logger
}

func (n *Node) Registry() registry.Registry {
	return n.registry
}

// Context is cancelled by Shutdown.
func (n *Node) Context() context.Context {
	return n.ctx
}

// Done is closed by Shutdown.
func (n *Node) Done() <-chan struct{} {
	return n.ctx.Done()
}

// OK reports whether the node is still running.
func (n *Node) OK() bool {
	return n.ctx.Err() == nil
}

// Shutdown stops the node and closes every client it created, failing their
// pending requests. It is safe to call more than once.
func (n *Node) Shutdown() error {
	n.mu.Lock()
	if !n.OK() {
		n.mu.Unlock()
		return nil
	}
	n.cancel()
	clients := n.clients
	n.clients = nil
	n.mu.Unlock()

	var errs []error
	for _, c := range clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if n.ownsRegistry {
		if err := n.registry.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	n.logger.Info("node shut down", zap.Int("clients", len(clients)))
	return errors.Join(errs...)
}

// CreateCallbackGroup returns a new group. With autoAdd false the caller must
// attach it to an executor itself.
func (n *Node) CreateCallbackGroup(kind executor.CallbackGroupType, autoAdd bool) *executor.CallbackGroup {
	return executor.NewCallbackGroup(kind, autoAdd)
}

// CreateClient creates a client for service whose responses are delivered to
// group.
func (n *Node) CreateClient(service string, profile qos.Profile, group *executor.CallbackGroup) (*client.Client, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.OK() {
		return nil, ErrShutdown
	}

	c, err := client.New(service, profile, group, client.Config{
		Registry:    n.registry,
		Balancer:    n.balancer,
		Codec:       n.codec,
		PoolSize:    n.poolSize,
		Heartbeat:   n.heartbeat,
		DialTimeout: n.dialTimeout,
		Logger:      n.logger,
	})
	if err != nil {
		return nil, err
	}
	n.clients = append(n.clients, c)
	n.logger.Debug("client created", zap.String("service", service), zap.Stringer("qos", profile))
	return c, nil
}
