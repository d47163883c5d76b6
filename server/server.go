// Package server hosts named services with a middleware chain, parallel
// request processing, registry registration and graceful shutdown.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → for each request: go handleRequest
//	    → Codec.Decode → Middleware Chain → dispatch → Codec.Encode → write response
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"svcrpc/codec"
	"svcrpc/message"
	"svcrpc/middleware"
	"svcrpc/protocol"
	"svcrpc/registry"
)

const defaultTTL = 10 // seconds

type Server struct {
	mu       sync.RWMutex
	services map[string]*service

	listener net.Listener
	conns    map[net.Conn]struct{} // guarded by mu
	wg       sync.WaitGroup        // in-flight requests; Add under mu
	readers  sync.WaitGroup        // handleConn goroutines; Add under mu
	shutdown atomic.Bool           // set under mu

	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc

	registry registry.Registry // nil when not serving with discovery
	instance registry.ServiceInstance
	ttl      int64
	logger   *zap.Logger
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithTTL sets the registry lease TTL in seconds.
func WithTTL(ttl int64) Option {
	return func(s *Server) { s.ttl = ttl }
}

func WithWeight(weight int) Option {
	return func(s *Server) { s.instance.Weight = weight }
}

func WithVersion(version string) Option {
	return func(s *Server) { s.instance.Version = version }
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		services: make(map[string]*service),
		conns:    make(map[net.Conn]struct{}),
		ttl:      defaultTTL,
		logger:   zap.NewNop(),
		instance: registry.ServiceInstance{ID: uuid.NewString()},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle hosts h under name. Services added while serving are registered
// right away.
func (s *Server) Handle(name string, h ServiceHandler) error {
	if name == "" {
		return ErrEmptyName
	}

	s.mu.Lock()
	if _, ok := s.services[name]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrServiceExists, name)
	}
	s.services[name] = &service{name: name, handle: h}
	reg := s.registry
	if s.shutdown.Load() {
		reg = nil
	}
	s.mu.Unlock()

	if reg != nil {
		return s.register(reg, name)
	}
	return nil
}

// Use appends a middleware. Middlewares must be added before Serve.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Serve listens on address and serves until Shutdown. advertiseAddr is the
// routable address published in reg; pass nil reg to skip discovery.
func (s *Server) Serve(network, address string, advertiseAddr string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return s.ServeListener(listener, advertiseAddr, reg)
}

// ServeListener serves on an existing listener. An empty advertiseAddr
// publishes the listener's own address.
func (s *Server) ServeListener(listener net.Listener, advertiseAddr string, reg registry.Registry) error {
	// Build the chain once, not per request.
	s.handler = middleware.Chain(s.middlewares...)(s.dispatch)

	if advertiseAddr == "" {
		advertiseAddr = listener.Addr().String()
	}

	// Shutdown sets the flag under mu, so it either sees this listener or
	// this check sees the flag.
	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		return listener.Close()
	}
	s.listener = listener
	s.instance.Addr = advertiseAddr
	s.registry = reg
	names := make([]string, 0, len(s.services))
	for name := range s.services {
		names = append(names, name)
	}
	s.mu.Unlock()

	if reg != nil {
		for _, name := range names {
			if err := s.register(reg, name); err != nil {
				listener.Close()
				return err
			}
		}
		// A Shutdown that ran during registration may have deregistered
		// before these entries were written.
		if s.shutdown.Load() {
			s.deregister(reg, names, time.Second)
		}
	}

	s.logger.Info("serving", zap.String("addr", advertiseAddr), zap.Strings("services", names))

	for {
		conn, err := listener.Accept()
		if err != nil {
			// Shutdown closes the listener; that Accept error is expected.
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		s.mu.Lock()
		if s.shutdown.Load() {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.conns[conn] = struct{}{}
		s.readers.Add(1)
		s.mu.Unlock()
		go s.handleConn(conn)
	}
}

// Addr returns the listener address, or nil before serving.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) register(reg registry.Registry, name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.mu.RLock()
	inst := s.instance
	s.mu.RUnlock()

	if err := reg.Register(ctx, name, inst, s.ttl); err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	s.logger.Debug("service registered", zap.String("service", name), zap.String("id", inst.ID))
	return nil
}

func (s *Server) deregister(reg registry.Registry, names []string, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.mu.RLock()
	id := s.instance.ID
	s.mu.RUnlock()

	for _, name := range names {
		if err := reg.Deregister(ctx, name, id); err != nil {
			s.logger.Warn("deregister failed", zap.String("service", name), zap.Error(err))
		}
	}
}

// handleConn reads frames sequentially and handles each request in its own
// goroutine. writeMu keeps response frames from interleaving.
func (s *Server) handleConn(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
		s.readers.Done()
	}()

	writeMu := &sync.Mutex{}
	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			return
		}
		if header.MsgType != protocol.MsgTypeRequest {
			continue
		}

		// Add under mu so it never races the Wait in Shutdown. The
		// connection stays open so earlier requests can still answer.
		s.mu.Lock()
		if s.shutdown.Load() {
			s.mu.Unlock()
			s.reject(header, body, conn, writeMu)
			continue
		}
		s.wg.Add(1)
		s.mu.Unlock()
		go s.handleRequest(header, body, conn, writeMu)
	}
}

func (s *Server) handleRequest(header *protocol.Header, body []byte, conn net.Conn, writeMu *sync.Mutex) {
	defer s.wg.Done()

	c := codec.GetCodec(codec.CodecType(header.CodecType))
	var resp *message.RPCMessage
	req := &message.RPCMessage{}
	if err := c.Decode(body, req); err != nil {
		resp = &message.RPCMessage{Error: err.Error()}
	} else {
		resp = s.handler(context.Background(), req)
	}

	s.reply(header, resp, conn, writeMu)
}

// reject answers a request that arrived after Shutdown began.
func (s *Server) reject(header *protocol.Header, body []byte, conn net.Conn, writeMu *sync.Mutex) {
	req := &message.RPCMessage{}
	codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, req)
	s.reply(header, &message.RPCMessage{Service: req.Service, Error: ErrShuttingDown.Error()}, conn, writeMu)
}

func (s *Server) reply(header *protocol.Header, resp *message.RPCMessage, conn net.Conn, writeMu *sync.Mutex) {
	result, err := codec.GetCodec(codec.CodecType(header.CodecType)).Encode(resp)
	if err != nil {
		s.logger.Error("encode response failed", zap.String("service", resp.Service), zap.Error(err))
		return
	}

	replyHeader := protocol.Header{
		CodecType: header.CodecType,
		MsgType:   protocol.MsgTypeResponse,
		Seq:       header.Seq,
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	if err := protocol.Encode(conn, &replyHeader, result); err != nil {
		s.logger.Warn("write response failed", zap.String("service", resp.Service), zap.Error(err))
	}
}

// dispatch is the innermost handler of the middleware chain.
func (s *Server) dispatch(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
	s.mu.RLock()
	svc, ok := s.services[req.Service]
	s.mu.RUnlock()

	resp := &message.RPCMessage{Service: req.Service}
	if !ok {
		resp.Error = fmt.Sprintf("%v: %s", ErrServiceNotFound, req.Service)
		return resp
	}

	payload, err := svc.handle(ctx, req.Payload)
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	resp.Payload = payload
	return resp
}

// Shutdown stops the server gracefully:
//  1. stop taking new connections and requests
//  2. deregister every service so clients stop discovering it
//  3. close the listener
//  4. wait for in-flight requests, up to timeout
//  5. close remaining connections and wait for their readers
func (s *Server) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	s.shutdown.Store(true)
	reg := s.registry
	names := make([]string, 0, len(s.services))
	for name := range s.services {
		names = append(names, name)
	}
	listener := s.listener
	s.mu.Unlock()

	if reg != nil {
		s.deregister(reg, names, timeout)
	}
	if listener != nil {
		listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = errors.New("server: timeout waiting for in-flight requests")
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.readers.Wait()
	return err
}
