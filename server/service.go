package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrServiceExists   = errors.New("server: service already registered")
	ErrServiceNotFound = errors.New("server: service not found")
	ErrEmptyName       = errors.New("server: empty service name")
	ErrShuttingDown    = errors.New("server: shutting down")
)

// ServiceHandler answers one request payload with one response payload.
type ServiceHandler func(ctx context.Context, payload []byte) ([]byte, error)

type service struct {
	name   string
	handle ServiceHandler
}

// Register hosts a typed service. Requests are JSON-decoded into a fresh Req
// and the returned *Resp is JSON-encoded; a nil *Resp is sent as null.
func Register[Req, Resp any](s *Server, name string, fn func(ctx context.Context, req *Req) (*Resp, error)) error {
	return s.Handle(name, func(ctx context.Context, payload []byte) ([]byte, error) {
		req := new(Req)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, req); err != nil {
				return nil, fmt.Errorf("decode request: %w", err)
			}
		}
		resp, err := fn(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	})
}
