// Package registry maps service names to the server instances hosting them.
package registry

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("registry: closed")

// ServiceInstance is one server currently hosting a service.
type ServiceInstance struct {
	ID      string `json:"id"`
	Addr    string `json:"addr"`
	Weight  int    `json:"weight"` // load balancing weight, <= 0 counts as 1
	Version string `json:"version,omitempty"`
}

type Registry interface {
	// Register publishes instance under serviceName for ttl seconds, renewed
	// until Deregister or Close.
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, instanceID string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	// Watch emits the full instance list after every change until ctx is done.
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
	Close() error
}
