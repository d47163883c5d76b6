// Package serviceclient turns the asynchronous request/response client of a
// node into blocking calls.
//
// A ServiceClient owns a private callback group and a single-threaded executor
// bound to it. The goroutine that calls Invoke spins that executor until its
// response arrives, so response handling happens on the caller's goroutine and
// nothing else in the process needs to be spinning. Calls wait for the service
// to be discovered first, polling once a second until it appears or the node
// shuts down.
//
// The node passed to New must outlive the ServiceClient.
package serviceclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"svcrpc/client"
	"svcrpc/executor"
	"svcrpc/message"
	"svcrpc/node"
	"svcrpc/qos"
)

// discoveryPoll is how long each availability wait lasts before the node is
// checked again.
const discoveryPoll = time.Second

// ServiceClient makes blocking calls to one named service on behalf of a
// node. Req and Resp are JSON-encoded on the wire. It is safe for concurrent
// use; each caller spins the shared executor until its own response arrives.
type ServiceClient[Req, Resp any] struct {
	name   string
	node   *node.Node
	group  *executor.CallbackGroup
	exec   *executor.SingleThreadedExecutor
	client *client.Client
	logger *zap.Logger
}

// New creates a client of serviceName on n.
func New[Req, Resp any](serviceName string, n *node.Node) (*ServiceClient[Req, Resp], error) {
	if n == nil {
		return nil, errors.New("serviceclient: nil node")
	}

	group := n.CreateCallbackGroup(executor.MutuallyExclusive, false)
	exec := executor.NewSingleThreadedExecutor()
	if err := exec.AddCallbackGroup(group, n.Name()); err != nil {
		return nil, err
	}

	c, err := n.CreateClient(serviceName, qos.Services(), group)
	if err != nil {
		exec.RemoveCallbackGroup(group)
		return nil, fmt.Errorf("serviceclient: %s: %w", serviceName, err)
	}

	return &ServiceClient[Req, Resp]{
		name:   serviceName,
		node:   n,
		group:  group,
		exec:   exec,
		client: c,
		logger: n.Logger().With(zap.String("service", serviceName)),
	}, nil
}

func (c *ServiceClient[Req, Resp]) ServiceName() string {
	return c.name
}

// WaitForService blocks until the service is available, timeout passes or ctx
// is done. A negative timeout waits without limit.
func (c *ServiceClient[Req, Resp]) WaitForService(ctx context.Context, timeout time.Duration) bool {
	return c.client.WaitForService(ctx, timeout)
}

// Result is the outcome of Call. Response is nil when the call failed or the
// service answered with no value.
type Result[Resp any] struct {
	Response *Resp
	Kind     Kind
	Cause    error

	service string
}

// Err returns nil for a successful call and an *Error otherwise.
func (r Result[Resp]) Err() error {
	if r.Kind == KindNone {
		return nil
	}
	return &Error{Service: r.service, Kind: r.Kind, Cause: r.Cause}
}

// Call waits for the service, sends req and spins until the response arrives,
// timeout passes or ctx is done. A negative timeout (executor.Forever) waits
// without limit. Node shutdown cancels the call.
//
// An abandoned request is always removed from the client's pending set before
// Call returns; a response arriving later is discarded.
func (c *ServiceClient[Req, Resp]) Call(ctx context.Context, req *Req, timeout time.Duration) Result[Resp] {
	ctx, cancel := c.withNode(ctx)
	defer cancel()

	for !c.client.WaitForService(ctx, discoveryPoll) {
		if !c.node.OK() || ctx.Err() != nil {
			return c.fail(KindInterrupted, context.Cause(ctx))
		}
		c.logger.Info("waiting for service to appear...")
	}

	c.logger.Debug("send async request")
	fut, err := c.client.AsyncSendRequest(ctx, req)
	if err != nil {
		return c.fail(KindRequestFailed, err)
	}

	if rc := c.exec.SpinUntilFutureComplete(ctx, fut, timeout); rc != executor.Success {
		c.client.RemovePendingRequest(fut)
		return c.fail(KindRequestFailed, fmt.Errorf("spin: %s", rc))
	}

	// Completed, so Get does not block.
	payload, err := fut.Get(context.Background())
	if err != nil {
		c.client.RemovePendingRequest(fut)
		return c.fail(KindRequestFailed, err)
	}

	result := Result[Resp]{service: c.name}
	if (&message.RPCMessage{Payload: payload}).IsNull() {
		return result
	}
	resp := new(Resp)
	if err := json.Unmarshal(payload, resp); err != nil {
		return c.fail(KindRequestFailed, fmt.Errorf("decode response: %w", err))
	}
	result.Response = resp
	return result
}

// Invoke sends req and returns the response. The error is an *Error of kind
// KindInterrupted if the node shut down while waiting for the service, and
// KindRequestFailed if no response arrived within timeout.
func (c *ServiceClient[Req, Resp]) Invoke(ctx context.Context, req *Req, timeout time.Duration) (*Resp, error) {
	r := c.Call(ctx, req, timeout)
	return r.Response, r.Err()
}

// InvokeInto sends req, stores the response in resp and reports whether a
// non-null response was received. A failed request reports false with a nil
// error; only an interrupted wait for the service is an error.
//
// InvokeInto has no timeout. It returns when the response arrives, ctx is done
// or the node shuts down.
func (c *ServiceClient[Req, Resp]) InvokeInto(ctx context.Context, req *Req, resp *Resp) (bool, error) {
	r := c.Call(ctx, req, executor.Forever)
	switch r.Kind {
	case KindInterrupted:
		return false, r.Err()
	case KindRequestFailed:
		c.logger.Debug("request failed", zap.Error(r.Cause))
		return false, nil
	}
	if r.Response == nil || resp == nil {
		return false, nil
	}
	*resp = *r.Response
	return true, nil
}

func (c *ServiceClient[Req, Resp]) fail(kind Kind, cause error) Result[Resp] {
	return Result[Resp]{Kind: kind, Cause: cause, service: c.name}
}

// withNode derives a context that is also cancelled when the node shuts down.
func (c *ServiceClient[Req, Resp]) withNode(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(c.node.Context(), func() { cancel(node.ErrShutdown) })
	return ctx, func() {
		stop()
		cancel(nil)
	}
}
