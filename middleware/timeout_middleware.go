package middleware

import (
	"context"
	"time"

	"svcrpc/message"
)

const ErrTextTimeout = "request timed out"

// TimeoutMiddleware answers with an error once timeout passes. The handler
// keeps running in the background but sees its ctx cancelled.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.RPCMessage, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return &message.RPCMessage{Service: req.Service, Error: ErrTextTimeout}
			}
		}
	}
}
