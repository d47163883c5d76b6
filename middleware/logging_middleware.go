package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"svcrpc/message"
)

func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) *message.RPCMessage {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.String("service", req.Service),
				zap.Duration("duration", time.Since(start)),
			}
			if resp.Failed() {
				logger.Warn("service call failed", append(fields, zap.String("error", resp.Error))...)
			} else {
				logger.Debug("service call handled", fields...)
			}
			return resp
		}
	}
}
