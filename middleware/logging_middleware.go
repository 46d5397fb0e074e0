package middleware

import (
	"context"
	"log/slog"
	"time"

	"conn-proxy/message"
)

// LoggingMiddleware logs every call with its duration, and failures with
// their error code.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			duration := time.Since(start)
			if resp.Failed() {
				logger.Warn("call failed",
					"method", req.Method,
					"duration", duration,
					"code", resp.ErrorCode,
					"error", resp.Error,
				)
				return resp
			}
			logger.Info("call completed", "method", req.Method, "duration", duration)
			return resp
		}
	}
}
