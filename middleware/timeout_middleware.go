package middleware

import (
	"context"
	"time"

	"conn-proxy/message"
	"conn-proxy/proxyerr"
)

// TimeoutMiddleware puts a deadline of timeout() on the handler's context.
// The handler runs on the calling goroutine, so calls stay serialized; a
// handler that observes the deadline must return by itself. If it returns
// nothing after the deadline passed, a connection failure is reported.
func TimeoutMiddleware(timeout func() time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			d := timeout()
			if d <= 0 {
				return next(ctx, req)
			}
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			resp := next(ctx, req)
			if resp == nil && ctx.Err() != nil {
				return message.ErrorResponse(req.Method, proxyerr.CodeConnectionFailure, "request timed out")
			}
			return resp
		}
	}
}
