package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"conn-proxy/message"
	"conn-proxy/proxyerr"
)

// RateLimitMiddleware rejects calls beyond r per second with the given
// burst, using a token bucket. Rejected calls never reach the session.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				return message.ErrorResponse(req.Method, proxyerr.CodeRateLimited, "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
