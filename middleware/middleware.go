// Package middleware wraps endpoint handlers. Middlewares compose in the
// order given to Chain: the first one sees the request first and the
// response last.
package middleware

import (
	"context"

	"conn-proxy/message"
)

// HandlerFunc handles one request. It always returns a response; failures
// are carried in Response.Error.
type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines middlewares into one.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
