// Package kit holds the transport-agnostic service plumbing shared by the
// capture engine: the Endpoint abstraction, middleware chaining, context
// keys, and MCP tool registration.
package kit

import "context"

// Endpoint is a transport-agnostic service function.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behaviour.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares; the first argument is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
