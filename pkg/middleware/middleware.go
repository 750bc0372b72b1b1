package middleware

import (
	"context"

	"github.com/vango-dev/tether/pkg/protocol"
	"github.com/vango-dev/tether/pkg/server"
)

// Middleware wraps a server.Handler.
type Middleware func(next server.Handler) server.Handler

// Chain wraps h so that the first middleware runs outermost.
func Chain(h server.Handler, mws ...Middleware) server.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// call runs next, treating a nil handler as a no-op.
func call(ctx context.Context, next server.Handler, c *server.Context, msg protocol.AppMessage) error {
	if next == nil {
		return nil
	}
	return next.Process(ctx, c, msg)
}
