package middleware

import (
	"context"

	"github.com/vango-dev/tether/pkg/protocol"
	"github.com/vango-dev/tether/pkg/server"
)

// RequireAccount rejects messages from anonymous sessions with
// server.ErrUnauthorized, which ends the session.
func RequireAccount(next server.Handler) server.Handler {
	return server.HandlerFunc(func(ctx context.Context, c *server.Context, msg protocol.AppMessage) error {
		if c == nil || c.Account == nil {
			return server.ErrUnauthorized
		}
		return call(ctx, next, c, msg)
	})
}
