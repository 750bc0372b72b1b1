package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vango-dev/tether/pkg/protocol"
)

// ClientID identifies one admitted connection. IDs come from a 64-bit
// process-wide counter and are never reused while the process runs.
type ClientID uint64

// AccountID identifies an authenticated account.
type AccountID = uuid.UUID

// Conn is the write side of a WebSocket connection owned by an actor.
// *websocket.Conn satisfies it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Handler processes domain messages for one actor. It runs on the actor's
// event loop; responses are sent through c.Send. A returned error ends the
// actor with an Error close reason.
type Handler interface {
	Process(ctx context.Context, c *Context, msg protocol.AppMessage) error
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(ctx context.Context, c *Context, msg protocol.AppMessage) error

// Process calls f(ctx, c, msg).
func (f HandlerFunc) Process(ctx context.Context, c *Context, msg protocol.AppMessage) error {
	return f(ctx, c, msg)
}

// Context is the actor state a Handler may use.
type Context struct {
	ClientID ClientID
	Account  *AccountID

	conn         Conn
	mu           sync.Mutex // Protects conn writes
	writeTimeout time.Duration
	logger       *slog.Logger
	metrics      *Metrics
	keepAlive    func()
}

// Send encodes msg and writes it to the client socket.
func (c *Context) Send(msg protocol.BackendMessage) error {
	payload := protocol.EncodeBackendMessage(msg)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return NewSessionError(c.ClientID, "send "+msg.Kind().String(), err)
	}
	c.logger.Debug("→", "kind", msg.Kind())
	c.metrics.messageSent(msg.Kind())
	return nil
}

// KeepAlive counts as a liveness signal for this actor. It never blocks.
func (c *Context) KeepAlive() {
	if c.keepAlive != nil {
		c.keepAlive()
	}
}

// Logger returns the actor-scoped logger.
func (c *Context) Logger() *slog.Logger {
	return c.logger
}
