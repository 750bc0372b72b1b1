package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/tether/pkg/protocol"
)

// Connection is one attempt at a socket to the server. It is created by the
// Manager and reports its own failure back to it; it never reconnects by
// itself.
type Connection struct {
	m      *Manager
	outbox *outbox
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu     sync.Mutex // Protects ws and closed
	ws     *websocket.Conn
	closed bool

	wg sync.WaitGroup
}

func newConnection(m *Manager, queued []protocol.AppMessage) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		m:      m,
		outbox: newOutbox(queued),
		ctx:    ctx,
		cancel: cancel,
		logger: m.logger,
	}
}

// run dials, sends the readiness probe and then drains the outbox until
// the connection fails or is closed.
func (c *Connection) run() {
	defer c.wg.Wait()

	c.logger.Info("initializing websocket connection", "url", c.m.config.URL)
	dialCtx, cancel := context.WithTimeout(c.ctx, c.m.config.HeartbeatTimeout)
	ws, _, err := c.m.dialer.DialContext(dialCtx, c.m.config.URL, c.m.header)
	cancel()
	if err != nil {
		c.logger.Error("failed to connect to server", "error", err)
		c.m.reconnect(c, false)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ws.Close()
		return
	}
	c.ws = ws
	c.mu.Unlock()

	if err := c.write(protocol.Ping{}); err != nil {
		c.logger.Error("failed to send readiness probe", "error", err)
		c.m.reconnect(c, false)
		return
	}
	c.logger.Debug("ping")

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.readLoop()
	}()
	go func() {
		defer c.wg.Done()
		c.heartbeatLoop()
	}()

	c.drainLoop()
}

func (c *Connection) drainLoop() {
	for {
		msg, ok := c.outbox.next(c.ctx)
		if !ok {
			return
		}
		if err := c.write(msg); err != nil {
			c.logger.Error("failed to send message to server", "kind", msg.Kind(), "error", err)
			c.outbox.pushFront(msg)
			c.m.reconnect(c, false)
			return
		}
		if _, ok := msg.(protocol.Heartbeat); !ok {
			c.logger.Debug("→", "kind", msg.Kind())
		}
	}
}

func (c *Connection) readLoop() {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Info("connection lost", "error", err)
			}
			c.m.reconnect(c, false)
			return
		}
		if mt != websocket.BinaryMessage {
			c.logger.Warn("ignoring non-binary frame", "type", mt)
			continue
		}

		msg, err := protocol.DecodeBackendMessage(data)
		if err != nil {
			c.logger.Error("failed to decode server message", "error", err)
			continue
		}
		c.logger.Debug("←", "kind", msg.Kind())

		if _, ok := msg.(protocol.Pong); ok {
			c.m.markReady(c)
			continue
		}
		if c.m.router != nil {
			c.m.router.Route(msg)
		}
	}
}

func (c *Connection) heartbeatLoop() {
	ticker := time.NewTicker(c.m.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if !c.outbox.push(protocol.Heartbeat{}) {
				c.logger.Debug("failed to send heartbeat")
				return
			}
		}
	}
}

// write is only called from the goroutine running run, so frames never
// interleave.
func (c *Connection) write(msg protocol.AppMessage) error {
	c.ws.SetWriteDeadline(time.Now().Add(c.m.config.HeartbeatTimeout))
	return c.ws.WriteMessage(websocket.BinaryMessage, protocol.EncodeAppMessage(msg))
}

// teardown stops the connection and returns the messages it never sent.
func (c *Connection) teardown() []protocol.AppMessage {
	pending := c.outbox.close()
	c.close(false)
	return pending
}

// close stops every loop of the connection. With graceful set, a normal
// close frame is sent first.
func (c *Connection) close(graceful bool) {
	c.cancel()

	c.mu.Lock()
	ws := c.ws
	c.closed = true
	c.mu.Unlock()

	if ws == nil {
		return
	}
	if graceful {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	ws.Close()
}
