package client

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/tether/pkg/protocol"
)

// Router receives every backend message other than the readiness Pong.
// It is called from the connection's read loop and should not block.
type Router interface {
	Route(msg protocol.BackendMessage)
}

// RouterFunc adapts an ordinary function to the Router interface.
type RouterFunc func(msg protocol.BackendMessage)

// Route calls f(msg).
func (f RouterFunc) Route(msg protocol.BackendMessage) {
	f(msg)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithDialer sets the WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(m *Manager) {
		m.dialer = d
	}
}

// WithHeader sets extra headers sent with every upgrade request, such as
// Authorization.
func WithHeader(h http.Header) Option {
	return func(m *Manager) {
		m.header = h
	}
}

// OnReady registers fn to run each time a connection is confirmed ready.
func OnReady(fn func()) Option {
	return func(m *Manager) {
		m.onReady = fn
	}
}

// OnReconnect registers fn to run each time a reconnect is scheduled, with
// the delay before the next attempt.
func OnReconnect(fn func(delay time.Duration)) Option {
	return func(m *Manager) {
		m.onReconnect = fn
	}
}

// Manager presents one logical channel to the server over a socket that
// comes and goes.
//
// Until a connection exists, messages passed to Send are queued and
// ErrQueued is returned. Once a connection exists they go to its outbox and
// Send returns nil; the queued messages are written first, in order. A
// connection is ready once the server answered its Ping probe with Pong.
type Manager struct {
	config Config
	router Router
	dialer *websocket.Dialer
	header http.Header
	logger *slog.Logger

	onReady     func()
	onReconnect func(time.Duration)

	mu      sync.Mutex
	queue   []protocol.AppMessage // Pending messages while conn is nil
	conn    *Connection
	backoff Backoff
	timer   *time.Timer
	gen     uint64 // Identifies the scheduled attempt
	ready   bool
	readyCh chan struct{}
	started bool
	closed  bool

	wg sync.WaitGroup
}

// NewManager creates a Manager for cfg. It does not connect until Start.
// Unset config fields take their defaults.
func NewManager(cfg Config, router Router, opts ...Option) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		config:  cfg,
		router:  router,
		dialer:  websocket.DefaultDialer,
		readyCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "client")
	m.backoff = NewBackoff(cfg.InitialBackoff, cfg.BackoffMultiplier)
	m.backoff.Max = cfg.MaxBackoff

	if err := cfg.Validate(); err != nil {
		m.logger.Error("config validation failed", "error", err)
	}
	return m
}

// Start schedules the first connection attempt after the initial backoff.
// Calling Start more than once has no effect.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.closed {
		return
	}
	m.started = true
	m.scheduleLocked()
}

// Send passes msg to the server.
//
// It returns nil when msg was handed to a live connection, ErrQueued when
// no connection exists yet and msg was queued, and ErrSendFailed when the
// connection rejected msg because it is being torn down. ErrSendFailed
// also triggers an immediate reconnect.
func (m *Manager) Send(msg protocol.AppMessage) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrSendFailed
	}
	c := m.conn
	if c == nil {
		m.queue = append(m.queue, msg)
		m.mu.Unlock()
		return ErrQueued
	}
	m.mu.Unlock()

	if !c.outbox.push(msg) {
		m.logger.Warn("connection rejected message", "kind", msg.Kind())
		m.reconnect(c, true)
		return ErrSendFailed
	}
	return nil
}

// Ready returns a channel closed once the current connection is ready.
// After a reconnect a new channel is returned.
func (m *Manager) Ready() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readyCh
}

// IsReady reports whether the current connection is ready.
func (m *Manager) IsReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// Queued returns the number of messages waiting for a connection.
func (m *Manager) Queued() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Close tears down the current connection with a normal close frame and
// waits for its goroutines. Messages still queued are dropped.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	c := m.conn
	m.conn = nil
	m.mu.Unlock()

	if c != nil {
		c.outbox.close()
		c.close(true)
	}
	m.wg.Wait()
}

// scheduleLocked arranges a connection attempt after the current backoff
// and then grows the backoff, whether or not the attempt will succeed.
func (m *Manager) scheduleLocked() time.Duration {
	delay := m.backoff.Delay()
	m.gen++
	gen := m.gen
	m.timer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed || m.conn != nil || m.gen != gen {
			return
		}
		m.timer = nil
		m.connectLocked()
	})
	m.backoff.Increase()
	m.logger.Debug("scheduled connection attempt", "delay", delay, "next_delay", m.backoff.Delay())
	return delay
}

// connectLocked replaces the Uninitialized state with a new connection
// carrying the queued messages.
func (m *Manager) connectLocked() {
	c := newConnection(m, m.queue)
	m.queue = nil
	m.conn = c

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		c.run()
	}()
}

// reconnect handles the failure of c. The manager returns to Uninitialized
// with c's undelivered messages ahead of anything queued since, then
// either schedules a new attempt after the backoff or, with now set,
// connects immediately. Reports from connections that were already
// replaced are ignored.
func (m *Manager) reconnect(c *Connection, now bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	var stale *Connection
	switch {
	case m.conn == c:
		stale = c
		m.conn = nil
		pending := carryOver(c.outbox.close())
		m.queue = append(pending, m.queue...)
		if m.ready {
			m.ready = false
			m.readyCh = make(chan struct{})
		}
	case !now || m.conn != nil:
		m.mu.Unlock()
		return
	}

	var delay time.Duration
	if now {
		if m.timer != nil {
			m.timer.Stop()
			m.timer = nil
		}
		m.gen++
		m.connectLocked()
		m.logger.Info("reconnecting now")
	} else {
		delay = m.scheduleLocked()
		m.logger.Info("reconnecting", "delay", delay, "queued", len(m.queue))
	}
	onReconnect := m.onReconnect
	m.mu.Unlock()

	if stale != nil {
		stale.close(false)
	}
	if onReconnect != nil {
		onReconnect(delay)
	}
}

// markReady records the readiness acknowledgment of c and resets the
// backoff.
func (m *Manager) markReady(c *Connection) {
	m.mu.Lock()
	if m.conn != c || m.closed {
		m.mu.Unlock()
		return
	}
	m.backoff.Reset()
	wasReady := m.ready
	if !m.ready {
		m.ready = true
		close(m.readyCh)
	}
	onReady := m.onReady
	m.mu.Unlock()

	if wasReady {
		return
	}
	m.logger.Info("connection ready")
	if onReady != nil {
		onReady()
	}
}
