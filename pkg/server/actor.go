package server

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/tether/pkg/protocol"
	"golang.org/x/sync/errgroup"
)

// ActorState is the lifecycle state of an actor.
type ActorState int32

const (
	ActorRunning     ActorState = iota // Admitted and processing events
	ActorTerminating                   // A loop ended; closing the socket
	ActorClosed                        // Socket closed, permit released
)

// String returns the string representation of the state.
func (s ActorState) String() string {
	switch s {
	case ActorRunning:
		return "Running"
	case ActorTerminating:
		return "Terminating"
	case ActorClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

type eventKind uint8

const (
	eventApp       eventKind = iota // Inbound app message for the handler
	eventBackend                    // Outbound backend message for the socket
	eventTerminate                  // Stop the event loop cleanly
)

// event is the unit consumed by an actor's event loop. Liveness signals
// travel on their own channel.
type event struct {
	kind    eventKind
	app     protocol.AppMessage
	backend protocol.BackendMessage
}

// senderRefs is the number of parties holding the event channel open: the
// registry entry and the inbound forwarder. When both let go the actor sees
// a hangup, the same as a closed channel.
const senderRefs = 2

// actor owns the state of one session. Only its own goroutines touch it;
// everybody else goes through ActorHandle or ActorSender.
type actor struct {
	ctx      *Context
	events   chan event
	liveness chan struct{}

	hangup     chan struct{}
	hangupOnce sync.Once
	refs       atomic.Int32

	done   chan struct{}
	cancel context.CancelFunc
	state  atomic.Int32
	reason protocol.CloseReason // valid once done is closed

	conn     Conn
	permit   *Permit
	registry *Registry
	handler  Handler
	config   *SessionConfig
	logger   *slog.Logger
	metrics  *Metrics
}

func newActor(id ClientID, conn Conn, account *AccountID, permit *Permit, r *Registry) *actor {
	logger := r.logger.With("client_id", id)
	a := &actor{
		events:   make(chan event, 1),
		liveness: make(chan struct{}, 1),
		hangup:   make(chan struct{}),
		done:     make(chan struct{}),
		conn:     conn,
		permit:   permit,
		registry: r,
		handler:  r.handler,
		config:   r.config,
		logger:   logger,
		metrics:  r.metrics,
	}
	a.refs.Store(senderRefs)
	a.ctx = &Context{
		ClientID:     id,
		Account:      account,
		conn:         conn,
		writeTimeout: r.config.WriteTimeout,
		logger:       logger,
		metrics:      r.metrics,
		keepAlive:    a.signalLiveness,
	}
	return a
}

func (a *actor) id() ClientID {
	return a.ctx.ClientID
}

// run drives the actor until one of its loops ends, then closes the socket,
// removes the registry entry and releases the permit. Every exit path,
// including a panic, goes through the same cleanup.
// ctx must be the context whose cancel func is a.cancel.
func (a *actor) run(ctx context.Context) {
	defer a.cancel()

	reason := protocol.ErrorClose(ErrAborted)
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("actor panic", "panic", r, "stack", string(debug.Stack()))
			reason = protocol.ErrorClose(fmt.Errorf("panic: %v", r))
		}
		a.finish(reason)
	}()

	reason = a.loop(ctx)
}

func (a *actor) loop(parent context.Context) protocol.CloseReason {
	g, gctx := errgroup.WithContext(parent)
	ctx, cancel := context.WithCancel(gctx)
	defer cancel()

	// The first of the two loops to return wins; cancel stops the other.
	g.Go(func() error {
		defer cancel()
		return a.livenessLoop(ctx)
	})
	g.Go(func() error {
		defer cancel()
		return a.eventLoop(ctx)
	})
	g.Go(func() error {
		a.pingLoop(ctx)
		return nil
	})

	err := g.Wait()
	switch {
	case parent.Err() != nil:
		return protocol.ErrorClose(ErrAborted)
	case err != nil:
		a.logger.Debug("actor loop ended", "error", err)
		return protocol.ErrorClose(err)
	default:
		return protocol.NormalClose()
	}
}

func (a *actor) finish(reason protocol.CloseReason) {
	a.state.Store(int32(ActorTerminating))
	a.closeConn(reason)
	a.reason = reason
	a.registry.removeActor(a)
	a.permit.Release()
	a.state.Store(int32(ActorClosed))
	a.metrics.sessionClosed(reason)
	close(a.done)

	a.logger.Debug("terminated", "reason", reason.Code, "description", reason.Description)
}

// eventLoop processes events until Terminate, hangup or cancellation.
func (a *actor) eventLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-a.hangup:
			// Events buffered before the last sender left are still delivered.
			for {
				select {
				case ev := <-a.events:
					if stop, err := a.handleEvent(ctx, ev); stop || err != nil {
						return err
					}
				default:
					return nil
				}
			}

		case ev := <-a.events:
			if stop, err := a.handleEvent(ctx, ev); stop || err != nil {
				return err
			}
		}
	}
}

func (a *actor) handleEvent(ctx context.Context, ev event) (stop bool, err error) {
	switch ev.kind {
	case eventApp:
		return false, a.process(ctx, ev.app)
	case eventBackend:
		return false, a.ctx.Send(ev.backend)
	case eventTerminate:
		return true, nil
	default:
		return false, fmt.Errorf("server: unknown event kind %d", ev.kind)
	}
}

// process answers the core protocol messages itself and hands everything
// else to the handler.
func (a *actor) process(ctx context.Context, msg protocol.AppMessage) (err error) {
	a.logger.Debug("←", "kind", msg.Kind())
	a.metrics.messageReceived(msg.Kind())

	switch msg.(type) {
	case protocol.Ping:
		return a.ctx.Send(protocol.Pong{})
	case protocol.Heartbeat:
		a.signalLiveness()
		return nil
	}

	if a.handler == nil {
		a.logger.Warn("no handler for message", "kind", msg.Kind())
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			a.logger.Error("handler panic", "kind", msg.Kind(), "panic", r, "stack", string(stack))
			err = &HandlerError{ClientID: a.id(), Kind: msg.Kind().String(), Panic: r, Stack: stack}
		}
	}()
	return a.handler.Process(ctx, a.ctx, msg)
}

// livenessLoop fails once no liveness signal arrived for PongTimeout.
func (a *actor) livenessLoop(ctx context.Context) error {
	timer := time.NewTimer(a.config.PongTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.liveness:
			timer.Reset(a.config.PongTimeout)
		case <-timer.C:
			a.metrics.livenessTimeout()
			return ErrLivenessTimeout
		}
	}
}

// pingLoop sends ping control frames until the actor stops or a write
// fails. A dead socket is then detected by the liveness loop.
func (a *actor) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(a.config.PingInterval)
	defer ticker.Stop()

	for {
		deadline := time.Now().Add(a.config.WriteTimeout)
		if err := a.conn.WriteControl(websocket.PingMessage, protocol.PingPayload, deadline); err != nil {
			a.logger.Debug("ping failed", "error", err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// signalLiveness never blocks: a pending signal already refreshes the timer.
func (a *actor) signalLiveness() {
	select {
	case a.liveness <- struct{}{}:
	default:
	}
}

// closeConn sends a close frame with reason and closes the socket.
func (a *actor) closeConn(reason protocol.CloseReason) {
	desc := reason.Description
	// Control frame payloads are limited to 125 bytes, two of which hold the code.
	if len(desc) > 123 {
		desc = desc[:123]
	}
	msg := websocket.FormatCloseMessage(reason.WebSocketCode(), desc)
	deadline := time.Now().Add(a.config.WriteTimeout)
	if err := a.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		a.logger.Debug("close frame failed", "error", err)
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Debug("close failed", "error", err)
	}
}

// abort stops the actor without waiting for it to drain its events. The
// socket is closed right away so blocked writes return.
func (a *actor) abort() {
	select {
	case <-a.done:
		return
	default:
	}
	a.logger.Debug("aborting actor")
	a.cancel()
	a.conn.Close()
}

// release drops one sender reference; the last one hangs the actor up.
func (a *actor) release() {
	if a.refs.Add(-1) <= 0 {
		a.hangupOnce.Do(func() { close(a.hangup) })
	}
}

func (a *actor) isDone() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// send blocks until the event loop has room for ev. The channel holds one
// event, so producers are throttled to the actor's consumption rate.
func (a *actor) send(ctx context.Context, ev event) error {
	if a.isDone() {
		return ErrTerminated
	}
	select {
	case a.events <- ev:
		return nil
	case <-a.done:
		return ErrTerminated
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActorHandle is the registry's view of a running actor. It is shared with
// anything that needs to push backend messages to the client.
type ActorHandle struct {
	a *actor
}

// ClientID returns the id of the client served by the actor.
func (h *ActorHandle) ClientID() ClientID {
	return h.a.id()
}

// Account returns the authenticated account, or nil.
func (h *ActorHandle) Account() *AccountID {
	return h.a.ctx.Account
}

// State returns the actor's lifecycle state.
func (h *ActorHandle) State() ActorState {
	return ActorState(h.a.state.Load())
}

// Done is closed once the actor has fully terminated.
func (h *ActorHandle) Done() <-chan struct{} {
	return h.a.done
}

// CloseReason returns the reason the socket was closed with. It is only
// meaningful after Done is closed.
func (h *ActorHandle) CloseReason() protocol.CloseReason {
	<-h.a.done
	return h.a.reason
}

// Send makes the actor write msg to the client. It blocks until the actor
// has capacity. If the actor is gone its registry entry is removed and
// ErrTerminated is returned.
func (h *ActorHandle) Send(ctx context.Context, msg protocol.BackendMessage) error {
	err := h.a.send(ctx, event{kind: eventBackend, backend: msg})
	if err == ErrTerminated {
		h.a.registry.removeActor(h.a)
	}
	return err
}

// Terminate asks the actor to stop after the events queued before it.
// Terminating an actor that is already gone returns ErrTerminated.
func (h *ActorHandle) Terminate(ctx context.Context) error {
	err := h.a.send(ctx, event{kind: eventTerminate})
	if err == ErrTerminated {
		h.a.registry.removeActor(h.a)
	}
	return err
}

// Abort stops the actor immediately.
func (h *ActorHandle) Abort() {
	h.a.abort()
}

// tryTerminate enqueues Terminate without blocking.
func (h *ActorHandle) tryTerminate() bool {
	if h.a.isDone() {
		return false
	}
	select {
	case h.a.events <- event{kind: eventTerminate}:
		return true
	default:
		return false
	}
}

// ActorSender is held by the inbound forwarder to pass client traffic to
// an actor.
type ActorSender struct {
	a    *actor
	once sync.Once
}

// ClientID returns the id of the client served by the actor.
func (s *ActorSender) ClientID() ClientID {
	return s.a.id()
}

// Send passes an app message to the actor, waiting until it has capacity.
func (s *ActorSender) Send(ctx context.Context, msg protocol.AppMessage) error {
	err := s.a.send(ctx, event{kind: eventApp, app: msg})
	if err == ErrTerminated {
		s.a.registry.removeActor(s.a)
	}
	return err
}

// SignalLiveness registers a liveness signal (a matching pong) from the
// client. It does not block.
func (s *ActorSender) SignalLiveness() error {
	if s.a.isDone() {
		s.a.registry.removeActor(s.a)
		return ErrTerminated
	}
	s.a.signalLiveness()
	return nil
}

// Close gives up this sender. Once the registry has also let go of the
// actor, its event loop ends.
func (s *ActorSender) Close() {
	s.once.Do(s.a.release)
}
