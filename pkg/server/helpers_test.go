package server

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/tether/pkg/protocol"
)

// mockConn records everything an actor writes.
type mockConn struct {
	mu         sync.Mutex
	frames     [][]byte
	pings      int
	closeFrame []byte
	closed     bool

	written  chan []byte
	closedCh chan struct{}
}

func newMockConn() *mockConn {
	return &mockConn{
		written:  make(chan []byte, 64),
		closedCh: make(chan struct{}),
	}
}

func (c *mockConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	frame := append([]byte(nil), data...)
	c.frames = append(c.frames, frame)
	select {
	case c.written <- frame:
	default:
	}
	return nil
}

func (c *mockConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	switch messageType {
	case websocket.PingMessage:
		c.pings++
	case websocket.CloseMessage:
		c.closeFrame = append([]byte(nil), data...)
	}
	return nil
}

func (c *mockConn) SetWriteDeadline(time.Time) error { return nil }

func (c *mockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.closedCh)
	}
	return nil
}

// closeCode returns the status code of the close frame, or 0.
func (c *mockConn) closeCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.closeFrame) < 2 {
		return 0
	}
	return int(binary.BigEndian.Uint16(c.closeFrame))
}

func (c *mockConn) pingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

// nextBackend waits for the next binary frame and decodes it.
func (c *mockConn) nextBackend(t *testing.T) protocol.BackendMessage {
	t.Helper()
	select {
	case frame := <-c.written:
		msg, err := protocol.DecodeBackendMessage(frame)
		if err != nil {
			t.Fatalf("DecodeBackendMessage() error: %v", err)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}

// mockReader feeds frames to forwardFrames.
type mockReader struct {
	frames chan mockFrame
	pong   func(string) error
}

type mockFrame struct {
	messageType int
	data        []byte
	pong        string
	err         error
}

func newMockReader() *mockReader {
	return &mockReader{frames: make(chan mockFrame, 16)}
}

func (r *mockReader) SetPongHandler(h func(string) error) {
	r.pong = h
}

func (r *mockReader) ReadMessage() (int, []byte, error) {
	for {
		f, ok := <-r.frames
		if !ok {
			return 0, nil, io.ErrUnexpectedEOF
		}
		if f.pong != "" {
			if err := r.pong(f.pong); err != nil {
				return 0, nil, err
			}
			continue
		}
		return f.messageType, f.data, f.err
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastSessionConfig() *SessionConfig {
	return &SessionConfig{
		PingInterval:           10 * time.Millisecond,
		PongTimeout:            60 * time.Millisecond,
		WriteTimeout:           time.Second,
		TerminationGracePeriod: 30 * time.Millisecond,
		MaxMessageSize:         4096,
	}
}

func newTestRegistry(config *SessionConfig, h Handler) *Registry {
	return NewRegistry(config, h, testLogger(), nil)
}

func waitDone(t *testing.T, h *ActorHandle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("actor %d did not terminate", h.ClientID())
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// blockingHandler parks in Process until released or cancelled.
type blockingHandler struct {
	entered chan struct{}
	release chan struct{}
}

func newBlockingHandler() *blockingHandler {
	return &blockingHandler{
		entered: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
}

func (h *blockingHandler) Process(ctx context.Context, c *Context, msg protocol.AppMessage) error {
	h.entered <- struct{}{}
	select {
	case <-h.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var errBoom = errors.New("boom")
