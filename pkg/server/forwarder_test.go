package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/tether/pkg/protocol"
)

func startForwarder(r *Registry, reader *mockReader, sender *ActorSender) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- forwardFrames(context.Background(), reader, sender, testLogger())
	}()
	return errCh
}

func waitErr(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("forwarder did not return")
		return nil
	}
}

func TestForwardFrames_DeliversAppMessages(t *testing.T) {
	r := newTestRegistry(quietSessionConfig(), nil)
	conn := newMockConn()
	sender := r.Spawn(1, conn, nil, nil)
	reader := newMockReader()
	errCh := startForwarder(r, reader, sender)

	reader.frames <- mockFrame{messageType: websocket.BinaryMessage, data: protocol.EncodeAppMessage(protocol.Ping{})}
	if msg := conn.nextBackend(t); msg != (protocol.Pong{}) {
		t.Fatalf("got %#v, want Pong", msg)
	}

	close(reader.frames)
	if err := waitErr(t, errCh); err == nil {
		t.Fatal("expected read error after stream end")
	}

	h, _ := r.Get(1)
	h.Abort()
	waitDone(t, h)
}

func TestForwardFrames_CloseFrameRemovesEntry(t *testing.T) {
	r := newTestRegistry(quietSessionConfig(), nil)
	sender := r.Spawn(1, newMockConn(), nil, nil)
	h, _ := r.Get(1)
	reader := newMockReader()
	errCh := startForwarder(r, reader, sender)

	reader.frames <- mockFrame{err: &websocket.CloseError{Code: websocket.CloseNormalClosure}}
	if err := waitErr(t, errCh); err != nil {
		t.Fatalf("forwardFrames() error: %v", err)
	}
	if _, ok := r.Get(1); ok {
		t.Fatal("close frame did not remove the registry entry")
	}

	// Registry and forwarder have both let go, so the actor hangs up.
	waitDone(t, h)
	if reason := h.CloseReason(); reason != protocol.NormalClose() {
		t.Fatalf("reason=%+v, want Normal", reason)
	}
}

func TestForwardFrames_DecodeErrorEndsForwarding(t *testing.T) {
	r := newTestRegistry(quietSessionConfig(), nil)
	sender := r.Spawn(9, newMockConn(), nil, nil)
	reader := newMockReader()
	errCh := startForwarder(r, reader, sender)

	reader.frames <- mockFrame{messageType: websocket.BinaryMessage, data: []byte{0xEE}}
	err := waitErr(t, errCh)

	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("forwardFrames() error=%v, want *DecodeError", err)
	}
	if decodeErr.ClientID != 9 || !errors.Is(err, protocol.ErrUnknownVariant) {
		t.Fatalf("DecodeError=%+v", decodeErr)
	}

	h, _ := r.Get(9)
	h.Abort()
	waitDone(t, h)
}

func TestForwardFrames_TextFrameEndsForwarding(t *testing.T) {
	r := newTestRegistry(quietSessionConfig(), nil)
	sender := r.Spawn(1, newMockConn(), nil, nil)
	reader := newMockReader()
	errCh := startForwarder(r, reader, sender)

	reader.frames <- mockFrame{messageType: websocket.TextMessage, data: []byte("hi")}
	if err := waitErr(t, errCh); !errors.Is(err, errUnexpectedFrame) {
		t.Fatalf("forwardFrames() error=%v, want errUnexpectedFrame", err)
	}

	h, _ := r.Get(1)
	h.Abort()
	waitDone(t, h)
}

func TestForwardFrames_PongKeepsActorAlive(t *testing.T) {
	r := newTestRegistry(fastSessionConfig(), nil)
	sender := r.Spawn(1, newMockConn(), nil, nil)
	h, _ := r.Get(1)
	reader := newMockReader()
	startForwarder(r, reader, sender)

	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		reader.frames <- mockFrame{pong: string(protocol.PingPayload)}
		time.Sleep(10 * time.Millisecond)
	}
	select {
	case <-h.Done():
		t.Fatal("actor terminated while receiving pongs")
	default:
	}

	// Foreign pong payloads are not liveness signals.
	stop := time.After(time.Second)
	for {
		select {
		case reader.frames <- mockFrame{pong: "other"}:
			time.Sleep(10 * time.Millisecond)
			continue
		case <-h.Done():
		case <-stop:
			t.Fatal("actor survived on foreign pongs")
		}
		break
	}
	if reason := h.CloseReason(); reason != protocol.ErrorClose(ErrLivenessTimeout) {
		t.Fatalf("reason=%+v, want Error(liveness timeout)", reason)
	}
}

func TestForwardFrames_ActorGoneEndsForwarding(t *testing.T) {
	r := newTestRegistry(quietSessionConfig(), nil)
	sender := r.Spawn(1, newMockConn(), nil, nil)
	h, _ := r.Get(1)
	h.Abort()
	waitDone(t, h)

	reader := newMockReader()
	errCh := startForwarder(r, reader, sender)
	reader.frames <- mockFrame{messageType: websocket.BinaryMessage, data: protocol.EncodeAppMessage(protocol.Heartbeat{})}
	if err := waitErr(t, errCh); err != nil {
		t.Fatalf("forwardFrames() error=%v, want nil", err)
	}
}
