package server

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/tether/pkg/protocol"
)

// FrameReader is the read side of a WebSocket connection. *websocket.Conn
// satisfies it.
type FrameReader interface {
	ReadMessage() (messageType int, p []byte, err error)
	SetPongHandler(h func(appData string) error)
}

// errUnexpectedFrame ends forwarding on a frame type the protocol does not use.
var errUnexpectedFrame = errors.New("server: unexpected text frame")

// forwardFrames reads frames from conn and passes them to the actor behind
// sender until the stream ends. Pongs carrying the server ping payload count
// as liveness. A close frame from the client removes the actor's registry
// entry. The sender is always closed on return.
func forwardFrames(ctx context.Context, conn FrameReader, sender *ActorSender, logger *slog.Logger) error {
	defer sender.Close()

	conn.SetPongHandler(func(appData string) error {
		if appData != string(protocol.PingPayload) {
			logger.Debug("ignoring pong with foreign payload")
			return nil
		}
		return sender.SignalLiveness()
	})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				logger.Debug("client closed connection", "code", closeErr.Code, "text", closeErr.Text)
				sender.a.registry.removeActor(sender.a)
				return nil
			}
			if errors.Is(err, ErrTerminated) {
				return nil
			}
			logger.Debug("read failed", "error", err)
			return err
		}

		switch mt {
		case websocket.BinaryMessage:
			msg, err := protocol.DecodeAppMessage(data)
			if err != nil {
				logger.Warn("failed to decode app message", "error", err, "size", len(data))
				return &DecodeError{ClientID: sender.ClientID(), Err: err}
			}
			if err := sender.Send(ctx, msg); err != nil {
				if errors.Is(err, ErrTerminated) {
					logger.Debug("actor gone, dropping message", "kind", msg.Kind())
					return nil
				}
				return err
			}
		default:
			logger.Warn("unexpected frame type", "type", mt)
			return errUnexpectedFrame
		}
	}
}
