package protocol

import "time"

// PingPayload is carried by every server liveness ping. A pong is only
// counted as a liveness signal when it echoes this payload.
var PingPayload = []byte("tether-ping")

// Liveness defaults. Timeouts must exceed their intervals; configs are
// validated against this at startup.
const (
	// DefaultPingInterval is the time between server pings.
	DefaultPingInterval = 5 * time.Second

	// DefaultPongTimeout is how long an actor waits for a pong before
	// presuming the client dead.
	DefaultPongTimeout = 15 * time.Second

	// DefaultHeartbeatInterval is the time between client heartbeats.
	DefaultHeartbeatInterval = 3 * time.Second

	// DefaultHeartbeatTimeout is the client-side bound used by servers that
	// rely on heartbeats instead of pings.
	DefaultHeartbeatTimeout = 10 * time.Second
)

// CloseCode indicates why a session is being closed.
type CloseCode uint8

const (
	CloseNormal CloseCode = 0x00 // Normal closure
	CloseError  CloseCode = 0x01 // Error occurred
)

// String returns the string representation of the close code.
func (c CloseCode) String() string {
	switch c {
	case CloseNormal:
		return "Normal"
	case CloseError:
		return "Error"
	default:
		return "Unknown"
	}
}

// CloseReason is applied when closing the underlying socket session.
// Description is empty for CloseNormal.
type CloseReason struct {
	Code        CloseCode
	Description string
}

// NormalClose returns the reason used for a clean shutdown.
func NormalClose() CloseReason {
	return CloseReason{Code: CloseNormal}
}

// ErrorClose returns an error reason carrying err's text.
func ErrorClose(err error) CloseReason {
	desc := ""
	if err != nil {
		desc = err.Error()
	}
	return CloseReason{Code: CloseError, Description: desc}
}

// WebSocketCode maps the reason onto an RFC 6455 close status.
func (r CloseReason) WebSocketCode() int {
	if r.Code == CloseNormal {
		return 1000
	}
	return 1011
}
