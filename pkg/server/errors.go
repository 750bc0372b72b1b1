package server

import (
	"errors"
	"fmt"
)

// Sentinel errors for admission and session conditions.
var (
	// ErrRateLimited is returned when the admission gate has no free permits.
	ErrRateLimited = errors.New("server: new connections are being rate limited")

	// ErrConnectionSemaphoreClosed means the admission gate was closed while
	// the server still accepts connections. This is a server bug, never a
	// client error.
	ErrConnectionSemaphoreClosed = errors.New("server: the connection semaphore was erroneously closed")

	// ErrHandshake is returned when the WebSocket upgrade request is malformed.
	ErrHandshake = errors.New("server: websocket handshake error")

	// ErrTerminated is returned when the target actor no longer exists.
	ErrTerminated = errors.New("server: terminated")

	// ErrLivenessTimeout ends an actor whose client stopped answering pings.
	ErrLivenessTimeout = errors.New("liveness timeout")

	// ErrAborted ends an actor that was forcibly stopped, e.g. by a
	// replacement session whose grace period ran out.
	ErrAborted = errors.New("aborted")

	// ErrUnauthorized is returned when the auth function rejects a request.
	ErrUnauthorized = errors.New("server: unauthorized")
)

// SessionError wraps an error with actor context for debugging.
type SessionError struct {
	ClientID ClientID
	Op       string // Operation that failed
	Err      error  // Underlying error
}

// Error returns the error message with session context.
func (e *SessionError) Error() string {
	return fmt.Sprintf("server: client %d: %s: %v", e.ClientID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *SessionError) Unwrap() error {
	return e.Err
}

// NewSessionError creates a new SessionError.
func NewSessionError(id ClientID, op string, err error) *SessionError {
	return &SessionError{
		ClientID: id,
		Op:       op,
		Err:      err,
	}
}

// HandlerError wraps a panic that occurred in a message handler.
type HandlerError struct {
	ClientID ClientID
	Kind     string
	Panic    any
	Stack    []byte
}

// Error returns the error message.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("server: handler panic for client %d, message %s: %v",
		e.ClientID, e.Kind, e.Panic)
}

// DecodeError reports a malformed inbound frame. It ends the forwarding
// task of the affected connection only.
type DecodeError struct {
	ClientID ClientID
	Err      error
}

// Error returns the error message.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("server: client %d: failed to decode app message: %v", e.ClientID, e.Err)
}

// Unwrap returns the underlying codec error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}
