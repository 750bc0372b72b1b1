package client

import (
	"errors"
	"sync"

	"github.com/vango-dev/tether/pkg/protocol"
)

// RequestState is what a caller shows for an outstanding request.
type RequestState int

const (
	RequestPending RequestState = iota // Sent, awaiting a response
	RequestData                        // Response received
	RequestOffline                     // Queued until reconnection
	RequestError                       // Abandoned; must be retried explicitly
)

// String returns the string representation of the state.
func (s RequestState) String() string {
	switch s {
	case RequestPending:
		return "Pending"
	case RequestData:
		return "Data"
	case RequestOffline:
		return "Offline"
	case RequestError:
		return "Error"
	default:
		return "Unknown"
	}
}

// StateFromError maps the result of Manager.Send to a request state.
func StateFromError(err error) RequestState {
	switch {
	case err == nil:
		return RequestPending
	case errors.Is(err, ErrQueued):
		return RequestOffline
	default:
		return RequestError
	}
}

// Request tracks one request/response exchange over a Manager.
type Request[T any] struct {
	mu    sync.Mutex
	state RequestState
	data  T
}

// Send sends msg through m and records the resulting state.
func (r *Request[T]) Send(m *Manager, msg protocol.AppMessage) RequestState {
	state := StateFromError(m.Send(msg))
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()
	return state
}

// Resolve records the response.
func (r *Request[T]) Resolve(data T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = RequestData
	r.data = data
}

// State returns the current state.
func (r *Request[T]) State() RequestState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Data returns the response, if one was received.
func (r *Request[T]) Data() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RequestData {
		var zero T
		return zero, false
	}
	return r.data, true
}
