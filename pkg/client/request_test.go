package client

import (
	"errors"
	"fmt"
	"testing"

	"github.com/vango-dev/tether/pkg/protocol"
)

func TestStateFromError(t *testing.T) {
	tests := []struct {
		err  error
		want RequestState
	}{
		{nil, RequestPending},
		{ErrQueued, RequestOffline},
		{fmt.Errorf("wrapped: %w", ErrQueued), RequestOffline},
		{ErrSendFailed, RequestError},
		{errors.New("other"), RequestError},
	}
	for _, tt := range tests {
		if got := StateFromError(tt.err); got != tt.want {
			t.Errorf("StateFromError(%v)=%s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestRequest_Lifecycle(t *testing.T) {
	m := NewManager(testConfig("ws://127.0.0.1:1/ws"), nil, WithLogger(testLogger()))
	defer m.Close()

	var r Request[protocol.Username]
	if state := r.Send(m, protocol.GenerateUsername{}); state != RequestOffline {
		t.Fatalf("Send()=%s, want Offline", state)
	}
	if _, ok := r.Data(); ok {
		t.Fatal("Data() before Resolve returned ok")
	}

	r.Resolve("brave_heron")
	if r.State() != RequestData {
		t.Fatalf("State()=%s, want Data", r.State())
	}
	if got, ok := r.Data(); !ok || got != "brave_heron" {
		t.Fatalf("Data()=%q,%v", got, ok)
	}
}

func TestRequestState_String(t *testing.T) {
	for state, want := range map[RequestState]string{
		RequestPending: "Pending",
		RequestData:    "Data",
		RequestOffline: "Offline",
		RequestError:   "Error",
		RequestState(9): "Unknown",
	} {
		if got := state.String(); got != want {
			t.Errorf("String()=%q, want %q", got, want)
		}
	}
}
