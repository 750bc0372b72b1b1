package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vango-dev/tether/pkg/protocol"
)

func newTestServer(t *testing.T, max int, h Handler) (*Server, *httptest.Server) {
	t.Helper()
	reg := prometheus.NewRegistry()
	cfg := DefaultServerConfig().
		WithMaxConnections(max).
		WithSessionConfig(quietSessionConfig())
	cfg.Logger = testLogger()
	cfg.Metrics = NewMetrics(reg, "tether_test")
	cfg.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	srv := New(cfg, h)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Shutdown(context.Background())
	})
	return srv, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	return conn
}

func writeApp(t *testing.T, conn *websocket.Conn, msg protocol.AppMessage) {
	t.Helper()
	if err := conn.WriteMessage(websocket.BinaryMessage, protocol.EncodeAppMessage(msg)); err != nil {
		t.Fatalf("WriteMessage() error: %v", err)
	}
}

func readBackend(t *testing.T, conn *websocket.Conn) protocol.BackendMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error: %v", err)
	}
	if mt != websocket.BinaryMessage {
		t.Fatalf("message type=%d, want binary", mt)
	}
	msg, err := protocol.DecodeBackendMessage(data)
	if err != nil {
		t.Fatalf("DecodeBackendMessage() error: %v", err)
	}
	return msg
}

func TestServer_PingPongOverWebSocket(t *testing.T) {
	_, ts := newTestServer(t, 4, nil)
	conn := dial(t, ts)
	defer conn.Close()

	writeApp(t, conn, protocol.Ping{})
	if msg := readBackend(t, conn); msg != (protocol.Pong{}) {
		t.Fatalf("got %#v, want Pong", msg)
	}
}

func TestServer_HandlerReceivesDomainMessages(t *testing.T) {
	h := HandlerFunc(func(ctx context.Context, c *Context, msg protocol.AppMessage) error {
		if m, ok := msg.(protocol.CheckUsernameAvailability); ok {
			return c.Send(protocol.UsernameAvailability{Username: m.Username, Available: true})
		}
		return nil
	})
	_, ts := newTestServer(t, 4, h)
	conn := dial(t, ts)
	defer conn.Close()

	writeApp(t, conn, protocol.CheckUsernameAvailability{Username: "river_fox"})
	want := protocol.UsernameAvailability{Username: "river_fox", Available: true}
	if msg := readBackend(t, conn); msg != want {
		t.Fatalf("got %#v, want %#v", msg, want)
	}
}

func TestServer_RateLimitsBeyondCapacity(t *testing.T) {
	srv, ts := newTestServer(t, 1, nil)
	first := dial(t, ts)
	defer first.Close()

	waitFor(t, "first actor", func() bool { return srv.Registry().Count() == 1 })

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("Dial() error=%v, want ErrBadHandshake", err)
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status=%v, want 429", resp)
	}

	// Closing the first connection frees its permit.
	first.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	first.Close()
	waitFor(t, "permit release", func() bool { return srv.Gate().InUse() == 0 })

	second := dial(t, ts)
	second.Close()
}

func TestServer_ClosedGateAnswers500(t *testing.T) {
	srv, ts := newTestServer(t, 1, nil)
	srv.Gate().Close()

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err == nil {
		t.Fatal("Dial() succeeded on closed gate")
	}
	if resp == nil || resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status=%v, want 500", resp)
	}
}

func TestServer_BadHandshakeReleasesPermit(t *testing.T) {
	srv, ts := newTestServer(t, 1, nil)

	resp, err := http.Get(ts.URL + "/ws")
	if err != nil {
		t.Fatalf("GET /ws error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", resp.StatusCode)
	}
	if srv.Gate().InUse() != 0 {
		t.Fatalf("permits in use=%d, want 0", srv.Gate().InUse())
	}
}

func TestServer_AuthFunc(t *testing.T) {
	account := uuid.New()
	seen := make(chan *AccountID, 1)
	h := HandlerFunc(func(ctx context.Context, c *Context, msg protocol.AppMessage) error {
		seen <- c.Account
		return nil
	})
	srv, ts := newTestServer(t, 2, h)
	srv.SetAuthFunc(func(r *http.Request) (*AccountID, error) {
		if r.Header.Get("Authorization") != "Bearer ok" {
			return nil, ErrUnauthorized
		}
		return &account, nil
	})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated dial: err=%v resp=%v, want 401", err, resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), http.Header{"Authorization": {"Bearer ok"}})
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer conn.Close()
	writeApp(t, conn, protocol.GenerateUsername{})

	select {
	case got := <-seen:
		if got == nil || *got != account {
			t.Fatalf("account=%v, want %v", got, account)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
}

func TestServer_HealthAndMetrics(t *testing.T) {
	_, ts := newTestServer(t, 2, nil)
	conn := dial(t, ts)
	writeApp(t, conn, protocol.Ping{})
	readBackend(t, conn)
	conn.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status=%d", resp.StatusCode)
	}

	for _, want := range []string{
		`tether_test_admissions_total{result="accepted"} 1`,
		`tether_test_messages_total{direction="out",kind="Pong"} 1`,
	} {
		waitFor(t, want, func() bool {
			return strings.Contains(scrape(t, ts.URL+"/metrics"), want)
		})
	}
}

func scrape(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s error: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestServer_ShutdownClosesSessions(t *testing.T) {
	srv, ts := newTestServer(t, 2, nil)
	conn := dial(t, ts)
	defer conn.Close()
	waitFor(t, "actor", func() bool { return srv.Registry().Count() == 1 })

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if srv.Gate().InUse() != 0 {
		t.Fatalf("permits in use=%d, want 0", srv.Gate().InUse())
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("ReadMessage() error=%v, want normal close", err)
	}
}
