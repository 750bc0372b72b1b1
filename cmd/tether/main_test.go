package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gorilla/websocket"
	"github.com/vango-dev/tether/internal/config"
	"github.com/vango-dev/tether/pkg/protocol"
	"github.com/vango-dev/tether/pkg/username"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("newLogger() error: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"shown"`) {
		t.Fatalf("output = %q", out)
	}

	for _, bad := range []config.LogConfig{{Level: "loud"}, {Format: "xml"}} {
		if _, err := newLogger(bad, io.Discard); err == nil {
			t.Errorf("newLogger(%+v) error = nil", bad)
		}
	}
}

func TestParseLine(t *testing.T) {
	if parseLine("   ") != nil {
		t.Error("blank line produced a message")
	}
	if parseLine("gen") != (protocol.GenerateUsername{}) {
		t.Error("gen did not map to GenerateUsername")
	}
	want := protocol.CheckUsernameAvailability{Username: "river_fox"}
	if got := parseLine(" river_fox\n"); got != want {
		t.Errorf("parseLine() = %#v", got)
	}
}

func TestBatchRequests(t *testing.T) {
	msgs := batchRequests([]string{"a", "b"}, 2)
	if len(msgs) != 4 {
		t.Fatalf("len = %d, want 4", len(msgs))
	}
	if msgs[3] != (protocol.GenerateUsername{}) {
		t.Errorf("msgs[3] = %#v", msgs[3])
	}
}

func TestOpenStore_ReservesNames(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := openStore(context.Background(), config.StorageConfig{
		ReservedUsernames: []string{"admin", "x"},
	}, logger)
	if err != nil {
		t.Fatalf("openStore() error: %v", err)
	}
	defer store.Close()

	if ok, _ := store.IsAvailable(context.Background(), "admin"); ok {
		t.Error("reserved name is available")
	}
	// Invalid names are skipped, not fatal.
	if ok, _ := store.IsAvailable(context.Background(), "x"); !ok {
		t.Error("invalid reserved name was stored")
	}
}

func TestBuildServer_ServesMetricsAndUsernames(t *testing.T) {
	cfg := config.New()
	cfg.Server.Metrics = true
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, _ := openStore(context.Background(), cfg.Storage, logger)
	defer store.Close()

	srv, err := buildServer(cfg, store, logger)
	if err != nil {
		t.Fatalf("buildServer() error: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer srv.Shutdown(context.Background())

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "go_goroutines") {
		t.Fatalf("GET /metrics status=%d", resp.StatusCode)
	}

	// A batch run against the live server prints the reply.
	cfg.Client.URL = "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	cfg.Client.InitialBackoff = "5ms"
	path := filepath.Join(t.TempDir(), "tether.toml")
	f, _ := os.Create(path)
	writeTOML(t, f, cfg)
	f.Close()

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"connect", "-c", path, "--log-level", "error", "--check", "river_fox", "--timeout", "5s"})
	done := make(chan error, 1)
	go func() { done <- cmd.Execute() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("connect error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("connect did not finish")
	}
	if !strings.Contains(out.String(), "river_fox: available") {
		t.Fatalf("output = %q", out.String())
	}
}

func TestConfigCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config error: %v", err)
	}
	if !strings.Contains(out.String(), "[server]") || !strings.Contains(out.String(), `address = ":8080"`) {
		t.Fatalf("output = %q", out.String())
	}
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version", "--short"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("version error: %v", err)
	}
	if strings.TrimSpace(out.String()) != version {
		t.Fatalf("output = %q", out.String())
	}
}

func writeTOML(t *testing.T, w io.Writer, cfg *config.Config) {
	t.Helper()
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		t.Fatalf("encode config: %v", err)
	}
}

func TestBuildServer_RequiresToken(t *testing.T) {
	cfg := config.New()
	cfg.Server.AuthTokens = map[string]string{"alpha": "6f1c3b1e-8d7a-4c52-9d0e-2b8f6a4e1c77"}
	cfg.Server.RequireAccount = true
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := username.NewMemoryStore()

	srv, err := buildServer(cfg, store, logger)
	if err != nil {
		t.Fatalf("buildServer() error: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer srv.Shutdown(context.Background())
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous dial: err=%v resp=%v", err, resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Authorization": {"Bearer alpha"}})
	if err != nil {
		t.Fatalf("authenticated dial error: %v", err)
	}
	conn.Close()
}
