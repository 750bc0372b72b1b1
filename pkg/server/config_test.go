package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestDefaultSessionConfig_Valid(t *testing.T) {
	if err := DefaultSessionConfig().Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if err := DefaultServerConfig().ValidateConfig(); err != nil {
		t.Fatalf("ValidateConfig() error: %v", err)
	}
}

func TestSessionConfig_ValidateRejectsPongTimeoutNotAbovePingInterval(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.PongTimeout = cfg.PingInterval

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error=nil, want error")
	}
	if !strings.Contains(err.Error(), "must exceed ping interval") {
		t.Fatalf("Validate() error=%q", err)
	}
}

func TestServerConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.MaxConnections = 0
	cfg.SessionConfig.PingInterval = 0
	cfg.SessionConfig.WriteTimeout = -time.Second

	err := cfg.ValidateConfig()
	if err == nil {
		t.Fatal("ValidateConfig() error=nil, want error")
	}
	msg := err.Error()
	for _, want := range []string{"server: invalid config", "max connections", "ping interval", "write timeout"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not mention %q", msg, want)
		}
	}
}

func TestServerConfig_WithDefaultsDoesNotMutate(t *testing.T) {
	cfg := &ServerConfig{MaxConnections: 7}
	got := cfg.withDefaults()

	if cfg.Address != "" || cfg.SessionConfig != nil {
		t.Fatal("withDefaults mutated its receiver")
	}
	if got.Address != ":8080" || got.MaxConnections != 7 || got.SessionConfig == nil {
		t.Fatalf("withDefaults()=%+v", got)
	}
	if got.SessionConfig.MaxMessageSize != 4*1024 {
		t.Fatalf("MaxMessageSize=%d, want 4096", got.SessionConfig.MaxMessageSize)
	}
}

func TestServerConfig_CloneIsDeep(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.TrustedProxies = []string{"10.0.0.1"}
	clone := cfg.Clone()

	clone.SessionConfig.PingInterval = time.Hour
	clone.TrustedProxies[0] = "10.0.0.2"
	if cfg.SessionConfig.PingInterval == time.Hour {
		t.Fatal("Clone shares SessionConfig")
	}
	if cfg.TrustedProxies[0] != "10.0.0.1" {
		t.Fatal("Clone shares TrustedProxies")
	}
}

func TestSameOriginCheck(t *testing.T) {
	tests := []struct {
		name   string
		host   string
		origin string
		want   bool
	}{
		{"no origin", "example.com", "", true},
		{"same origin", "example.com", "https://example.com", true},
		{"cross origin", "example.com", "https://evil.com", false},
		{"bad origin", "example.com", "://", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "http://"+tt.host+"/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := SameOriginCheck(req); got != tt.want {
				t.Fatalf("SameOriginCheck()=%v, want %v", got, tt.want)
			}
		})
	}
}
