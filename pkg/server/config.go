package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/vango-dev/tether/pkg/protocol"
)

// SessionConfig holds configuration for individual actors.
type SessionConfig struct {
	// Liveness

	// PingInterval is the time between server ping control frames.
	// Default: protocol.DefaultPingInterval.
	PingInterval time.Duration

	// PongTimeout is the maximum silence before a client is presumed dead.
	// Must be greater than PingInterval.
	// Default: protocol.DefaultPongTimeout.
	PongTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending a frame.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// Replacement

	// TerminationGracePeriod is how long a replaced actor may take to drain
	// its Terminate event before it is aborted.
	// Default: 1.5 seconds.
	TerminationGracePeriod time.Duration

	// Limits

	// MaxMessageSize is the maximum size of an incoming WebSocket message.
	// Default: 4KB.
	MaxMessageSize int64
}

// DefaultSessionConfig returns a SessionConfig with sensible defaults.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		PingInterval:           protocol.DefaultPingInterval,
		PongTimeout:            protocol.DefaultPongTimeout,
		WriteTimeout:           10 * time.Second,
		TerminationGracePeriod: 1500 * time.Millisecond,
		MaxMessageSize:         4 * 1024,
	}
}

// Clone returns a copy of the SessionConfig.
func (c *SessionConfig) Clone() *SessionConfig {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// Validate checks the startup invariants of a session configuration.
func (c *SessionConfig) Validate() error {
	var errs []error
	if c.PingInterval <= 0 {
		errs = append(errs, fmt.Errorf("ping interval must be positive, got %s", c.PingInterval))
	}
	if c.PongTimeout <= c.PingInterval {
		errs = append(errs, fmt.Errorf("pong timeout (%s) must exceed ping interval (%s)", c.PongTimeout, c.PingInterval))
	}
	if c.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("write timeout must be positive, got %s", c.WriteTimeout))
	}
	if c.TerminationGracePeriod < 0 {
		errs = append(errs, fmt.Errorf("termination grace period must not be negative, got %s", c.TerminationGracePeriod))
	}
	return errors.Join(errs...)
}

// ServerConfig holds configuration for the HTTP/WebSocket server.
type ServerConfig struct {
	// Address is the address to listen on (e.g., ":8080" or "localhost:3000").
	// Default: ":8080".
	Address string

	// WebSocket buffer sizes

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// CheckOrigin is called to validate the request origin.
	// Default: SameOriginCheck.
	CheckOrigin func(r *http.Request) bool

	// SessionConfig is the configuration for individual actors.
	// Default: DefaultSessionConfig().
	SessionConfig *SessionConfig

	// MaxConnections sizes the admission gate: the maximum number of
	// simultaneously live actors.
	// Default: 1024.
	MaxConnections int

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 3 seconds.
	ShutdownTimeout time.Duration

	// ReadHeaderTimeout bounds reading the upgrade request headers.
	// Default: 5 seconds.
	ReadHeaderTimeout time.Duration

	// TrustedProxies lists trusted reverse proxy IPs or CIDRs for
	// X-Forwarded-For and Forwarded headers.
	// Default: nil (don't trust proxy headers).
	TrustedProxies []string

	// Logger is the structured logger. If nil, slog.Default() is used.
	Logger *slog.Logger

	// Metrics receives session and admission metrics. Optional.
	Metrics *Metrics

	// MetricsHandler, when set, is mounted at /metrics by Handler().
	MetricsHandler http.Handler
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
// SECURITY: CheckOrigin enforces same-origin by default to prevent CSWSH.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:           ":8080",
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		CheckOrigin:       SameOriginCheck,
		SessionConfig:     DefaultSessionConfig(),
		MaxConnections:    1024,
		ShutdownTimeout:   3 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ValidateConfig checks the configuration for startup invariant violations.
func (c *ServerConfig) ValidateConfig() error {
	var errs []error
	if c.MaxConnections <= 0 {
		errs = append(errs, fmt.Errorf("max connections must be positive, got %d", c.MaxConnections))
	}
	if c.SessionConfig == nil {
		errs = append(errs, errors.New("session config is required"))
	} else if err := c.SessionConfig.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("server: invalid config: %w", err)
	}
	return nil
}

// SameOriginCheck validates that the WebSocket request origin matches the host.
// This is the secure default for CheckOrigin.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// No Origin header (e.g., native clients or curl)
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := r.Host
	if host == "" {
		return false
	}

	return originURL.Host == host
}

// Clone returns a copy of the ServerConfig.
func (c *ServerConfig) Clone() *ServerConfig {
	if c == nil {
		return nil
	}
	clone := *c
	if c.SessionConfig != nil {
		clone.SessionConfig = c.SessionConfig.Clone()
	}
	if c.TrustedProxies != nil {
		clone.TrustedProxies = append([]string(nil), c.TrustedProxies...)
	}
	return &clone
}

// WithAddress sets the server address and returns the config for chaining.
func (c *ServerConfig) WithAddress(addr string) *ServerConfig {
	c.Address = addr
	return c
}

// WithSessionConfig sets the session configuration and returns the config for chaining.
func (c *ServerConfig) WithSessionConfig(sc *SessionConfig) *ServerConfig {
	c.SessionConfig = sc
	return c
}

// WithMaxConnections sets the admission limit and returns the config for chaining.
func (c *ServerConfig) WithMaxConnections(max int) *ServerConfig {
	c.MaxConnections = max
	return c
}

func (c *ServerConfig) withDefaults() *ServerConfig {
	defaults := DefaultServerConfig()
	if c == nil {
		return defaults
	}
	c = c.Clone()
	if c.Address == "" {
		c.Address = defaults.Address
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = defaults.ReadBufferSize
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = defaults.WriteBufferSize
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = defaults.CheckOrigin
	}
	if c.SessionConfig == nil {
		c.SessionConfig = defaults.SessionConfig
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = defaults.ReadHeaderTimeout
	}
	if c.SessionConfig.WriteTimeout == 0 {
		c.SessionConfig.WriteTimeout = defaults.SessionConfig.WriteTimeout
	}
	if c.SessionConfig.MaxMessageSize == 0 {
		c.SessionConfig.MaxMessageSize = defaults.SessionConfig.MaxMessageSize
	}
	return c
}
