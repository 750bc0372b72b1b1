package config

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/vango-dev/tether/internal/errors"
	"github.com/vango-dev/tether/pkg/auth"
	"github.com/vango-dev/tether/pkg/client"
	"github.com/vango-dev/tether/pkg/protocol"
	"github.com/vango-dev/tether/pkg/server"
)

const (
	// ConfigFileName is the default configuration file name.
	ConfigFileName = "tether.toml"

	// DefaultAddress is the default listen address.
	DefaultAddress = ":8080"

	// DefaultMaxConnections is the default admission limit.
	DefaultMaxConnections = 1024
)

// Format is a configuration file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
)

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", errors.New("T103").WithDetail("Cannot tell the format of " + path + " from its extension.")
	}
}

// Config is the complete tether configuration.
type Config struct {
	// Server contains listener and admission settings.
	Server ServerConfig `json:"server" toml:"server"`

	// Session contains per-connection liveness settings.
	Session SessionConfig `json:"session" toml:"session"`

	// Client contains connection manager settings for `tether connect`.
	Client ClientConfig `json:"client" toml:"client"`

	// Storage selects the username store.
	Storage StorageConfig `json:"storage" toml:"storage"`

	// Log contains logging settings.
	Log LogConfig `json:"log" toml:"log"`

	// source records where the config was loaded from.
	source string
}

// ServerConfig contains listener and admission settings.
type ServerConfig struct {
	// Address is the listen address (default: ":8080").
	Address string `json:"address,omitempty" toml:"address,omitempty"`

	// MaxConnections is the number of simultaneously live sessions.
	MaxConnections int `json:"maxConnections,omitempty" toml:"max_connections,omitempty"`

	// ShutdownTimeout bounds graceful shutdown (e.g., "3s").
	ShutdownTimeout string `json:"shutdownTimeout,omitempty" toml:"shutdown_timeout,omitempty"`

	// TrustedProxies lists proxy IPs or CIDRs whose forwarding headers
	// are believed.
	TrustedProxies []string `json:"trustedProxies,omitempty" toml:"trusted_proxies,omitempty"`

	// Metrics exposes Prometheus metrics at /metrics.
	Metrics bool `json:"metrics,omitempty" toml:"metrics,omitempty"`

	// AllowAnyOrigin disables the same-origin check on upgrades.
	AllowAnyOrigin bool `json:"allowAnyOrigin,omitempty" toml:"allow_any_origin,omitempty"`

	// AuthTokens maps bearer tokens to account UUIDs. Empty disables
	// authentication.
	AuthTokens map[string]string `json:"authTokens,omitempty" toml:"auth_tokens,omitempty"`

	// RequireAccount rejects connections without a valid bearer token.
	RequireAccount bool `json:"requireAccount,omitempty" toml:"require_account,omitempty"`
}

// SessionConfig contains per-connection liveness settings.
type SessionConfig struct {
	// PingInterval is the time between server pings (e.g., "5s").
	PingInterval string `json:"pingInterval,omitempty" toml:"ping_interval,omitempty"`

	// PongTimeout is the silence after which a client is presumed dead.
	PongTimeout string `json:"pongTimeout,omitempty" toml:"pong_timeout,omitempty"`

	// WriteTimeout bounds each frame write.
	WriteTimeout string `json:"writeTimeout,omitempty" toml:"write_timeout,omitempty"`

	// TerminationGracePeriod is how long a replaced session may drain.
	TerminationGracePeriod string `json:"terminationGracePeriod,omitempty" toml:"termination_grace_period,omitempty"`

	// MaxMessageSize limits inbound frames in bytes.
	MaxMessageSize int64 `json:"maxMessageSize,omitempty" toml:"max_message_size,omitempty"`
}

// ClientConfig contains connection manager settings.
type ClientConfig struct {
	// URL is the ws:// or wss:// endpoint.
	URL string `json:"url,omitempty" toml:"url,omitempty"`

	// InitialBackoff is the first reconnect delay (e.g., "600ms").
	InitialBackoff string `json:"initialBackoff,omitempty" toml:"initial_backoff,omitempty"`

	// BackoffMultiplier grows the delay after each failed attempt.
	BackoffMultiplier float64 `json:"backoffMultiplier,omitempty" toml:"backoff_multiplier,omitempty"`

	// MaxBackoff caps the reconnect delay. Empty means uncapped.
	MaxBackoff string `json:"maxBackoff,omitempty" toml:"max_backoff,omitempty"`

	// HeartbeatInterval is the time between client heartbeats.
	HeartbeatInterval string `json:"heartbeatInterval,omitempty" toml:"heartbeat_interval,omitempty"`

	// HeartbeatTimeout bounds dials and writes.
	HeartbeatTimeout string `json:"heartbeatTimeout,omitempty" toml:"heartbeat_timeout,omitempty"`

	// Token is sent as "Authorization: Bearer <token>" when set.
	Token string `json:"token,omitempty" toml:"token,omitempty"`
}

// StorageConfig selects the username store.
type StorageConfig struct {
	// DatabaseURL is a PostgreSQL DSN. Empty selects the in-memory store.
	DatabaseURL string `json:"databaseUrl,omitempty" toml:"database_url,omitempty"`

	// Migrate creates the accounts table on startup.
	Migrate bool `json:"migrate,omitempty" toml:"migrate,omitempty"`

	// ReservedUsernames are claimed at startup so they are never offered.
	ReservedUsernames []string `json:"reservedUsernames,omitempty" toml:"reserved_usernames,omitempty"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is one of debug, info, warn or error (default: info).
	Level string `json:"level,omitempty" toml:"level,omitempty"`

	// Format is text or json (default: text).
	Format string `json:"format,omitempty" toml:"format,omitempty"`
}

// New returns a Config with default values.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         DefaultAddress,
			MaxConnections:  DefaultMaxConnections,
			ShutdownTimeout: "3s",
		},
		Session: SessionConfig{
			PingInterval:           protocol.DefaultPingInterval.String(),
			PongTimeout:            protocol.DefaultPongTimeout.String(),
			WriteTimeout:           "10s",
			TerminationGracePeriod: "1.5s",
			MaxMessageSize:         4 * 1024,
		},
		Client: ClientConfig{
			URL:               "ws://localhost:8080/ws",
			InitialBackoff:    "600ms",
			BackoffMultiplier: 1.2,
			HeartbeatInterval: protocol.DefaultHeartbeatInterval.String(),
			HeartbeatTimeout:  protocol.DefaultHeartbeatTimeout.String(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a JSON or TOML configuration file chosen by extension.
func Load(path string) (*Config, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("T100").
				WithDetail("No configuration file at " + path + ".")
		}
		return nil, errors.New("T101").Wrap(err)
	}
	return Parse(data, format, path)
}

// Parse decodes data over the defaults. name labels error locations.
func Parse(data []byte, format Format, name string) (*Config, error) {
	cfg := New()
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			te := errors.New("T101").Wrap(err).
				WithSuggestion("Check that " + filepath.Base(name) + " is valid JSON")
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			switch {
			case stderrors.As(err, &syntaxErr):
				te.WithOffset(name, data, syntaxErr.Offset)
			case stderrors.As(err, &typeErr):
				te.WithOffset(name, data, typeErr.Offset)
			}
			return nil, te
		}
	case FormatTOML:
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			te := errors.New("T101").Wrap(err).
				WithSuggestion("Check that " + filepath.Base(name) + " is valid TOML")
			var parseErr toml.ParseError
			if stderrors.As(err, &parseErr) {
				te.WithLocation(name, parseErr.Position.Line, parseErr.Position.Col)
			}
			return nil, te
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, errors.New("T101").
				WithDetail("Unknown keys in " + name + ": " + strings.Join(keys, ", "))
		}
	default:
		return nil, errors.New("T103").WithDetail(fmt.Sprintf("Unknown format %q.", format))
	}
	cfg.source = name
	return cfg, nil
}

// Source returns where the config was loaded from, or "" for defaults.
func (c *Config) Source() string {
	return c.source
}

// Validate parses every duration and checks the startup invariants of the
// server and client settings.
func (c *Config) Validate() error {
	sc, err := c.ServerConfig()
	if err != nil {
		return err
	}
	cc, err := c.ClientConfig()
	if err != nil {
		return err
	}
	var errs []error
	if err := sc.ValidateConfig(); err != nil {
		errs = append(errs, err)
	}
	if err := cc.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := auth.NewStaticTokens(c.Server.AuthTokens); err != nil {
		errs = append(errs, err)
	}
	if c.Server.RequireAccount && len(c.Server.AuthTokens) == 0 {
		errs = append(errs, stderrors.New("require account is set but no auth tokens are configured"))
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log format %q is not text or json", c.Log.Format))
	}
	if err := stderrors.Join(errs...); err != nil {
		return errors.New("T102").Wrap(err)
	}
	return nil
}

// ServerConfig converts the file settings into a server configuration.
// Logger and metrics are left for the caller.
func (c *Config) ServerConfig() (*server.ServerConfig, error) {
	sc := server.DefaultServerConfig()
	if c.Server.Address != "" {
		sc.Address = c.Server.Address
	}
	if c.Server.MaxConnections != 0 {
		sc.MaxConnections = c.Server.MaxConnections
	}
	sc.TrustedProxies = append([]string(nil), c.Server.TrustedProxies...)
	if c.Server.AllowAnyOrigin {
		sc.CheckOrigin = func(*http.Request) bool { return true }
	}

	d := durations{}
	d.parse("server.shutdownTimeout", c.Server.ShutdownTimeout, &sc.ShutdownTimeout)
	d.parse("session.pingInterval", c.Session.PingInterval, &sc.SessionConfig.PingInterval)
	d.parse("session.pongTimeout", c.Session.PongTimeout, &sc.SessionConfig.PongTimeout)
	d.parse("session.writeTimeout", c.Session.WriteTimeout, &sc.SessionConfig.WriteTimeout)
	d.parse("session.terminationGracePeriod", c.Session.TerminationGracePeriod, &sc.SessionConfig.TerminationGracePeriod)
	if err := d.err(); err != nil {
		return nil, err
	}
	if c.Session.MaxMessageSize != 0 {
		sc.SessionConfig.MaxMessageSize = c.Session.MaxMessageSize
	}
	return sc, nil
}

// ClientConfig converts the file settings into a client configuration.
func (c *Config) ClientConfig() (client.Config, error) {
	cc := client.DefaultConfig(c.Client.URL)
	if c.Client.BackoffMultiplier != 0 {
		cc.BackoffMultiplier = c.Client.BackoffMultiplier
	}

	d := durations{}
	d.parse("client.initialBackoff", c.Client.InitialBackoff, &cc.InitialBackoff)
	d.parse("client.maxBackoff", c.Client.MaxBackoff, &cc.MaxBackoff)
	d.parse("client.heartbeatInterval", c.Client.HeartbeatInterval, &cc.HeartbeatInterval)
	d.parse("client.heartbeatTimeout", c.Client.HeartbeatTimeout, &cc.HeartbeatTimeout)
	if err := d.err(); err != nil {
		return client.Config{}, err
	}
	return cc, nil
}

// durations collects parse failures so all bad fields are reported at once.
type durations struct {
	errs []error
}

// parse sets *dst when s is non-empty and valid.
func (d *durations) parse(field, s string, dst *time.Duration) {
	if s == "" {
		return
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		d.errs = append(d.errs, fmt.Errorf("%s: %w", field, err))
		return
	}
	if v < 0 {
		d.errs = append(d.errs, fmt.Errorf("%s: must not be negative, got %s", field, s))
		return
	}
	*dst = v
}

func (d *durations) err() error {
	if len(d.errs) == 0 {
		return nil
	}
	return errors.New("T105").Wrap(stderrors.Join(d.errs...))
}
