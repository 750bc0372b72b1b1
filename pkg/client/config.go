package client

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/vango-dev/tether/pkg/protocol"
)

// Config holds the connection manager settings.
type Config struct {
	// URL is the ws:// or wss:// endpoint of the server.
	URL string

	// InitialBackoff is the delay before the first connection attempt and
	// after every confirmed readiness.
	// Default: 600ms.
	InitialBackoff time.Duration

	// BackoffMultiplier grows the delay on every scheduled attempt.
	// Default: 1.2.
	BackoffMultiplier float64

	// MaxBackoff caps the delay. Zero means no cap.
	MaxBackoff time.Duration

	// HeartbeatInterval is the time between Heartbeat messages.
	// Default: protocol.DefaultHeartbeatInterval.
	HeartbeatInterval time.Duration

	// HeartbeatTimeout bounds the dial handshake and every frame write.
	// Must exceed HeartbeatInterval.
	// Default: protocol.DefaultHeartbeatTimeout.
	HeartbeatTimeout time.Duration
}

// DefaultConfig returns a Config for url with the default timings.
func DefaultConfig(url string) Config {
	return Config{
		URL:               url,
		InitialBackoff:    600 * time.Millisecond,
		BackoffMultiplier: 1.2,
		HeartbeatInterval: protocol.DefaultHeartbeatInterval,
		HeartbeatTimeout:  protocol.DefaultHeartbeatTimeout,
	}
}

// Validate checks the config for startup invariant violations.
func (c Config) Validate() error {
	var errs []error
	if u, err := url.Parse(c.URL); err != nil {
		errs = append(errs, fmt.Errorf("invalid url %q: %w", c.URL, err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("url scheme must be ws or wss, got %q", u.Scheme))
	}
	if c.InitialBackoff < 0 {
		errs = append(errs, fmt.Errorf("initial backoff must not be negative, got %s", c.InitialBackoff))
	}
	if c.BackoffMultiplier <= 1 {
		errs = append(errs, fmt.Errorf("backoff multiplier must exceed 1, got %g", c.BackoffMultiplier))
	}
	if c.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("heartbeat interval must be positive, got %s", c.HeartbeatInterval))
	}
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		errs = append(errs, fmt.Errorf("heartbeat timeout (%s) must exceed heartbeat interval (%s)", c.HeartbeatTimeout, c.HeartbeatInterval))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("client: invalid config: %w", err)
	}
	return nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig(c.URL)
	if c.InitialBackoff == 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	return c
}
