package username

import (
	"context"
	"errors"
	"fmt"

	"github.com/vango-dev/tether/pkg/protocol"
	"github.com/vango-dev/tether/pkg/server"
)

// DefaultMaxAttempts bounds how many candidates GenerateUsername tries.
const DefaultMaxAttempts = 16

// ErrExhausted is returned when no generated candidate was available.
var ErrExhausted = errors.New("username: no available candidate")

// Handler answers GenerateUsername and CheckUsernameAvailability. It
// ignores every other message kind.
type Handler struct {
	store       Store
	generator   *Generator
	maxAttempts int
}

// Option configures a Handler.
type Option func(*Handler)

// WithGenerator replaces the default randomly seeded generator.
func WithGenerator(g *Generator) Option {
	return func(h *Handler) {
		h.generator = g
	}
}

// WithMaxAttempts sets how many generated names are checked before
// giving up.
func WithMaxAttempts(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxAttempts = n
		}
	}
}

// NewHandler creates a Handler backed by store.
func NewHandler(store Store, opts ...Option) *Handler {
	h := &Handler{
		store:       store,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.generator == nil {
		h.generator = NewGenerator(nil)
	}
	return h
}

var _ server.Handler = (*Handler)(nil)

// Process implements server.Handler. Store failures are returned and end
// the actor.
func (h *Handler) Process(ctx context.Context, c *server.Context, msg protocol.AppMessage) error {
	switch m := msg.(type) {
	case protocol.GenerateUsername:
		name, err := h.Generate(ctx)
		if err != nil {
			return err
		}
		return c.Send(protocol.GeneratedUsername{Username: name})

	case protocol.CheckUsernameAvailability:
		available, err := h.Check(ctx, m.Username)
		if err != nil {
			return err
		}
		c.Logger().Debug("username checked", "username", m.Username, "available", available)
		return c.Send(protocol.UsernameAvailability{Username: m.Username, Available: available})

	default:
		c.Logger().Debug("ignoring message", "kind", msg.Kind())
		return nil
	}
}

// Generate returns the first generated name the store reports available.
func (h *Handler) Generate(ctx context.Context) (protocol.Username, error) {
	for i := 0; i < h.maxAttempts; i++ {
		name := h.generator.Next()
		ok, err := h.store.IsAvailable(ctx, name)
		if err != nil {
			return "", err
		}
		if ok {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrExhausted, h.maxAttempts)
}

// Check reports whether name is valid and unreserved. Invalid names are
// never available and never reach the store.
func (h *Handler) Check(ctx context.Context, name protocol.Username) (bool, error) {
	if Validate(name) != nil {
		return false, nil
	}
	return h.store.IsAvailable(ctx, name)
}
