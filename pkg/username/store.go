package username

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/vango-dev/tether/pkg/protocol"
)

var (
	// ErrTaken is returned by Reserve when the name already belongs to
	// another account.
	ErrTaken = errors.New("username: already taken")

	// ErrStoreClosed is returned by every operation after Close.
	ErrStoreClosed = errors.New("username: store closed")
)

// Store answers availability questions about usernames.
// Implementations must be safe for concurrent use.
type Store interface {
	// IsAvailable reports whether no account holds name.
	IsAvailable(ctx context.Context, name protocol.Username) (bool, error)

	// Reserve assigns name to account. Reserving a name the account
	// already holds succeeds.
	Reserve(ctx context.Context, name protocol.Username, account uuid.UUID) error

	// Close releases any resources held by the store.
	Close() error
}

// MemoryStore keeps reservations in a map. It is the default store and is
// suitable for a single process.
type MemoryStore struct {
	mu     sync.RWMutex
	owners map[protocol.Username]uuid.UUID
	closed bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{owners: make(map[protocol.Username]uuid.UUID)}
}

// IsAvailable reports whether name is unreserved.
func (m *MemoryStore) IsAvailable(ctx context.Context, name protocol.Username) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, ErrStoreClosed
	}
	_, taken := m.owners[name]
	return !taken, nil
}

// Reserve assigns name to account.
func (m *MemoryStore) Reserve(ctx context.Context, name protocol.Username, account uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	if owner, ok := m.owners[name]; ok && owner != account {
		return ErrTaken
	}
	m.owners[name] = account
	return nil
}

// Len returns the number of reserved names.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.owners)
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
