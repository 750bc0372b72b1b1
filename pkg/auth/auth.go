package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/vango-dev/tether/pkg/server"
)

var (
	// ErrMalformedHeader is returned for an Authorization header that is not
	// a bearer token.
	ErrMalformedHeader = errors.New("auth: malformed authorization header")

	// ErrUnknownToken is returned for a bearer token no account holds.
	ErrUnknownToken = errors.New("auth: unknown token")
)

// TokenSource resolves bearer tokens to accounts.
type TokenSource interface {
	Lookup(token string) (server.AccountID, bool)
}

// StaticTokens is a fixed token-to-account table.
type StaticTokens struct {
	entries []tokenEntry
}

type tokenEntry struct {
	token   []byte
	account server.AccountID
}

// NewStaticTokens parses a token-to-account-UUID table.
func NewStaticTokens(table map[string]string) (*StaticTokens, error) {
	s := &StaticTokens{entries: make([]tokenEntry, 0, len(table))}
	for token, id := range table {
		if token == "" {
			return nil, errors.New("auth: empty token")
		}
		account, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("auth: account for token %s...: %w", prefix(token), err)
		}
		s.entries = append(s.entries, tokenEntry{token: []byte(token), account: account})
	}
	return s, nil
}

// Lookup compares token against every entry in constant time.
func (s *StaticTokens) Lookup(token string) (server.AccountID, bool) {
	var found server.AccountID
	ok := 0
	for _, e := range s.entries {
		if subtle.ConstantTimeCompare(e.token, []byte(token)) == 1 {
			found = e.account
			ok = 1
		}
	}
	return found, ok == 1
}

// Len returns the number of tokens.
func (s *StaticTokens) Len() int {
	return len(s.entries)
}

// Bearer returns a server.AuthFunc reading "Authorization: Bearer <token>".
// Requests without the header are admitted anonymously unless required is
// set.
func Bearer(tokens TokenSource, required bool) server.AuthFunc {
	return func(r *http.Request) (*server.AccountID, error) {
		header := r.Header.Get("Authorization")
		if header == "" {
			if required {
				return nil, server.ErrUnauthorized
			}
			return nil, nil
		}
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return nil, errors.Join(server.ErrUnauthorized, ErrMalformedHeader)
		}
		account, ok := tokens.Lookup(strings.TrimSpace(token))
		if !ok {
			return nil, errors.Join(server.ErrUnauthorized, ErrUnknownToken)
		}
		return &account, nil
	}
}

func prefix(token string) string {
	if len(token) > 4 {
		return token[:4]
	}
	return token
}
