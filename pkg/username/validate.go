package username

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vango-dev/tether/pkg/protocol"
)

// Length bounds in bytes.
const (
	MinBytes = 5
	MaxBytes = 24
)

// Violation is one reason a username is rejected.
type Violation int

const (
	TooShort Violation = iota
	TooLong
	InvalidChars
)

func (v Violation) String() string {
	switch v {
	case TooShort:
		return "too short"
	case TooLong:
		return "too long"
	case InvalidChars:
		return "invalid characters"
	default:
		return "unknown"
	}
}

// ErrInvalid is matched by every *ValidationError.
var ErrInvalid = errors.New("username: invalid")

// ValidationError lists every rule a username breaks.
type ValidationError struct {
	Username   protocol.Username
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return fmt.Sprintf("username %q: %s", e.Username, strings.Join(parts, ", "))
}

// Is reports whether target is ErrInvalid.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

// Has reports whether v is among the violations.
func (e *ValidationError) Has(v Violation) bool {
	for _, got := range e.Violations {
		if got == v {
			return true
		}
	}
	return false
}

// Validate checks length and character set. Allowed characters are ASCII
// letters, digits, '_' and '-'.
func Validate(name protocol.Username) error {
	var violations []Violation
	switch n := len(name); {
	case n < MinBytes:
		violations = append(violations, TooShort)
	case n > MaxBytes:
		violations = append(violations, TooLong)
	}
	for i := 0; i < len(name); i++ {
		if !allowed(name[i]) {
			violations = append(violations, InvalidChars)
			break
		}
	}
	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Username: name, Violations: violations}
}

func allowed(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	case b == '_' || b == '-':
		return true
	}
	return false
}
