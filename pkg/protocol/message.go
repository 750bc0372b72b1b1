package protocol

import "fmt"

// Kind identifies a message variant on the wire. Client-originated kinds
// live below 0x80 and server-originated kinds at or above it, so a stray
// frame sent in the wrong direction never decodes.
type Kind uint8

const (
	KindPing                      Kind = 0x01 // Readiness probe
	KindHeartbeat                 Kind = 0x02 // Periodic client liveness
	KindGenerateUsername          Kind = 0x03 // Request a suggested username
	KindCheckUsernameAvailability Kind = 0x04 // Ask whether a username is free

	KindPong                 Kind = 0x81 // Response to Ping
	KindUsernameAvailability Kind = 0x82 // Availability result
	KindGeneratedUsername    Kind = 0x83 // Suggested username
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindPing:
		return "Ping"
	case KindHeartbeat:
		return "Heartbeat"
	case KindGenerateUsername:
		return "GenerateUsername"
	case KindCheckUsernameAvailability:
		return "CheckUsernameAvailability"
	case KindPong:
		return "Pong"
	case KindUsernameAvailability:
		return "UsernameAvailability"
	case KindGeneratedUsername:
		return "GeneratedUsername"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(k))
	}
}

// Username is a candidate or registered account name.
type Username string

// AppMessage is a message sent by the client to the backend.
// The set of implementations is closed; see the Kind constants.
type AppMessage interface {
	Kind() Kind
	appMessage()
}

// BackendMessage is a message sent by the backend to the client.
// The set of implementations is closed; see the Kind constants.
type BackendMessage interface {
	Kind() Kind
	backendMessage()
}

// Ping asks the backend to answer with Pong once the session is usable.
type Ping struct{}

// Heartbeat is sent periodically by the client to prove it is alive.
type Heartbeat struct{}

// GenerateUsername asks the backend for a suggested username.
type GenerateUsername struct{}

// CheckUsernameAvailability asks whether Username can be registered.
type CheckUsernameAvailability struct {
	Username Username
}

// Pong acknowledges a Ping.
type Pong struct{}

// UsernameAvailability answers CheckUsernameAvailability.
type UsernameAvailability struct {
	Username  Username
	Available bool
}

// GeneratedUsername answers GenerateUsername.
type GeneratedUsername struct {
	Username Username
}

func (Ping) Kind() Kind                      { return KindPing }
func (Heartbeat) Kind() Kind                 { return KindHeartbeat }
func (GenerateUsername) Kind() Kind          { return KindGenerateUsername }
func (CheckUsernameAvailability) Kind() Kind { return KindCheckUsernameAvailability }
func (Pong) Kind() Kind                      { return KindPong }
func (UsernameAvailability) Kind() Kind      { return KindUsernameAvailability }
func (GeneratedUsername) Kind() Kind         { return KindGeneratedUsername }

func (Ping) appMessage()                      {}
func (Heartbeat) appMessage()                 {}
func (GenerateUsername) appMessage()          {}
func (CheckUsernameAvailability) appMessage() {}

func (Pong) backendMessage()                 {}
func (UsernameAvailability) backendMessage() {}
func (GeneratedUsername) backendMessage()    {}
