// Package protocol implements the binary wire protocol spoken between a
// tether client and the backend.
//
// Each WebSocket binary message carries exactly one message value. There is
// no additional framing: the transport already delimits messages.
//
// # Wire Format
//
//	┌─────────────┬───────────────────────────────────────────────┐
//	│ Kind        │ Fields (variant specific)                     │
//	│ (1 byte)    │                                               │
//	└─────────────┴───────────────────────────────────────────────┘
//
// Strings are varint-length-prefixed UTF-8, booleans are a single 0x00 or
// 0x01 byte.
//
// # Message Variants
//
// Client to backend (AppMessage):
//
//   - Ping (0x01): readiness probe, answered by Pong
//   - Heartbeat (0x02): periodic liveness
//   - GenerateUsername (0x03)
//   - CheckUsernameAvailability (0x04): username
//
// Backend to client (BackendMessage):
//
//   - Pong (0x81)
//   - UsernameAvailability (0x82): username, available
//   - GeneratedUsername (0x83): username
//
// Both unions are closed: the marker methods are unexported, and the
// encode functions switch over every variant.
//
// # Liveness
//
// The server sends WebSocket ping control frames carrying PingPayload and
// expects matching pongs. Clients additionally send Heartbeat messages;
// either keeps a session alive.
package protocol
