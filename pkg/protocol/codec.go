package protocol

import (
	"errors"
	"fmt"
)

// Codec errors. Any error returned by a Decode function is a decode error;
// these sentinels cover the cases not already described by io or the
// Decoder.
var (
	ErrEmptyMessage   = errors.New("protocol: empty message")
	ErrUnknownVariant = errors.New("protocol: unknown message variant")
	ErrTrailingBytes  = errors.New("protocol: trailing bytes after message")
)

// EncodeAppMessage encodes a client message to its wire form.
func EncodeAppMessage(m AppMessage) []byte {
	e := NewEncoder()
	EncodeAppMessageTo(e, m)
	return e.Bytes()
}

// EncodeAppMessageTo encodes a client message using the provided encoder.
func EncodeAppMessageTo(e *Encoder, m AppMessage) {
	e.WriteByte(byte(m.Kind()))

	switch msg := m.(type) {
	case Ping, Heartbeat, GenerateUsername:
		// no fields
	case CheckUsernameAvailability:
		e.WriteString(string(msg.Username))
	default:
		panic(fmt.Sprintf("protocol: unhandled app message %T", m))
	}
}

// DecodeAppMessage decodes a client message. The whole buffer must be
// consumed.
func DecodeAppMessage(data []byte) (AppMessage, error) {
	d := NewDecoder(data)
	kind, err := readKind(d)
	if err != nil {
		return nil, err
	}

	var m AppMessage
	switch kind {
	case KindPing:
		m = Ping{}
	case KindHeartbeat:
		m = Heartbeat{}
	case KindGenerateUsername:
		m = GenerateUsername{}
	case KindCheckUsernameAvailability:
		name, err := d.ReadString()
		if err != nil {
			return nil, fmt.Errorf("protocol: decode %s: %w", kind, err)
		}
		m = CheckUsernameAvailability{Username: Username(name)}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownVariant, kind)
	}

	if !d.EOF() {
		return nil, fmt.Errorf("%w: %d bytes after %s", ErrTrailingBytes, d.Remaining(), kind)
	}
	return m, nil
}

// EncodeBackendMessage encodes a server message to its wire form.
func EncodeBackendMessage(m BackendMessage) []byte {
	e := NewEncoder()
	EncodeBackendMessageTo(e, m)
	return e.Bytes()
}

// EncodeBackendMessageTo encodes a server message using the provided encoder.
func EncodeBackendMessageTo(e *Encoder, m BackendMessage) {
	e.WriteByte(byte(m.Kind()))

	switch msg := m.(type) {
	case Pong:
		// no fields
	case UsernameAvailability:
		e.WriteString(string(msg.Username))
		e.WriteBool(msg.Available)
	case GeneratedUsername:
		e.WriteString(string(msg.Username))
	default:
		panic(fmt.Sprintf("protocol: unhandled backend message %T", m))
	}
}

// DecodeBackendMessage decodes a server message. The whole buffer must be
// consumed.
func DecodeBackendMessage(data []byte) (BackendMessage, error) {
	d := NewDecoder(data)
	kind, err := readKind(d)
	if err != nil {
		return nil, err
	}

	var m BackendMessage
	switch kind {
	case KindPong:
		m = Pong{}
	case KindUsernameAvailability:
		name, err := d.ReadString()
		if err != nil {
			return nil, fmt.Errorf("protocol: decode %s: %w", kind, err)
		}
		available, err := d.ReadBool()
		if err != nil {
			return nil, fmt.Errorf("protocol: decode %s: %w", kind, err)
		}
		m = UsernameAvailability{Username: Username(name), Available: available}
	case KindGeneratedUsername:
		name, err := d.ReadString()
		if err != nil {
			return nil, fmt.Errorf("protocol: decode %s: %w", kind, err)
		}
		m = GeneratedUsername{Username: Username(name)}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownVariant, kind)
	}

	if !d.EOF() {
		return nil, fmt.Errorf("%w: %d bytes after %s", ErrTrailingBytes, d.Remaining(), kind)
	}
	return m, nil
}

func readKind(d *Decoder) (Kind, error) {
	if d.EOF() {
		return 0, ErrEmptyMessage
	}
	b, err := d.ReadByte()
	if err != nil {
		return 0, err
	}
	return Kind(b), nil
}
