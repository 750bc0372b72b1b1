package client

import "errors"

var (
	// ErrQueued means the connection is not ready yet. The message was kept
	// and will be sent once a connection is established.
	ErrQueued = errors.New("client: message queued until the connection is ready")

	// ErrSendFailed means the message was rejected because the connection is
	// being torn down. The message is dropped and an immediate reconnect is
	// started; the caller must retry explicitly.
	ErrSendFailed = errors.New("client: failed to send message")
)
