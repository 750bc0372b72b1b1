// Package client provides the client side of the tether session protocol:
// a connection manager that keeps one logical channel to the server open
// across socket failures.
//
// # Connection States
//
// A Manager is either Uninitialized, holding a queue of messages, or has a
// Connection that may not be ready yet. Send reports which:
//
//   - nil: the message went to the live connection's outbox
//   - ErrQueued: no connection exists; the message will be replayed in order
//     once one does
//   - ErrSendFailed: the connection is being torn down; the message is
//     dropped and an immediate reconnect is started
//
// # Reconnecting
//
// Every connection writes a Ping probe first. The server's Pong marks the
// connection ready and resets the backoff. When the probe or any later
// write fails, or the server stream ends, the manager returns to
// Uninitialized with the undelivered messages and schedules the next
// attempt after the current backoff, which then grows by the multiplier.
//
// # Example Usage
//
//	m := client.NewManager(client.DefaultConfig("ws://localhost:8080/ws"),
//	    client.RouterFunc(func(msg protocol.BackendMessage) {
//	        fmt.Println("received", msg.Kind())
//	    }))
//	m.Start()
//	defer m.Close()
//
//	err := m.Send(protocol.GenerateUsername{})
//	switch client.StateFromError(err) {
//	case client.RequestOffline:
//	    // queued, will be sent after reconnecting
//	case client.RequestError:
//	    // abandoned, retry explicitly
//	}
package client
