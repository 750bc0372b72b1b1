// Package server provides the server side of the tether session protocol.
//
// # Architecture
//
// The server runtime consists of several key components:
//
//   - Gate: A fixed pool of admission permits; TryAdmit never queues
//   - Registry: Maps each ClientID to its live actor and evicts replaced ones
//   - Actor: Per-connection event loop racing a liveness loop
//   - Forwarder: Reads client frames and feeds them to the actor
//   - Server: HTTP/WebSocket front end with graceful shutdown
//
// # Admission
//
// Every connection attempt takes a permit before the WebSocket upgrade.
// When the pool is exhausted the request is answered with 429 Too Many
// Requests; a closed gate answers 500. The permit is owned by the actor and
// released exactly once when the actor terminates, whatever the reason.
//
// # Actor Lifecycle
//
// An actor runs two loops and stops as soon as either ends:
//   - The event loop handles app messages, outbound backend messages and
//     Terminate, one at a time, from a channel that holds one event
//   - The liveness loop fails when no pong or heartbeat arrived within
//     PongTimeout
//
// Pings are sent every PingInterval. The socket is then closed with a
// Normal reason if the event loop finished cleanly and an Error reason
// otherwise, the registry entry is removed and the permit released.
//
// # Replacement
//
// Spawning an actor for a ClientID that already has one replaces the entry.
// The old actor is sent Terminate if its queue has room and aborted if not.
// A terminated actor still running after TerminationGracePeriod is aborted.
//
// # Example Usage
//
//	h := server.HandlerFunc(func(ctx context.Context, c *server.Context, msg protocol.AppMessage) error {
//	    c.Logger().Info("message", "kind", msg.Kind())
//	    return nil
//	})
//
//	srv := server.New(server.DefaultServerConfig().WithAddress(":8080"), h)
//	srv.Run()
//
// # Thread Safety
//
// Server, Registry, Gate, ActorHandle and ActorSender are safe for
// concurrent use. A Context belongs to one actor; Handler code runs on that
// actor's event loop and must not retain it.
package server
