// Package middleware provides server.Handler wrappers for tether
// applications.
//
// This package includes:
//   - OpenTelemetry tracing middleware
//   - Prometheus metrics middleware
//   - Chain for composing them
//
// # OpenTelemetry Middleware
//
// The OpenTelemetry middleware starts a span for every app message handed to
// the wrapped handler. Spans carry the message kind and client ID, and the
// handler receives the span's context.
//
//	h := middleware.Chain(handler,
//	    middleware.OpenTelemetry(
//	        middleware.WithTracerName("my-app"),
//	        middleware.WithMessageFilter(func(msg protocol.AppMessage) bool {
//	            return msg.Kind() != protocol.KindHeartbeat
//	        }),
//	    ),
//	)
//
// # Prometheus Metrics
//
// The Prometheus middleware counts and times handler calls:
//   - tether_handler_messages_total: messages by kind and status
//   - tether_handler_message_duration_seconds: processing duration histogram
//   - tether_handler_message_errors_total: errors by kind and category
//
// Ping and Heartbeat are answered by the actor itself and never reach a
// handler, so they do not appear in these metrics.
package middleware
