package middleware

import (
	"context"
	"fmt"

	"github.com/vango-dev/tether/pkg/protocol"
	"github.com/vango-dev/tether/pkg/server"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Default tracer name for tether handlers.
const defaultTracerName = "tether"

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "tether").
	TracerName string

	// TracerProvider supplies the tracer.
	// Default: the global provider from otel.GetTracerProvider().
	TracerProvider trace.TracerProvider

	// IncludeAccount includes the authenticated account ID in traces.
	// May identify a person, so disabled by default.
	IncludeAccount bool

	// Filter determines which messages to trace.
	// Return true to trace the message, false to skip.
	// If nil, all messages are traced.
	Filter func(msg protocol.AppMessage) bool

	// AttributeExtractor adds custom attributes for each traced message.
	AttributeExtractor func(c *server.Context, msg protocol.AppMessage) []attribute.KeyValue
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *OTelConfig) {
		c.TracerProvider = tp
	}
}

// WithIncludeAccount enables including the account ID in traces.
func WithIncludeAccount(include bool) OTelOption {
	return func(c *OTelConfig) {
		c.IncludeAccount = include
	}
}

// WithMessageFilter sets a filter function for messages.
func WithMessageFilter(filter func(msg protocol.AppMessage) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(c *server.Context, msg protocol.AppMessage) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.AttributeExtractor = extractor
	}
}

func defaultOTelConfig() OTelConfig {
	return OTelConfig{
		TracerName: defaultTracerName,
	}
}

// OpenTelemetry creates middleware that traces every message the wrapped
// handler processes.
//
// The middleware:
//   - Starts a server span named after the message kind
//   - Passes the span's context to the wrapped handler
//   - Records errors and sets span status
//
// The tracer comes from the global OpenTelemetry provider unless
// WithTracerProvider is given. Configure it in main() before starting the
// server:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
func OpenTelemetry(opts ...OTelOption) Middleware {
	config := defaultOTelConfig()
	for _, opt := range opts {
		opt(&config)
	}
	tp := config.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer(config.TracerName)

	return func(next server.Handler) server.Handler {
		return server.HandlerFunc(func(ctx context.Context, c *server.Context, msg protocol.AppMessage) error {
			if config.Filter != nil && !config.Filter(msg) {
				return call(ctx, next, c, msg)
			}

			attrs := []attribute.KeyValue{
				attribute.String("tether.message_kind", msg.Kind().String()),
			}
			if c != nil {
				attrs = append(attrs, attribute.Int64("tether.client_id", int64(c.ClientID)))
				if config.IncludeAccount && c.Account != nil {
					attrs = append(attrs, attribute.String("tether.account_id", c.Account.String()))
				}
			}
			if config.AttributeExtractor != nil {
				attrs = append(attrs, config.AttributeExtractor(c, msg)...)
			}

			spanCtx, span := tracer.Start(ctx, spanName(msg),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
			)
			defer span.End()

			err := call(spanCtx, next, c, msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}
			return err
		})
	}
}

func spanName(msg protocol.AppMessage) string {
	return fmt.Sprintf("tether.%s", msg.Kind())
}

// SpanFromContext returns the span started by OpenTelemetry for the
// message being processed. Outside a traced handler it returns a no-op span.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}
