// Package obs wraps each C9 operation in an OpenTelemetry span, following
// the teacher's tracing texture (otelhttp/otel instrumentation wired
// through pkg/database and pkg/services) even though the transport layer
// those teacher spans decorated is itself out of scope here (§1).
package obs

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/sevakavakians/kato/pkg/engine"

// Tracer returns the engine's named tracer. Embedders that never configure
// a TracerProvider still get working, no-op spans: otel.Tracer falls back
// to a global no-op provider until one is registered.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSession starts a span for one C9 operation scoped to a session_id,
// mirroring the teacher's per-request span convention. The returned End
// func records err (if any) onto the span and must be deferred by the
// caller.
func StartSession(ctx context.Context, op, sessionID string) (context.Context, func(err *error)) {
	ctx, span := Tracer().Start(ctx, op, trace.WithAttributes(
		attribute.String("kato.session_id", sessionID),
	))
	return ctx, func(errp *error) {
		if errp != nil && *errp != nil {
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
		}
		span.End()
	}
}
