package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/courier/publisher"
)

// tracerName is the instrumentation scope name for courier tracing.
const tracerName = "github.com/xraph/courier"

// Tracing returns middleware that wraps each publisher call in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a pass-through.
//
// Span attributes include: courier.job.id, courier.job.kind,
// courier.profile_id, courier.attempt, courier.index.
// On error, the span status is set to codes.Error and courier.error_class
// is recorded.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, a *Attempt, next Handler) error {
		ctx, span := tracer.Start(ctx, "courier.publish",
			trace.WithAttributes(
				attribute.String("courier.job.id", a.Job.ID.String()),
				attribute.String("courier.job.kind", string(a.Job.Kind)),
				attribute.String("courier.profile_id", a.Job.ProfileID),
				attribute.Int("courier.attempt", a.Job.Attempts+1),
				attribute.Int("courier.index", a.Index),
			),
			trace.WithSpanKind(trace.SpanKindClient),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetAttributes(attribute.String("courier.error_class", string(publisher.Classify(err).Class)))
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
