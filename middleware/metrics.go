package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/courier/publisher"
)

// meterName is the instrumentation scope name for courier metrics.
const meterName = "github.com/xraph/courier"

// Metrics returns middleware that records per-call publish metrics using
// the global OTel MeterProvider. If no MeterProvider is configured, noop
// instruments are used and this middleware becomes a pass-through.
//
// Instruments:
//   - courier.publish.duration (Float64Histogram): call time in seconds,
//     with attributes: kind, outcome ("ok" or the error class)
//   - courier.publish.calls (Int64Counter): total calls,
//     with attributes: kind, outcome
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments.
	duration, _ := meter.Float64Histogram(
		"courier.publish.duration",
		metric.WithDescription("Duration of publisher calls in seconds"),
		metric.WithUnit("s"),
	)
	calls, _ := meter.Int64Counter(
		"courier.publish.calls",
		metric.WithDescription("Total number of publisher calls"),
		metric.WithUnit("{call}"),
	)

	return func(ctx context.Context, a *Attempt, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		outcome := "ok"
		if err != nil {
			outcome = string(publisher.Classify(err).Class)
		}

		attrs := metric.WithAttributes(
			attribute.String("kind", string(a.Job.Kind)),
			attribute.String("outcome", outcome),
		)

		duration.Record(ctx, elapsed, attrs)
		calls.Add(ctx, 1, attrs)

		return err
	}
}
