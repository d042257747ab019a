// Package observability provides an OpenTelemetry metrics extension for
// Courier. The MetricsExtension implements lifecycle hooks to record
// counters for job submission, rejection, completion, retry, throttling,
// failure, cancellation, DLQ and replay events.
//
// For per-call tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
