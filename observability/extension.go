package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*MetricsExtension)(nil)
	_ ext.JobSubmitted   = (*MetricsExtension)(nil)
	_ ext.JobRejected    = (*MetricsExtension)(nil)
	_ ext.JobCompleted   = (*MetricsExtension)(nil)
	_ ext.JobRetrying    = (*MetricsExtension)(nil)
	_ ext.JobRateLimited = (*MetricsExtension)(nil)
	_ ext.JobFailed      = (*MetricsExtension)(nil)
	_ ext.JobCancelled   = (*MetricsExtension)(nil)
	_ ext.JobDLQ         = (*MetricsExtension)(nil)
	_ ext.JobReplayed    = (*MetricsExtension)(nil)
)

// meterName is the instrumentation scope of the lifecycle counters.
const meterName = "github.com/xraph/courier/observability"

// MetricsExtension records pipeline lifecycle metrics as OpenTelemetry
// counters. Register it as a Courier extension to track submission,
// rejection, completion, retry, throttling, failure and DLQ rates per
// job kind.
type MetricsExtension struct {
	Submitted   metric.Int64Counter
	Rejected    metric.Int64Counter
	Completed   metric.Int64Counter
	Retried     metric.Int64Counter
	RateLimited metric.Int64Counter
	Failed      metric.Int64Counter
	Cancelled   metric.Int64Counter
	DLQ         metric.Int64Counter
	Replayed    metric.Int64Counter
	Latency     metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension using meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	// On error the API returns noop instruments.
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{job}"))
		return c
	}
	latency, _ := meter.Float64Histogram(
		"courier.job.latency",
		metric.WithDescription("Time from claim to completion in seconds"),
		metric.WithUnit("s"),
	)
	return &MetricsExtension{
		Submitted:   counter("courier.job.submitted", "Jobs accepted by submit"),
		Rejected:    counter("courier.job.rejected", "Submissions refused before a job was created"),
		Completed:   counter("courier.job.completed", "Jobs whose content was published"),
		Retried:     counter("courier.job.retried", "Publish attempts rescheduled after a transient failure"),
		RateLimited: counter("courier.job.rate_limited", "Jobs parked by quota or platform throttling"),
		Failed:      counter("courier.job.failed", "Jobs that ended failed"),
		Cancelled:   counter("courier.job.cancelled", "Jobs cancelled before posting"),
		DLQ:         counter("courier.job.dlq", "Jobs moved to the dead letter queue"),
		Replayed:    counter("courier.job.replayed", "Dead letter entries replayed"),
		Latency:     latency,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func kindAttr(kind job.Kind) metric.AddOption {
	return metric.WithAttributes(attribute.String("kind", string(kind)))
}

// OnJobSubmitted implements ext.JobSubmitted.
func (m *MetricsExtension) OnJobSubmitted(ctx context.Context, j *job.Job) error {
	m.Submitted.Add(ctx, 1, kindAttr(j.Kind))
	return nil
}

// OnJobRejected implements ext.JobRejected.
func (m *MetricsExtension) OnJobRejected(ctx context.Context, _, _ string, kind job.Kind, err error) error {
	m.Rejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("reason", rejectionReason(err)),
	))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	m.Completed.Add(ctx, 1, kindAttr(j.Kind))
	m.Latency.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("kind", string(j.Kind))))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.Retried.Add(ctx, 1, kindAttr(j.Kind))
	return nil
}

// OnJobRateLimited implements ext.JobRateLimited.
func (m *MetricsExtension) OnJobRateLimited(ctx context.Context, j *job.Job, _ time.Time) error {
	m.RateLimited.Add(ctx, 1, kindAttr(j.Kind))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, err error) error {
	m.Failed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(j.Kind)),
		attribute.String("class", failureClass(err)),
	))
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	m.Cancelled.Add(ctx, 1, kindAttr(j.Kind))
	return nil
}

// OnJobDLQ implements ext.JobDLQ.
func (m *MetricsExtension) OnJobDLQ(ctx context.Context, j *job.Job, _ error) error {
	m.DLQ.Add(ctx, 1, kindAttr(j.Kind))
	return nil
}

// OnJobReplayed implements ext.JobReplayed.
func (m *MetricsExtension) OnJobReplayed(ctx context.Context, _ id.DLQID, j *job.Job) error {
	m.Replayed.Add(ctx, 1, kindAttr(j.Kind))
	return nil
}
