package observability_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/courier"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/publisher"
)

func newTestExtension() (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

func newTestJob() *job.Job {
	return job.New(job.KindSinglePost, "owner_1", "prof_1", job.Payload{Text: "hi"}, time.Now())
}

// counterValues sums each counter's data points by name.
func counterValues(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				out[m.Name] += dp.Value
			}
		}
	}
	return out
}

func attrsOf(t *testing.T, reader *sdkmetric.ManualReader, name string) []attribute.KeyValue {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok && len(sum.DataPoints) > 0 {
				return sum.DataPoints[0].Attributes.ToSlice()
			}
		}
	}
	t.Fatalf("metric %s not found", name)
	return nil
}

func attrValue(attrs []attribute.KeyValue, key string) string {
	for _, a := range attrs {
		if string(a.Key) == key {
			return a.Value.AsString()
		}
	}
	return ""
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	e, reader := newTestExtension()

	reg := ext.NewRegistry(slog.Default())
	reg.Register(e)

	ctx := context.Background()
	j := newTestJob()

	reg.EmitJobSubmitted(ctx, j)
	reg.EmitJobRejected(ctx, j.OwnerID, j.ProfileID, j.Kind, courier.ErrDuplicateContent)
	reg.EmitJobCompleted(ctx, j, 50*time.Millisecond)
	reg.EmitJobRetrying(ctx, j, 1, time.Now())
	reg.EmitJobRateLimited(ctx, j, time.Now())
	reg.EmitJobFailed(ctx, j, errors.New("fail"))
	reg.EmitJobCancelled(ctx, j)
	reg.EmitJobDLQ(ctx, j, errors.New("dead"))
	reg.EmitJobReplayed(ctx, id.NewDLQID(), j)

	got := counterValues(t, reader)
	for _, name := range []string{
		"courier.job.submitted",
		"courier.job.rejected",
		"courier.job.completed",
		"courier.job.retried",
		"courier.job.rate_limited",
		"courier.job.failed",
		"courier.job.cancelled",
		"courier.job.dlq",
		"courier.job.replayed",
	} {
		if got[name] != 1 {
			t.Errorf("%s: want 1, got %d", name, got[name])
		}
	}
}

func TestMetricsExtension_RejectionReason(t *testing.T) {
	e, reader := newTestExtension()
	rej := &courier.RejectionError{Err: courier.ErrQuotaExceeded, Reason: "posts/day limit of 250 reached"}

	if err := e.OnJobRejected(context.Background(), "owner_1", "prof_1", job.KindReply, rej); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	attrs := attrsOf(t, reader, "courier.job.rejected")
	if got := attrValue(attrs, "reason"); got != "quota" {
		t.Errorf("reason = %q, want quota", got)
	}
	if got := attrValue(attrs, "kind"); got != string(job.KindReply) {
		t.Errorf("kind = %q, want reply", got)
	}
}

func TestMetricsExtension_FailureClass(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{publisher.Permanent(errors.New("400")), "permanent"},
		{publisher.RateLimited(time.Minute, errors.New("429")), "rate_limited"},
		{courier.ErrDuplicateContent, "duplicate"},
	}
	for _, tt := range tests {
		e, reader := newTestExtension()
		if err := e.OnJobFailed(context.Background(), newTestJob(), tt.err); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := attrValue(attrsOf(t, reader, "courier.job.failed"), "class"); got != tt.want {
			t.Errorf("class for %v = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestMetricsExtension_RecordsLatency(t *testing.T) {
	e, reader := newTestExtension()
	if err := e.OnJobCompleted(context.Background(), newTestJob(), 2*time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "courier.job.latency" {
				continue
			}
			hist, ok := m.Data.(metricdata.Histogram[float64])
			if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Sum != 2 {
				t.Fatalf("latency data = %+v", m.Data)
			}
			return
		}
	}
	t.Fatal("courier.job.latency not found")
}

func TestMetricsExtension_DefaultNoopSafe(t *testing.T) {
	e := observability.NewMetricsExtension()
	if err := e.OnJobSubmitted(context.Background(), newTestJob()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
