package janitor_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/idempotency"
	"github.com/xraph/courier/janitor"
	"github.com/xraph/courier/store/memory"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stubReaper struct{ calls atomic.Int32 }

func (r *stubReaper) ReapStaleJobs(context.Context) int {
	r.calls.Add(1)
	return 2
}

func TestJanitor_InvalidSchedule(t *testing.T) {
	j := janitor.New(nil)
	if err := j.Add("bad", "not a schedule", janitor.ReapTask(&stubReaper{})); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestJanitor_DuplicateTask(t *testing.T) {
	j := janitor.New(nil)
	if err := j.Add("reap", "@every 30s", janitor.ReapTask(&stubReaper{})); err != nil {
		t.Fatalf("Add: %v", err)
	}
	err := j.Add("reap", "@every 1m", janitor.ReapTask(&stubReaper{}))
	if !errors.Is(err, janitor.ErrDuplicateTask) {
		t.Fatalf("err = %v, want ErrDuplicateTask", err)
	}
}

func TestJanitor_RunsOnlyDueTasks(t *testing.T) {
	clock := &fakeClock{now: t0}
	j := janitor.New(nil, janitor.WithClock(clock.Now))
	reaper := &stubReaper{}
	var hourly atomic.Int32

	_ = j.Add("reap", "@every 30s", janitor.ReapTask(reaper))
	_ = j.Add("hourly", "@hourly", func(context.Context) (int64, error) {
		hourly.Add(1)
		return 0, nil
	})

	if reports := j.RunOnce(context.Background()); len(reports) != 0 {
		t.Fatalf("nothing should be due yet, got %d reports", len(reports))
	}

	clock.Advance(30 * time.Second)
	reports := j.RunOnce(context.Background())
	if len(reports) != 1 || reports[0].Task != "reap" || reports[0].Affected != 2 {
		t.Fatalf("reports = %+v", reports)
	}
	if want := t0.Add(time.Minute); !reports[0].NextRun.Equal(want) {
		t.Errorf("next run = %v, want %v", reports[0].NextRun, want)
	}

	clock.Advance(time.Hour)
	reports = j.RunOnce(context.Background())
	if len(reports) != 2 {
		t.Fatalf("reports = %+v, want reap and hourly", reports)
	}
	if reaper.calls.Load() != 2 || hourly.Load() != 1 {
		t.Errorf("reap calls = %d, hourly calls = %d", reaper.calls.Load(), hourly.Load())
	}
	if next, _ := j.NextRun("hourly"); !next.Equal(time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)) {
		t.Errorf("hourly next run = %v", next)
	}
}

func TestJanitor_RunByName(t *testing.T) {
	j := janitor.New(nil)
	_ = j.Add("fail", "@daily", func(context.Context) (int64, error) {
		return 0, errors.New("store down")
	})

	rep, err := j.Run(context.Background(), "fail")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Err == nil {
		t.Error("task error not reported")
	}
	if _, err := j.Run(context.Background(), "missing"); err == nil {
		t.Error("unknown task should error")
	}
}

func TestPurgeIdempotencyTask(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	for i, exp := range []time.Time{t0.Add(-time.Hour), t0.Add(-time.Minute), t0.Add(time.Hour)} {
		_, _ = s.StoreIdempotency(ctx, &idempotency.Record{
			Key:       string(rune('a' + i)),
			Result:    []byte(`{}`),
			CreatedAt: exp.Add(-24 * time.Hour),
			ExpiresAt: exp,
		})
	}

	n, err := janitor.PurgeIdempotencyTask(s, func() time.Time { return t0 })(ctx)
	if err != nil || n != 2 {
		t.Fatalf("purged = %d, err = %v; want 2", n, err)
	}
	if _, err := s.LookupIdempotency(ctx, "c"); err != nil {
		t.Errorf("live record purged: %v", err)
	}
}

func TestPurgeDLQTask(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	for _, failedAt := range []time.Time{t0.Add(-40 * 24 * time.Hour), t0.Add(-time.Hour)} {
		_ = s.PushDLQ(ctx, &dlq.Entry{
			ID:        id.NewDLQID(),
			JobID:     id.NewJobID(),
			FailedAt:  failedAt,
			CreatedAt: failedAt,
		})
	}

	n, err := janitor.PurgeDLQTask(s, 30*24*time.Hour, func() time.Time { return t0 })(ctx)
	if err != nil || n != 1 {
		t.Fatalf("purged = %d, err = %v; want 1", n, err)
	}
	if count, _ := s.CountDLQ(ctx); count != 1 {
		t.Errorf("remaining = %d, want 1", count)
	}
}

func TestPurgeFingerprintsTask(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: t0}
	s := memory.New(memory.WithClock(clock.Now))
	_ = s.RememberFingerprint(ctx, "o:p:old", "k1", time.Minute)
	_ = s.RememberFingerprint(ctx, "o:p:new", "k2", 48*time.Hour)
	clock.Advance(2 * time.Hour)

	n, err := janitor.PurgeFingerprintsTask(s, clock.Now)(ctx)
	if err != nil || n != 1 {
		t.Fatalf("purged = %d, err = %v; want 1", n, err)
	}
	if _, found, _ := s.LookupFingerprint(ctx, "o:p:new"); !found {
		t.Error("live fingerprint purged")
	}
}

func TestJanitor_StartStop(t *testing.T) {
	j := janitor.New(nil, janitor.WithTickInterval(10*time.Millisecond))
	var runs atomic.Int32
	_ = j.Add("tick", "@every 1s", func(context.Context) (int64, error) {
		runs.Add(1)
		return 1, nil
	})

	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if err := j.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if runs.Load() == 0 {
		t.Error("task never ran")
	}
}
