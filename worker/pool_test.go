package worker_test

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/courier/backoff"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/publisher"
	"github.com/xraph/courier/store/memory"
	"github.com/xraph/courier/worker"
)

func setupTestPool(t *testing.T, pub publisher.Publisher, concurrency int, pollInterval time.Duration, exts ...ext.Extension) (
	*worker.Pool, *memory.Store,
) {
	t.Helper()
	logger := slog.Default()
	s := memory.New()
	extensions := ext.NewRegistry(logger)
	for _, x := range exts {
		extensions.Register(x)
	}

	executor := worker.NewExecutor(s, pub, extensions, logger,
		worker.WithDLQ(dlq.NewService(s, s)),
		worker.WithBackoff(backoff.NewConstant(10*time.Millisecond)),
	)

	pool := worker.NewPool(s, executor, extensions, logger,
		worker.WithPoolConcurrency(concurrency),
		worker.WithPollInterval(pollInterval),
	)
	return pool, s
}

func waitForStatus(t *testing.T, s *memory.Store, j *job.Job, want job.Status) *job.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := s.GetJob(context.Background(), j.ID)
		if err == nil && got.Status == want {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	got, _ := s.GetJob(context.Background(), j.ID)
	t.Fatalf("job status = %q, want %q", got.Status, want)
	return nil
}

func TestPool_StartStop(t *testing.T) {
	pool, _ := setupTestPool(t, publisher.NewRecorder(), 2, 50*time.Millisecond)

	err := pool.Start(context.Background())
	if err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	// Double start should be no-op.
	err = pool.Start(context.Background())
	if err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = pool.Stop(ctx)
	if err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}

	// Double stop should be no-op.
	err = pool.Stop(ctx)
	if err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}
}

func TestPool_ProcessesJob(t *testing.T) {
	pub := publisher.NewRecorder()
	pool, s := setupTestPool(t, pub, 1, 10*time.Millisecond)

	j := job.New(job.KindSinglePost, owner, profile, post("hello"), time.Now())
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = pool.Stop(context.Background()) }()

	got := waitForStatus(t, s, j, job.StatusCompleted)
	if got.Result.RemoteID == "" {
		t.Error("completed job has no remote id")
	}
	if n := pub.CallCount(); n != 1 {
		t.Errorf("publisher calls = %d, want 1", n)
	}
}

func TestPool_FailedJob(t *testing.T) {
	pub := publisher.NewRecorder(publisher.Step{Err: permanentErr})
	pool, s := setupTestPool(t, pub, 1, 10*time.Millisecond)

	j := job.New(job.KindSinglePost, owner, profile, post("bad"), time.Now())
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = pool.Stop(context.Background()) }()

	waitForStatus(t, s, j, job.StatusFailed)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if n, _ := s.CountDLQ(context.Background()); n == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("failed job never reached the DLQ")
}

func TestPool_GracefulShutdown(t *testing.T) {
	release := make(chan struct{})
	var started atomic.Bool
	pub := publisher.Func(func(ctx context.Context, _ string, _ publisher.Post) (publisher.Response, error) {
		started.Store(true)
		select {
		case <-release:
			return publisher.Response{RemoteID: "remote-slow"}, nil
		case <-ctx.Done():
			return publisher.Response{}, ctx.Err()
		}
	})
	pool, s := setupTestPool(t, pub, 1, 10*time.Millisecond)

	j := job.New(job.KindSinglePost, owner, profile, post("slow"), time.Now())
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !started.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !started.Load() {
		t.Fatal("job never started")
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != job.StatusCompleted {
		t.Errorf("status = %q, want completed after graceful stop", got.Status)
	}
}

type trackingExt struct {
	started   atomic.Int32
	completed atomic.Int32
	failed    atomic.Int32
}

func (e *trackingExt) Name() string { return "tracker" }

func (e *trackingExt) OnJobStarted(_ context.Context, _ *job.Job) error {
	e.started.Add(1)
	return nil
}

func (e *trackingExt) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	e.completed.Add(1)
	return nil
}

func (e *trackingExt) OnJobFailed(_ context.Context, _ *job.Job, _ error) error {
	e.failed.Add(1)
	return nil
}

func TestPool_ExtensionFires(t *testing.T) {
	tracker := &trackingExt{}
	pool, s := setupTestPool(t, publisher.NewRecorder(), 2, 10*time.Millisecond, tracker)

	for _, text := range []string{"one", "two", "three"} {
		j := job.New(job.KindSinglePost, owner, profile, post(text), time.Now())
		if err := s.EnqueueJob(context.Background(), j); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = pool.Stop(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for tracker.completed.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := tracker.completed.Load(); n != 3 {
		t.Fatalf("completed = %d, want 3", n)
	}
	if n := tracker.started.Load(); n != 3 {
		t.Errorf("started = %d, want 3", n)
	}
	if n := tracker.failed.Load(); n != 0 {
		t.Errorf("failed = %d, want 0", n)
	}
}
