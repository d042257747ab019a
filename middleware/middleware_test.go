package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/middleware"
	"github.com/xraph/courier/publisher"
)

func newAttempt() *middleware.Attempt {
	return &middleware.Attempt{
		Job: &job.Job{
			ID:        id.NewJobID(),
			Kind:      job.KindThreadedPost,
			ProfileID: "prof_1",
			Attempts:  1,
		},
		Index: 2,
		Post:  publisher.Post{Text: "hello"},
	}
}

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string

	mw1 := func(ctx context.Context, _ *middleware.Attempt, next middleware.Handler) error {
		order = append(order, "mw1-before")
		err := next(ctx)
		order = append(order, "mw1-after")
		return err
	}

	mw2 := func(ctx context.Context, _ *middleware.Attempt, next middleware.Handler) error {
		order = append(order, "mw2-before")
		err := next(ctx)
		order = append(order, "mw2-after")
		return err
	}

	chain := middleware.Chain(mw1, mw2)
	handler := func(_ context.Context) error {
		order = append(order, "handler")
		return nil
	}

	if err := chain(context.Background(), newAttempt(), handler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	chain := middleware.Chain()
	called := false
	err := chain(context.Background(), newAttempt(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty chain")
	}
}

func TestChain_PropagatesError(t *testing.T) {
	pass := func(ctx context.Context, _ *middleware.Attempt, next middleware.Handler) error {
		return next(ctx)
	}
	want := errors.New("handler error")

	err := middleware.Chain(pass)(context.Background(), newAttempt(), func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	a := newAttempt()
	err := middleware.Recover(slog.Default())(context.Background(), a, func(_ context.Context) error {
		panic("test panic")
	})
	if err == nil {
		t.Fatal("expected error from panic recovery")
	}
	if got, want := err.Error(), "panic publishing job "+a.Job.ID.String()+": test panic"; got != want {
		t.Errorf("error = %q, want %q", got, want)
	}
	// Unclassified errors retry as transient failures.
	if publisher.Classify(err).Class != publisher.ClassTransient {
		t.Errorf("recovered panic should classify as transient")
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	called := false
	err := middleware.Recover(slog.Default())(context.Background(), newAttempt(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("err=%v called=%v", err, called)
	}
}

func TestTimeout_BoundsCall(t *testing.T) {
	m := middleware.Timeout(20*time.Millisecond, slog.Default())

	start := time.Now()
	err := m(context.Background(), newAttempt(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if time.Since(start) > time.Second {
		t.Fatal("timeout did not bound the call")
	}
	if !errors.Is(err, courier.ErrPublishTimeout) {
		t.Fatalf("expected publish timeout, got %v", err)
	}
	if publisher.Classify(err).Class != publisher.ClassTimeout {
		t.Fatalf("expected timeout class, got %s", publisher.Classify(err).Class)
	}
}

func TestTimeout_KeepsOtherErrors(t *testing.T) {
	m := middleware.Timeout(time.Second, slog.Default())
	perm := publisher.Permanent(errors.New("rejected"))

	err := m(context.Background(), newAttempt(), func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("expected a deadline on the call context")
		}
		return perm
	})
	if !errors.Is(err, courier.ErrPermanentPublish) {
		t.Fatalf("expected permanent error to pass through, got %v", err)
	}
}

func TestTimeout_Disabled(t *testing.T) {
	m := middleware.Timeout(0, slog.Default())
	_ = m(context.Background(), newAttempt(), func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			t.Error("zero timeout must not set a deadline")
		}
		return nil
	})
}

func TestLogging_PassesResult(t *testing.T) {
	m := middleware.Logging(slog.Default())
	if err := m(context.Background(), newAttempt(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := publisher.RateLimited(time.Minute, errors.New("slow down"))
	err := m(context.Background(), newAttempt(), func(context.Context) error { return want })
	if !errors.Is(err, courier.ErrRemoteThrottled) {
		t.Fatalf("expected throttled error, got %v", err)
	}
}

func TestDefault_NoopProvidersSafe(t *testing.T) {
	chain := middleware.Default(slog.Default(), time.Second)
	called := false
	err := chain(context.Background(), newAttempt(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("err=%v called=%v", err, called)
	}
}
