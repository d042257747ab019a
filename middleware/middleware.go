// Package middleware provides composable middleware around publisher calls.
// Middleware wraps each call synchronously and can modify it (recover from
// panics, bound it with a deadline, log, add tracing, etc.).
package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/courier/job"
	"github.com/xraph/courier/publisher"
)

// Attempt describes one publisher call made while dispatching a job.
type Attempt struct {
	Job *job.Job
	// Index is the thread part or bulk item being published; 0 for
	// single-call kinds.
	Index int
	Post  publisher.Post
}

// Handler is the terminal function that performs the publisher call.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the attempt being made, and the
// next handler to call. Middleware MUST call next to continue the chain
// (unless short-circuiting on error).
type Middleware func(ctx context.Context, a *Attempt, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, timeout) executes as:
//
//	logging → recover → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, a *Attempt, next Handler) error {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, a, prev)
			}
		}
		return h(ctx)
	}
}

// Default returns the standard chain: logging, recover, tracing, metrics
// and a per-call timeout, outermost first.
func Default(logger *slog.Logger, timeout time.Duration) Middleware {
	return Chain(
		Logging(logger),
		Recover(logger),
		Tracing(),
		Metrics(),
		Timeout(timeout, logger),
	)
}
