// Package middleware provides composable middleware around publisher calls.
//
// Every call the worker makes to the external publisher (one per single
// post, one per thread part, one per bulk item) runs through a
// [Middleware] chain. Middleware are composed with [Chain] and applied
// right-to-left: the first middleware in the slice is the outermost
// wrapper.
//
//	// logging → recover → timeout → publisher
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger), middleware.Timeout(30*time.Second, logger))
//
// # Built-in Middleware
//
//   - [Logging]: logs job id, profile, item index, duration and outcome
//   - [Recover]: catches panics in the publisher and converts them to errors
//   - [Timeout]: bounds each call; expiry surfaces as a timeout-class error
//   - [Tracing]: wraps each call in an OpenTelemetry span
//   - [Metrics]: records per-call duration and outcome counters
//
// [Default] assembles all five with the configured publish timeout.
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, a *middleware.Attempt, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
