package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/courier/publisher"
)

// Timeout returns middleware that bounds each publisher call with d. A call
// that outlives its deadline is reported as a timeout-class error, which
// the pipeline retries like a transient failure. A non-positive d disables
// the bound.
func Timeout(d time.Duration, logger *slog.Logger) Middleware {
	return func(ctx context.Context, a *Attempt, next Handler) error {
		if d <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		err := next(ctx)
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			var pe *publisher.Error
			if !errors.As(err, &pe) || pe.Class != publisher.ClassTimeout {
				logger.Debug("publish call timed out",
					slog.String("job_id", a.Job.ID.String()),
					slog.Duration("timeout", d),
				)
				return &publisher.Error{Class: publisher.ClassTimeout, Err: err}
			}
		}
		return err
	}
}
