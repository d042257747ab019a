package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/courier/publisher"
)

// Logging returns middleware that logs each publisher call and its outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, a *Attempt, next Handler) error {
		logger.Debug("publish attempt started",
			slog.String("job_id", a.Job.ID.String()),
			slog.String("kind", string(a.Job.Kind)),
			slog.String("profile_id", a.Job.ProfileID),
			slog.Int("index", a.Index),
			slog.Int("attempt", a.Job.Attempts+1),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			pe := publisher.Classify(err)
			logger.Warn("publish attempt failed",
				slog.String("job_id", a.Job.ID.String()),
				slog.String("profile_id", a.Job.ProfileID),
				slog.Int("index", a.Index),
				slog.String("class", string(pe.Class)),
				slog.Duration("retry_after", pe.RetryAfter),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("publish attempt succeeded",
				slog.String("job_id", a.Job.ID.String()),
				slog.String("profile_id", a.Job.ProfileID),
				slog.Int("index", a.Index),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
