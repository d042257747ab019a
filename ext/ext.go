// Package ext defines the extension system for Courier.
// Extensions are notified of pipeline events (job submitted, published,
// rate limited, failed, etc.) and can react to them: metrics, audit
// trails, notifications.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Admission hooks
// ──────────────────────────────────────────────────

// JobSubmitted is called after a job passes admission and is stored.
type JobSubmitted interface {
	OnJobSubmitted(ctx context.Context, j *job.Job) error
}

// JobRejected is called when a submission is refused before a job is
// created (duplicate content or quota exhausted).
type JobRejected interface {
	OnJobRejected(ctx context.Context, ownerID, profileID string, kind job.Kind, err error) error
}

// ──────────────────────────────────────────────────
// Pipeline hooks
// ──────────────────────────────────────────────────

// JobStarted is called when a worker claims a job and begins its
// dispatch cycle.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job's content is published.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobRetrying is called when a publish attempt fails transiently and the
// job is rescheduled.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobRateLimited is called when a job is parked until a quota window
// reopens or the platform's throttling hint elapses.
type JobRateLimited interface {
	OnJobRateLimited(ctx context.Context, j *job.Job, retryAt time.Time) error
}

// JobFailed is called when a job fails terminally.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobCancelled is called when a job is cancelled.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, j *job.Job) error
}

// JobDLQ is called when a failed job is moved to the dead letter queue.
type JobDLQ interface {
	OnJobDLQ(ctx context.Context, j *job.Job, err error) error
}

// JobReplayed is called when a dead letter entry is replayed as a new job.
type JobReplayed interface {
	OnJobReplayed(ctx context.Context, entryID id.DLQID, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
