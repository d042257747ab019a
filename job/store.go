package job

import (
	"context"
	"time"

	"github.com/xraph/courier/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// ProfileID filters by profile. Empty means all profiles.
	ProfileID string
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// ProfileID filters by profile. Empty means all profiles.
	ProfileID string
	// Status filters by status. Empty means all statuses.
	Status Status
}

// Store defines the persistence contract for jobs.
type Store interface {
	// EnqueueJob persists a new queued job. It returns
	// courier.ErrJobAlreadyExists for a duplicate ID and
	// courier.ErrIdempotencyConflict when the owner already has a job
	// bound to the same idempotency key.
	EnqueueJob(ctx context.Context, j *Job) error

	// ClaimJobs atomically claims up to limit jobs that are queued, or
	// rate_limited and due, with ScheduledFor <= now and no owning
	// worker. Rate-limited jobs are moved back to queued as they are
	// claimed. Jobs are ordered by priority (descending) then CreatedAt
	// (ascending).
	ClaimJobs(ctx context.Context, workerID id.WorkerID, now time.Time, limit int) ([]*Job, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// GetJobByIdempotencyKey retrieves the owner's job bound to key.
	GetJobByIdempotencyKey(ctx context.Context, ownerID, key string) (*Job, error)

	// SwapJob persists j only if the stored status still equals expected
	// and returns courier.ErrStaleJob otherwise. The stored
	// CancelRequested flag is never cleared by a swap.
	SwapJob(ctx context.Context, j *Job, expected Status) error

	// RequestCancel sets the advisory CancelRequested flag.
	RequestCancel(ctx context.Context, jobID id.JobID) error

	// HeartbeatJob updates the heartbeat timestamp of a claimed job,
	// indicating the worker is still alive.
	HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, now time.Time) error

	// FindJobsByFingerprint returns the owner's jobs for profileID with
	// the given fingerprint created at or after since.
	FindJobsByFingerprint(ctx context.Context, ownerID, profileID, fingerprint string, since time.Time) ([]*Job, error)

	// ListJobsByStatus returns jobs with the given status.
	ListJobsByStatus(ctx context.Context, status Status, opts ListOpts) ([]*Job, error)

	// ReapStaleJobs returns claimed, non-terminal jobs whose last
	// heartbeat is before staleBefore, indicating the worker may have
	// crashed. It does not modify them.
	ReapStaleJobs(ctx context.Context, staleBefore time.Time) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)
}
