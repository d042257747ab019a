package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

const jobColumns = `
	id, kind, owner_id, profile_id, payload, priority, status,
	attempts, max_retries, quota_deferrals, max_quota_deferrals,
	scheduled_for, fingerprint, idempotency_key, reason, result,
	cancel_requested, replay_of, worker_id,
	started_at, completed_at, heartbeat_at, created_at, updated_at`

// EnqueueJob persists a new queued job.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	payload, result, err := encodeJob(j)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO courier_jobs (`+jobColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15, $16,
			$17, $18, $19,
			$20, $21, $22, $23, $24
		)`,
		j.ID.String(), string(j.Kind), j.OwnerID, j.ProfileID, payload, j.Priority, string(j.Status),
		j.Attempts, j.MaxRetries, j.QuotaDeferrals, j.MaxQuotaDeferrals,
		j.ScheduledFor.UTC(), j.Fingerprint, j.IdempotencyKey, j.Reason, result,
		j.CancelRequested, nullID(j.ReplayOf), nullID(j.WorkerID),
		j.StartedAt, j.CompletedAt, j.HeartbeatAt, j.CreatedAt.UTC(), j.UpdatedAt.UTC(),
	)
	if err != nil {
		if constraint, dup := isDuplicateKey(err); dup {
			if constraint == idempotencyIndex {
				return courier.ErrIdempotencyConflict
			}
			return courier.ErrJobAlreadyExists
		}
		return fmt.Errorf("courier/postgres: enqueue job: %w", err)
	}
	return nil
}

// ClaimJobs atomically claims up to limit due jobs for workerID. Uses
// SELECT FOR UPDATE SKIP LOCKED so concurrent workers never claim the same
// row. Rate-limited jobs are moved back to queued as they are claimed.
func (s *Store) ClaimJobs(ctx context.Context, workerID id.WorkerID, now time.Time, limit int) ([]*job.Job, error) {
	now = now.UTC()
	rows, err := s.pool.Query(ctx, `
		WITH claimable AS (
			SELECT id FROM courier_jobs
			WHERE status IN ('queued', 'rate_limited')
			  AND worker_id IS NULL
			  AND scheduled_for <= $2
			ORDER BY priority DESC, created_at ASC, id ASC
			LIMIT NULLIF($3::int, 0)
			FOR UPDATE SKIP LOCKED
		)
		UPDATE courier_jobs j
		SET status = 'queued', worker_id = $1,
		    started_at = $2, heartbeat_at = $2, updated_at = $2
		FROM claimable c
		WHERE j.id = c.id
		RETURNING `+prefixed("j.", jobColumns),
		workerID.String(), now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: claim jobs: %w", err)
	}

	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: claim jobs: %w", err)
	}
	sort.Slice(jobs, func(i, k int) bool {
		if jobs[i].Priority != jobs[k].Priority {
			return jobs[i].Priority > jobs[k].Priority
		}
		return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
	})
	return jobs, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM courier_jobs WHERE id = $1`,
		jobID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, courier.ErrJobNotFound
		}
		return nil, fmt.Errorf("courier/postgres: get job: %w", err)
	}
	return j, nil
}

// GetJobByIdempotencyKey retrieves the owner's job bound to key.
func (s *Store) GetJobByIdempotencyKey(ctx context.Context, ownerID, key string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM courier_jobs WHERE owner_id = $1 AND idempotency_key = $2`,
		ownerID, key,
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, courier.ErrJobNotFound
		}
		return nil, fmt.Errorf("courier/postgres: get job by idempotency key: %w", err)
	}
	return j, nil
}

// SwapJob persists j if the stored status still equals expected. The
// stored cancel flag is OR-ed in, never cleared.
func (s *Store) SwapJob(ctx context.Context, j *job.Job, expected job.Status) error {
	payload, result, err := encodeJob(j)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE courier_jobs SET
			payload = $3, priority = $4, status = $5,
			attempts = $6, max_retries = $7, quota_deferrals = $8, max_quota_deferrals = $9,
			scheduled_for = $10, fingerprint = $11, reason = $12, result = $13,
			cancel_requested = cancel_requested OR $14,
			worker_id = $15, started_at = $16, completed_at = $17, heartbeat_at = $18,
			updated_at = $19
		WHERE id = $1 AND status = $2`,
		j.ID.String(), string(expected),
		payload, j.Priority, string(j.Status),
		j.Attempts, j.MaxRetries, j.QuotaDeferrals, j.MaxQuotaDeferrals,
		j.ScheduledFor.UTC(), j.Fingerprint, j.Reason, result,
		j.CancelRequested,
		nullID(j.WorkerID), j.StartedAt, j.CompletedAt, j.HeartbeatAt,
		j.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("courier/postgres: swap job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrStale(ctx, j.ID)
	}
	return nil
}

// RequestCancel sets the advisory cancel flag.
func (s *Store) RequestCancel(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE courier_jobs SET cancel_requested = TRUE WHERE id = $1`,
		jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("courier/postgres: request cancel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return courier.ErrJobNotFound
	}
	return nil
}

// HeartbeatJob updates the heartbeat timestamp of a claimed job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE courier_jobs SET heartbeat_at = $3 WHERE id = $1 AND worker_id = $2`,
		jobID.String(), workerID.String(), now.UTC(),
	)
	if err != nil {
		return fmt.Errorf("courier/postgres: heartbeat job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrStale(ctx, jobID)
	}
	return nil
}

// FindJobsByFingerprint returns matching jobs created at or after since,
// oldest first.
func (s *Store) FindJobsByFingerprint(ctx context.Context, ownerID, profileID, fingerprint string, since time.Time) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM courier_jobs
		WHERE owner_id = $1 AND profile_id = $2 AND fingerprint = $3 AND created_at >= $4
		ORDER BY created_at ASC`,
		ownerID, profileID, fingerprint, since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: find jobs by fingerprint: %w", err)
	}
	return collectJobs(rows)
}

// ListJobsByStatus returns jobs with the given status, oldest first.
func (s *Store) ListJobsByStatus(ctx context.Context, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM courier_jobs WHERE status = $1`
	args := []any{string(status)}

	if opts.ProfileID != "" {
		args = append(args, opts.ProfileID)
		query += fmt.Sprintf(" AND profile_id = $%d", len(args))
	}

	query += " ORDER BY created_at ASC"
	query, args = paginate(query, args, opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: list jobs by status: %w", err)
	}
	return collectJobs(rows)
}

// ReapStaleJobs returns claimed, non-terminal jobs whose heartbeat is
// older than staleBefore.
func (s *Store) ReapStaleJobs(ctx context.Context, staleBefore time.Time) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM courier_jobs
		WHERE status NOT IN ('completed', 'failed', 'cancelled')
		  AND worker_id IS NOT NULL
		  AND (heartbeat_at IS NULL OR heartbeat_at < $1)
		ORDER BY heartbeat_at ASC NULLS FIRST`,
		staleBefore.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: reap stale jobs: %w", err)
	}
	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM courier_jobs WHERE TRUE`
	var args []any

	if opts.Status != "" {
		args = append(args, string(opts.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if opts.ProfileID != "" {
		args = append(args, opts.ProfileID)
		query += fmt.Sprintf(" AND profile_id = $%d", len(args))
	}

	var n int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("courier/postgres: count jobs: %w", err)
	}
	return n, nil
}

func (s *Store) missingOrStale(ctx context.Context, jobID id.JobID) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM courier_jobs WHERE id = $1)`, jobID.String(),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("courier/postgres: check job: %w", err)
	}
	if !exists {
		return courier.ErrJobNotFound
	}
	return courier.ErrStaleJob
}

// ── Row mapping ───────────────────────────────────────────────────

func encodeJob(j *job.Job) (payload []byte, result any, err error) {
	payload, err = json.Marshal(j.Payload)
	if err != nil {
		return nil, nil, fmt.Errorf("courier/postgres: encode payload: %w", err)
	}
	if j.Result == nil {
		return payload, nil, nil
	}
	raw, err := json.Marshal(j.Result)
	if err != nil {
		return nil, nil, fmt.Errorf("courier/postgres: encode result: %w", err)
	}
	return payload, nullJSON(raw), nil
}

func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j                      job.Job
		rawID, kind, status    string
		payload, result        []byte
		replayOf, workerID     *string
		startedAt, completedAt *time.Time
		heartbeatAt            *time.Time
	)

	err := row.Scan(
		&rawID, &kind, &j.OwnerID, &j.ProfileID, &payload, &j.Priority, &status,
		&j.Attempts, &j.MaxRetries, &j.QuotaDeferrals, &j.MaxQuotaDeferrals,
		&j.ScheduledFor, &j.Fingerprint, &j.IdempotencyKey, &j.Reason, &result,
		&j.CancelRequested, &replayOf, &workerID,
		&startedAt, &completedAt, &heartbeatAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if j.ID, err = id.ParseJobID(rawID); err != nil {
		return nil, fmt.Errorf("courier/postgres: parse job id %q: %w", rawID, err)
	}
	j.Kind = job.Kind(kind)
	j.Status = job.Status(status)
	if err := json.Unmarshal(payload, &j.Payload); err != nil {
		return nil, fmt.Errorf("courier/postgres: decode payload of %s: %w", rawID, err)
	}
	if len(result) > 0 {
		j.Result = &job.Result{}
		if err := json.Unmarshal(result, j.Result); err != nil {
			return nil, fmt.Errorf("courier/postgres: decode result of %s: %w", rawID, err)
		}
	}
	if replayOf != nil && *replayOf != "" {
		if parsed, pErr := id.ParseJobID(*replayOf); pErr == nil {
			j.ReplayOf = parsed
		}
	}
	if workerID != nil && *workerID != "" {
		if parsed, pErr := id.ParseWorkerID(*workerID); pErr == nil {
			j.WorkerID = parsed
		}
	}

	j.ScheduledFor = j.ScheduledFor.UTC()
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	j.StartedAt = utcPtr(startedAt)
	j.CompletedAt = utcPtr(completedAt)
	j.HeartbeatAt = utcPtr(heartbeatAt)
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	jobs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*job.Job, error) {
		return scanJob(row)
	})
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	return jobs, nil
}
