package memory

import (
	"context"
	"sort"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

// EnqueueJob persists a new queued job.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return courier.ErrJobAlreadyExists
	}
	if j.IdempotencyKey != "" {
		for _, other := range m.jobs {
			if other.OwnerID == j.OwnerID && other.IdempotencyKey == j.IdempotencyKey {
				return courier.ErrIdempotencyConflict
			}
		}
	}
	m.jobs[key] = j.Clone()
	return nil
}

// ClaimJobs atomically claims up to limit due jobs for workerID.
func (m *Store) ClaimJobs(_ context.Context, workerID id.WorkerID, now time.Time, limit int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now = now.UTC()

	candidates := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.Status != job.StatusQueued && j.Status != job.StatusRateLimited {
			continue
		}
		if j.Claimed() || j.ScheduledFor.After(now) {
			continue
		}
		candidates = append(candidates, j)
	}

	// Sort: priority DESC, CreatedAt ASC.
	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority > candidates[k].Priority
		}
		if !candidates[i].CreatedAt.Equal(candidates[k].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
		}
		return candidates[i].ID.String() < candidates[k].ID.String()
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*job.Job, 0, len(candidates))
	for _, j := range candidates {
		claimed := *j
		if claimed.Status == job.StatusRateLimited {
			next, err := job.Transition(claimed, job.Outcome{Kind: job.OutcomeRequeued}, now)
			if err != nil {
				return nil, err
			}
			claimed = next
		}
		n := now
		claimed.WorkerID = workerID
		claimed.StartedAt = &n
		claimed.HeartbeatAt = &n
		claimed.UpdatedAt = now
		m.jobs[claimed.ID.String()] = claimed.Clone()
		// Return a copy so callers can mutate without racing with the store.
		result = append(result, claimed.Clone())
	}

	return result, nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, courier.ErrJobNotFound
	}
	return j.Clone(), nil
}

// GetJobByIdempotencyKey retrieves the owner's job bound to key.
func (m *Store) GetJobByIdempotencyKey(_ context.Context, ownerID, key string) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, j := range m.jobs {
		if j.OwnerID == ownerID && j.IdempotencyKey == key {
			return j.Clone(), nil
		}
	}
	return nil, courier.ErrJobNotFound
}

// SwapJob persists j if the stored status still equals expected.
func (m *Store) SwapJob(_ context.Context, j *job.Job, expected job.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	stored, ok := m.jobs[key]
	if !ok {
		return courier.ErrJobNotFound
	}
	if stored.Status != expected {
		return courier.ErrStaleJob
	}
	cp := j.Clone()
	cp.CancelRequested = cp.CancelRequested || stored.CancelRequested
	m.jobs[key] = cp
	return nil
}

// RequestCancel sets the advisory cancel flag.
func (m *Store) RequestCancel(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return courier.ErrJobNotFound
	}
	j.CancelRequested = true
	return nil
}

// HeartbeatJob updates the heartbeat timestamp of a claimed job.
func (m *Store) HeartbeatJob(_ context.Context, jobID id.JobID, workerID id.WorkerID, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return courier.ErrJobNotFound
	}
	if j.WorkerID.String() != workerID.String() {
		return courier.ErrStaleJob
	}
	n := now.UTC()
	j.HeartbeatAt = &n
	return nil
}

// FindJobsByFingerprint returns matching jobs created at or after since.
func (m *Store) FindJobsByFingerprint(_ context.Context, ownerID, profileID, fingerprint string, since time.Time) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*job.Job
	for _, j := range m.jobs {
		if j.OwnerID != ownerID || j.ProfileID != profileID || j.Fingerprint != fingerprint {
			continue
		}
		if j.CreatedAt.Before(since) {
			continue
		}
		result = append(result, j.Clone())
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// ListJobsByStatus returns jobs with the given status, oldest first.
func (m *Store) ListJobsByStatus(_ context.Context, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0)
	for _, j := range m.jobs {
		if j.Status != status {
			continue
		}
		if opts.ProfileID != "" && j.ProfileID != opts.ProfileID {
			continue
		}
		result = append(result, j.Clone())
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return paginate(result, opts.Limit, opts.Offset), nil
}

// ReapStaleJobs returns claimed, non-terminal jobs whose heartbeat is
// older than staleBefore.
func (m *Store) ReapStaleJobs(_ context.Context, staleBefore time.Time) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*job.Job
	for _, j := range m.jobs {
		if j.Status.IsTerminal() || !j.Claimed() {
			continue
		}
		if j.HeartbeatAt != nil && !j.HeartbeatAt.Before(staleBefore) {
			continue
		}
		result = append(result, j.Clone())
	}
	return result, nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, j := range m.jobs {
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		if opts.ProfileID != "" && j.ProfileID != opts.ProfileID {
			continue
		}
		n++
	}
	return n, nil
}
