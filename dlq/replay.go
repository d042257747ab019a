package dlq

import (
	"context"
	"fmt"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

// Replay re-enqueues a DLQ entry as a new queued job and marks the entry
// as replayed. The new job gets a fresh ID, a derived idempotency key,
// zero attempts and the entry's partial result, and runs immediately.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.ReplayedAt != nil {
		return nil, fmt.Errorf("%w: dlq entry %s already replayed", courier.ErrInvalidTransition, entryID)
	}

	now := s.now().UTC()
	j := job.New(entry.Kind, entry.OwnerID, entry.ProfileID, entry.Payload, now,
		job.WithMaxRetries(entry.MaxRetries),
		job.WithFingerprint(entry.Fingerprint),
		job.WithIdempotencyKey(entry.IdempotencyKey+":replay:"+entry.ID.String()),
	)
	j.ReplayOf = entry.JobID
	if entry.Result != nil {
		partial := *entry.Result
		partial.ErrorClass, partial.LastError = "", ""
		j.Result = &partial
	}

	if err := s.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	if err := s.store.ReplayDLQ(ctx, entryID, now); err != nil {
		// The job is already enqueued; report the bookkeeping error.
		return j, err
	}

	return j, nil
}
