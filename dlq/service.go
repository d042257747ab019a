package dlq

import (
	"context"
	"time"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store    Store
	jobStore job.Store
	now      func() time.Time
}

// NewService creates a DLQ service.
func NewService(store Store, jobStore job.Store) *Service {
	return &Service{store: store, jobStore: jobStore, now: time.Now}
}

// WithClock overrides the time source and returns the service.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Push builds a DLQ Entry from a failed job and persists it.
func (s *Service) Push(ctx context.Context, j *job.Job) error {
	now := s.now().UTC()
	failedAt := now
	if j.CompletedAt != nil {
		failedAt = *j.CompletedAt
	}
	cp := j.Clone()
	entry := &Entry{
		ID:             id.NewDLQID(),
		JobID:          j.ID,
		Kind:           j.Kind,
		OwnerID:        j.OwnerID,
		ProfileID:      j.ProfileID,
		Payload:        cp.Payload,
		Fingerprint:    j.Fingerprint,
		IdempotencyKey: j.IdempotencyKey,
		Result:         cp.Result,
		Reason:         j.Reason,
		Attempts:       j.Attempts,
		MaxRetries:     j.MaxRetries,
		FailedAt:       failedAt,
		CreatedAt:      now,
	}
	return s.store.PushDLQ(ctx, entry)
}

// Store returns the underlying DLQ store for direct access
// to List, Get, Purge, and Count operations.
func (s *Service) Store() Store {
	return s.store
}
