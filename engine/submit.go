package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/dedup"
	"github.com/xraph/courier/governor"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/idempotency"
	"github.com/xraph/courier/job"
)

// SubmitRequest is one "publish this content" request.
type SubmitRequest struct {
	OwnerID   string      `json:"owner_id"`
	ProfileID string      `json:"profile_id"`
	Kind      job.Kind    `json:"kind"`
	Payload   job.Payload `json:"payload"`
	Priority  int         `json:"priority,omitempty"`

	// ScheduledFor delays publication. Zero means as soon as possible.
	ScheduledFor time.Time `json:"scheduled_for,omitempty"`

	// IdempotencyKey identifies the request across caller retries. When
	// empty a fresh key is derived and the request is not retry-safe.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Validate checks the request shape.
func (r SubmitRequest) Validate() error {
	if strings.TrimSpace(r.OwnerID) == "" {
		return fmt.Errorf("%w: owner_id is required", courier.ErrInvalidJob)
	}
	if strings.TrimSpace(r.ProfileID) == "" {
		return fmt.Errorf("%w: profile_id is required", courier.ErrInvalidJob)
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", courier.ErrInvalidJob, r.Kind)
	}
	return r.Payload.Validate(r.Kind)
}

// Status is what a caller learns about a job.
type Status struct {
	JobID           id.JobID    `json:"job_id"`
	Kind            job.Kind    `json:"kind"`
	Status          job.Status  `json:"status"`
	Attempts        int         `json:"attempts"`
	Reason          string      `json:"reason,omitempty"`
	Result          *job.Result `json:"result,omitempty"`
	ScheduledFor    time.Time   `json:"scheduled_for"`
	CancelRequested bool        `json:"cancel_requested,omitempty"`
}

// Submit admits a publish request and returns the job that will carry
// it. A request whose idempotency key is already bound to a job returns
// that job's id. Duplicate content and exhausted quotas are refused with
// a *courier.RejectionError wrapping ErrDuplicateContent or
// ErrQuotaExceeded.
func (eng *Engine) Submit(ctx context.Context, req SubmitRequest) (id.JobID, error) {
	if err := req.Validate(); err != nil {
		return id.Nil, err
	}
	now := eng.now()

	key := req.IdempotencyKey
	if key != "" {
		sctx, cancel := eng.bounded(ctx)
		existing, err := eng.jobStore.GetJobByIdempotencyKey(sctx, req.OwnerID, key)
		cancel()
		switch {
		case err == nil:
			return existing.ID, nil
		case !errors.Is(err, courier.ErrJobNotFound):
			return id.Nil, fmt.Errorf("submit: lookup idempotency key: %w", err)
		}
	} else {
		key = idempotency.DeriveKey(req.OwnerID, string(req.Kind), now)
	}

	d, _ := eng.governor.Allow(ctx, req.ProfileID, governor.Admission(req.Kind, req.Payload, 0))
	if !d.Allowed {
		return id.Nil, eng.reject(ctx, req, quotaRejection(d))
	}

	fp := dedup.Fingerprint(req.Payload)
	sctx, cancel := eng.bounded(ctx)
	res, err := eng.dedup.Reserve(sctx, req.OwnerID, req.ProfileID, fp, key, eng.dedup.Window())
	cancel()
	if err != nil {
		return id.Nil, fmt.Errorf("%w: dedup: %w", courier.ErrStoreUnavailable, err)
	}
	if !res.Reserved {
		if res.Holder == key {
			return eng.awaitSameKey(ctx, req.OwnerID, key)
		}
		return id.Nil, eng.reject(ctx, req, &courier.RejectionError{
			Err:    courier.ErrDuplicateContent,
			Reason: "identical content submitted within the dedup window",
		})
	}

	cfg := eng.c.Config()
	j := job.New(req.Kind, req.OwnerID, req.ProfileID, req.Payload, now,
		job.WithMaxRetries(cfg.MaxRetries),
		job.WithMaxQuotaDeferrals(cfg.MaxQuotaDeferrals),
		job.WithPriority(req.Priority),
		job.WithScheduledFor(req.ScheduledFor),
		job.WithFingerprint(fp),
		job.WithIdempotencyKey(key),
	)

	sctx, cancel = eng.bounded(ctx)
	err = eng.jobStore.EnqueueJob(sctx, j)
	cancel()
	if err != nil {
		if errors.Is(err, courier.ErrIdempotencyConflict) {
			return eng.awaitSameKey(ctx, req.OwnerID, key)
		}
		rctx, cancel := eng.bounded(context.WithoutCancel(ctx))
		eng.dedup.Release(rctx, req.OwnerID, req.ProfileID, fp, key)
		cancel()
		return id.Nil, fmt.Errorf("submit: enqueue: %w", err)
	}

	eng.extensions.EmitJobSubmitted(ctx, j)
	eng.logger.Info("job submitted",
		slog.String("job_id", j.ID.String()),
		slog.String("kind", string(j.Kind)),
		slog.String("owner_id", j.OwnerID),
		slog.String("profile_id", j.ProfileID),
		slog.Time("scheduled_for", j.ScheduledFor),
	)
	return j.ID, nil
}

// Status returns the job's current state.
func (eng *Engine) Status(ctx context.Context, jobID id.JobID) (Status, error) {
	ctx, cancel := eng.bounded(ctx)
	defer cancel()
	j, err := eng.jobStore.GetJob(ctx, jobID)
	if err != nil {
		return Status{}, err
	}
	return Status{
		JobID:           j.ID,
		Kind:            j.Kind,
		Status:          j.Status,
		Attempts:        j.Attempts,
		Reason:          j.Reason,
		Result:          j.Result,
		ScheduledFor:    j.ScheduledFor,
		CancelRequested: j.CancelRequested,
	}, nil
}

// Cancel stops a job that has not started posting and reports whether it
// did. A job already posting is flagged instead: its publish finishes and
// its result is recorded. Finished jobs are left untouched.
func (eng *Engine) Cancel(ctx context.Context, jobID id.JobID) (bool, error) {
	const maxSwaps = 3
	ctx, cancel := eng.bounded(ctx)
	defer cancel()
	for range maxSwaps {
		j, err := eng.jobStore.GetJob(ctx, jobID)
		if err != nil {
			return false, err
		}
		switch j.Status {
		case job.StatusCompleted, job.StatusFailed, job.StatusCancelled:
			return false, nil
		case job.StatusPosting:
			if err := eng.jobStore.RequestCancel(ctx, jobID); err != nil {
				return false, fmt.Errorf("cancel %s: %w", jobID, err)
			}
			eng.logger.Info("cancellation requested for job in flight", slog.String("job_id", jobID.String()))
			return false, nil
		}

		next, err := job.Transition(*j, job.Outcome{Kind: job.OutcomeCancelled, Reason: "cancelled by owner"}, eng.now())
		if err != nil {
			return false, fmt.Errorf("cancel %s: %w", jobID, err)
		}
		err = eng.jobStore.SwapJob(ctx, &next, j.Status)
		if errors.Is(err, courier.ErrStaleJob) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("cancel %s: %w", jobID, err)
		}

		eng.dedup.Release(ctx, next.OwnerID, next.ProfileID, next.Fingerprint, next.IdempotencyKey)
		eng.extensions.EmitJobCancelled(ctx, &next)
		eng.logger.Info("job cancelled", slog.String("job_id", jobID.String()), slog.String("from", string(j.Status)))
		return true, nil
	}
	return false, fmt.Errorf("cancel %s: %w", jobID, courier.ErrStaleJob)
}

func (eng *Engine) reject(ctx context.Context, req SubmitRequest, rej *courier.RejectionError) error {
	eng.extensions.EmitJobRejected(ctx, req.OwnerID, req.ProfileID, req.Kind, rej)
	eng.logger.Info("submission rejected",
		slog.String("owner_id", req.OwnerID),
		slog.String("profile_id", req.ProfileID),
		slog.String("kind", string(req.Kind)),
		slog.String("reason", rej.Error()),
	)
	return rej
}

// awaitSameKey resolves a submission that lost a race against a
// concurrent submission of the same key by waiting for its job.
func (eng *Engine) awaitSameKey(ctx context.Context, ownerID, key string) (id.JobID, error) {
	deadline := time.Now().Add(eng.sameKeyWait)
	for {
		sctx, cancel := eng.bounded(ctx)
		j, err := eng.jobStore.GetJobByIdempotencyKey(sctx, ownerID, key)
		cancel()
		if err == nil {
			return j.ID, nil
		}
		if !errors.Is(err, courier.ErrJobNotFound) {
			return id.Nil, fmt.Errorf("submit: lookup idempotency key: %w", err)
		}
		if time.Now().After(deadline) {
			return id.Nil, fmt.Errorf("submit: concurrent submission of key %s did not complete: %w", key, courier.ErrIdempotencyConflict)
		}
		select {
		case <-ctx.Done():
			return id.Nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// bounded applies the configured store timeout to ctx.
func (eng *Engine) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := eng.c.Config().StoreTimeout; d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return ctx, func() {}
}

func quotaRejection(d governor.Decision) *courier.RejectionError {
	return &courier.RejectionError{
		Err:     courier.ErrQuotaExceeded,
		Reason:  d.Reason,
		Limit:   d.Limit,
		Used:    d.Used,
		RetryAt: d.RetryAt,
	}
}
