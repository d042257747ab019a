// Package worker provides the publishing engine: an Executor that runs one
// claimed job through the pipeline stages and the publisher, and a Pool
// that manages concurrent worker goroutines polling for due jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/backoff"
	"github.com/xraph/courier/dedup"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/governor"
	"github.com/xraph/courier/idempotency"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/middleware"
	"github.com/xraph/courier/publisher"
)

// Throttle paces publisher calls per profile. *throttle.Manager satisfies it.
type Throttle interface {
	// Acquire reserves a concurrency slot for the profile without blocking.
	Acquire(profileID string) bool
	// Release frees a slot taken by Acquire.
	Release(profileID string)
	// Wait blocks until the next publisher call for the profile may start.
	Wait(ctx context.Context, profileID string) error
}

// Sleeper waits between successive bulk items.
type Sleeper func(ctx context.Context, d time.Duration) error

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithDeduplicator enables the dispatch-time duplicate content check.
func WithDeduplicator(d *dedup.Deduplicator) ExecutorOption {
	return func(e *Executor) { e.dedup = d }
}

// WithGovernor enables the dispatch-time quota check and usage accounting.
func WithGovernor(g *governor.Governor) ExecutorOption {
	return func(e *Executor) { e.governor = g }
}

// WithIdempotency enables storing and consulting publish results.
func WithIdempotency(s *idempotency.Service) ExecutorOption {
	return func(e *Executor) { e.idem = s }
}

// WithDLQ enables pushing terminally failed jobs to the dead letter queue.
func WithDLQ(s *dlq.Service) ExecutorOption {
	return func(e *Executor) { e.dlq = s }
}

// WithTokenSource sets the access token resolver.
func WithTokenSource(ts publisher.TokenSource) ExecutorOption {
	return func(e *Executor) { e.tokens = ts }
}

// WithBackoff sets the retry backoff strategy.
func WithBackoff(s backoff.Strategy) ExecutorOption {
	return func(e *Executor) { e.backoff = s }
}

// WithBulkSpacing sets the gap strategy between bulk items.
func WithBulkSpacing(s backoff.Strategy) ExecutorOption {
	return func(e *Executor) { e.spacing = s }
}

// WithSleeper replaces the function used to wait between bulk items.
func WithSleeper(s Sleeper) ExecutorOption {
	return func(e *Executor) { e.sleep = s }
}

// WithMiddleware sets the middleware wrapped around every publisher call.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(e *Executor) { e.mw = middleware.Chain(mws...) }
}

// WithThrottle enables per-profile call pacing.
func WithThrottle(t Throttle) ExecutorOption {
	return func(e *Executor) { e.throttle = t }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// WithStoreTimeout bounds each store, deduplication, idempotency and DLQ
// round trip. Zero disables it.
func WithStoreTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.storeTimeout = d }
}

// WithDeferDelay sets how long a job waits when a dependency was
// unavailable before any stage ran.
func WithDeferDelay(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.deferDelay = d }
}

// Executor runs a single claimed job through deduplication, the quota
// check and the publisher, then records the outcome: state transition,
// usage, idempotency record, fingerprint, DLQ push and lifecycle events.
type Executor struct {
	store      job.Store
	publisher  publisher.Publisher
	extensions *ext.Registry
	logger     *slog.Logger

	dedup      *dedup.Deduplicator
	governor   *governor.Governor
	idem       *idempotency.Service
	dlq        *dlq.Service
	tokens     publisher.TokenSource
	throttle   Throttle
	backoff    backoff.Strategy
	spacing    backoff.Strategy
	sleep      Sleeper
	mw         middleware.Middleware
	now        func() time.Time
	deferDelay time.Duration

	storeTimeout time.Duration
}

// NewExecutor creates an Executor publishing through pub.
func NewExecutor(
	store job.Store,
	pub publisher.Publisher,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...ExecutorOption,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if extensions == nil {
		extensions = ext.NewRegistry(logger)
	}
	e := &Executor{
		store:      store,
		publisher:  pub,
		extensions: extensions,
		logger:     logger,
		tokens:     noToken,
		backoff:    backoff.DefaultStrategy(),
		spacing:    backoff.DefaultBulkSpacing(),
		sleep:      backoff.SleepContext,
		mw:         middleware.Chain(),
		now:        time.Now,
		deferDelay: time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one dispatch cycle for a job claimed by the caller.
//
// A duplicate fails the job. A quota denial parks it until the exhausted
// window resets. Otherwise the job is marked posting and its payload is
// published. Success completes it; a throttled or transient failure
// reschedules it while attempts remain; anything else fails it.
//
// The returned error describes why the job did not complete; the job's
// own state is always persisted before Execute returns.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	start := e.now()

	if e.cancelRequested(ctx, j) {
		return e.cancel(ctx, j)
	}

	if done, err := e.completeFromRecord(ctx, j); done || err != nil {
		return err
	}

	// Stage 1: duplicate content.
	if e.dedup != nil {
		sctx, cancel := e.bounded(ctx)
		dup, err := e.dedup.CheckJob(sctx, j)
		cancel()
		if err != nil {
			return e.Defer(ctx, j, "dedup check unavailable", err)
		}
		if dup {
			next, err := e.advance(ctx, j, job.Outcome{Kind: job.OutcomeDuplicate})
			if err != nil {
				return err
			}
			e.extensions.EmitJobFailed(ctx, next, courier.ErrDuplicateContent)
			e.logger.Info("job rejected as duplicate content",
				slog.String("job_id", next.ID.String()),
				slog.String("profile_id", next.ProfileID),
			)
			return courier.ErrDuplicateContent
		}
	}
	j, err := e.advance(ctx, j, job.Outcome{Kind: job.OutcomeUnique})
	if err != nil {
		return err
	}

	// Stage 2: quota.
	if e.governor != nil {
		cost := governor.Admission(j.Kind, j.Payload, j.Result.PublishedCount())
		d, _ := e.governor.Allow(ctx, j.ProfileID, cost)
		if !d.Allowed {
			return e.quotaDenied(ctx, j, nil, d)
		}
	}
	if j, err = e.advance(ctx, j, job.Outcome{Kind: job.OutcomeAllowed}); err != nil {
		return err
	}

	if e.cancelRequested(ctx, j) {
		return e.cancel(ctx, j)
	}

	// Stage 3: publish.
	if j, err = e.advance(ctx, j, job.Outcome{Kind: job.OutcomeDispatched}); err != nil {
		return err
	}

	result, runErr := e.run(ctx, j)

	var stop *quotaStop
	if errors.As(runErr, &stop) {
		return e.quotaDenied(ctx, j, result, stop.decision)
	}
	if runErr != nil {
		return e.handleFailure(ctx, j, result, runErr)
	}
	return e.handleSuccess(ctx, j, result, e.now().Sub(start))
}

// Defer returns a queued job to the queue without consuming an attempt.
// It is used when a dependency was unavailable before any stage ran.
func (e *Executor) Defer(ctx context.Context, j *job.Job, reason string, cause error) error {
	next, err := e.advance(ctx, j, job.Outcome{
		Kind:    job.OutcomeDeferred,
		Reason:  reason,
		RetryAt: e.now().Add(e.deferDelay),
	})
	if err != nil {
		return err
	}
	attrs := []any{
		slog.String("job_id", next.ID.String()),
		slog.String("reason", reason),
		slog.Time("next_run_at", next.ScheduledFor),
	}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
	}
	e.logger.Warn("job deferred", attrs...)
	if cause == nil {
		return nil
	}
	return fmt.Errorf("worker: job %s deferred: %w", j.ID, cause)
}

// Abandon recovers a claimed job whose worker stopped heartbeating. Jobs
// abandoned mid-publish consume an attempt and fail once attempts are
// exhausted.
func (e *Executor) Abandon(ctx context.Context, j *job.Job) error {
	next, err := e.advance(ctx, j, job.Outcome{Kind: job.OutcomeAbandoned, RetryAt: e.now()})
	if err != nil {
		return err
	}
	if next.Status == job.StatusFailed {
		return e.fail(ctx, next, fmt.Errorf("%w: %s", courier.ErrTransientPublish, job.ReasonWorkerLost))
	}
	e.logger.Info("abandoned job requeued",
		slog.String("job_id", next.ID.String()),
		slog.String("from", string(j.Status)),
		slog.Int("attempts", next.Attempts),
	)
	return nil
}

// advance applies o, persists the result with a status compare-and-set,
// and returns the new job.
func (e *Executor) advance(ctx context.Context, j *job.Job, o job.Outcome) (*job.Job, error) {
	next, err := job.Transition(*j, o, e.now())
	if err != nil {
		return j, err
	}
	sctx, cancel := e.bounded(ctx)
	defer cancel()
	if err := e.store.SwapJob(sctx, &next, j.Status); err != nil {
		e.logger.Error("failed to persist job transition",
			slog.String("job_id", j.ID.String()),
			slog.String("from", string(j.Status)),
			slog.String("to", string(next.Status)),
			slog.String("error", err.Error()),
		)
		return j, fmt.Errorf("worker: job %s %s -> %s: %w", j.ID, j.Status, next.Status, err)
	}
	return &next, nil
}

// cancelRequested reports whether cancellation was requested for j,
// consulting the store for flags set after the claim.
func (e *Executor) cancelRequested(ctx context.Context, j *job.Job) bool {
	if j.CancelRequested {
		return true
	}
	sctx, cancel := e.bounded(ctx)
	defer cancel()
	cur, err := e.store.GetJob(sctx, j.ID)
	if err != nil {
		return false
	}
	return cur.CancelRequested
}

func (e *Executor) cancel(ctx context.Context, j *job.Job) error {
	next, err := e.advance(ctx, j, job.Outcome{Kind: job.OutcomeCancelled, Reason: "cancelled by request"})
	if err != nil {
		return err
	}
	e.releaseFingerprint(ctx, next)
	e.extensions.EmitJobCancelled(ctx, next)
	e.logger.Info("job cancelled before posting", slog.String("job_id", next.ID.String()))
	return nil
}

// completeFromRecord finishes a job whose publish result was already
// recorded by an earlier run that stopped before marking it completed.
// The publisher is not called again.
func (e *Executor) completeFromRecord(ctx context.Context, j *job.Job) (bool, error) {
	if e.idem == nil || j.IdempotencyKey == "" {
		return false, nil
	}
	sctx, cancel := e.bounded(ctx)
	rec, found, err := e.idem.Lookup(sctx, idempotency.ScopedKey(j.OwnerID, j.IdempotencyKey))
	cancel()
	if err != nil {
		return true, e.Defer(ctx, j, "idempotency store unavailable", err)
	}
	if !found {
		return false, nil
	}
	var result job.Result
	if err := idempotency.Decode(rec, &result); err != nil {
		return true, e.Defer(ctx, j, "idempotency record unreadable", err)
	}

	cur := j
	for _, k := range []job.OutcomeKind{job.OutcomeUnique, job.OutcomeAllowed, job.OutcomeDispatched} {
		if cur, err = e.advance(ctx, cur, job.Outcome{Kind: k}); err != nil {
			return true, err
		}
	}
	next, err := e.advance(ctx, cur, job.Outcome{Kind: job.OutcomePublished, Result: &result})
	if err != nil {
		return true, err
	}
	e.rememberFingerprint(ctx, next)
	e.extensions.EmitJobCompleted(ctx, next, 0)
	e.logger.Info("job completed from recorded publish result",
		slog.String("job_id", next.ID.String()),
		slog.String("remote_id", result.RemoteID),
	)
	return true, nil
}

// quotaDenied parks j until the exhausted window resets. result is the
// partial result of a run stopped between calls, or nil before posting.
func (e *Executor) quotaDenied(ctx context.Context, j *job.Job, result *job.Result, d governor.Decision) error {
	next, err := e.advance(ctx, j, job.Outcome{
		Kind:    job.OutcomeQuotaDenied,
		Reason:  d.Reason,
		RetryAt: d.RetryAt,
		Result:  result,
	})
	if err != nil {
		return err
	}
	rejection := &courier.RejectionError{
		Err:     courier.ErrQuotaExceeded,
		Reason:  d.Reason,
		Limit:   d.Limit,
		Used:    d.Used,
		RetryAt: d.RetryAt,
	}
	if next.Status == job.StatusFailed {
		return e.fail(ctx, next, rejection)
	}
	e.extensions.EmitJobRateLimited(ctx, next, next.ScheduledFor)
	e.logger.Info("job deferred to next quota window",
		slog.String("job_id", next.ID.String()),
		slog.String("profile_id", next.ProfileID),
		slog.String("reason", d.Reason),
		slog.Int("published", next.Result.PublishedCount()),
		slog.Int("quota_deferrals", next.QuotaDeferrals),
		slog.Time("next_run_at", next.ScheduledFor),
	)
	return rejection
}

// quotaStop ends a run whose next call would pass a quota.
type quotaStop struct {
	decision governor.Decision
}

func (q *quotaStop) Error() string { return "quota reached between calls: " + q.decision.Reason }

// allowCall re-checks the quota before a call after the first of a run.
func (e *Executor) allowCall(ctx context.Context, j *job.Job, started bool) error {
	if e.governor == nil {
		return nil
	}
	d, _ := e.governor.Allow(ctx, j.ProfileID, governor.Cost(j.Kind, 1, started))
	if !d.Allowed {
		return &quotaStop{decision: d}
	}
	return nil
}

// recordCall counts one successful publisher call. A bulk publish counts
// as one bulk operation, charged with its first published item.
func (e *Executor) recordCall(ctx context.Context, j *job.Job, started bool) {
	if e.governor == nil {
		return
	}
	if err := e.governor.Add(ctx, j.ProfileID, governor.Cost(j.Kind, 1, started)); err != nil {
		e.logger.Error("failed to record usage",
			slog.String("job_id", j.ID.String()),
			slog.String("profile_id", j.ProfileID),
			slog.String("error", err.Error()),
		)
	}
}

// handleSuccess stores the publish result, marks the job completed and
// refreshes the fingerprint for the full window.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, result *job.Result, elapsed time.Duration) error {
	result.ErrorClass, result.LastError = "", ""

	if e.idem != nil && j.IdempotencyKey != "" {
		sctx, cancel := e.bounded(ctx)
		_, err := e.idem.Store(sctx, idempotency.ScopedKey(j.OwnerID, j.IdempotencyKey), result)
		cancel()
		if err != nil {
			e.logger.Error("failed to store publish result",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	next, err := e.advance(ctx, j, job.Outcome{Kind: job.OutcomePublished, Result: result})
	if err != nil {
		return err
	}
	e.rememberFingerprint(ctx, next)
	e.extensions.EmitJobCompleted(ctx, next, elapsed)

	if next.CancelRequested {
		e.logger.Info("cancellation requested during publish; result recorded",
			slog.String("job_id", next.ID.String()),
		)
	}
	e.logger.Info("job published",
		slog.String("job_id", next.ID.String()),
		slog.String("kind", string(next.Kind)),
		slog.String("profile_id", next.ProfileID),
		slog.Int("published", result.PublishedCount()),
		slog.Duration("elapsed", elapsed),
	)
	return nil
}

// handleFailure classifies a publish failure and reschedules or fails
// the job.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, result *job.Result, runErr error) error {
	pe := publisher.Classify(runErr)
	result.ErrorClass = string(pe.Class)
	result.LastError = runErr.Error()

	now := e.now()
	o := job.Outcome{Result: result}
	switch pe.Class {
	case publisher.ClassRateLimited:
		delay := pe.RetryAfter
		if delay <= 0 {
			delay = e.backoff.Delay(j.Attempts)
		}
		o.Kind = job.OutcomeThrottled
		o.Reason = "rate limited by platform"
		o.RetryAt = now.Add(delay)
	case publisher.ClassPermanent:
		o.Kind = job.OutcomePermanentFailure
		o.Reason = "permanent publish failure: " + errorMessage(pe)
	default:
		o.Kind = job.OutcomeTransientFailure
		o.Reason = fmt.Sprintf("%s publish failure: %s", pe.Class, errorMessage(pe))
		o.RetryAt = now.Add(e.backoff.Delay(j.Attempts))
	}

	next, err := e.advance(ctx, j, o)
	if err != nil {
		return err
	}

	switch next.Status {
	case job.StatusFailed:
		return e.fail(ctx, next, runErr)
	case job.StatusRateLimited:
		e.extensions.EmitJobRateLimited(ctx, next, next.ScheduledFor)
	default:
		e.extensions.EmitJobRetrying(ctx, next, next.Attempts, next.ScheduledFor)
	}

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", next.ID.String()),
		slog.String("class", string(pe.Class)),
		slog.Int("attempt", next.Attempts),
		slog.Int("max_retries", next.MaxRetries),
		slog.Time("next_run_at", next.ScheduledFor),
	)
	return fmt.Errorf("job %s attempt %d/%d: %w", next.ID, next.Attempts, next.MaxRetries, runErr)
}

// fail runs the side effects of a terminal failure: fingerprint release,
// DLQ push and lifecycle events. Content that reached the platform keeps
// its fingerprint, including a call that succeeded without a post id.
func (e *Executor) fail(ctx context.Context, j *job.Job, cause error) error {
	if j.Result.PublishedCount() > 0 || errors.Is(cause, publisher.ErrUnconfirmedPublish) {
		e.rememberFingerprint(ctx, j)
	} else {
		e.releaseFingerprint(ctx, j)
	}

	pushed := false
	if e.dlq != nil {
		sctx, cancel := e.bounded(ctx)
		err := e.dlq.Push(sctx, j)
		cancel()
		if err != nil {
			e.logger.Error("failed to push job to DLQ",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		} else {
			pushed = true
		}
	}

	e.extensions.EmitJobFailed(ctx, j, cause)
	if pushed {
		e.extensions.EmitJobDLQ(ctx, j, cause)
	}

	e.logger.Warn("job failed",
		slog.String("job_id", j.ID.String()),
		slog.String("kind", string(j.Kind)),
		slog.String("profile_id", j.ProfileID),
		slog.String("reason", j.Reason),
		slog.Int("attempts", j.Attempts),
		slog.Bool("dead_lettered", pushed),
	)
	return cause
}

func (e *Executor) rememberFingerprint(ctx context.Context, j *job.Job) {
	if e.dedup == nil || j.Fingerprint == "" {
		return
	}
	sctx, cancel := e.bounded(ctx)
	defer cancel()
	if err := e.dedup.Remember(sctx, j.OwnerID, j.ProfileID, j.Fingerprint, j.IdempotencyKey, e.dedup.Window()); err != nil {
		e.logger.Warn("failed to remember fingerprint",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Executor) releaseFingerprint(ctx context.Context, j *job.Job) {
	if e.dedup == nil || j.Fingerprint == "" {
		return
	}
	sctx, cancel := e.bounded(ctx)
	defer cancel()
	e.dedup.Release(sctx, j.OwnerID, j.ProfileID, j.Fingerprint, j.IdempotencyKey)
}

// bounded applies the store timeout to ctx.
func (e *Executor) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.storeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.storeTimeout)
}

// noToken leaves authentication to the publisher.
var noToken = publisher.TokenFunc(func(context.Context, string) (string, error) { return "", nil })

func errorMessage(pe *publisher.Error) string {
	if pe.Err == nil {
		return string(pe.Class)
	}
	var inner *publisher.Error
	if errors.As(pe.Err, &inner) && inner != pe {
		return errorMessage(inner)
	}
	return pe.Err.Error()
}
