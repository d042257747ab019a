package job

import (
	"fmt"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
)

// OutcomeKind names what happened to a job at its current stage.
type OutcomeKind string

const (
	// OutcomeUnique: queued → deduplicated.
	OutcomeUnique OutcomeKind = "unique"
	// OutcomeDuplicate: queued → failed ("duplicate content").
	OutcomeDuplicate OutcomeKind = "duplicate"
	// OutcomeDeferred: queued → queued, releasing the worker. Used when a
	// dependency is unavailable before any stage ran.
	OutcomeDeferred OutcomeKind = "deferred"
	// OutcomeAllowed: deduplicated → rate_checked.
	OutcomeAllowed OutcomeKind = "allowed"
	// OutcomeQuotaDenied: deduplicated or posting → rate_limited, or
	// failed once MaxQuotaDeferrals windows have been waited for. From
	// posting it stops a thread or bulk job whose next call would pass a
	// quota; the calls already made stay in the result.
	OutcomeQuotaDenied OutcomeKind = "quota_denied"
	// OutcomeDispatched: rate_checked → posting.
	OutcomeDispatched OutcomeKind = "dispatched"
	// OutcomePublished: posting → completed.
	OutcomePublished OutcomeKind = "published"
	// OutcomeThrottled: posting → rate_limited, or failed when attempts
	// are exhausted.
	OutcomeThrottled OutcomeKind = "throttled"
	// OutcomeTransientFailure: posting → queued, or failed when attempts
	// are exhausted.
	OutcomeTransientFailure OutcomeKind = "transient_failure"
	// OutcomePermanentFailure: posting → failed.
	OutcomePermanentFailure OutcomeKind = "permanent_failure"
	// OutcomeRequeued: rate_limited → queued once ScheduledFor has passed.
	OutcomeRequeued OutcomeKind = "requeued"
	// OutcomeCancelled: any pre-posting stage → cancelled.
	OutcomeCancelled OutcomeKind = "cancelled"
	// OutcomeAbandoned: an in-flight job whose worker stopped heartbeating
	// goes back to queued. From posting it costs an attempt.
	OutcomeAbandoned OutcomeKind = "abandoned"
)

// Outcome is the input of [Transition].
type Outcome struct {
	Kind OutcomeKind
	// Reason is recorded on the job for rescheduling and failure outcomes.
	Reason string
	// RetryAt is the new ScheduledFor for rescheduling outcomes.
	RetryAt time.Time
	// Result, when set, replaces the job's result.
	Result *Result
}

// Terminal failure reasons.
const (
	ReasonDuplicate     = "duplicate content"
	ReasonQuotaExceeded = "quota exceeded"
	ReasonWorkerLost    = "worker lost during publish"
)

// edges is the forward-only transition table.
var edges = map[Status][]Status{
	StatusQueued:       {StatusDeduplicated, StatusFailed, StatusCancelled, StatusQueued},
	StatusDeduplicated: {StatusRateChecked, StatusRateLimited, StatusFailed, StatusCancelled, StatusQueued},
	StatusRateChecked:  {StatusPosting, StatusCancelled, StatusQueued},
	StatusPosting:      {StatusCompleted, StatusFailed, StatusRateLimited, StatusQueued},
	StatusRateLimited:  {StatusQueued, StatusCancelled},
}

// sources lists the stages each outcome may be applied at.
var sources = map[OutcomeKind][]Status{
	OutcomeUnique:           {StatusQueued},
	OutcomeDuplicate:        {StatusQueued},
	OutcomeDeferred:         {StatusQueued},
	OutcomeAllowed:          {StatusDeduplicated},
	OutcomeQuotaDenied:      {StatusDeduplicated, StatusPosting},
	OutcomeDispatched:       {StatusRateChecked},
	OutcomePublished:        {StatusPosting},
	OutcomeThrottled:        {StatusPosting},
	OutcomeTransientFailure: {StatusPosting},
	OutcomePermanentFailure: {StatusPosting},
	OutcomeRequeued:         {StatusRateLimited},
	OutcomeCancelled:        {StatusQueued, StatusRateLimited, StatusDeduplicated, StatusRateChecked},
	OutcomeAbandoned:        {StatusQueued, StatusDeduplicated, StatusRateChecked, StatusPosting},
}

// CanTransition reports whether moving from one status to another is an
// edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition applies o to j and returns the updated job. It never mutates
// its argument. Terminal jobs and outcomes that do not apply to the job's
// current stage return courier.ErrInvalidTransition.
func Transition(j Job, o Outcome, now time.Time) (Job, error) {
	from := j.Status
	if from.IsTerminal() {
		return j, fmt.Errorf("%w: job %s is %s", courier.ErrInvalidTransition, j.ID, from)
	}
	if !appliesAt(o.Kind, from) {
		return j, fmt.Errorf("%w: %s does not apply to a %s job", courier.ErrInvalidTransition, o.Kind, from)
	}

	now = now.UTC()
	next := *j.Clone()
	if o.Result != nil {
		next.Result = o.Result
	}

	switch o.Kind {
	case OutcomeUnique:
		next.Status = StatusDeduplicated

	case OutcomeDuplicate:
		fail(&next, ReasonDuplicate, now)

	case OutcomeDeferred:
		requeue(&next, o.RetryAt, now)

	case OutcomeAllowed:
		next.Status = StatusRateChecked

	case OutcomeQuotaDenied:
		if next.QuotaDeferrals >= next.MaxQuotaDeferrals {
			fail(&next, ReasonQuotaExceeded, now)
			break
		}
		next.QuotaDeferrals++
		rateLimit(&next, o.Reason, o.RetryAt, now)

	case OutcomeDispatched:
		next.Status = StatusPosting

	case OutcomePublished:
		next.Status = StatusCompleted
		next.Reason = ""
		next.CompletedAt = &now
		release(&next)

	case OutcomeThrottled:
		next.Attempts++
		if next.Attempts >= next.MaxRetries {
			fail(&next, withDefault(o.Reason, "rate limited: retries exhausted"), now)
			break
		}
		rateLimit(&next, o.Reason, o.RetryAt, now)

	case OutcomeTransientFailure:
		next.Attempts++
		if next.Attempts >= next.MaxRetries {
			fail(&next, withDefault(o.Reason, "transient failure: retries exhausted"), now)
			break
		}
		next.Reason = o.Reason
		requeue(&next, o.RetryAt, now)

	case OutcomePermanentFailure:
		next.Attempts++
		fail(&next, withDefault(o.Reason, "permanent publish failure"), now)

	case OutcomeRequeued:
		next.Status = StatusQueued

	case OutcomeCancelled:
		next.Status = StatusCancelled
		next.Reason = withDefault(o.Reason, "cancelled")
		next.CompletedAt = &now
		release(&next)

	case OutcomeAbandoned:
		if from == StatusPosting {
			next.Attempts++
			if next.Attempts >= next.MaxRetries {
				fail(&next, ReasonWorkerLost, now)
				break
			}
		}
		next.Reason = withDefault(o.Reason, "worker lost")
		requeue(&next, o.RetryAt, now)

	default:
		return j, fmt.Errorf("%w: unknown outcome %q", courier.ErrInvalidTransition, o.Kind)
	}

	if !CanTransition(from, next.Status) {
		return j, fmt.Errorf("%w: %s -> %s", courier.ErrInvalidTransition, from, next.Status)
	}
	next.UpdatedAt = now
	return next, nil
}

func appliesAt(k OutcomeKind, s Status) bool {
	for _, from := range sources[k] {
		if from == s {
			return true
		}
	}
	return false
}

func fail(j *Job, reason string, now time.Time) {
	j.Status = StatusFailed
	j.Reason = reason
	j.CompletedAt = &now
	release(j)
}

func rateLimit(j *Job, reason string, retryAt, now time.Time) {
	j.Status = StatusRateLimited
	j.Reason = reason
	j.ScheduledFor = laterOf(retryAt, now)
	release(j)
}

func requeue(j *Job, retryAt, now time.Time) {
	j.Status = StatusQueued
	j.ScheduledFor = laterOf(retryAt, now)
	release(j)
}

// release drops worker ownership so the job can be claimed again.
func release(j *Job) {
	j.WorkerID = id.Nil
	j.HeartbeatAt = nil
}

func laterOf(t, now time.Time) time.Time {
	if t.After(now) {
		return t.UTC()
	}
	return now
}

func withDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
