package audithook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*Extension)(nil)
	_ ext.JobSubmitted   = (*Extension)(nil)
	_ ext.JobRejected    = (*Extension)(nil)
	_ ext.JobStarted     = (*Extension)(nil)
	_ ext.JobCompleted   = (*Extension)(nil)
	_ ext.JobRetrying    = (*Extension)(nil)
	_ ext.JobRateLimited = (*Extension)(nil)
	_ ext.JobFailed      = (*Extension)(nil)
	_ ext.JobCancelled   = (*Extension)(nil)
	_ ext.JobDLQ         = (*Extension)(nil)
	_ ext.JobReplayed    = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement. Callers
// inject the concrete trail at wiring time.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Who it happened to
	OwnerID   string `json:"owner_id,omitempty"`
	ProfileID string `json:"profile_id,omitempty"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
)

// Extension bridges Courier lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder    Recorder
	enabled     map[string]bool // nil = all enabled
	fingerprint bool
	logger      *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Admission hooks ─────────────────────────────────

// OnJobSubmitted implements ext.JobSubmitted.
func (e *Extension) OnJobSubmitted(ctx context.Context, j *job.Job) error {
	return e.recordJob(ctx, ActionJobSubmitted, SeverityInfo, OutcomeSuccess, CategoryAdmission, j, nil,
		"idempotency_key", j.IdempotencyKey,
		"scheduled_for", j.ScheduledFor.Format(time.RFC3339),
		"calls", j.Payload.Calls(j.Kind),
	)
}

// OnJobRejected implements ext.JobRejected.
func (e *Extension) OnJobRejected(ctx context.Context, ownerID, profileID string, kind job.Kind, rejErr error) error {
	meta := []any{"kind", string(kind)}
	var rej *courier.RejectionError
	if errors.As(rejErr, &rej) && !rej.RetryAt.IsZero() {
		meta = append(meta,
			"limit", rej.Limit,
			"used", rej.Used,
			"retry_at", rej.RetryAt.Format(time.RFC3339),
		)
	}
	return e.record(ctx, &AuditEvent{
		Action:    ActionJobRejected,
		Resource:  ResourceSubmission,
		Category:  CategoryAdmission,
		OwnerID:   ownerID,
		ProfileID: profileID,
		Outcome:   OutcomeDenied,
		Severity:  SeverityWarning,
	}, rejErr, meta...)
}

// ── Pipeline hooks ──────────────────────────────────

// OnJobStarted implements ext.JobStarted.
func (e *Extension) OnJobStarted(ctx context.Context, j *job.Job) error {
	return e.recordJob(ctx, ActionJobStarted, SeverityInfo, OutcomeSuccess, CategoryPipeline, j, nil,
		"worker_id", j.WorkerID.String(),
		"attempts", j.Attempts,
	)
}

// OnJobCompleted implements ext.JobCompleted.
func (e *Extension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	var remoteID string
	if j.Result != nil {
		remoteID = j.Result.RemoteID
	}
	return e.recordJob(ctx, ActionJobCompleted, SeverityInfo, OutcomeSuccess, CategoryPipeline, j, nil,
		"remote_id", remoteID,
		"published", j.Result.PublishedCount(),
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnJobRetrying implements ext.JobRetrying.
func (e *Extension) OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error {
	return e.recordJob(ctx, ActionJobRetrying, SeverityWarning, OutcomeFailure, CategoryPipeline, j, nil,
		"attempt", attempt,
		"max_retries", j.MaxRetries,
		"next_run_at", nextRunAt.Format(time.RFC3339),
	)
}

// OnJobRateLimited implements ext.JobRateLimited.
func (e *Extension) OnJobRateLimited(ctx context.Context, j *job.Job, retryAt time.Time) error {
	return e.recordJob(ctx, ActionJobRateLimited, SeverityWarning, OutcomeDenied, CategoryPipeline, j, nil,
		"retry_at", retryAt.Format(time.RFC3339),
		"attempts", j.Attempts,
		"quota_deferrals", j.QuotaDeferrals,
	)
}

// OnJobFailed implements ext.JobFailed.
func (e *Extension) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	return e.recordJob(ctx, ActionJobFailed, SeverityCritical, OutcomeFailure, CategoryPipeline, j, jobErr,
		"attempts", j.Attempts,
		"max_retries", j.MaxRetries,
		"published", j.Result.PublishedCount(),
	)
}

// OnJobCancelled implements ext.JobCancelled.
func (e *Extension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	return e.recordJob(ctx, ActionJobCancelled, SeverityInfo, OutcomeSuccess, CategoryPipeline, j, nil,
		"reason", j.Reason,
	)
}

// ── Dead letter hooks ───────────────────────────────

// OnJobDLQ implements ext.JobDLQ.
func (e *Extension) OnJobDLQ(ctx context.Context, j *job.Job, jobErr error) error {
	return e.recordJob(ctx, ActionJobDLQ, SeverityCritical, OutcomeFailure, CategoryDLQ, j, jobErr,
		"attempts", j.Attempts,
	)
}

// OnJobReplayed implements ext.JobReplayed.
func (e *Extension) OnJobReplayed(ctx context.Context, entryID id.DLQID, j *job.Job) error {
	return e.record(ctx, &AuditEvent{
		Action:     ActionJobReplayed,
		Resource:   ResourceDLQEntry,
		Category:   CategoryDLQ,
		ResourceID: entryID.String(),
		OwnerID:    j.OwnerID,
		ProfileID:  j.ProfileID,
		Outcome:    OutcomeSuccess,
		Severity:   SeverityInfo,
	}, nil,
		"job_id", j.ID.String(),
		"replay_of", j.ReplayOf.String(),
	)
}

// ── Internal helpers ────────────────────────────────

func (e *Extension) recordJob(
	ctx context.Context,
	action, severity, outcome, category string,
	j *job.Job,
	err error,
	kvPairs ...any,
) error {
	kvPairs = append(kvPairs, "kind", string(j.Kind), "status", string(j.Status))
	if e.fingerprint {
		kvPairs = append(kvPairs, "fingerprint", j.Fingerprint)
	}
	return e.record(ctx, &AuditEvent{
		Action:     action,
		Resource:   ResourceJob,
		Category:   category,
		ResourceID: j.ID.String(),
		OwnerID:    j.OwnerID,
		ProfileID:  j.ProfileID,
		Outcome:    outcome,
		Severity:   severity,
	}, err, kvPairs...)
}

// record sends evt if its action is enabled. The kvPairs argument is a
// list of key-value pairs added to Metadata.
func (e *Extension) record(ctx context.Context, evt *AuditEvent, err error, kvPairs ...any) error {
	if e.enabled != nil && !e.enabled[evt.Action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}
	if err != nil {
		evt.Reason = err.Error()
		meta["error"] = err.Error()
	}
	evt.Metadata = meta

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", evt.Action),
			slog.String("resource_id", evt.ResourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
