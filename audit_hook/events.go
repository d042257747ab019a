package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobSubmitted   = "job.submitted"
	ActionJobRejected    = "job.rejected"
	ActionJobStarted     = "job.started"
	ActionJobCompleted   = "job.completed"
	ActionJobRetrying    = "job.retrying"
	ActionJobRateLimited = "job.rate_limited"
	ActionJobFailed      = "job.failed"
	ActionJobCancelled   = "job.cancelled"
	ActionJobDLQ         = "job.dlq"
	ActionJobReplayed    = "job.replayed"
)

// Audit event categories group related actions.
const (
	CategoryAdmission = "courier.admission"
	CategoryPipeline  = "courier.pipeline"
	CategoryDLQ       = "courier.dlq"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob        = "job"
	ResourceSubmission = "submission"
	ResourceDLQEntry   = "dlq_entry"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobSubmitted,
		ActionJobRejected,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobRetrying,
		ActionJobRateLimited,
		ActionJobFailed,
		ActionJobCancelled,
		ActionJobDLQ,
		ActionJobReplayed,
	}
}
