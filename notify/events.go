package notify

// Courier lifecycle event types. Each constant maps to one ext lifecycle
// hook and is used as the routing key of the published message.
const (
	EventJobSubmitted   = "courier.job.submitted"
	EventJobRejected    = "courier.job.rejected"
	EventJobStarted     = "courier.job.started"
	EventJobCompleted   = "courier.job.completed"
	EventJobRetrying    = "courier.job.retrying"
	EventJobRateLimited = "courier.job.rate_limited"
	EventJobFailed      = "courier.job.failed"
	EventJobCancelled   = "courier.job.cancelled"
	EventJobDLQ         = "courier.job.dlq"
	EventJobReplayed    = "courier.job.replayed"
)

// Definition describes one event type for consumers.
type Definition struct {
	Name        string
	Description string
}

// AllDefinitions returns a definition for every event type.
func AllDefinitions() []Definition {
	return []Definition{
		{Name: EventJobSubmitted, Description: "A publish request passed admission and was queued."},
		{Name: EventJobRejected, Description: "A publish request was refused as duplicate content or over quota."},
		{Name: EventJobStarted, Description: "A worker claimed a job."},
		{Name: EventJobCompleted, Description: "Every post of a job was published."},
		{Name: EventJobRetrying, Description: "A publish attempt failed transiently and was rescheduled."},
		{Name: EventJobRateLimited, Description: "A job waits for a quota window or the platform's retry-after."},
		{Name: EventJobFailed, Description: "A job failed and will not be retried."},
		{Name: EventJobCancelled, Description: "A job was cancelled before posting."},
		{Name: EventJobDLQ, Description: "A failed job was moved to the dead letter queue."},
		{Name: EventJobReplayed, Description: "A dead letter entry was replayed as a new job."},
	}
}
