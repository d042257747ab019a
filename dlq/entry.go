package dlq

import (
	"time"

	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

// Entry represents a job that failed terminally and was moved to the dead
// letter queue for inspection or replay.
type Entry struct {
	ID             id.DLQID    `json:"id"`
	JobID          id.JobID    `json:"job_id"`
	Kind           job.Kind    `json:"kind"`
	OwnerID        string      `json:"owner_id"`
	ProfileID      string      `json:"profile_id"`
	Payload        job.Payload `json:"payload"`
	Fingerprint    string      `json:"fingerprint"`
	IdempotencyKey string      `json:"idempotency_key"`
	Result         *job.Result `json:"result,omitempty"`
	Reason         string      `json:"reason"`
	Attempts       int         `json:"attempts"`
	MaxRetries     int         `json:"max_retries"`
	FailedAt       time.Time   `json:"failed_at"`
	ReplayedAt     *time.Time  `json:"replayed_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}
