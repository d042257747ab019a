package job

import (
	"fmt"
	"strings"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
)

// Kind selects the handler that publishes a job's payload.
type Kind string

const (
	// KindSinglePost publishes one post.
	KindSinglePost Kind = "single_post"
	// KindThreadedPost publishes thread parts in order, each replying to
	// the previous one.
	KindThreadedPost Kind = "threaded_post"
	// KindScheduledPost publishes one post no earlier than ScheduledFor.
	KindScheduledPost Kind = "scheduled_post"
	// KindBulkPublish publishes a list of independent items with spacing.
	KindBulkPublish Kind = "bulk_publish"
	// KindReply publishes a reply to an existing remote post.
	KindReply Kind = "reply"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindSinglePost, KindThreadedPost, KindScheduledPost, KindBulkPublish, KindReply:
		return true
	}
	return false
}

// Status represents the pipeline stage of a job.
type Status string

const (
	// StatusQueued means the job is waiting to be claimed by a worker.
	StatusQueued Status = "queued"
	// StatusDeduplicated means the job passed the duplicate content check.
	StatusDeduplicated Status = "deduplicated"
	// StatusRateChecked means the usage governor admitted the job.
	StatusRateChecked Status = "rate_checked"
	// StatusPosting means the publisher is being called.
	StatusPosting Status = "posting"
	// StatusCompleted means every publish call succeeded.
	StatusCompleted Status = "completed"
	// StatusFailed means the job will not be retried.
	StatusFailed Status = "failed"
	// StatusRateLimited means the job waits for a quota window or for the
	// platform's retry-after to pass.
	StatusRateLimited Status = "rate_limited"
	// StatusCancelled means the job was cancelled before posting.
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Part is one thread part or one bulk item.
type Part struct {
	Text  string   `json:"text"`
	Media []string `json:"media,omitempty"`
}

// Payload is the content to publish. Which fields are used depends on the
// job's Kind: Text/Media for posts and replies, Thread for threaded posts
// and Items for bulk publishes.
type Payload struct {
	Text    string   `json:"text,omitempty"`
	Media   []string `json:"media,omitempty"`
	ReplyTo string   `json:"reply_to,omitempty"`
	Thread  []Part   `json:"thread,omitempty"`
	Items   []Part   `json:"items,omitempty"`
}

// Calls returns the number of publisher calls needed for kind.
func (p Payload) Calls(kind Kind) int {
	switch kind {
	case KindThreadedPost:
		return len(p.Thread)
	case KindBulkPublish:
		return len(p.Items)
	default:
		return 1
	}
}

// Validate checks that the payload carries what kind needs.
func (p Payload) Validate(kind Kind) error {
	switch kind {
	case KindSinglePost, KindScheduledPost:
		if strings.TrimSpace(p.Text) == "" && len(p.Media) == 0 {
			return fmt.Errorf("%w: %s needs text or media", courier.ErrInvalidJob, kind)
		}
	case KindReply:
		if p.ReplyTo == "" {
			return fmt.Errorf("%w: reply needs reply_to", courier.ErrInvalidJob)
		}
		if strings.TrimSpace(p.Text) == "" && len(p.Media) == 0 {
			return fmt.Errorf("%w: reply needs text or media", courier.ErrInvalidJob)
		}
	case KindThreadedPost:
		if len(p.Thread) == 0 {
			return fmt.Errorf("%w: threaded_post needs at least one part", courier.ErrInvalidJob)
		}
	case KindBulkPublish:
		if len(p.Items) == 0 {
			return fmt.Errorf("%w: bulk_publish needs at least one item", courier.ErrInvalidJob)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", courier.ErrInvalidJob, kind)
	}
	return nil
}

// ItemResult records the outcome of one publisher call of a thread or bulk job.
type ItemResult struct {
	Index    int    `json:"index"`
	RemoteID string `json:"remote_id,omitempty"`
	Error    string `json:"error,omitempty"`
	Class    string `json:"class,omitempty"`
}

// Published reports whether the call produced a remote post.
func (r ItemResult) Published() bool { return r.RemoteID != "" }

// Result is what the pipeline learned from the platform.
type Result struct {
	// RemoteID is the platform id of the post, or of the thread's first part.
	RemoteID string `json:"remote_id,omitempty"`
	// Items holds per-call results for threads and bulk publishes.
	Items []ItemResult `json:"items,omitempty"`
	// ErrorClass is the classification of the last publish failure.
	ErrorClass string `json:"error_class,omitempty"`
	// LastError is the message of the last publish failure.
	LastError string `json:"last_error,omitempty"`
}

// PublishedCount returns how many calls produced a remote post.
func (r *Result) PublishedCount() int {
	if r == nil {
		return 0
	}
	if len(r.Items) == 0 {
		if r.RemoteID != "" {
			return 1
		}
		return 0
	}
	n := 0
	for _, it := range r.Items {
		if it.Published() {
			n++
		}
	}
	return n
}

// Job represents one publish request for one profile.
type Job struct {
	courier.Entity

	ID                id.JobID    `json:"id"`
	Kind              Kind        `json:"kind"`
	OwnerID           string      `json:"owner_id"`
	ProfileID         string      `json:"profile_id"`
	Payload           Payload     `json:"payload"`
	Priority          int         `json:"priority"`
	Status            Status      `json:"status"`
	Attempts          int         `json:"attempts"`
	MaxRetries        int         `json:"max_retries"`
	QuotaDeferrals    int         `json:"quota_deferrals"`
	MaxQuotaDeferrals int         `json:"max_quota_deferrals"`
	ScheduledFor      time.Time   `json:"scheduled_for"`
	Fingerprint       string      `json:"fingerprint"`
	IdempotencyKey    string      `json:"idempotency_key"`
	Reason            string      `json:"reason,omitempty"`
	Result            *Result     `json:"result,omitempty"`
	CancelRequested   bool        `json:"cancel_requested,omitempty"`
	ReplayOf          id.JobID    `json:"replay_of,omitempty"`
	WorkerID          id.WorkerID `json:"worker_id,omitempty"`
	StartedAt         *time.Time  `json:"started_at,omitempty"`
	CompletedAt       *time.Time  `json:"completed_at,omitempty"`
	HeartbeatAt       *time.Time  `json:"heartbeat_at,omitempty"`
}

// New builds a queued job stamped with now.
func New(kind Kind, ownerID, profileID string, payload Payload, now time.Time, opts ...Option) *Job {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	scheduled := o.ScheduledFor
	if scheduled.IsZero() {
		scheduled = now
	}
	return &Job{
		Entity:            courier.NewEntity(now),
		ID:                id.NewJobID(),
		Kind:              kind,
		OwnerID:           ownerID,
		ProfileID:         profileID,
		Payload:           payload,
		Priority:          o.Priority,
		Status:            StatusQueued,
		MaxRetries:        o.MaxRetries,
		MaxQuotaDeferrals: o.MaxQuotaDeferrals,
		ScheduledFor:      scheduled.UTC(),
		Fingerprint:       o.Fingerprint,
		IdempotencyKey:    o.IdempotencyKey,
	}
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	cp := *j
	cp.Payload.Media = append([]string(nil), j.Payload.Media...)
	cp.Payload.Thread = clonePartList(j.Payload.Thread)
	cp.Payload.Items = clonePartList(j.Payload.Items)
	if j.Result != nil {
		r := *j.Result
		r.Items = append([]ItemResult(nil), j.Result.Items...)
		cp.Result = &r
	}
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	cp.HeartbeatAt = cloneTime(j.HeartbeatAt)
	return &cp
}

// Claimed reports whether a worker currently owns the job.
func (j *Job) Claimed() bool { return !j.WorkerID.IsNil() }

func clonePartList(parts []Part) []Part {
	if parts == nil {
		return nil
	}
	out := make([]Part, len(parts))
	for i, p := range parts {
		out[i] = Part{Text: p.Text, Media: append([]string(nil), p.Media...)}
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
