package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

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

	_ Channel = (*amqp.Channel)(nil)
)

// ErrNoChannel is returned when the extension has no AMQP channel.
var ErrNoChannel = errors.New("courier/notify: no amqp channel")

// Channel is the subset of *amqp.Channel the extension uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Message is the JSON body of every published message.
type Message struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	OwnerID    string    `json:"owner_id,omitempty"`
	ProfileID  string    `json:"profile_id,omitempty"`
	Data       any       `json:"data"`
}

// Extension publishes Courier lifecycle events to a RabbitMQ exchange.
type Extension struct {
	ch       Channel
	exchange string
	enabled  map[string]bool // nil = all enabled
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// New creates an Extension publishing through ch.
func New(ch Channel, opts ...Option) *Extension {
	n := &Extension{
		ch:       ch,
		exchange: "courier.events",
		timeout:  5 * time.Second,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Name implements ext.Extension.
func (n *Extension) Name() string { return "notify" }

// Declare declares the durable topic exchange.
func (n *Extension) Declare() error {
	if n.ch == nil {
		return ErrNoChannel
	}
	if err := n.ch.ExchangeDeclare(n.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("courier/notify: declare exchange %s: %w", n.exchange, err)
	}
	return nil
}

// ── Admission hooks ─────────────────────────────────

// OnJobSubmitted implements ext.JobSubmitted.
func (n *Extension) OnJobSubmitted(ctx context.Context, j *job.Job) error {
	return n.publishJob(ctx, EventJobSubmitted, j, &submittedData{
		jobData:      newJobData(j),
		ScheduledFor: j.ScheduledFor,
	})
}

// OnJobRejected implements ext.JobRejected.
func (n *Extension) OnJobRejected(ctx context.Context, ownerID, profileID string, kind job.Kind, rejErr error) error {
	data := &rejectedData{Kind: string(kind), Error: rejErr.Error()}
	var rej *courier.RejectionError
	if errors.As(rejErr, &rej) && !rej.RetryAt.IsZero() {
		retryAt := rej.RetryAt
		data.RetryAt = &retryAt
	}
	return n.publish(ctx, EventJobRejected, ownerID, profileID, data)
}

// ── Pipeline hooks ──────────────────────────────────

// OnJobStarted implements ext.JobStarted.
func (n *Extension) OnJobStarted(ctx context.Context, j *job.Job) error {
	return n.publishJob(ctx, EventJobStarted, j, newJobData(j))
}

// OnJobCompleted implements ext.JobCompleted.
func (n *Extension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return n.publishJob(ctx, EventJobCompleted, j, &completedData{
		jobData:   newJobData(j),
		Result:    j.Result,
		ElapsedMs: elapsed.Milliseconds(),
	})
}

// OnJobRetrying implements ext.JobRetrying.
func (n *Extension) OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error {
	return n.publishJob(ctx, EventJobRetrying, j, &retryData{
		jobData: newJobData(j),
		Attempt: attempt,
		RetryAt: nextRunAt,
	})
}

// OnJobRateLimited implements ext.JobRateLimited.
func (n *Extension) OnJobRateLimited(ctx context.Context, j *job.Job, retryAt time.Time) error {
	return n.publishJob(ctx, EventJobRateLimited, j, &retryData{
		jobData: newJobData(j),
		Attempt: j.Attempts,
		RetryAt: retryAt,
	})
}

// OnJobFailed implements ext.JobFailed.
func (n *Extension) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	return n.publishJob(ctx, EventJobFailed, j, &failedData{
		jobData: newJobData(j),
		Result:  j.Result,
		Error:   errorString(jobErr),
	})
}

// OnJobCancelled implements ext.JobCancelled.
func (n *Extension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	return n.publishJob(ctx, EventJobCancelled, j, newJobData(j))
}

// ── Dead letter hooks ───────────────────────────────

// OnJobDLQ implements ext.JobDLQ.
func (n *Extension) OnJobDLQ(ctx context.Context, j *job.Job, jobErr error) error {
	return n.publishJob(ctx, EventJobDLQ, j, &failedData{
		jobData: newJobData(j),
		Result:  j.Result,
		Error:   errorString(jobErr),
	})
}

// OnJobReplayed implements ext.JobReplayed.
func (n *Extension) OnJobReplayed(ctx context.Context, entryID id.DLQID, j *job.Job) error {
	return n.publishJob(ctx, EventJobReplayed, j, &replayedData{
		jobData:  newJobData(j),
		EntryID:  entryID.String(),
		ReplayOf: j.ReplayOf.String(),
	})
}

// ── Internal helpers ────────────────────────────────

func (n *Extension) publishJob(ctx context.Context, eventType string, j *job.Job, data any) error {
	return n.publish(ctx, eventType, j.OwnerID, j.ProfileID, data)
}

// publish sends one persistent message if the event type is enabled.
func (n *Extension) publish(ctx context.Context, eventType, ownerID, profileID string, data any) error {
	if n.enabled != nil && !n.enabled[eventType] {
		return nil
	}
	if n.ch == nil {
		return ErrNoChannel
	}

	msg := Message{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: n.now().UTC(),
		OwnerID:    ownerID,
		ProfileID:  profileID,
		Data:       data,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("courier/notify: marshal %s: %w", eventType, err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	err = n.ch.PublishWithContext(ctx, n.exchange, eventType, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    msg.OccurredAt,
		Type:         eventType,
		Headers: amqp.Table{
			"owner_id":   ownerID,
			"profile_id": profileID,
		},
		Body: body,
	})
	if err != nil {
		return fmt.Errorf("courier/notify: publish %s: %w", eventType, err)
	}

	n.logger.Debug("notify: event published",
		slog.String("type", eventType),
		slog.String("message_id", msg.ID),
		slog.Int("body_size", len(body)),
	)
	return nil
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ── Payload types ───────────────────────────────────

type jobData struct {
	JobID          string `json:"job_id"`
	Kind           string `json:"kind"`
	Status         string `json:"status"`
	Attempts       int    `json:"attempts"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

func newJobData(j *job.Job) jobData {
	return jobData{
		JobID:          j.ID.String(),
		Kind:           string(j.Kind),
		Status:         string(j.Status),
		Attempts:       j.Attempts,
		IdempotencyKey: j.IdempotencyKey,
		Reason:         j.Reason,
	}
}

type submittedData struct {
	jobData
	ScheduledFor time.Time `json:"scheduled_for"`
}

type rejectedData struct {
	Kind    string     `json:"kind"`
	Error   string     `json:"error"`
	RetryAt *time.Time `json:"retry_at,omitempty"`
}

type completedData struct {
	jobData
	Result    *job.Result `json:"result,omitempty"`
	ElapsedMs int64       `json:"elapsed_ms"`
}

type retryData struct {
	jobData
	Attempt int       `json:"attempt"`
	RetryAt time.Time `json:"retry_at"`
}

type failedData struct {
	jobData
	Result *job.Result `json:"result,omitempty"`
	Error  string      `json:"error"`
}

type replayedData struct {
	jobData
	EntryID  string `json:"entry_id"`
	ReplayOf string `json:"replay_of"`
}
