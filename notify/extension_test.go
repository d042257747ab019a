package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/xraph/courier"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/notify"
)

// ── Fake channel ────────────────────────────────────

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	mu        sync.Mutex
	declared  []string
	published []published
	err       error
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if kind != amqp.ExchangeTopic || !durable {
		return errors.New("unexpected exchange settings")
	}
	f.declared = append(f.declared, name)
	return nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) last(t *testing.T) published {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.published) == 0 {
		t.Fatal("nothing published")
	}
	return f.published[len(f.published)-1]
}

func (f *fakeChannel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

// ── Helpers ─────────────────────────────────────────

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestJob() *job.Job {
	return job.New(job.KindSinglePost, "owner_1", "prof_1", job.Payload{Text: "hello"}, t0,
		job.WithIdempotencyKey("req-1"),
	)
}

func decode(t *testing.T, p published) (notify.Message, map[string]any) {
	t.Helper()
	var msg notify.Message
	if err := json.Unmarshal(p.msg.Body, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	data, ok := msg.Data.(map[string]any)
	if !ok {
		t.Fatalf("data is %T", msg.Data)
	}
	return msg, data
}

// ── Tests ───────────────────────────────────────────

func TestExtension_Name(t *testing.T) {
	if got := notify.New(&fakeChannel{}).Name(); got != "notify" {
		t.Errorf("Name() = %q", got)
	}
}

func TestExtension_Declare(t *testing.T) {
	ch := &fakeChannel{}
	n := notify.New(ch, notify.WithExchange("social.events"))
	if err := n.Declare(); err != nil {
		t.Fatalf("Declare: %v", err)
	}
	if len(ch.declared) != 1 || ch.declared[0] != "social.events" {
		t.Errorf("declared = %v", ch.declared)
	}

	if err := notify.New(nil).Declare(); !errors.Is(err, notify.ErrNoChannel) {
		t.Errorf("nil channel: err = %v", err)
	}
}

func TestExtension_JobCompleted(t *testing.T) {
	ch := &fakeChannel{}
	n := notify.New(ch, notify.WithClock(func() time.Time { return t0 }))
	j := newTestJob()
	j.Status = job.StatusCompleted
	j.Result = &job.Result{RemoteID: "remote-1"}

	if err := n.OnJobCompleted(context.Background(), j, 1500*time.Millisecond); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}

	p := ch.last(t)
	if p.exchange != "courier.events" || p.key != notify.EventJobCompleted {
		t.Errorf("exchange/key = %q/%q", p.exchange, p.key)
	}
	if p.msg.DeliveryMode != amqp.Persistent || p.msg.ContentType != "application/json" {
		t.Errorf("delivery/content = %d/%q", p.msg.DeliveryMode, p.msg.ContentType)
	}
	if p.msg.Headers["profile_id"] != "prof_1" {
		t.Errorf("header profile_id = %v", p.msg.Headers["profile_id"])
	}

	msg, data := decode(t, p)
	if msg.ID == "" || msg.ID != p.msg.MessageId {
		t.Errorf("message id = %q, amqp id = %q", msg.ID, p.msg.MessageId)
	}
	if !msg.OccurredAt.Equal(t0) || msg.OwnerID != "owner_1" {
		t.Errorf("envelope = %+v", msg)
	}
	if data["job_id"] != j.ID.String() || data["status"] != "completed" {
		t.Errorf("data = %v", data)
	}
	if data["elapsed_ms"] != float64(1500) {
		t.Errorf("elapsed_ms = %v", data["elapsed_ms"])
	}
	result, _ := data["result"].(map[string]any)
	if result["remote_id"] != "remote-1" {
		t.Errorf("result = %v", data["result"])
	}
}

func TestExtension_JobRejected(t *testing.T) {
	ch := &fakeChannel{}
	n := notify.New(ch)
	retryAt := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	rej := &courier.RejectionError{Err: courier.ErrQuotaExceeded, RetryAt: retryAt}

	if err := n.OnJobRejected(context.Background(), "owner_1", "prof_1", job.KindReply, rej); err != nil {
		t.Fatalf("OnJobRejected: %v", err)
	}

	_, data := decode(t, ch.last(t))
	if data["kind"] != "reply" {
		t.Errorf("kind = %v", data["kind"])
	}
	if data["retry_at"] != retryAt.Format(time.RFC3339) {
		t.Errorf("retry_at = %v", data["retry_at"])
	}
}

func TestExtension_JobFailed(t *testing.T) {
	ch := &fakeChannel{}
	n := notify.New(ch)
	j := newTestJob()
	j.Reason = "permanent publish failure: 400"

	_ = n.OnJobFailed(context.Background(), j, errors.New("400 bad request"))

	p := ch.last(t)
	if p.key != notify.EventJobFailed {
		t.Errorf("key = %q", p.key)
	}
	_, data := decode(t, p)
	if data["error"] != "400 bad request" || data["reason"] != j.Reason {
		t.Errorf("data = %v", data)
	}
}

func TestExtension_JobReplayed(t *testing.T) {
	ch := &fakeChannel{}
	n := notify.New(ch)
	j := newTestJob()
	j.ReplayOf = id.NewJobID()
	entryID := id.NewDLQID()

	_ = n.OnJobReplayed(context.Background(), entryID, j)

	_, data := decode(t, ch.last(t))
	if data["entry_id"] != entryID.String() || data["replay_of"] != j.ReplayOf.String() {
		t.Errorf("data = %v", data)
	}
}

func TestExtension_WithEvents(t *testing.T) {
	ch := &fakeChannel{}
	n := notify.New(ch, notify.WithEvents(notify.EventJobFailed))
	ctx := context.Background()
	j := newTestJob()

	_ = n.OnJobSubmitted(ctx, j)
	_ = n.OnJobStarted(ctx, j)
	_ = n.OnJobFailed(ctx, j, errors.New("x"))

	if ch.count() != 1 || ch.last(t).key != notify.EventJobFailed {
		t.Errorf("published %d messages", ch.count())
	}
}

func TestExtension_PublishErrorIsReturned(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	n := notify.New(ch)

	err := n.OnJobCancelled(context.Background(), newTestJob())
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestExtension_ViaRegistry(t *testing.T) {
	ch := &fakeChannel{}
	reg := ext.NewRegistry(slog.New(slog.DiscardHandler))
	reg.Register(notify.New(ch))
	ctx := context.Background()
	j := newTestJob()

	reg.EmitJobSubmitted(ctx, j)
	reg.EmitJobRejected(ctx, "owner_1", "prof_1", job.KindSinglePost, &courier.RejectionError{Err: courier.ErrDuplicateContent})
	reg.EmitJobStarted(ctx, j)
	reg.EmitJobCompleted(ctx, j, time.Second)
	reg.EmitJobRetrying(ctx, j, 1, t0)
	reg.EmitJobRateLimited(ctx, j, t0)
	reg.EmitJobFailed(ctx, j, errors.New("x"))
	reg.EmitJobCancelled(ctx, j)
	reg.EmitJobDLQ(ctx, j, errors.New("x"))
	reg.EmitJobReplayed(ctx, id.NewDLQID(), j)

	defs := notify.AllDefinitions()
	if ch.count() != len(defs) {
		t.Fatalf("published %d, want %d", ch.count(), len(defs))
	}
	seen := map[string]bool{}
	for _, p := range ch.published {
		seen[p.key] = true
	}
	for _, d := range defs {
		if !seen[d.Name] {
			t.Errorf("no message for %q", d.Name)
		}
	}
}
