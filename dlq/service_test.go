package dlq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/store/memory"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newFailedJob() *job.Job {
	j := job.New(job.KindBulkPublish, "owner", "profile",
		job.Payload{Items: []job.Part{{Text: "a"}, {Text: "b"}, {Text: "c"}}}, t0,
		job.WithFingerprint("fp"),
		job.WithIdempotencyKey("key"),
	)
	done := t0.Add(time.Minute)
	j.Status = job.StatusFailed
	j.Attempts = 1
	j.Reason = "content rejected"
	j.CompletedAt = &done
	j.Result = &job.Result{
		Items:      []job.ItemResult{{Index: 0, RemoteID: "r0"}, {Index: 1, Error: "rejected", Class: "permanent"}},
		ErrorClass: "permanent",
		LastError:  "rejected",
	}
	return j
}

func TestService_Push_BuildsEntryFromJob(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s).WithClock(func() time.Time { return t0.Add(2 * time.Minute) })
	ctx := context.Background()

	j := newFailedJob()
	if err := svc.Push(ctx, j); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := s.ListDLQ(ctx, dlq.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 DLQ entry, got %d", len(entries))
	}

	e := entries[0]
	if e.JobID.String() != j.ID.String() {
		t.Errorf("JobID = %v, want %v", e.JobID, j.ID)
	}
	if e.Kind != job.KindBulkPublish || e.ProfileID != "profile" || e.OwnerID != "owner" {
		t.Errorf("entry = %+v", e)
	}
	if e.Reason != "content rejected" {
		t.Errorf("Reason = %q", e.Reason)
	}
	if !e.FailedAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("FailedAt = %v, want job completion time", e.FailedAt)
	}
	if len(e.Payload.Items) != 3 || e.Result == nil || e.Result.PublishedCount() != 1 {
		t.Errorf("payload/result not captured: %+v", e)
	}
}

func TestService_Replay(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s).WithClock(func() time.Time { return t0.Add(time.Hour) })
	ctx := context.Background()

	orig := newFailedJob()
	if err := svc.Push(ctx, orig); err != nil {
		t.Fatal(err)
	}
	entries, _ := s.ListDLQ(ctx, dlq.ListOpts{})

	replayed, err := svc.Replay(ctx, entries[0].ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed.ID.String() == orig.ID.String() {
		t.Fatal("replay must get a fresh id")
	}
	if replayed.Status != job.StatusQueued || replayed.Attempts != 0 {
		t.Errorf("status=%s attempts=%d", replayed.Status, replayed.Attempts)
	}
	if replayed.ReplayOf.String() != orig.ID.String() {
		t.Errorf("replay_of = %v", replayed.ReplayOf)
	}
	if replayed.Result == nil || replayed.Result.PublishedCount() != 1 || replayed.Result.LastError != "" {
		t.Errorf("partial result not carried over: %+v", replayed.Result)
	}

	stored, err := s.GetJob(ctx, replayed.ID)
	if err != nil {
		t.Fatalf("replayed job not enqueued: %v", err)
	}
	if stored.Fingerprint != "fp" {
		t.Errorf("fingerprint = %q", stored.Fingerprint)
	}

	e, _ := s.GetDLQ(ctx, entries[0].ID)
	if e.ReplayedAt == nil {
		t.Error("entry not marked as replayed")
	}

	if _, err := svc.Replay(ctx, entries[0].ID); !errors.Is(err, courier.ErrInvalidTransition) {
		t.Fatalf("second replay: expected ErrInvalidTransition, got %v", err)
	}
}

func TestService_Replay_NotFound(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	if _, err := svc.Replay(context.Background(), id.NewDLQID()); !errors.Is(err, courier.ErrDLQNotFound) {
		t.Fatalf("expected ErrDLQNotFound, got %v", err)
	}
}
