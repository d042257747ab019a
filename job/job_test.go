package job_test

import (
	"errors"
	"testing"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/job"
)

func TestNew_Defaults(t *testing.T) {
	j := job.New(job.KindReply, "o", "p", job.Payload{Text: "hi", ReplyTo: "r-9"}, t0,
		job.WithPriority(5),
		job.WithIdempotencyKey("k"),
	)
	if j.ID.IsNil() || j.ID.Prefix() != "job" {
		t.Fatalf("id = %q", j.ID)
	}
	if j.Status != job.StatusQueued || j.Attempts != 0 {
		t.Errorf("status=%s attempts=%d", j.Status, j.Attempts)
	}
	if j.MaxRetries != 3 || j.MaxQuotaDeferrals != 7 {
		t.Errorf("max_retries=%d max_quota_deferrals=%d", j.MaxRetries, j.MaxQuotaDeferrals)
	}
	if !j.ScheduledFor.Equal(t0) {
		t.Errorf("scheduled_for = %v, want now", j.ScheduledFor)
	}
	if j.Priority != 5 || j.IdempotencyKey != "k" {
		t.Errorf("priority=%d key=%q", j.Priority, j.IdempotencyKey)
	}

	later := t0.Add(3 * time.Hour)
	s := job.New(job.KindScheduledPost, "o", "p", job.Payload{Text: "x"}, t0, job.WithScheduledFor(later))
	if !s.ScheduledFor.Equal(later) {
		t.Errorf("scheduled_for = %v, want %v", s.ScheduledFor, later)
	}
}

func TestPayload_Validate(t *testing.T) {
	tests := []struct {
		name    string
		kind    job.Kind
		payload job.Payload
		ok      bool
	}{
		{"single text", job.KindSinglePost, job.Payload{Text: "hi"}, true},
		{"single media only", job.KindSinglePost, job.Payload{Media: []string{"m1"}}, true},
		{"single blank", job.KindSinglePost, job.Payload{Text: "   "}, false},
		{"reply without target", job.KindReply, job.Payload{Text: "hi"}, false},
		{"reply", job.KindReply, job.Payload{Text: "hi", ReplyTo: "r"}, true},
		{"thread empty", job.KindThreadedPost, job.Payload{}, false},
		{"thread", job.KindThreadedPost, job.Payload{Thread: []job.Part{{Text: "1/2"}, {Text: "2/2"}}}, true},
		{"bulk empty", job.KindBulkPublish, job.Payload{}, false},
		{"bulk", job.KindBulkPublish, job.Payload{Items: []job.Part{{Text: "a"}}}, true},
		{"unknown kind", job.Kind("story"), job.Payload{Text: "hi"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate(tt.kind)
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, courier.ErrInvalidJob) {
				t.Fatalf("expected ErrInvalidJob, got %v", err)
			}
		})
	}
}

func TestPayload_Calls(t *testing.T) {
	p := job.Payload{
		Thread: []job.Part{{Text: "a"}, {Text: "b"}},
		Items:  []job.Part{{Text: "a"}, {Text: "b"}, {Text: "c"}},
	}
	if got := p.Calls(job.KindThreadedPost); got != 2 {
		t.Errorf("thread calls = %d", got)
	}
	if got := p.Calls(job.KindBulkPublish); got != 3 {
		t.Errorf("bulk calls = %d", got)
	}
	if got := p.Calls(job.KindSinglePost); got != 1 {
		t.Errorf("single calls = %d", got)
	}
}

func TestClone_IsDeep(t *testing.T) {
	j := job.New(job.KindBulkPublish, "o", "p", job.Payload{Items: []job.Part{{Text: "a", Media: []string{"m"}}}}, t0)
	j.Result = &job.Result{Items: []job.ItemResult{{Index: 0, RemoteID: "r"}}}

	cp := j.Clone()
	cp.Payload.Items[0].Media[0] = "changed"
	cp.Result.Items[0].RemoteID = "changed"

	if j.Payload.Items[0].Media[0] != "m" || j.Result.Items[0].RemoteID != "r" {
		t.Error("clone shares memory with original")
	}
}

func TestResult_PublishedCount(t *testing.T) {
	var nilResult *job.Result
	if nilResult.PublishedCount() != 0 {
		t.Error("nil result should count 0")
	}
	if (&job.Result{RemoteID: "x"}).PublishedCount() != 1 {
		t.Error("single remote id should count 1")
	}
	r := &job.Result{Items: []job.ItemResult{{RemoteID: "a"}, {Error: "boom"}, {RemoteID: "c"}}}
	if r.PublishedCount() != 2 {
		t.Errorf("count = %d, want 2", r.PublishedCount())
	}
}
