package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/xraph/courier/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
		prefix  string
	}{
		{"JobID", id.NewJobID, id.ParseJobID, "job_"},
		{"DLQID", id.NewDLQID, id.ParseDLQID, "dlq_"},
		{"WorkerID", id.NewWorkerID, id.ParseWorkerID, "wkr_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orig := tt.newFn()
			if !strings.HasPrefix(orig.String(), tt.prefix) {
				t.Fatalf("expected prefix %q, got %q", tt.prefix, orig.String())
			}
			parsed, err := tt.parseFn(orig.String())
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if parsed.String() != orig.String() {
				t.Errorf("round trip mismatch: %q != %q", parsed.String(), orig.String())
			}
		})
	}
}

func TestParseWithPrefixRejectsMismatch(t *testing.T) {
	dlq := id.NewDLQID()
	if _, err := id.ParseJobID(dlq.String()); err == nil {
		t.Fatal("expected error for wrong prefix")
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Fatal("expected error for empty string")
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Fatal("zero value should be nil")
	}
	if i.String() != "" {
		t.Errorf("nil ID string = %q, want empty", i.String())
	}
	v, err := i.Value()
	if err != nil || v != nil {
		t.Errorf("nil ID value = %v, %v; want nil, nil", v, err)
	}
}

func TestJSONAndScan(t *testing.T) {
	orig := id.NewJobID()

	b, err := json.Marshal(struct {
		ID id.ID `json:"id"`
	}{orig})
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		ID id.ID `json:"id"`
	}
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	if out.ID.String() != orig.String() {
		t.Errorf("json: got %q, want %q", out.ID.String(), orig.String())
	}

	var scanned id.ID
	if err := scanned.Scan(orig.String()); err != nil {
		t.Fatal(err)
	}
	if scanned.String() != orig.String() {
		t.Errorf("scan: got %q, want %q", scanned.String(), orig.String())
	}
	if err := scanned.Scan(nil); err != nil || !scanned.IsNil() {
		t.Errorf("scan nil: got %v, nil=%v", err, scanned.IsNil())
	}
	if err := scanned.Scan(42); err == nil {
		t.Error("expected error scanning int")
	}
}
