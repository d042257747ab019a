// Package id holds the TypeID identifiers used by courier.
//
// An ID prints as "prefix_suffix", for example
// "job_01h2xcejqtf2nbrexx3vqjhp41". The suffix is a UUIDv7, so IDs sort by
// creation time and can go straight into URLs and log lines.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix names the entity an ID belongs to.
type Prefix string

const (
	PrefixJob    Prefix = "job"
	PrefixDLQ    Prefix = "dlq"
	PrefixWorker Prefix = "wkr"
)

// ID is a prefixed identifier. The zero value is Nil and stores as NULL.
//
//nolint:recvcheck // UnmarshalText and Scan need pointer receivers.
type ID struct {
	tid typeid.TypeID
	set bool
}

// Nil is the unset ID.
var Nil ID

type (
	// JobID identifies a publish job.
	JobID = ID
	// DLQID identifies a dead letter entry.
	DLQID = ID
	// WorkerID identifies a pool worker.
	WorkerID = ID
)

// New returns a fresh ID. It panics on a malformed prefix.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: generate %q: %v", prefix, err))
	}
	return ID{tid: tid, set: true}
}

func NewJobID() ID    { return New(PrefixJob) }
func NewDLQID() ID    { return New(PrefixDLQ) }
func NewWorkerID() ID { return New(PrefixWorker) }

// Parse accepts any prefix.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse: empty string")
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{tid: tid, set: true}, nil
}

// ParseWithPrefix parses s and requires the given prefix.
func ParseWithPrefix(s string, want Prefix) (ID, error) {
	i, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if got := i.Prefix(); got != want {
		return Nil, fmt.Errorf("id: %q has prefix %q, want %q", s, got, want)
	}
	return i, nil
}

func ParseJobID(s string) (ID, error)    { return ParseWithPrefix(s, PrefixJob) }
func ParseDLQID(s string) (ID, error)    { return ParseWithPrefix(s, PrefixDLQ) }
func ParseWorkerID(s string) (ID, error) { return ParseWithPrefix(s, PrefixWorker) }

// String returns "" for Nil.
func (i ID) String() string {
	if !i.set {
		return ""
	}
	return i.tid.String()
}

func (i ID) Prefix() Prefix {
	if !i.set {
		return ""
	}
	return Prefix(i.tid.Prefix())
}

func (i ID) IsNil() bool { return !i.set }

func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText maps empty input to Nil.
func (i *ID) UnmarshalText(data []byte) error {
	return i.assign(string(data))
}

// Value stores Nil as NULL so optional columns such as worker_id and
// replay_of stay empty.
func (i ID) Value() (driver.Value, error) {
	if !i.set {
		return nil, nil //nolint:nilnil // NULL
	}
	return i.tid.String(), nil
}

// Scan reads TEXT or NULL columns.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.assign(v)
	case []byte:
		return i.assign(string(v))
	default:
		return fmt.Errorf("id: cannot scan %T", src)
	}
}

func (i *ID) assign(s string) error {
	if s == "" {
		*i = Nil
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
