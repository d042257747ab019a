package publisher

import (
	"context"
	"fmt"
	"sync"
)

// Call is one recorded Publish invocation.
type Call struct {
	AccessToken string
	Post        Post
}

// Step scripts the outcome of one call. A nil Err with an empty RemoteID
// gets a generated id.
type Step struct {
	Response Response
	Err      error
}

// Recorder is an in-memory Publisher for tests and dry runs. It records
// every call and plays scripted steps in order; once the script runs out
// every call succeeds.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
	steps []Step
	seq   int
}

var _ Publisher = (*Recorder)(nil)

// NewRecorder creates a Recorder playing steps in order.
func NewRecorder(steps ...Step) *Recorder {
	return &Recorder{steps: steps}
}

// Script appends steps.
func (r *Recorder) Script(steps ...Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, steps...)
}

// Publish implements Publisher.
func (r *Recorder) Publish(ctx context.Context, accessToken string, post Post) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, &Error{Class: ClassTimeout, Err: err}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, Call{AccessToken: accessToken, Post: post})
	r.seq++

	var step Step
	if len(r.steps) > 0 {
		step, r.steps = r.steps[0], r.steps[1:]
	}
	if step.Err != nil {
		return Response{}, step.Err
	}
	if step.Response.RemoteID == "" {
		step.Response.RemoteID = fmt.Sprintf("remote-%d", r.seq)
	}
	return step.Response, nil
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallCount returns how many times Publish was called.
func (r *Recorder) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}
