package worker

import (
	"context"
	"fmt"
	"sort"

	"github.com/xraph/courier/job"
	"github.com/xraph/courier/middleware"
	"github.com/xraph/courier/publisher"
)

// run publishes the payload of a posting job with the handler for its
// kind. It returns the updated result and the error that stopped the run.
// Each successful call is counted against the profile's quotas as it
// happens.
func (e *Executor) run(ctx context.Context, j *job.Job) (*job.Result, error) {
	result := cloneResult(j.Result)

	tctx, cancel := e.bounded(ctx)
	token, err := e.tokens.AccessToken(tctx, j.ProfileID)
	cancel()
	if err != nil {
		return result, fmt.Errorf("resolve access token: %w", err)
	}

	switch j.Kind {
	case job.KindSinglePost, job.KindScheduledPost, job.KindReply:
		return e.publishSingle(ctx, j, token, result)
	case job.KindThreadedPost:
		return e.publishThread(ctx, j, token, result)
	case job.KindBulkPublish:
		return e.publishBulk(ctx, j, token, result)
	default:
		return result, publisher.Permanent(fmt.Errorf("unknown job kind %q", j.Kind))
	}
}

// publishSingle makes the one call of a post, scheduled post or reply.
func (e *Executor) publishSingle(ctx context.Context, j *job.Job, token string, result *job.Result) (*job.Result, error) {
	resp, err := e.call(ctx, j, token, 0, publisher.Post{
		Text:    j.Payload.Text,
		Media:   j.Payload.Media,
		ReplyTo: j.Payload.ReplyTo,
	})
	if err != nil {
		return result, err
	}
	e.recordCall(ctx, j, false)
	result.RemoteID = resp.RemoteID
	return result, nil
}

// publishThread publishes parts in order, each replying to the previous
// part. Parts published by an earlier run are skipped. A failure stops
// the thread; the remaining parts wait for the next attempt.
func (e *Executor) publishThread(ctx context.Context, j *job.Job, token string, result *job.Result) (*job.Result, error) {
	done := publishedByIndex(result)
	started := len(done) > 0
	prev := j.Payload.ReplyTo
	first := true
	for i, part := range j.Payload.Thread {
		if remote, ok := done[i]; ok {
			prev = remote
			continue
		}
		if !first {
			if err := e.allowCall(ctx, j, started); err != nil {
				return result, err
			}
		}
		first = false

		resp, err := e.call(ctx, j, token, i, publisher.Post{
			Text:    part.Text,
			Media:   part.Media,
			ReplyTo: prev,
		})
		if err != nil {
			setItem(result, failedItem(i, err))
			return result, err
		}
		e.recordCall(ctx, j, started)
		started = true
		setItem(result, job.ItemResult{Index: i, RemoteID: resp.RemoteID})
		if i == 0 {
			result.RemoteID = resp.RemoteID
		}
		prev = resp.RemoteID
	}
	return result, nil
}

// publishBulk publishes independent items with a randomized gap between
// calls. A permanent failure or platform throttling aborts the remaining
// items; transient item failures are recorded and retried with the job.
// Every item after the first of a run re-checks the quota.
func (e *Executor) publishBulk(ctx context.Context, j *job.Job, token string, result *job.Result) (*job.Result, error) {
	done := publishedByIndex(result)
	started := len(done) > 0
	called := false
	var retryErr error
	for i, item := range j.Payload.Items {
		if _, ok := done[i]; ok {
			continue
		}
		if called {
			if err := e.allowCall(ctx, j, started); err != nil {
				return result, err
			}
			if err := e.sleep(ctx, e.spacing.Delay(i)); err != nil {
				return result, publisher.Transient(fmt.Errorf("bulk spacing: %w", err))
			}
		}
		called = true

		resp, err := e.call(ctx, j, token, i, publisher.Post{Text: item.Text, Media: item.Media})
		if err != nil {
			setItem(result, failedItem(i, err))
			switch publisher.Classify(err).Class {
			case publisher.ClassPermanent, publisher.ClassRateLimited:
				return result, err
			}
			if retryErr == nil {
				retryErr = err
			}
			continue
		}
		e.recordCall(ctx, j, started)
		started = true
		setItem(result, job.ItemResult{Index: i, RemoteID: resp.RemoteID})
	}
	return result, retryErr
}

// call makes one paced publisher call through the middleware chain. A
// success without a post id may still have published, so it is permanent.
func (e *Executor) call(ctx context.Context, j *job.Job, token string, index int, post publisher.Post) (publisher.Response, error) {
	if e.throttle != nil {
		if err := e.throttle.Wait(ctx, j.ProfileID); err != nil {
			return publisher.Response{}, publisher.Transient(fmt.Errorf("throttle wait: %w", err))
		}
	}

	post.ProfileID = j.ProfileID
	a := &middleware.Attempt{Job: j, Index: index, Post: post}

	var resp publisher.Response
	err := e.mw(ctx, a, func(ctx context.Context) error {
		var err error
		resp, err = e.publisher.Publish(ctx, token, a.Post)
		return err
	})
	if err != nil {
		return publisher.Response{}, err
	}
	if resp.RemoteID == "" {
		return publisher.Response{}, publisher.Permanent(publisher.ErrUnconfirmedPublish)
	}
	return resp, nil
}

func cloneResult(r *job.Result) *job.Result {
	if r == nil {
		return &job.Result{}
	}
	cp := *r
	cp.Items = append([]job.ItemResult(nil), r.Items...)
	return &cp
}

func publishedByIndex(r *job.Result) map[int]string {
	out := make(map[int]string, len(r.Items))
	for _, it := range r.Items {
		if it.Published() {
			out[it.Index] = it.RemoteID
		}
	}
	return out
}

// setItem replaces the result for item.Index, keeping Items sorted.
func setItem(r *job.Result, item job.ItemResult) {
	for i := range r.Items {
		if r.Items[i].Index == item.Index {
			r.Items[i] = item
			return
		}
	}
	r.Items = append(r.Items, item)
	sort.Slice(r.Items, func(a, b int) bool { return r.Items[a].Index < r.Items[b].Index })
}

func failedItem(index int, err error) job.ItemResult {
	return job.ItemResult{
		Index: index,
		Error: err.Error(),
		Class: string(publisher.Classify(err).Class),
	}
}
