package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/courier/backoff"
	"github.com/xraph/courier/dedup"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/governor"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/idempotency"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/publisher"
	"github.com/xraph/courier/store/memory"
	"github.com/xraph/courier/worker"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const (
	owner   = "owner_1"
	profile = "prof_1"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// events records the lifecycle hooks a test cares about.
type events struct {
	mu        sync.Mutex
	started   int
	completed int
	retrying  int
	limited   int
	failed    []error
	dlq       int
	cancelled int
}

func (e *events) Name() string { return "test-events" }

func (e *events) OnJobStarted(context.Context, *job.Job) error {
	e.mu.Lock()
	e.started++
	e.mu.Unlock()
	return nil
}

func (e *events) OnJobCompleted(context.Context, *job.Job, time.Duration) error {
	e.mu.Lock()
	e.completed++
	e.mu.Unlock()
	return nil
}

func (e *events) OnJobRetrying(context.Context, *job.Job, int, time.Time) error {
	e.mu.Lock()
	e.retrying++
	e.mu.Unlock()
	return nil
}

func (e *events) OnJobRateLimited(context.Context, *job.Job, time.Time) error {
	e.mu.Lock()
	e.limited++
	e.mu.Unlock()
	return nil
}

func (e *events) OnJobFailed(_ context.Context, _ *job.Job, err error) error {
	e.mu.Lock()
	e.failed = append(e.failed, err)
	e.mu.Unlock()
	return nil
}

func (e *events) OnJobDLQ(context.Context, *job.Job, error) error {
	e.mu.Lock()
	e.dlq++
	e.mu.Unlock()
	return nil
}

func (e *events) OnJobCancelled(context.Context, *job.Job) error {
	e.mu.Lock()
	e.cancelled++
	e.mu.Unlock()
	return nil
}

type env struct {
	clock  *fakeClock
	store  *memory.Store
	pub    *publisher.Recorder
	gov    *governor.Governor
	idem   *idempotency.Service
	events *events
	exec   *worker.Executor
	pool   *worker.Pool

	sleepMu sync.Mutex
	sleeps  []time.Duration
}

type envConfig struct {
	quotas       governor.Quotas
	throttle     worker.Throttle
	publisher    publisher.Publisher
	counter      governor.Counter
	storeTimeout time.Duration
}

type envOption func(*envConfig)

func withQuotas(q governor.Quotas) envOption {
	return func(c *envConfig) { c.quotas = q }
}

func withThrottle(t worker.Throttle) envOption {
	return func(c *envConfig) { c.throttle = t }
}

func withPublisher(p publisher.Publisher) envOption {
	return func(c *envConfig) { c.publisher = p }
}

// withCounter backs the governor with c instead of the memory store.
func withCounter(c governor.Counter) envOption {
	return func(cfg *envConfig) { cfg.counter = c }
}

func withStoreTimeout(d time.Duration) envOption {
	return func(c *envConfig) { c.storeTimeout = d }
}

func newEnv(t *testing.T, opts ...envOption) *env {
	t.Helper()
	cfg := envConfig{quotas: governor.DefaultQuotas()}
	for _, opt := range opts {
		opt(&cfg)
	}

	e := &env{
		clock:  &fakeClock{now: t0},
		pub:    publisher.NewRecorder(),
		events: &events{},
	}
	logger := slog.Default()
	e.store = memory.New(memory.WithClock(e.clock.Now))

	extensions := ext.NewRegistry(logger)
	extensions.Register(e.events)

	var counter governor.Counter = e.store
	if cfg.counter != nil {
		counter = cfg.counter
	}
	e.gov = governor.New(counter,
		governor.WithQuotas(cfg.quotas),
		governor.WithClock(e.clock.Now),
		governor.WithTimeout(cfg.storeTimeout),
	)
	e.idem = idempotency.NewService(e.store, idempotency.WithClock(e.clock.Now))
	dd := dedup.New(e.store, dedup.WithCache(e.store), dedup.WithClock(e.clock.Now))

	execOpts := []worker.ExecutorOption{
		worker.WithDeduplicator(dd),
		worker.WithGovernor(e.gov),
		worker.WithIdempotency(e.idem),
		worker.WithDLQ(dlq.NewService(e.store, e.store).WithClock(e.clock.Now)),
		worker.WithBackoff(backoff.NewConstant(10 * time.Second)),
		worker.WithSleeper(func(_ context.Context, d time.Duration) error {
			e.sleepMu.Lock()
			e.sleeps = append(e.sleeps, d)
			e.sleepMu.Unlock()
			return nil
		}),
		worker.WithClock(e.clock.Now),
		worker.WithStoreTimeout(cfg.storeTimeout),
	}
	if cfg.throttle != nil {
		execOpts = append(execOpts, worker.WithThrottle(cfg.throttle))
	}
	var pub publisher.Publisher = e.pub
	if cfg.publisher != nil {
		pub = cfg.publisher
	}
	e.exec = worker.NewExecutor(e.store, pub, extensions, logger, execOpts...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolClock(e.clock.Now),
		worker.WithStaleJobThreshold(time.Minute),
	}
	if cfg.throttle != nil {
		poolOpts = append(poolOpts, worker.WithPoolThrottle(cfg.throttle))
	}
	e.pool = worker.NewPool(e.store, e.exec, extensions, logger, poolOpts...)
	return e
}

// enqueue stores a job the way the engine admits one.
func (e *env) enqueue(t *testing.T, kind job.Kind, key string, payload job.Payload, opts ...job.Option) *job.Job {
	t.Helper()
	opts = append([]job.Option{
		job.WithFingerprint(dedup.Fingerprint(payload)),
		job.WithIdempotencyKey(key),
	}, opts...)
	j := job.New(kind, owner, profile, payload, e.clock.Now(), opts...)
	if err := e.store.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return j
}

// runOnce claims and runs one job, failing the test when nothing was due.
func (e *env) runOnce(t *testing.T) error {
	t.Helper()
	claimed, err := e.pool.RunOnce(context.Background())
	if !claimed {
		t.Fatalf("expected a due job, claim error: %v", err)
	}
	return err
}

func (e *env) get(t *testing.T, jobID id.JobID) *job.Job {
	t.Helper()
	j, err := e.store.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	return j
}

func (e *env) usage(t *testing.T) governor.Usage {
	t.Helper()
	u, err := e.gov.Usage(context.Background(), profile)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	return u
}

func (e *env) dlqCount(t *testing.T) int64 {
	t.Helper()
	n, err := e.store.CountDLQ(context.Background())
	if err != nil {
		t.Fatalf("count dlq: %v", err)
	}
	return n
}

func (e *env) sleepLog() []time.Duration {
	e.sleepMu.Lock()
	defer e.sleepMu.Unlock()
	return append([]time.Duration(nil), e.sleeps...)
}

func post(text string) job.Payload { return job.Payload{Text: text} }

func items(n int) []job.Part {
	out := make([]job.Part, n)
	for i := range out {
		out[i] = job.Part{Text: "item " + string(rune('a'+i))}
	}
	return out
}

// blankPublisher accepts every post without returning a post id.
type blankPublisher struct {
	calls atomic.Int32
}

func (b *blankPublisher) Publish(context.Context, string, publisher.Post) (publisher.Response, error) {
	b.calls.Add(1)
	return publisher.Response{}, nil
}

// hangingCounter blocks every usage read and increment until ctx ends.
type hangingCounter struct{}

func (hangingCounter) Usage(ctx context.Context, _ string, _ time.Time) (governor.Usage, error) {
	<-ctx.Done()
	return governor.Usage{}, ctx.Err()
}

func (hangingCounter) IncrUsage(ctx context.Context, _ string, _ time.Time, _ governor.Usage) error {
	<-ctx.Done()
	return ctx.Err()
}

// hangingClaims is a store whose claims block until ctx ends.
type hangingClaims struct {
	*memory.Store
}

func (hangingClaims) ClaimJobs(ctx context.Context, _ id.WorkerID, _ time.Time, _ int) ([]*job.Job, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

var (
	errRemote    = errors.New("remote error")
	permanentErr = publisher.Permanent(errors.New("400 bad request"))
	transientErr = publisher.Transient(errors.New("503 unavailable"))
)
