//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xraph/courier"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/governor"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/idempotency"
	"github.com/xraph/courier/job"
	"github.com/xraph/courier/store/postgres"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// dsn points at COURIER_POSTGRES_DSN when set, or at a disposable
// container started by TestMain.
var dsn string

func TestMain(m *testing.M) {
	os.Exit(runMain(m))
}

func runMain(m *testing.M) int {
	dsn = strings.TrimSpace(os.Getenv("COURIER_POSTGRES_DSN"))
	if dsn != "" {
		return m.Run()
	}

	ctx := context.Background()
	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("courier_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start postgres container: %v\n", err)
		return 1
	}
	defer func() {
		if termErr := testcontainers.TerminateContainer(container); termErr != nil {
			fmt.Fprintf(os.Stderr, "terminate container: %v\n", termErr)
		}
	}()

	dsn, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "get connection string: %v\n", err)
		return 1
	}
	return m.Run()
}

func newStore(t *testing.T) *postgres.Store {
	t.Helper()

	ctx := context.Background()
	s, err := postgres.New(ctx, dsn, postgres.WithClock(func() time.Time { return t0 }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate(ctx))
	// A second run must be a no-op.
	require.NoError(t, s.Migrate(ctx))

	_, err = s.Pool().Exec(ctx, `TRUNCATE courier_jobs, courier_dlq, courier_usage_daily,
		courier_usage_hourly, courier_idempotency, courier_fingerprints`)
	require.NoError(t, err)
	return s
}

func newJob(profile, key string, at time.Time, opts ...job.Option) *job.Job {
	opts = append(opts, job.WithIdempotencyKey(key), job.WithFingerprint("fp-"+key))
	return job.New(job.KindSinglePost, "owner", profile, job.Payload{Text: "hello " + key}, at, opts...)
}

func TestMigrate_RecordsSchemaVersion(t *testing.T) {
	s := newStore(t)

	var (
		version int64
		dirty   bool
	)
	err := s.Pool().QueryRow(context.Background(),
		`SELECT version, dirty FROM `+postgres.MigrationsTable).Scan(&version, &dirty)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	assert.False(t, dirty)
}

func TestJob_EnqueueAndGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	j := newJob("p1", "k1", t0, job.WithPriority(3))
	require.NoError(t, s.EnqueueJob(ctx, j))

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.ID.String(), got.ID.String())
	assert.Equal(t, job.StatusQueued, got.Status)
	assert.Equal(t, "hello k1", got.Payload.Text)
	assert.Equal(t, 3, got.Priority)
	assert.True(t, got.WorkerID.IsNil())
	assert.Nil(t, got.Result)

	byKey, err := s.GetJobByIdempotencyKey(ctx, "owner", "k1")
	require.NoError(t, err)
	assert.Equal(t, j.ID.String(), byKey.ID.String())

	_, err = s.GetJob(ctx, id.NewJobID())
	assert.ErrorIs(t, err, courier.ErrJobNotFound)
}

func TestJob_EnqueueConflicts(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	j := newJob("p1", "k1", t0)
	require.NoError(t, s.EnqueueJob(ctx, j))
	assert.ErrorIs(t, s.EnqueueJob(ctx, j), courier.ErrJobAlreadyExists)
	assert.ErrorIs(t, s.EnqueueJob(ctx, newJob("p2", "k1", t0)), courier.ErrIdempotencyConflict)

	// Jobs without a key never conflict with each other.
	a := job.New(job.KindSinglePost, "owner", "p1", job.Payload{Text: "a"}, t0)
	b := job.New(job.KindSinglePost, "owner", "p1", job.Payload{Text: "b"}, t0)
	require.NoError(t, s.EnqueueJob(ctx, a))
	require.NoError(t, s.EnqueueJob(ctx, b))
}

func TestJob_ClaimOrderAndRateLimited(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	low := newJob("p1", "low", t0)
	high := newJob("p1", "high", t0.Add(time.Second), job.WithPriority(5))
	future := newJob("p1", "future", t0, job.WithScheduledFor(t0.Add(time.Hour)))
	limited := newJob("p1", "limited", t0.Add(2*time.Second))
	limited.Status = job.StatusRateLimited
	for _, j := range []*job.Job{low, high, future, limited} {
		require.NoError(t, s.EnqueueJob(ctx, j))
	}

	worker := id.NewWorkerID()
	claimed, err := s.ClaimJobs(ctx, worker, t0.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	assert.Equal(t, high.ID.String(), claimed[0].ID.String())
	assert.Equal(t, low.ID.String(), claimed[1].ID.String())
	assert.Equal(t, limited.ID.String(), claimed[2].ID.String())
	for _, c := range claimed {
		assert.Equal(t, job.StatusQueued, c.Status)
		assert.Equal(t, worker.String(), c.WorkerID.String())
		require.NotNil(t, c.HeartbeatAt)
	}

	again, err := s.ClaimJobs(ctx, id.NewWorkerID(), t0.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestJob_ConcurrentClaimIsExclusive(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for i := range 20 {
		require.NoError(t, s.EnqueueJob(ctx, newJob("p1", string(rune('a'+i)), t0)))
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := s.ClaimJobs(ctx, id.NewWorkerID(), t0, 10)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			for _, c := range claimed {
				seen[c.ID.String()]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 20)
	for jobID, n := range seen {
		assert.Equal(t, 1, n, "job %s claimed %d times", jobID, n)
	}
}

func TestJob_SwapIsCompareAndSet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	j := newJob("p1", "k1", t0)
	require.NoError(t, s.EnqueueJob(ctx, j))
	require.NoError(t, s.RequestCancel(ctx, j.ID))

	next, err := job.Transition(*j, job.Outcome{Kind: job.OutcomeUnique}, t0)
	require.NoError(t, err)
	require.NoError(t, s.SwapJob(ctx, &next, job.StatusQueued))

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusDeduplicated, got.Status)
	assert.True(t, got.CancelRequested, "swap must not clear the cancel flag")

	assert.ErrorIs(t, s.SwapJob(ctx, &next, job.StatusQueued), courier.ErrStaleJob)

	missing := newJob("p1", "missing", t0)
	assert.ErrorIs(t, s.SwapJob(ctx, missing, job.StatusQueued), courier.ErrJobNotFound)
}

func TestJob_ResultRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	j := newJob("p1", "k1", t0)
	require.NoError(t, s.EnqueueJob(ctx, j))

	done := *j.Clone()
	done.Status = job.StatusCompleted
	done.Result = &job.Result{RemoteID: "r-1", Items: []job.ItemResult{{Index: 0, RemoteID: "r-1"}}}
	completed := t0.Add(time.Minute)
	done.CompletedAt = &completed
	require.NoError(t, s.SwapJob(ctx, &done, job.StatusQueued))

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Result)
	assert.Equal(t, "r-1", got.Result.RemoteID)
	assert.Equal(t, 1, got.Result.PublishedCount())
	assert.True(t, completed.Equal(*got.CompletedAt))
}

func TestJob_HeartbeatAndReap(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	a, b := newJob("p1", "a", t0), newJob("p1", "b", t0)
	require.NoError(t, s.EnqueueJob(ctx, a))
	require.NoError(t, s.EnqueueJob(ctx, b))

	worker := id.NewWorkerID()
	_, err := s.ClaimJobs(ctx, worker, t0, 10)
	require.NoError(t, err)

	require.NoError(t, s.HeartbeatJob(ctx, a.ID, worker, t0.Add(5*time.Minute)))
	assert.ErrorIs(t, s.HeartbeatJob(ctx, a.ID, id.NewWorkerID(), t0), courier.ErrStaleJob)

	stale, err := s.ReapStaleJobs(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, b.ID.String(), stale[0].ID.String())
}

func TestJob_FindListCount(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	old := newJob("p1", "old", t0.Add(-48*time.Hour))
	old.Fingerprint = "same"
	recent := newJob("p1", "recent", t0)
	recent.Fingerprint = "same"
	other := newJob("p2", "other", t0)
	other.Fingerprint = "same"
	for _, j := range []*job.Job{old, recent, other} {
		require.NoError(t, s.EnqueueJob(ctx, j))
	}

	found, err := s.FindJobsByFingerprint(ctx, "owner", "p1", "same", t0.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, recent.ID.String(), found[0].ID.String())

	listed, err := s.ListJobsByStatus(ctx, job.StatusQueued, job.ListOpts{ProfileID: "p1", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, recent.ID.String(), listed[0].ID.String())

	n, err := s.CountJobs(ctx, job.CountOpts{ProfileID: "p1", Status: job.StatusQueued})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.CountJobs(ctx, job.CountOpts{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestDLQ(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	first := &dlq.Entry{
		ID: id.NewDLQID(), JobID: id.NewJobID(), Kind: job.KindReply,
		OwnerID: "owner", ProfileID: "p1",
		Payload:  job.Payload{Text: "hi", ReplyTo: "r-9"},
		Result:   &job.Result{ErrorClass: "permanent", LastError: "forbidden"},
		Reason:   "permanent publish failure",
		FailedAt: t0.Add(-40 * 24 * time.Hour), CreatedAt: t0,
	}
	second := &dlq.Entry{
		ID: id.NewDLQID(), JobID: id.NewJobID(), Kind: job.KindSinglePost,
		OwnerID: "owner", ProfileID: "p2",
		Payload:  job.Payload{Text: "yo"},
		FailedAt: t0, CreatedAt: t0,
	}
	require.NoError(t, s.PushDLQ(ctx, first))
	require.NoError(t, s.PushDLQ(ctx, second))

	listed, err := s.ListDLQ(ctx, dlq.ListOpts{})
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, second.ID.String(), listed[0].ID.String(), "newest first")

	got, err := s.GetDLQ(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "r-9", got.Payload.ReplyTo)
	require.NotNil(t, got.Result)
	assert.Equal(t, "forbidden", got.Result.LastError)
	assert.Nil(t, got.ReplayedAt)

	require.NoError(t, s.ReplayDLQ(ctx, first.ID, t0))
	got, err = s.GetDLQ(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ReplayedAt)
	assert.ErrorIs(t, s.ReplayDLQ(ctx, id.NewDLQID(), t0), courier.ErrDLQNotFound)

	purged, err := s.PurgeDLQ(ctx, t0.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	count, err := s.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestUsage(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	u, err := s.Usage(ctx, "p1", t0)
	require.NoError(t, err)
	assert.Equal(t, governor.Usage{}, u)

	require.NoError(t, s.IncrUsage(ctx, "p1", t0, governor.Usage{PostsToday: 1, RequestsThisHour: 1}))
	require.NoError(t, s.IncrUsage(ctx, "p1", t0.Add(30*time.Minute), governor.Usage{RepliesToday: 1, RequestsThisHour: 1}))
	require.NoError(t, s.IncrUsage(ctx, "p1", t0.Add(90*time.Minute), governor.Usage{BulkOperationsToday: 1, RequestsThisHour: 3}))

	u, err = s.Usage(ctx, "p1", t0.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, governor.Usage{PostsToday: 1, RepliesToday: 1, BulkOperationsToday: 1, RequestsThisHour: 2}, u)

	u, err = s.Usage(ctx, "p1", t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, governor.Usage{}, u)
}

func TestIdempotency(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	rec := &idempotency.Record{
		Key: "owner:k1", Result: []byte(`{"remote_id":"r-1"}`),
		CreatedAt: t0, ExpiresAt: t0.Add(24 * time.Hour),
	}
	stored, err := s.StoreIdempotency(ctx, rec)
	require.NoError(t, err)
	assert.True(t, stored)

	dup := *rec
	dup.Result = []byte(`{"remote_id":"r-2"}`)
	stored, err = s.StoreIdempotency(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, stored)

	got, err := s.LookupIdempotency(ctx, "owner:k1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"remote_id":"r-1"}`, string(got.Result))

	later := dup
	later.CreatedAt = t0.Add(25 * time.Hour)
	later.ExpiresAt = t0.Add(49 * time.Hour)
	stored, err = s.StoreIdempotency(ctx, &later)
	require.NoError(t, err)
	assert.True(t, stored, "an expired record is replaced")

	_, err = s.LookupIdempotency(ctx, "missing")
	assert.ErrorIs(t, err, courier.ErrIdempotencyNotFound)

	purged, err := s.PurgeIdempotency(ctx, t0.Add(100*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestFingerprintCache(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	ok, holder, err := s.ReserveFingerprint(ctx, "o:p:fp", "k1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "k1", holder)

	ok, holder, err = s.ReserveFingerprint(ctx, "o:p:fp", "k2", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "k1", holder)

	require.NoError(t, s.ReleaseFingerprint(ctx, "o:p:fp", "k2"))
	_, found, err := s.LookupFingerprint(ctx, "o:p:fp")
	require.NoError(t, err)
	assert.True(t, found, "release by a non-holder is ignored")

	require.NoError(t, s.ReleaseFingerprint(ctx, "o:p:fp", "k1"))
	_, found, err = s.LookupFingerprint(ctx, "o:p:fp")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.RememberFingerprint(ctx, "o:p:gone", "k3", -time.Minute))
	ok, _, err = s.ReserveFingerprint(ctx, "o:p:gone", "k4", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok, "an expired entry is taken over")

	require.NoError(t, s.RememberFingerprint(ctx, "o:p:old", "k5", -time.Hour))
	purged, err := s.PurgeFingerprints(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}
