package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

// Pool manages a set of concurrent worker goroutines that claim due jobs
// and run them through the Executor.
type Pool struct {
	store        job.Store
	executor     *Executor
	extensions   *ext.Registry
	concurrency  int
	pollInterval time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger
	now          func() time.Time

	// Heartbeat / reaper configuration.
	heartbeatInterval time.Duration
	staleJobThreshold time.Duration

	// Per-profile concurrency gate (optional).
	throttle Throttle

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets how often idle workers poll for due jobs.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithHeartbeatInterval sets how often the pool sends heartbeats for
// active jobs. A zero value disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStaleJobThreshold sets the threshold after which claimed jobs
// without a heartbeat are considered abandoned and recovered. A zero
// value disables reaping.
func WithStaleJobThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleJobThreshold = d }
}

// WithPoolThrottle limits how many jobs of one profile run at once.
func WithPoolThrottle(t Throttle) PoolOption {
	return func(p *Pool) { p.throttle = t }
}

// WithPoolClock overrides the time source used for claims, heartbeats
// and reaping.
func WithPoolClock(now func() time.Time) PoolOption {
	return func(p *Pool) { p.now = now }
}

// NewPool creates a worker pool.
func NewPool(
	store job.Store,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if extensions == nil {
		extensions = ext.NewRegistry(logger)
	}
	p := &Pool{
		store:        store,
		executor:     executor,
		extensions:   extensions,
		concurrency:  10,
		pollInterval: time.Second,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		now:          time.Now,
		stopCh:       make(chan struct{}),
		activeJobs:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.dequeueLoop()
	}

	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}

	if p.staleJobThreshold > 0 {
		p.wg.Add(1)
		go p.reaperLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for them to finish.
// If the context has a deadline, active jobs are cancelled when time runs out.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}

	return nil
}

// RunOnce claims at most one due job and runs it to the end of its
// dispatch cycle. It reports whether a job was claimed; the error is the
// claim error or the job's execution error. The claim shares the
// executor's store timeout.
func (p *Pool) RunOnce(ctx context.Context) (bool, error) {
	cctx, cancel := p.executor.bounded(ctx)
	jobs, err := p.store.ClaimJobs(cctx, p.workerID, p.now(), 1)
	cancel()
	if err != nil {
		return false, err
	}
	if len(jobs) == 0 {
		return false, nil
	}
	return true, p.process(ctx, jobs[0])
}

// dequeueLoop is run by each worker goroutine.
func (p *Pool) dequeueLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		claimed, err := p.RunOnce(context.Background())
		if !claimed {
			if err != nil {
				p.logger.Error("claim error", slog.String("error", err.Error()))
			}
			p.sleep()
		}
	}
}

// process runs one claimed job with the profile gate held.
func (p *Pool) process(parent context.Context, j *job.Job) error {
	if p.throttle != nil {
		if !p.throttle.Acquire(j.ProfileID) {
			return p.executor.Defer(parent, j, "profile concurrency limit reached", nil)
		}
		defer p.throttle.Release(j.ProfileID)
	}

	p.extensions.EmitJobStarted(parent, j)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	p.trackJob(j.ID.String(), cancel)
	defer p.untrackJob(j.ID.String())

	err := p.executor.Execute(ctx, j)
	if err != nil {
		p.logger.Debug("job did not complete",
			slog.String("job_id", j.ID.String()),
			slog.String("kind", string(j.Kind)),
			slog.String("error", err.Error()),
		)
	}
	return err
}

// heartbeatLoop periodically sends heartbeats for all active jobs.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sendHeartbeats(context.Background())
		}
	}
}

func (p *Pool) sendHeartbeats(ctx context.Context) {
	p.activeMu.Lock()
	jobIDs := make([]string, 0, len(p.activeJobs))
	for jobID := range p.activeJobs {
		jobIDs = append(jobIDs, jobID)
	}
	p.activeMu.Unlock()

	now := p.now()
	for _, jobIDStr := range jobIDs {
		jobID, err := id.ParseJobID(jobIDStr)
		if err != nil {
			p.logger.Warn("heartbeat: invalid job id", slog.String("job_id", jobIDStr))
			continue
		}
		hctx, cancel := p.executor.bounded(ctx)
		err = p.store.HeartbeatJob(hctx, jobID, p.workerID, now)
		cancel()
		if err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("job_id", jobIDStr),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reaperLoop periodically recovers jobs whose heartbeat has expired.
func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.staleJobThreshold)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.ReapStaleJobs(context.Background())
		}
	}
}

// ReapStaleJobs recovers claimed jobs whose worker stopped heartbeating
// and returns how many were recovered. Jobs running in this pool are
// skipped.
func (p *Pool) ReapStaleJobs(ctx context.Context) int {
	rctx, cancel := p.executor.bounded(ctx)
	stale, err := p.store.ReapStaleJobs(rctx, p.now().Add(-p.staleJobThreshold))
	cancel()
	if err != nil {
		p.logger.Error("reap stale jobs error", slog.String("error", err.Error()))
		return 0
	}

	n := 0
	for _, j := range stale {
		if p.isActive(j.ID.String()) {
			continue
		}
		if err := p.executor.Abandon(ctx, j); err != nil {
			p.logger.Warn("reap: stale job not recovered",
				slog.String("job_id", j.ID.String()),
				slog.String("status", string(j.Status)),
				slog.String("error", err.Error()),
			)
			continue
		}
		n++
		p.logger.Info("reaped stale job",
			slog.String("job_id", j.ID.String()),
			slog.String("worker_id", j.WorkerID.String()),
		)
	}
	return n
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) isActive(jobID string) bool {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	_, ok := p.activeJobs[jobID]
	return ok
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
