package janitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/idempotency"
)

// ErrDuplicateTask is returned when a task name is registered twice.
var ErrDuplicateTask = errors.New("courier/janitor: task already registered")

// TaskFunc performs one housekeeping pass and returns how many items it
// touched.
type TaskFunc func(ctx context.Context) (int64, error)

// Reaper returns abandoned jobs to the pipeline. *engine.Engine and
// *worker.Pool satisfy it.
type Reaper interface {
	ReapStaleJobs(ctx context.Context) int
}

// ReapTask reaps jobs whose worker stopped heartbeating.
func ReapTask(r Reaper) TaskFunc {
	return func(ctx context.Context) (int64, error) {
		return int64(r.ReapStaleJobs(ctx)), nil
	}
}

// PurgeIdempotencyTask deletes idempotency records that have expired.
func PurgeIdempotencyTask(s idempotency.Store, now func() time.Time) TaskFunc {
	return func(ctx context.Context) (int64, error) {
		return s.PurgeIdempotency(ctx, now())
	}
}

// PurgeDLQTask deletes dead letter entries older than retention.
func PurgeDLQTask(s dlq.Store, retention time.Duration, now func() time.Time) TaskFunc {
	return func(ctx context.Context) (int64, error) {
		return s.PurgeDLQ(ctx, now().Add(-retention))
	}
}

// FingerprintPurger deletes expired dedup cache entries. Stores whose
// cache entries do not expire on their own implement it.
type FingerprintPurger interface {
	PurgeFingerprints(ctx context.Context, before time.Time) (int64, error)
}

// PurgeFingerprintsTask deletes dedup cache entries that have expired.
func PurgeFingerprintsTask(p FingerprintPurger, now func() time.Time) TaskFunc {
	return func(ctx context.Context) (int64, error) {
		return p.PurgeFingerprints(ctx, now())
	}
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Report is the outcome of one task run.
type Report struct {
	Task     string
	Affected int64
	Err      error
	NextRun  time.Time
	Duration time.Duration
}

// Option configures a Janitor.
type Option func(*Janitor)

// WithTickInterval sets how often the janitor checks for due tasks.
func WithTickInterval(d time.Duration) Option {
	return func(j *Janitor) { j.tickInterval = d }
}

// WithClock sets the clock used to decide which tasks are due.
func WithClock(now func() time.Time) Option {
	return func(j *Janitor) { j.now = now }
}

// WithTaskTimeout bounds each task run.
func WithTaskTimeout(d time.Duration) Option {
	return func(j *Janitor) { j.taskTimeout = d }
}

type task struct {
	name     string
	schedule cronlib.Schedule
	run      TaskFunc
	next     time.Time
}

// Janitor runs registered tasks on a tick loop.
type Janitor struct {
	logger       *slog.Logger
	now          func() time.Time
	tickInterval time.Duration
	taskTimeout  time.Duration

	mu    sync.Mutex
	tasks []*task

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Janitor with no tasks.
func New(logger *slog.Logger, opts ...Option) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	j := &Janitor{
		logger:       logger,
		now:          time.Now,
		tickInterval: time.Second,
		taskTimeout:  time.Minute,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Add registers fn to run on schedule. The first run is the schedule's
// first activation after now.
func (j *Janitor) Add(name, schedule string, fn TaskFunc) error {
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("courier/janitor: task %s: parse schedule %q: %w", name, schedule, err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	for _, t := range j.tasks {
		if t.name == name {
			return fmt.Errorf("%w: %s", ErrDuplicateTask, name)
		}
	}
	j.tasks = append(j.tasks, &task{
		name:     name,
		schedule: sched,
		run:      fn,
		next:     sched.Next(j.now()),
	})
	return nil
}

// NextRun returns when the named task runs next.
func (j *Janitor) NextRun(name string) (time.Time, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, t := range j.tasks {
		if t.name == name {
			return t.next, true
		}
	}
	return time.Time{}, false
}

// RunOnce runs every task that is due and returns one report per run.
func (j *Janitor) RunOnce(ctx context.Context) []Report {
	now := j.now()

	j.mu.Lock()
	var due []*task
	for _, t := range j.tasks {
		if !t.next.After(now) {
			due = append(due, t)
			t.next = t.schedule.Next(now)
		}
	}
	j.mu.Unlock()

	reports := make([]Report, 0, len(due))
	for _, t := range due {
		reports = append(reports, j.runTask(ctx, t))
	}
	return reports
}

// Run runs the named task immediately, regardless of its schedule.
func (j *Janitor) Run(ctx context.Context, name string) (Report, error) {
	j.mu.Lock()
	var found *task
	for _, t := range j.tasks {
		if t.name == name {
			found = t
			break
		}
	}
	j.mu.Unlock()
	if found == nil {
		return Report{}, fmt.Errorf("courier/janitor: unknown task %s", name)
	}
	return j.runTask(ctx, found), nil
}

func (j *Janitor) runTask(ctx context.Context, t *task) Report {
	ctx, cancel := context.WithTimeout(ctx, j.taskTimeout)
	defer cancel()

	start := time.Now()
	n, err := t.run(ctx)
	rep := Report{
		Task:     t.name,
		Affected: n,
		Err:      err,
		NextRun:  t.next,
		Duration: time.Since(start),
	}

	if err != nil {
		j.logger.Error("janitor task failed",
			slog.String("task", t.name),
			slog.String("error", err.Error()),
		)
		return rep
	}
	if n > 0 {
		j.logger.Info("janitor task finished",
			slog.String("task", t.name),
			slog.Int64("affected", n),
			slog.Duration("elapsed", rep.Duration),
		)
	}
	return rep
}

// Start launches the tick loop.
func (j *Janitor) Start(_ context.Context) error {
	j.wg.Add(1)
	go j.tickLoop()
	j.logger.Info("janitor started", slog.Duration("tick_interval", j.tickInterval))
	return nil
}

// Stop signals the tick loop to stop and waits for it to finish.
func (j *Janitor) Stop(_ context.Context) error {
	close(j.stopCh)
	j.wg.Wait()
	j.logger.Info("janitor stopped")
	return nil
}

func (j *Janitor) tickLoop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopCh:
			return
		case <-ticker.C:
			j.RunOnce(context.Background())
		}
	}
}
