// Package engine wires the Courier subsystems together. It creates the
// extension registry, governor, deduplicator, idempotency service, DLQ
// service, middleware chain, executor and worker pool, and provides the
// Submit / Status / Cancel operations callers use.
//
// This package exists to break the import cycle: the root courier package
// defines Entity and the sentinel errors (imported by job, dlq, etc.) and
// so cannot import those packages back. The engine package sits above all
// subsystem packages and below the application layer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/courier"
	"github.com/xraph/courier/backoff"
	"github.com/xraph/courier/dedup"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/ext"
	"github.com/xraph/courier/governor"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/idempotency"
	"github.com/xraph/courier/job"
	mw "github.com/xraph/courier/middleware"
	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/publisher"
	"github.com/xraph/courier/store"
	"github.com/xraph/courier/throttle"
	"github.com/xraph/courier/worker"
)

// Engine is the publishing pipeline built on a Courier.
// Use Build() to create one.
type Engine struct {
	c          *courier.Courier
	extensions *ext.Registry
	jobStore   job.Store
	dlqService *dlq.Service
	governor   *governor.Governor
	dedup      *dedup.Deduplicator
	idem       *idempotency.Service
	throttle   *throttle.Manager
	executor   *worker.Executor
	pool       *worker.Pool
	logger     *slog.Logger
	now        func() time.Time

	publisher   publisher.Publisher
	tokens      publisher.TokenSource
	fast        store.Fast
	quotas      governor.Quotas
	bo          backoff.Strategy
	spacing     backoff.Strategy
	mws         []mw.Middleware
	throttleCfg *throttle.Config
	profiles    []throttle.ProfileConfig

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// sameKeyWait bounds how long Submit waits for a concurrent submission
	// of the same idempotency key to store its job.
	sameKeyWait time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher sets the external platform client. Required.
func WithPublisher(p publisher.Publisher) Option {
	return func(eng *Engine) { eng.publisher = p }
}

// WithTokenSource sets the access token resolver for profiles.
func WithTokenSource(ts publisher.TokenSource) Option {
	return func(eng *Engine) { eng.tokens = ts }
}

// WithFast moves the dedup cache, usage counters and idempotency records
// to a fast TTL store such as Redis.
func WithFast(f store.Fast) Option {
	return func(eng *Engine) { eng.fast = f }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.extensions.Register(e) }
}

// WithMiddleware adds middleware around every publisher call, inside the
// default chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithQuotas overrides governor.DefaultQuotas().
func WithQuotas(q governor.Quotas) Option {
	return func(eng *Engine) { eng.quotas = q }
}

// WithBackoff sets the retry backoff strategy for the engine.
// If not set, backoff.DefaultStrategy() (exponential with jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) { eng.bo = b }
}

// WithBulkSpacing sets the gap strategy between bulk items.
// If not set, backoff.DefaultBulkSpacing() (2-5s) is used.
func WithBulkSpacing(s backoff.Strategy) Option {
	return func(eng *Engine) { eng.spacing = s }
}

// WithThrottle enables local per-profile pacing and concurrency limits.
func WithThrottle(defaults throttle.Config, profiles ...throttle.ProfileConfig) Option {
	return func(eng *Engine) {
		eng.throttleCfg = &defaults
		eng.profiles = append(eng.profiles, profiles...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider used by both the
// metrics middleware and the observability extension.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// Build creates an Engine from an existing Courier. The Courier's store
// must implement store.Store.
func Build(c *courier.Courier, opts ...Option) (*Engine, error) {
	logger := c.Logger()
	if c.Store() == nil {
		return nil, courier.ErrNoStore
	}
	durable, ok := c.Store().(store.Store)
	if !ok {
		return nil, errors.New("courier: store does not implement store.Store")
	}

	eng := &Engine{
		c:           c,
		extensions:  ext.NewRegistry(logger),
		jobStore:    durable,
		logger:      logger,
		now:         c.Clock(),
		quotas:      governor.DefaultQuotas(),
		sameKeyWait: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.publisher == nil {
		return nil, courier.ErrNoPublisher
	}
	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}
	if eng.spacing == nil {
		eng.spacing = backoff.DefaultBulkSpacing()
	}

	cfg := c.Config()

	// Fast TTL concerns go to the fast store when one is configured.
	var (
		counter   governor.Counter  = durable
		idemStore idempotency.Store = durable
		cache     dedup.Cache
	)
	if eng.fast != nil {
		counter, idemStore, cache = eng.fast, eng.fast, eng.fast
	} else if dc, ok := c.Store().(dedup.Cache); ok {
		cache = dc
	}

	eng.governor = governor.New(counter,
		governor.WithQuotas(eng.quotas),
		governor.WithLogger(logger),
		governor.WithClock(eng.now),
		governor.WithTimeout(cfg.StoreTimeout),
	)
	dedupOpts := []dedup.Option{
		dedup.WithWindow(cfg.DedupWindow),
		dedup.WithLogger(logger),
		dedup.WithClock(eng.now),
	}
	if cache != nil {
		dedupOpts = append(dedupOpts, dedup.WithCache(cache))
	}
	eng.dedup = dedup.New(durable, dedupOpts...)
	eng.idem = idempotency.NewService(idemStore,
		idempotency.WithTTL(cfg.IdempotencyTTL),
		idempotency.WithClock(eng.now),
	)
	eng.dlqService = dlq.NewService(durable, durable).WithClock(eng.now)

	// Build tracing and metrics middleware (custom provider or global).
	tracingMw := mw.Tracing()
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/xraph/courier"))
	}
	metricsMw := mw.Metrics()
	obsExt := observability.NewMetricsExtension()
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/xraph/courier"))
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter("github.com/xraph/courier/observability"))
	}
	eng.extensions.Register(obsExt)

	// Default stack: logging → recover → tracing → metrics → user → timeout.
	allMws := make([]mw.Middleware, 0, 5+len(eng.mws))
	allMws = append(allMws, mw.Logging(logger), mw.Recover(logger), tracingMw, metricsMw)
	allMws = append(allMws, eng.mws...)
	allMws = append(allMws, mw.Timeout(cfg.PublishTimeout, logger))

	execOpts := []worker.ExecutorOption{
		worker.WithDeduplicator(eng.dedup),
		worker.WithGovernor(eng.governor),
		worker.WithIdempotency(eng.idem),
		worker.WithDLQ(eng.dlqService),
		worker.WithBackoff(eng.bo),
		worker.WithBulkSpacing(eng.spacing),
		worker.WithMiddleware(allMws...),
		worker.WithClock(eng.now),
		worker.WithDeferDelay(cfg.PollInterval),
		worker.WithStoreTimeout(cfg.StoreTimeout),
	}
	if eng.tokens != nil {
		execOpts = append(execOpts, worker.WithTokenSource(eng.tokens))
	}

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(cfg.Concurrency),
		worker.WithPollInterval(cfg.PollInterval),
		worker.WithHeartbeatInterval(cfg.HeartbeatInterval),
		worker.WithStaleJobThreshold(cfg.StaleJobThreshold),
		worker.WithPoolClock(eng.now),
	}

	if eng.throttleCfg != nil {
		eng.throttle = throttle.NewManager(*eng.throttleCfg)
		for _, p := range eng.profiles {
			eng.throttle.SetProfileConfig(p)
		}
		execOpts = append(execOpts, worker.WithThrottle(eng.throttle))
		poolOpts = append(poolOpts, worker.WithPoolThrottle(eng.throttle))
	}

	eng.executor = worker.NewExecutor(eng.jobStore, eng.publisher, eng.extensions, logger, execOpts...)
	eng.pool = worker.NewPool(eng.jobStore, eng.executor, eng.extensions, logger, poolOpts...)

	// Wire back into the Courier.
	c.SetPool(eng.pool)
	c.SetExtensions(eng.extensions)

	return eng, nil
}

// Start begins job processing.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.c.Start(ctx)
}

// Stop gracefully shuts down the engine.
func (eng *Engine) Stop(ctx context.Context) error {
	return eng.c.Stop(ctx)
}

// ProcessNext claims and runs at most one due job on the caller's
// goroutine. It reports whether a job was claimed.
func (eng *Engine) ProcessNext(ctx context.Context) (bool, error) {
	return eng.pool.RunOnce(ctx)
}

// ReapStaleJobs recovers jobs whose worker stopped heartbeating.
func (eng *Engine) ReapStaleJobs(ctx context.Context) int {
	return eng.pool.ReapStaleJobs(ctx)
}

// Usage returns the profile's consumption in the current windows.
func (eng *Engine) Usage(ctx context.Context, profileID string) (governor.Usage, error) {
	return eng.governor.Usage(ctx, profileID)
}

// Replay re-enqueues a dead-lettered job under a new idempotency key.
func (eng *Engine) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	j, err := eng.dlqService.Replay(ctx, entryID)
	if err != nil {
		return j, fmt.Errorf("replay %s: %w", entryID, err)
	}
	// Hand any fingerprint still held by the original job to the replay.
	if j.Fingerprint != "" {
		if err := eng.dedup.Remember(ctx, j.OwnerID, j.ProfileID, j.Fingerprint, j.IdempotencyKey, eng.dedup.Window()); err != nil {
			eng.logger.Warn("replay: fingerprint not transferred",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	eng.extensions.EmitJobReplayed(ctx, entryID, j)
	eng.logger.Info("dlq entry replayed",
		slog.String("entry_id", entryID.String()),
		slog.String("job_id", j.ID.String()),
	)
	return j, nil
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Courier returns the underlying Courier.
func (eng *Engine) Courier() *courier.Courier { return eng.c }

// JobStore returns the durable job store.
func (eng *Engine) JobStore() job.Store { return eng.jobStore }

// DLQService returns the engine's DLQ service for replay and inspection.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlqService }

// Governor returns the usage governor.
func (eng *Engine) Governor() *governor.Governor { return eng.governor }

// Idempotency returns the idempotency service.
func (eng *Engine) Idempotency() *idempotency.Service { return eng.idem }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Throttle returns the per-profile throttle, or nil if none was
// configured.
func (eng *Engine) Throttle() *throttle.Manager { return eng.throttle }
