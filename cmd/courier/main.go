// Command courier runs the publishing pipeline: the worker pool, the
// housekeeping janitor and the HTTP API, wired from a YAML file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/courier"
	"github.com/xraph/courier/api"
	audithook "github.com/xraph/courier/audit_hook"
	"github.com/xraph/courier/backoff"
	"github.com/xraph/courier/engine"
	"github.com/xraph/courier/idempotency"
	"github.com/xraph/courier/janitor"
	"github.com/xraph/courier/notify"
	"github.com/xraph/courier/publisher"
	"github.com/xraph/courier/store"
	"github.com/xraph/courier/store/memory"
	"github.com/xraph/courier/store/postgres"
	redisstore "github.com/xraph/courier/store/redis"
)

func main() {
	defaultPath := os.Getenv("COURIER_CONFIG")
	if defaultPath == "" {
		defaultPath = "courier.yaml"
	}
	configPath := flag.String("config", defaultPath, "path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "courier:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := newLogger(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	durable, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer durable.Close()

	if cfg.Store.Migrate {
		if err := durable.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	c, err := courier.New(
		courier.WithStore(durable),
		courier.WithConfig(cfg.CourierConfig()),
		courier.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	w, err := wire(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer w.close()

	eng, err := engine.Build(c, w.options...)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	jan, err := newJanitor(cfg, eng, durable, w.fast, logger)
	if err != nil {
		return err
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.New(eng, logger).Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	_ = jan.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", slog.String("error", err.Error()))
		}
		_ = jan.Stop(shutdownCtx)
		if err := eng.Stop(shutdownCtx); err != nil {
			logger.Warn("engine shutdown", slog.String("error", err.Error()))
		}
		return nil
	})

	err = g.Wait()
	logger.Info("courier stopped")
	return err
}

func openStore(ctx context.Context, cfg *Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case DriverPostgres:
		s, err := postgres.New(ctx, cfg.Store.DSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	default:
		logger.Warn("using the in-memory store; state is lost on restart")
		return memory.New(), nil
	}
}

// wiring holds the engine options plus the connections they depend on.
type wiring struct {
	options []engine.Option
	fast    store.Fast
	closers []func() error
}

func (w *wiring) close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		_ = w.closers[i]()
	}
}

func wire(ctx context.Context, cfg *Config, logger *slog.Logger) (*wiring, error) {
	w := &wiring{}

	var pub publisher.Publisher = publisher.NewHTTPClient(cfg.Publisher.Endpoint,
		publisher.WithRequestTimeout(cfg.Publisher.RequestTimeout),
		publisher.WithUserAgent(cfg.Publisher.UserAgent),
	)
	if cfg.Publisher.Breaker.Enabled {
		pub = publisher.NewBreaker(pub, cfg.PublisherBreaker(), logger)
	}

	w.options = append(w.options,
		engine.WithPublisher(pub),
		engine.WithQuotas(cfg.Quotas),
		engine.WithBackoff(backoff.NewExponentialWithJitter(cfg.Backoff.Base, cfg.Backoff.Max, cfg.Backoff.Jitter)),
		engine.WithBulkSpacing(backoff.NewRandomRange(cfg.Backoff.BulkMinGap, cfg.Backoff.BulkMaxGap)),
	)

	if len(cfg.Publisher.Tokens) > 0 || cfg.Publisher.FallbackToken != "" {
		tokens := publisher.NewStaticTokens(cfg.Publisher.Tokens)
		tokens.Fallback = cfg.Publisher.FallbackToken
		w.options = append(w.options, engine.WithTokenSource(tokens))
	}

	if t := cfg.ThrottleDefaults(); t.RequestsPerSecond > 0 || t.MaxConcurrency > 0 {
		w.options = append(w.options, engine.WithThrottle(t))
	}

	if cfg.Redis.Addr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		w.closers = append(w.closers, client.Close)
		fast := redisstore.New(client, redisstore.WithLogger(logger))
		if err := fast.Ping(ctx); err != nil {
			w.close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		w.fast = fast
		w.options = append(w.options, engine.WithFast(fast))
	}

	if cfg.Audit.Enabled {
		opts := []audithook.Option{audithook.WithLogger(logger), audithook.WithPayloadFingerprint()}
		if len(cfg.Audit.Actions) > 0 {
			opts = append(opts, audithook.WithActions(cfg.Audit.Actions...))
		}
		w.options = append(w.options, engine.WithExtension(audithook.New(logRecorder(logger), opts...)))
	}

	if cfg.AMQP.URL != "" {
		conn, err := amqp.Dial(cfg.AMQP.URL)
		if err != nil {
			w.close()
			return nil, fmt.Errorf("amqp dial: %w", err)
		}
		w.closers = append(w.closers, conn.Close)
		ch, err := conn.Channel()
		if err != nil {
			w.close()
			return nil, fmt.Errorf("amqp channel: %w", err)
		}
		n := notify.New(ch, notify.WithExchange(cfg.AMQP.Exchange), notify.WithLogger(logger))
		if err := n.Declare(); err != nil {
			w.close()
			return nil, err
		}
		w.options = append(w.options, engine.WithExtension(n))
	}

	return w, nil
}

// logRecorder writes audit events to a dedicated logger.
func logRecorder(logger *slog.Logger) audithook.Recorder {
	audit := logger.With(slog.String("stream", "audit"))
	return audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
		audit.InfoContext(ctx, evt.Action,
			slog.String("category", evt.Category),
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("owner_id", evt.OwnerID),
			slog.String("profile_id", evt.ProfileID),
			slog.String("outcome", evt.Outcome),
			slog.String("severity", evt.Severity),
			slog.String("reason", evt.Reason),
			slog.Any("metadata", evt.Metadata),
		)
		return nil
	})
}

type scheduledTask struct {
	name     string
	schedule string
	fn       janitor.TaskFunc
}

func newJanitor(cfg *Config, eng *engine.Engine, durable store.Store, fast store.Fast, logger *slog.Logger) (*janitor.Janitor, error) {
	c := eng.Courier()
	jan := janitor.New(logger, janitor.WithClock(c.Clock()))

	var idem idempotency.Store = durable
	if fast != nil {
		idem = fast
	}

	tasks := []scheduledTask{
		{"reap-stale-jobs", cfg.Janitor.Reap, janitor.ReapTask(eng)},
		{"purge-idempotency", cfg.Janitor.PurgeIdempotency, janitor.PurgeIdempotencyTask(idem, c.Clock())},
		{"purge-dlq", cfg.Janitor.PurgeDLQ, janitor.PurgeDLQTask(durable, cfg.Janitor.DLQRetention, c.Clock())},
	}
	// Redis expires fingerprints by itself.
	if p, ok := durable.(janitor.FingerprintPurger); ok && fast == nil {
		tasks = append(tasks, scheduledTask{"purge-fingerprints", cfg.Janitor.PurgeFingerprints, janitor.PurgeFingerprintsTask(p, c.Clock())})
	}

	for _, t := range tasks {
		if t.schedule == "" {
			continue
		}
		if err := jan.Add(t.name, t.schedule, t.fn); err != nil {
			return nil, fmt.Errorf("janitor %s: %w", t.name, err)
		}
	}
	return jan, nil
}
