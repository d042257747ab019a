package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xraph/courier"
	"github.com/xraph/courier/governor"
	"github.com/xraph/courier/publisher"
	"github.com/xraph/courier/throttle"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config is the complete binary configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Store     StoreConfig     `yaml:"store"`
	Redis     RedisConfig     `yaml:"redis"`
	AMQP      AMQPConfig      `yaml:"amqp"`
	Publisher PublisherConfig `yaml:"publisher"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Quotas    governor.Quotas `yaml:"quotas"`
	Throttle  ThrottleConfig  `yaml:"throttle"`
	Backoff   BackoffConfig   `yaml:"backoff"`
	Janitor   JanitorConfig   `yaml:"janitor"`
	Audit     AuditConfig     `yaml:"audit"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig selects the log handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
	Source bool   `yaml:"source"`
}

// StoreConfig selects the durable store.
type StoreConfig struct {
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	Migrate bool   `yaml:"migrate"`
}

// RedisConfig enables the fast store when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AMQPConfig enables event notifications when URL is set.
type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// PublisherConfig configures the platform client.
type PublisherConfig struct {
	Endpoint       string            `yaml:"endpoint"`
	UserAgent      string            `yaml:"user_agent"`
	RequestTimeout time.Duration     `yaml:"request_timeout"`
	Tokens         map[string]string `yaml:"tokens"`
	FallbackToken  string            `yaml:"fallback_token"`
	Breaker        BreakerConfig     `yaml:"breaker"`
}

// BreakerConfig configures the publisher circuit breaker.
type BreakerConfig struct {
	Enabled             bool          `yaml:"enabled"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	Interval            time.Duration `yaml:"interval"`
	Timeout             time.Duration `yaml:"timeout"`
}

// PipelineConfig mirrors courier.Config.
type PipelineConfig struct {
	Concurrency       int           `yaml:"concurrency"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	StaleJobThreshold time.Duration `yaml:"stale_job_threshold"`
	PublishTimeout    time.Duration `yaml:"publish_timeout"`
	StoreTimeout      time.Duration `yaml:"store_timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	MaxQuotaDeferrals int           `yaml:"max_quota_deferrals"`
	DedupWindow       time.Duration `yaml:"dedup_window"`
	IdempotencyTTL    time.Duration `yaml:"idempotency_ttl"`
}

// ThrottleConfig holds local per-profile pacing.
type ThrottleConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	MaxConcurrency    int     `yaml:"max_concurrency"`
}

// BackoffConfig configures the retry backoff and the bulk item spacing.
type BackoffConfig struct {
	Base       time.Duration `yaml:"base"`
	Max        time.Duration `yaml:"max"`
	Jitter     time.Duration `yaml:"jitter"`
	BulkMinGap time.Duration `yaml:"bulk_min_gap"`
	BulkMaxGap time.Duration `yaml:"bulk_max_gap"`
}

// JanitorConfig holds housekeeping schedules. An empty schedule disables
// the task.
type JanitorConfig struct {
	Reap              string        `yaml:"reap"`
	PurgeIdempotency  string        `yaml:"purge_idempotency"`
	PurgeFingerprints string        `yaml:"purge_fingerprints"`
	PurgeDLQ          string        `yaml:"purge_dlq"`
	DLQRetention      time.Duration `yaml:"dlq_retention"`
}

// AuditConfig toggles the audit trail.
type AuditConfig struct {
	Enabled bool     `yaml:"enabled"`
	Actions []string `yaml:"actions"`
}

// DefaultConfig returns the configuration used for keys the file omits.
func DefaultConfig() Config {
	core := courier.DefaultConfig()
	breaker := publisher.DefaultBreakerConfig()

	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Store:   StoreConfig{Driver: DriverMemory, Migrate: true},
		AMQP:    AMQPConfig{Exchange: "courier.events"},
		Publisher: PublisherConfig{
			UserAgent:      "courier",
			RequestTimeout: 20 * time.Second,
			Breaker: BreakerConfig{
				Enabled:             true,
				ConsecutiveFailures: breaker.ConsecutiveFailures,
				Interval:            breaker.Interval,
				Timeout:             breaker.Timeout,
			},
		},
		Pipeline: PipelineConfig{
			Concurrency:       core.Concurrency,
			PollInterval:      core.PollInterval,
			ShutdownTimeout:   core.ShutdownTimeout,
			HeartbeatInterval: core.HeartbeatInterval,
			StaleJobThreshold: core.StaleJobThreshold,
			PublishTimeout:    core.PublishTimeout,
			StoreTimeout:      core.StoreTimeout,
			MaxRetries:        core.MaxRetries,
			MaxQuotaDeferrals: core.MaxQuotaDeferrals,
			DedupWindow:       core.DedupWindow,
			IdempotencyTTL:    core.IdempotencyTTL,
		},
		Quotas: governor.DefaultQuotas(),
		Backoff: BackoffConfig{
			Base:       time.Second,
			Max:        300 * time.Second,
			Jitter:     time.Second,
			BulkMinGap: 2 * time.Second,
			BulkMaxGap: 5 * time.Second,
		},
		Janitor: JanitorConfig{
			Reap:              "@every 30s",
			PurgeIdempotency:  "@hourly",
			PurgeFingerprints: "@hourly",
			PurgeDLQ:          "@daily",
			DLQRetention:      30 * 24 * time.Hour,
		},
		Audit: AuditConfig{Enabled: true},
	}
}

// Load reads the YAML file at path over DefaultConfig.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return &cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be console or json", c.Logging.Format))
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q must be memory or postgres", c.Store.Driver))
	}
	if c.Publisher.Endpoint == "" {
		errs = append(errs, errors.New("publisher.endpoint is required"))
	}
	if c.AMQP.URL != "" && c.AMQP.Exchange == "" {
		errs = append(errs, errors.New("amqp.exchange is required when amqp.url is set"))
	}

	p := c.Pipeline
	if p.Concurrency <= 0 {
		errs = append(errs, errors.New("pipeline.concurrency must be greater than 0"))
	}
	if p.PollInterval <= 0 {
		errs = append(errs, errors.New("pipeline.poll_interval must be greater than 0"))
	}
	if p.MaxRetries <= 0 {
		errs = append(errs, errors.New("pipeline.max_retries must be greater than 0"))
	}
	if p.MaxQuotaDeferrals < 0 {
		errs = append(errs, errors.New("pipeline.max_quota_deferrals must not be negative"))
	}
	if p.DedupWindow <= 0 {
		errs = append(errs, errors.New("pipeline.dedup_window must be greater than 0"))
	}
	if p.StoreTimeout <= 0 {
		errs = append(errs, errors.New("pipeline.store_timeout must be greater than 0"))
	}
	if p.HeartbeatInterval <= 0 || p.StaleJobThreshold <= p.HeartbeatInterval {
		errs = append(errs, errors.New("pipeline.stale_job_threshold must exceed heartbeat_interval"))
	}

	q := c.Quotas
	if q.PostsPerDay < 0 || q.RepliesPerDay < 0 || q.RequestsPerHour < 0 || q.BulkOperationsPerDay < 0 {
		errs = append(errs, errors.New("quotas must not be negative"))
	}

	b := c.Backoff
	if b.Base <= 0 || b.Max < b.Base {
		errs = append(errs, errors.New("backoff.max must be at least backoff.base"))
	}
	if b.BulkMinGap < 0 || b.BulkMaxGap < b.BulkMinGap {
		errs = append(errs, errors.New("backoff.bulk_max_gap must be at least bulk_min_gap"))
	}

	if c.Janitor.PurgeDLQ != "" && c.Janitor.DLQRetention <= 0 {
		errs = append(errs, errors.New("janitor.dlq_retention must be greater than 0"))
	}

	return errors.Join(errs...)
}

// CourierConfig converts the pipeline section.
func (c *Config) CourierConfig() courier.Config {
	p := c.Pipeline
	return courier.Config{
		Concurrency:       p.Concurrency,
		PollInterval:      p.PollInterval,
		ShutdownTimeout:   p.ShutdownTimeout,
		HeartbeatInterval: p.HeartbeatInterval,
		StaleJobThreshold: p.StaleJobThreshold,
		PublishTimeout:    p.PublishTimeout,
		StoreTimeout:      p.StoreTimeout,
		MaxRetries:        p.MaxRetries,
		MaxQuotaDeferrals: p.MaxQuotaDeferrals,
		DedupWindow:       p.DedupWindow,
		IdempotencyTTL:    p.IdempotencyTTL,
	}
}

// ThrottleDefaults converts the throttle section.
func (c *Config) ThrottleDefaults() throttle.Config {
	return throttle.Config{
		RequestsPerSecond: c.Throttle.RequestsPerSecond,
		Burst:             c.Throttle.Burst,
		MaxConcurrency:    c.Throttle.MaxConcurrency,
	}
}

// PublisherBreaker converts the breaker section.
func (c *Config) PublisherBreaker() publisher.BreakerConfig {
	cfg := publisher.DefaultBreakerConfig()
	b := c.Publisher.Breaker
	if b.ConsecutiveFailures > 0 {
		cfg.ConsecutiveFailures = b.ConsecutiveFailures
	}
	if b.Interval > 0 {
		cfg.Interval = b.Interval
	}
	if b.Timeout > 0 {
		cfg.Timeout = b.Timeout
	}
	return cfg
}
