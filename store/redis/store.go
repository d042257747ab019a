// Package redis implements store.Fast on Redis: the dedup fingerprint
// cache, per-profile usage counters and idempotency records. Every key
// carries a TTL, so nothing needs purging.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	fast := redisstore.New(client)
//	if err := fast.Ping(ctx); err != nil { ... }
//	eng, _ := engine.Build(c, engine.WithFast(fast))
package redis

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/courier/dedup"
	"github.com/xraph/courier/governor"
	"github.com/xraph/courier/idempotency"
	"github.com/xraph/courier/store"
)

// Compile-time interface checks.
var (
	_ store.Fast        = (*Store)(nil)
	_ dedup.Cache       = (*Store)(nil)
	_ governor.Counter  = (*Store)(nil)
	_ idempotency.Store = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithCounterGrace sets how long usage counters outlive their window.
// Defaults to one hour.
func WithCounterGrace(d time.Duration) Option {
	return func(s *Store) { s.grace = d }
}

// Store implements store.Fast backed by Redis.
type Store struct {
	client redis.Cmdable
	logger *slog.Logger
	grace  time.Duration
}

// New creates a new Redis-backed fast store. The caller owns the Redis
// client lifecycle.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default(), grace: time.Hour}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.Cmdable { return s.client }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }
