// Package store defines the aggregate persistence interfaces. Each
// subsystem (job, dlq, governor, idempotency, dedup) defines its own store
// interface. The composite Store composes the durable ones; Fast composes
// the TTL-shaped ones that Redis serves. Backends: Postgres, Redis and
// Memory (which implements both).
package store

import (
	"context"

	"github.com/xraph/courier/dedup"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/governor"
	"github.com/xraph/courier/idempotency"
	"github.com/xraph/courier/job"
)

// Store is the aggregate durable persistence interface.
// A single backend (postgres, memory) implements all of it.
type Store interface {
	job.Store
	dlq.Store
	governor.Counter
	idempotency.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}

// Fast is the low-latency, TTL-capable layer: the dedup fingerprint
// cache, usage counters and idempotency records. When configured it takes
// those concerns over from the durable Store.
type Fast interface {
	dedup.Cache
	governor.Counter
	idempotency.Store

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases the connection.
	Close() error
}
