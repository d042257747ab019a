// Package memory provides a fully in-memory implementation of store.Store
// and store.Fast. Safe for concurrent access. Intended for unit testing
// and development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/courier/dedup"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/governor"
	"github.com/xraph/courier/idempotency"
	"github.com/xraph/courier/job"
)

// Ensure Store implements the subsystem stores at compile time.
// We can't import store here (import cycle in tests), so we verify each
// subsystem.
var (
	_ job.Store         = (*Store)(nil)
	_ dlq.Store         = (*Store)(nil)
	_ governor.Counter  = (*Store)(nil)
	_ idempotency.Store = (*Store)(nil)
	_ dedup.Cache       = (*Store)(nil)
)

type fingerprintEntry struct {
	holder    string
	expiresAt time.Time
}

type dailyUsage struct {
	posts, replies, bulk int64
}

// Store is a fully in-memory store.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	jobs         map[string]*job.Job
	dlqs         map[string]*dlq.Entry
	idempotency  map[string]*idempotency.Record
	fingerprints map[string]fingerprintEntry

	// daily is keyed by "profile|2006-01-02", hourly by "profile|2006-01-02T15".
	daily  map[string]*dailyUsage
	hourly map[string]int64
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for fingerprint expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Store) { m.now = now }
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	m := &Store{
		now:          time.Now,
		jobs:         make(map[string]*job.Job),
		dlqs:         make(map[string]*dlq.Entry),
		idempotency:  make(map[string]*idempotency.Record),
		fingerprints: make(map[string]fingerprintEntry),
		daily:        make(map[string]*dailyUsage),
		hourly:       make(map[string]int64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
