// Package store holds the composite store interfaces and, in its
// subpackages, the backends:
//
//   - memory: everything in process, for tests and development
//   - postgres: durable jobs, dead letters, usage counters and
//     idempotency records (pgx)
//   - redis: dedup fingerprint cache, usage counters and idempotency
//     records with native TTLs (go-redis)
package store
