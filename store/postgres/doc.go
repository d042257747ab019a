// Package postgres implements store.Store and dedup.Cache using pgx/v5
// with raw SQL. Jobs are claimed with SELECT ... FOR UPDATE SKIP LOCKED,
// status changes are compare-and-swap updates, usage counters are upserts
// and the schema ships as embedded SQL migrations.
package postgres
