// Package idempotency stores the result of a completed publish under the
// request's idempotency key so a retried request observes the original
// outcome instead of publishing twice.
//
// Records are insert-if-absent, read-only until they expire (24h by
// default) and ignored afterwards; the janitor purges expired rows.
package idempotency
