// Package dlq keeps terminally failed publish jobs for inspection and
// replay.
//
// When a job fails for good (permanent platform rejection, exhausted
// retries, exhausted quota deferrals) the worker pushes an [Entry]
// capturing its payload, last result and failure reason. Duplicate-content
// failures are not dead-lettered: there is nothing to replay.
//
// [Service.Replay] enqueues a new job carrying the original payload and the
// partial result, so thread parts and bulk items that were already
// published are skipped.
package dlq
