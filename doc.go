// Package courier provides a durable publishing pipeline for rate-limited,
// eventually consistent social platform APIs. It accepts "publish this
// content" requests from many owners and profiles and delivers them without
// exceeding per-profile quotas, without posting duplicate content twice, and
// recovering from throttling and transient platform failures.
//
// Courier is designed as a library. Import it, configure a store, give the
// engine a publisher and submit jobs.
//
// # Quick Start
//
//	c, err := courier.New(
//	    courier.WithStore(memory.New()),
//	    courier.WithConcurrency(4),
//	)
//	eng, err := engine.Build(c, engine.WithPublisher(pub))
//	jobID, err := eng.Submit(ctx, engine.SubmitRequest{...})
//
// # Architecture
//
// Each subsystem (job, governor, dedup, idempotency, dlq) defines its own
// store interface. A single backend may implement all of them, or the fast
// TTL-shaped concerns (dedup cache, usage counters, idempotency records) can
// be served by Redis while jobs stay in Postgres.
//
// Every job moves through queued → deduplicated → rate_checked → posting and
// ends in completed, failed or cancelled. Throttled and transiently failed
// jobs return to queued until their attempts run out.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package courier
