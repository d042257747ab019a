// Package engine wires the courier subsystems together and provides the
// application-level API for submitting, inspecting and cancelling publish
// jobs.
//
// Engine sits above every subsystem package (job, dedup, governor,
// idempotency, dlq, worker) and below the application layer, so the root
// courier package can stay free of imports back into them.
//
// # Building an Engine
//
//	c, err := courier.New(
//	    courier.WithStore(pgStore),
//	    courier.WithConcurrency(20),
//	)
//
//	eng, err := engine.Build(c,
//	    engine.WithPublisher(publisher.NewHTTPClient(endpoint)),
//	    engine.WithTokenSource(tokens),
//	    engine.WithFast(redisStore),
//	    engine.WithQuotas(governor.DefaultQuotas()),
//	    engine.WithExtension(audithook.New(recorder)),
//	)
//
// # Submitting Work
//
//	jobID, err := eng.Submit(ctx, engine.SubmitRequest{
//	    OwnerID:        "acct_1",
//	    ProfileID:      "prof_1",
//	    Kind:           job.KindSinglePost,
//	    Payload:        job.Payload{Text: "hello"},
//	    IdempotencyKey: "req-42",
//	})
//
// Submit refuses duplicate content and exhausted quotas synchronously
// with a *courier.RejectionError. Everything else is decided by the
// worker pool once the job is claimed.
//
// # Options
//
//   - [WithPublisher] sets the platform client (required)
//   - [WithTokenSource] resolves per-profile access tokens
//   - [WithFast] moves counters, idempotency and dedup reservations to a TTL store
//   - [WithExtension] registers a lifecycle extension
//   - [WithMiddleware] adds a middleware around each publisher call
//   - [WithQuotas] overrides the per-profile limits
//   - [WithBackoff] sets the retry backoff strategy
//   - [WithBulkSpacing] sets the gap between bulk items
//   - [WithThrottle] limits per-profile concurrency and call rate
package engine
