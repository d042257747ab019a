// Package job defines the publish job entity, its forward-only state
// machine and the store interface.
//
// # Job Entity
//
// A [Job] asks for content to be published to one social profile. It embeds
// [courier.Entity] for timestamps, carries a typed [Payload] and progresses
// through a state machine:
//
//	queued → deduplicated → rate_checked → posting → completed
//	queued → failed                                   (duplicate content)
//	deduplicated → rate_limited → queued → ...        (quota window full)
//	posting → rate_limited → queued → ...             (platform throttled)
//	posting → queued → ...                            (transient failure)
//	posting → failed                                  (permanent or exhausted)
//	queued | rate_limited → cancelled
//
// [Transition] is the single pure function that applies an [Outcome] to a
// job; workers and stores never set Status by hand.
//
// Fields of note:
//   - Kind: which handler publishes the payload
//   - Priority: higher values are claimed first
//   - MaxRetries / Attempts: the publish attempt budget
//   - QuotaDeferrals: how many times the job waited for a new quota window
//   - ScheduledFor: earliest time the job may be claimed
package job
