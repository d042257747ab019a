// Package governor enforces per-profile publishing quotas.
//
// A [Governor] answers "does this much more usage fit right now?"
// against four independent counters: posts per UTC day, replies per
// UTC day, requests per UTC hour and bulk operations per UTC day. Counters
// live behind the [Counter] interface so they can be served by memory,
// Redis or Postgres. They are only ever incremented, after each confirmed
// publisher call, and reset implicitly when the day or hour key rolls over.
//
// A check is priced with [Admission] or [Cost]: a thread must fit all of
// its remaining parts, and a bulk job re-checks before every item, so a
// multi-call job cannot carry a profile past its limit. When several
// counters are exhausted the decision names the one that resets last.
//
// The governor fails open: when the counter backend is unavailable or
// does not answer within the configured timeout a warning is logged and
// the request is allowed.
package governor
