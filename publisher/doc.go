// Package publisher is the boundary to the external social platform.
//
// A [Publisher] publishes one post on behalf of one profile. Every failure
// it returns is an [*Error] carrying a [Class]: rate_limited (the platform
// throttled us, possibly with a retry-after hint), transient (5xx, network,
// open circuit), timeout, or permanent (any other 4xx: the request itself
// is wrong and retrying cannot help). The worker decides retries from the
// class alone.
//
// [HTTPClient] is the JSON-over-HTTP adapter; [Breaker] wraps any
// Publisher in a sony/gobreaker circuit breaker.
package publisher
