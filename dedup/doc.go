// Package dedup rejects identical content for the same owner and profile
// inside a trailing window (24h by default).
//
// Content is reduced to a [Fingerprint]: a SHA-256 over the normalized
// payload. Fingerprints are reserved in a fast TTL [Cache] (Redis SET NX PX
// or memory) with first-writer-wins semantics; the durable job history is
// consulted whenever the cache has no entry or cannot be reached, so an
// evicted or failed cache never lets a duplicate through on its own.
package dedup
