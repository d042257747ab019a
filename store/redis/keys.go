package redis

// Redis key naming conventions for courier data.
// All keys are prefixed with "courier:" to avoid collisions.

const keyPrefix = "courier:"

// ── Dedup keys ──

// fingerprintKey returns the key holding a fingerprint reservation:
// courier:fp:{owner}:{profile}:{fingerprint}
func fingerprintKey(key string) string { return keyPrefix + "fp:" + key }

// ── Usage keys ──

// usageDayKey returns the Hash of daily counters:
// courier:usage:{profile}:d:{yyyy-mm-dd}
func usageDayKey(profileID, day string) string {
	return keyPrefix + "usage:" + profileID + ":d:" + day
}

// usageHourKey returns the hourly request counter:
// courier:usage:{profile}:h:{yyyy-mm-ddThh}
func usageHourKey(profileID, hour string) string {
	return keyPrefix + "usage:" + profileID + ":h:" + hour
}

// Daily counter Hash fields.
const (
	fieldPosts   = "posts"
	fieldReplies = "replies"
	fieldBulk    = "bulk"
)

// ── Idempotency keys ──

// idempotencyKey returns the key for a stored publish result:
// courier:idem:{key}
func idempotencyKey(key string) string { return keyPrefix + "idem:" + key }
