package courier

import "time"

// Config holds configuration for a Courier.
type Config struct {
	// Concurrency is the maximum number of jobs processed concurrently.
	Concurrency int

	// PollInterval is how long idle workers sleep before polling again.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often in-flight jobs send heartbeats.
	HeartbeatInterval time.Duration

	// StaleJobThreshold is how long an in-flight job may go without a
	// heartbeat before it is returned to the queue.
	StaleJobThreshold time.Duration

	// PublishTimeout bounds each external publish call.
	PublishTimeout time.Duration

	// StoreTimeout bounds each store, quota counter and cache round trip.
	// A quota read that times out fails open.
	StoreTimeout time.Duration

	// MaxRetries is the attempt budget given to new jobs.
	MaxRetries int

	// MaxQuotaDeferrals is how many times a job may be pushed to the next
	// quota window before it fails with "quota exceeded".
	MaxQuotaDeferrals int

	// DedupWindow is the trailing window inside which identical content
	// for the same owner and profile is rejected.
	DedupWindow time.Duration

	// IdempotencyTTL is how long a stored publish result answers retries.
	IdempotencyTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       10,
		PollInterval:      1 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		StaleJobThreshold: 2 * time.Minute,
		PublishTimeout:    30 * time.Second,
		StoreTimeout:      5 * time.Second,
		MaxRetries:        3,
		MaxQuotaDeferrals: 7,
		DedupWindow:       24 * time.Hour,
		IdempotencyTTL:    24 * time.Hour,
	}
}
