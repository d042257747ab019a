package job

import "time"

// Options configures a new job.
type Options struct {
	// MaxRetries is the publish attempt budget.
	MaxRetries int

	// MaxQuotaDeferrals caps how often the job may wait for a new quota
	// window before failing with "quota exceeded".
	MaxQuotaDeferrals int

	// Priority determines claim ordering. Higher values are processed first.
	Priority int

	// ScheduledFor delays the job. Zero means immediate.
	ScheduledFor time.Time

	// Fingerprint is the normalized content hash used for deduplication.
	Fingerprint string

	// IdempotencyKey binds the job to a caller's request.
	IdempotencyKey string
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxRetries:        3,
		MaxQuotaDeferrals: 7,
	}
}

// Option is a functional option for configuring a new job.
type Option func(*Options)

// WithMaxRetries sets the publish attempt budget.
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.MaxRetries = n
	}
}

// WithMaxQuotaDeferrals sets how many quota windows the job may wait for.
func WithMaxQuotaDeferrals(n int) Option {
	return func(o *Options) {
		o.MaxQuotaDeferrals = n
	}
}

// WithPriority sets the job priority. Higher values are processed first.
func WithPriority(p int) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithScheduledFor delays the job until t.
func WithScheduledFor(t time.Time) Option {
	return func(o *Options) {
		o.ScheduledFor = t
	}
}

// WithFingerprint sets the content fingerprint.
func WithFingerprint(fp string) Option {
	return func(o *Options) {
		o.Fingerprint = fp
	}
}

// WithIdempotencyKey binds the job to key.
func WithIdempotencyKey(key string) Option {
	return func(o *Options) {
		o.IdempotencyKey = key
	}
}
