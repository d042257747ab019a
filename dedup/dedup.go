package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/courier/job"
)

// DefaultWindow is the trailing window inside which content is a duplicate.
const DefaultWindow = 24 * time.Hour

// Cache is the fast TTL-capable fingerprint index. Keys are produced by
// [Key]; holders are the idempotency keys of the jobs that own them.
type Cache interface {
	// ReserveFingerprint stores holder under key for ttl if key is absent.
	// When the key is taken it returns false and the current holder.
	ReserveFingerprint(ctx context.Context, key, holder string, ttl time.Duration) (reserved bool, current string, err error)

	// RememberFingerprint stores holder under key for ttl unconditionally.
	RememberFingerprint(ctx context.Context, key, holder string, ttl time.Duration) error

	// LookupFingerprint returns the live holder of key, if any.
	LookupFingerprint(ctx context.Context, key string) (holder string, found bool, err error)

	// ReleaseFingerprint deletes key if it is still held by holder.
	ReleaseFingerprint(ctx context.Context, key, holder string) error
}

// History is the durable fallback. job.Store satisfies it.
type History interface {
	FindJobsByFingerprint(ctx context.Context, ownerID, profileID, fingerprint string, since time.Time) ([]*job.Job, error)
}

// Key builds the cache key for a fingerprint.
func Key(ownerID, profileID, fingerprint string) string {
	return ownerID + ":" + profileID + ":" + fingerprint
}

// Reservation is the result of [Deduplicator.Reserve].
type Reservation struct {
	Reserved bool
	// Holder is the idempotency key owning the fingerprint. When the
	// reservation failed and Holder equals the caller's own key, the
	// "duplicate" is a concurrent retry of the same request.
	Holder string
}

// Option configures a Deduplicator.
type Option func(*Deduplicator)

// WithCache sets the fast fingerprint index. Without one only the
// durable history is consulted.
func WithCache(c Cache) Option {
	return func(d *Deduplicator) { d.cache = c }
}

// WithWindow overrides DefaultWindow.
func WithWindow(w time.Duration) Option {
	return func(d *Deduplicator) { d.window = w }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Deduplicator) { d.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Deduplicator) { d.now = now }
}

// Deduplicator detects duplicate content.
type Deduplicator struct {
	cache   Cache
	history History
	window  time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Deduplicator backed by history.
func New(history History, opts ...Option) *Deduplicator {
	d := &Deduplicator{
		history: history,
		window:  DefaultWindow,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Window returns the configured window.
func (d *Deduplicator) Window() time.Duration { return d.window }

// IsDuplicate reports whether fingerprint was seen for the owner and
// profile within the trailing window.
func (d *Deduplicator) IsDuplicate(ctx context.Context, ownerID, profileID, fingerprint string, window time.Duration) (bool, error) {
	key := Key(ownerID, profileID, fingerprint)
	if holder, found, ok := d.lookup(ctx, key); ok && found && holder != "" {
		return true, nil
	}
	jobs, err := d.recent(ctx, ownerID, profileID, fingerprint, window)
	if err != nil {
		return false, err
	}
	for _, j := range jobs {
		if blocks(j) {
			return true, nil
		}
	}
	return false, nil
}

// Reserve claims fingerprint for holder, first writer wins. The cache
// decides races between concurrent submissions; the history then rejects
// content seen inside the window that the cache no longer remembers.
func (d *Deduplicator) Reserve(ctx context.Context, ownerID, profileID, fingerprint, holder string, window time.Duration) (Reservation, error) {
	key := Key(ownerID, profileID, fingerprint)
	cached := false
	if d.cache != nil {
		reserved, current, err := d.cache.ReserveFingerprint(ctx, key, holder, window)
		switch {
		case err != nil:
			d.logger.Warn("dedup: cache unavailable, using job history",
				slog.String("profile_id", profileID),
				slog.String("error", err.Error()),
			)
		case !reserved:
			return Reservation{Holder: current}, nil
		default:
			cached = true
		}
	}

	jobs, err := d.recent(ctx, ownerID, profileID, fingerprint, window)
	if err != nil {
		if cached {
			d.release(ctx, key, holder)
		}
		return Reservation{}, err
	}
	for _, j := range jobs {
		if j.IdempotencyKey == holder || !blocks(j) {
			continue
		}
		if cached {
			d.release(ctx, key, holder)
		}
		return Reservation{Holder: j.IdempotencyKey}, nil
	}
	return Reservation{Reserved: true, Holder: holder}, nil
}

// Remember records fingerprint as published by holder for window from
// now, refreshing any reservation.
func (d *Deduplicator) Remember(ctx context.Context, ownerID, profileID, fingerprint, holder string, window time.Duration) error {
	if d.cache == nil {
		return nil
	}
	if err := d.cache.RememberFingerprint(ctx, Key(ownerID, profileID, fingerprint), holder, window); err != nil {
		return fmt.Errorf("dedup: remember: %w", err)
	}
	return nil
}

// Release frees a reservation held by holder. Used when a job is
// cancelled or fails before publishing anything.
func (d *Deduplicator) Release(ctx context.Context, ownerID, profileID, fingerprint, holder string) {
	d.release(ctx, Key(ownerID, profileID, fingerprint), holder)
}

// CheckJob is the dispatch-time check for a claimed job. The job itself
// and other submissions of the same request are never duplicates of it.
// Another job blocks it when it already published inside the window, or
// when it is still live and was submitted first.
func (d *Deduplicator) CheckJob(ctx context.Context, j *job.Job) (bool, error) {
	key := Key(j.OwnerID, j.ProfileID, j.Fingerprint)
	if holder, found, ok := d.lookup(ctx, key); ok && found && holder != j.IdempotencyKey {
		return true, nil
	}
	jobs, err := d.recent(ctx, j.OwnerID, j.ProfileID, j.Fingerprint, d.window)
	if err != nil {
		return false, err
	}
	for _, other := range jobs {
		if sameRequest(other, j) || !blocks(other) {
			continue
		}
		if other.Status == job.StatusCompleted || submittedBefore(other, j) {
			return true, nil
		}
	}
	return false, nil
}

// lookup reports ok=false when the cache is absent or failing.
func (d *Deduplicator) lookup(ctx context.Context, key string) (holder string, found, ok bool) {
	if d.cache == nil {
		return "", false, false
	}
	holder, found, err := d.cache.LookupFingerprint(ctx, key)
	if err != nil {
		d.logger.Warn("dedup: cache lookup failed, using job history", slog.String("error", err.Error()))
		return "", false, false
	}
	return holder, found, true
}

func (d *Deduplicator) release(ctx context.Context, key, holder string) {
	if d.cache == nil {
		return
	}
	if err := d.cache.ReleaseFingerprint(ctx, key, holder); err != nil {
		d.logger.Warn("dedup: release failed", slog.String("error", err.Error()))
	}
}

func (d *Deduplicator) recent(ctx context.Context, ownerID, profileID, fingerprint string, window time.Duration) ([]*job.Job, error) {
	since := d.now().Add(-window)
	jobs, err := d.history.FindJobsByFingerprint(ctx, ownerID, profileID, fingerprint, since)
	if err != nil {
		return nil, fmt.Errorf("dedup: history: %w", err)
	}
	// Windows are half-open: content seen exactly window ago has expired.
	out := jobs[:0:0]
	for _, j := range jobs {
		if j.CreatedAt.After(since) {
			out = append(out, j)
		}
	}
	return out, nil
}

// blocks reports whether j still claims its content: it is live, or it
// ended after publishing something.
func blocks(j *job.Job) bool {
	switch j.Status {
	case job.StatusCancelled:
		return false
	case job.StatusFailed:
		return j.Result.PublishedCount() > 0
	}
	return true
}

// sameRequest reports whether a and b are the same job, two submissions
// of one request, or a dead letter replay and its original.
func sameRequest(a, b *job.Job) bool {
	as, bs := a.ID.String(), b.ID.String()
	return as == bs ||
		a.IdempotencyKey == b.IdempotencyKey ||
		a.ReplayOf.String() == bs ||
		(!b.ReplayOf.IsNil() && b.ReplayOf.String() == as)
}

func submittedBefore(a, b *job.Job) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID.String() < b.ID.String()
	}
	return a.CreatedAt.Before(b.CreatedAt)
}
