package governor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/courier/job"
)

// Counter is the usage counter backend. Implementations must make
// IncrUsage atomic per counter.
type Counter interface {
	// Usage returns the profile's counters for the day and hour containing at.
	Usage(ctx context.Context, profileID string, at time.Time) (Usage, error)
	// IncrUsage adds delta to the profile's counters for the day and hour
	// containing at, creating them lazily.
	IncrUsage(ctx context.Context, profileID string, at time.Time, delta Usage) error
}

// ReasonUnavailable is the decision reason when the backend failed and the
// governor let the request through.
const ReasonUnavailable = "governor unavailable"

// Decision is the answer to a quota check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	// Limit and Usage describe the exhausted counter when denied.
	Limit int64 `json:"limit,omitempty"`
	Used  int64 `json:"used,omitempty"`
	// Usage is the full snapshot the decision was based on.
	Usage Usage `json:"usage"`
	// RetryAt is when the exhausted window resets.
	RetryAt time.Time `json:"retry_at,omitempty"`
}

// Option configures a Governor.
type Option func(*Governor)

// WithQuotas overrides the default limits.
func WithQuotas(q Quotas) Option {
	return func(g *Governor) { g.quotas = q }
}

// WithLogger sets the logger used for fail-open warnings.
func WithLogger(l *slog.Logger) Option {
	return func(g *Governor) { g.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// WithTimeout bounds every counter read and increment. A read that runs
// out of time fails open like any other backend error. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(g *Governor) { g.timeout = d }
}

// Governor checks and records per-profile usage.
type Governor struct {
	counter Counter
	quotas  Quotas
	logger  *slog.Logger
	now     func() time.Time
	timeout time.Duration
}

// New creates a Governor over counter with DefaultQuotas.
func New(counter Counter, opts ...Option) *Governor {
	g := &Governor{
		counter: counter,
		quotas:  DefaultQuotas(),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Quotas returns the configured limits.
func (g *Governor) Quotas() Quotas { return g.quotas }

// Check reports whether profileID may make one more call for a job of
// kind. It is Allow with the cost of a single call.
func (g *Governor) Check(ctx context.Context, profileID string, kind job.Kind) (Decision, error) {
	return g.Allow(ctx, profileID, Delta(kind, 1))
}

// Allow reports whether cost fits in every window it touches. It has no
// side effect. A backend error or timeout yields an allowed decision with
// Reason ReasonUnavailable; the error is logged, not returned.
func (g *Governor) Allow(ctx context.Context, profileID string, cost Usage) (Decision, error) {
	ctx, cancel := g.bound(ctx)
	defer cancel()

	now := g.now()
	usage, err := g.counter.Usage(ctx, profileID, now)
	if err != nil {
		g.logger.Warn("governor: usage backend unavailable, allowing",
			slog.String("profile_id", profileID),
			slog.String("error", err.Error()),
		)
		return Decision{Allowed: true, Reason: ReasonUnavailable}, nil
	}
	return g.decide(usage, cost, now), nil
}

// Increment records n successful publisher calls for a job of kind.
func (g *Governor) Increment(ctx context.Context, profileID string, kind job.Kind, n int) error {
	return g.Add(ctx, profileID, Delta(kind, n))
}

// Add applies delta to the profile's current windows.
func (g *Governor) Add(ctx context.Context, profileID string, delta Usage) error {
	if delta.IsZero() {
		return nil
	}
	ctx, cancel := g.bound(ctx)
	defer cancel()

	if err := g.counter.IncrUsage(ctx, profileID, g.now(), delta); err != nil {
		return fmt.Errorf("governor: increment %s: %w", profileID, err)
	}
	return nil
}

// Usage returns the profile's current counters.
func (g *Governor) Usage(ctx context.Context, profileID string) (Usage, error) {
	ctx, cancel := g.bound(ctx)
	defer cancel()

	u, err := g.counter.Usage(ctx, profileID, g.now())
	if err != nil {
		return Usage{}, fmt.Errorf("governor: usage %s: %w", profileID, err)
	}
	return u, nil
}

func (g *Governor) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.timeout)
}

// decide denies cost when any counter it touches would pass its limit.
// When several are exhausted the decision names the one that resets
// last, so a parked job is not woken before it can run.
func (g *Governor) decide(u Usage, cost Usage, now time.Time) Decision {
	q := g.quotas
	checks := []struct {
		name    string
		used    int64
		cost    int64
		limit   int64
		retryAt time.Time
	}{
		{"requests/hour", u.RequestsThisHour, cost.RequestsThisHour, q.RequestsPerHour, NextHour(now)},
		{"posts/day", u.PostsToday, cost.PostsToday, q.PostsPerDay, NextDay(now)},
		{"replies/day", u.RepliesToday, cost.RepliesToday, q.RepliesPerDay, NextDay(now)},
		{"bulk operations/day", u.BulkOperationsToday, cost.BulkOperationsToday, q.BulkOperationsPerDay, NextDay(now)},
	}

	d := Decision{Allowed: true, Usage: u}
	for _, c := range checks {
		if c.cost <= 0 || c.limit <= 0 || c.used+c.cost <= c.limit {
			continue
		}
		if !d.Allowed && !c.retryAt.After(d.RetryAt) {
			continue
		}
		reason := fmt.Sprintf("%s limit of %d reached", c.name, c.limit)
		if c.used < c.limit {
			reason = fmt.Sprintf("%s limit of %d leaves room for %d of %d calls", c.name, c.limit, c.limit-c.used, c.cost)
		}
		d = Decision{
			Allowed: false,
			Reason:  reason,
			Limit:   c.limit,
			Used:    c.used,
			Usage:   u,
			RetryAt: c.retryAt,
		}
	}
	return d
}
