package publisher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig holds circuit breaker configuration.
type BreakerConfig struct {
	Name                string
	MaxRequests         uint32        // requests allowed while half-open
	Interval            time.Duration // closed-state counter reset period
	Timeout             time.Duration // open → half-open delay
	ConsecutiveFailures uint32        // failures that trip the breaker
}

// DefaultBreakerConfig returns conservative defaults for a single platform.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:                "publisher",
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// Breaker wraps a Publisher in a circuit breaker. Only transient and
// timeout failures count against the breaker: a rejected post or a
// throttled profile says nothing about the platform's health. While the
// breaker is open every call fails fast with a transient error.
type Breaker struct {
	next Publisher
	cb   *gobreaker.CircuitBreaker
}

var _ Publisher = (*Breaker)(nil)

// NewBreaker creates a Breaker around next.
func NewBreaker(next Publisher, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("publisher circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			c := Classify(err).Class
			return c == ClassPermanent || c == ClassRateLimited
		},
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Publish implements Publisher.
func (b *Breaker) Publish(ctx context.Context, accessToken string, post Post) (Response, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Publish(ctx, accessToken, post)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Response{}, Transient(err)
		}
		return Response{}, err
	}
	return out.(Response), nil
}

// State returns the breaker state name: closed, open or half-open.
func (b *Breaker) State() string { return b.cb.State().String() }
