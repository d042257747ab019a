package notify

import (
	"log/slog"
	"time"
)

// Option configures an Extension.
type Option func(*Extension)

// WithExchange sets the topic exchange messages are published to.
// Defaults to "courier.events".
func WithExchange(name string) Option {
	return func(n *Extension) { n.exchange = name }
}

// WithEvents restricts the extension to publish only the listed event
// types. By default every event type is published. Unknown types are
// silently ignored.
func WithEvents(events ...string) Option {
	return func(n *Extension) {
		n.enabled = make(map[string]bool, len(events))
		for _, e := range events {
			n.enabled[e] = true
		}
	}
}

// WithPublishTimeout bounds each publish. Defaults to 5s.
func WithPublishTimeout(d time.Duration) Option {
	return func(n *Extension) { n.timeout = d }
}

// WithClock sets the clock used to stamp messages.
func WithClock(now func() time.Time) Option {
	return func(n *Extension) { n.now = now }
}

// WithLogger sets a custom logger for the extension.
func WithLogger(l *slog.Logger) Option {
	return func(n *Extension) { n.logger = l }
}
