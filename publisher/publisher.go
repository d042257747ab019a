package publisher

import (
	"context"
	"time"
)

// Post is one publish request.
type Post struct {
	ProfileID string   `json:"-"`
	Text      string   `json:"text"`
	Media     []string `json:"media,omitempty"`
	// ReplyTo is the remote id this post replies to, if any.
	ReplyTo string `json:"reply_to,omitempty"`
}

// Response is the platform's answer to a successful publish.
type Response struct {
	RemoteID string `json:"id"`
	// RetryAfter is a pacing hint the platform may send on success.
	RetryAfter time.Duration `json:"-"`
}

// Publisher publishes posts to the external platform.
type Publisher interface {
	Publish(ctx context.Context, accessToken string, post Post) (Response, error)
}

// Func adapts a plain function to Publisher.
type Func func(ctx context.Context, accessToken string, post Post) (Response, error)

// Publish implements Publisher.
func (f Func) Publish(ctx context.Context, accessToken string, post Post) (Response, error) {
	return f(ctx, accessToken, post)
}
