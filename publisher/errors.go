package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/courier"
)

// Class is the retry classification of a publish failure.
type Class string

const (
	ClassRateLimited Class = "rate_limited"
	ClassTransient   Class = "transient"
	ClassTimeout     Class = "timeout"
	ClassPermanent   Class = "permanent"
)

// ErrUnconfirmedPublish marks a call the platform accepted without
// returning a post id. The post may exist, so the call is never retried.
var ErrUnconfirmedPublish = errors.New("published without post id")

// Error is a classified publish failure.
type Error struct {
	Class      Class
	StatusCode int
	// RetryAfter is the platform's hint for rate_limited errors; zero
	// when none was sent.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("publisher: %s (status %d): %v", e.Class, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("publisher: %s: %v", e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is maps classes onto the courier sentinels so callers can test with
// errors.Is(err, courier.ErrPermanentPublish).
func (e *Error) Is(target error) bool {
	switch e.Class {
	case ClassRateLimited:
		return target == courier.ErrRemoteThrottled
	case ClassTransient:
		return target == courier.ErrTransientPublish
	case ClassTimeout:
		return target == courier.ErrPublishTimeout || target == courier.ErrTransientPublish
	case ClassPermanent:
		return target == courier.ErrPermanentPublish
	}
	return false
}

// Retryable reports whether the class allows another attempt.
func (c Class) Retryable() bool { return c != ClassPermanent }

// RateLimited builds a rate_limited error.
func RateLimited(retryAfter time.Duration, err error) *Error {
	return &Error{Class: ClassRateLimited, StatusCode: 429, RetryAfter: retryAfter, Err: err}
}

// Transient builds a transient error.
func Transient(err error) *Error { return &Error{Class: ClassTransient, Err: err} }

// Permanent builds a permanent error.
func Permanent(err error) *Error { return &Error{Class: ClassPermanent, Err: err} }

// Classify turns any error returned by a Publisher into an *Error.
// Deadline expiry is a timeout; unclassified errors are transient.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Class: ClassTimeout, Err: err}
	}
	return &Error{Class: ClassTransient, Err: err}
}
