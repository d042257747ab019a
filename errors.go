package courier

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Store errors.
	ErrNoStore          = errors.New("courier: no store configured")
	ErrNoPublisher      = errors.New("courier: no publisher configured")
	ErrStoreClosed      = errors.New("courier: store closed")
	ErrStoreUnavailable = errors.New("courier: store unavailable")
	ErrMigrationFailed  = errors.New("courier: migration failed")

	// Not found errors.
	ErrJobNotFound         = errors.New("courier: job not found")
	ErrDLQNotFound         = errors.New("courier: dlq entry not found")
	ErrIdempotencyNotFound = errors.New("courier: idempotency record not found")

	// Conflict errors.
	ErrJobAlreadyExists    = errors.New("courier: job already exists")
	ErrIdempotencyConflict = errors.New("courier: idempotency key bound to another job")
	ErrStaleJob            = errors.New("courier: job changed concurrently")

	// State errors.
	ErrInvalidTransition = errors.New("courier: invalid state transition")
	ErrNotCancellable    = errors.New("courier: job is not cancellable")
	ErrInvalidJob        = errors.New("courier: invalid job")

	// Admission errors.
	ErrDuplicateContent = errors.New("courier: duplicate content")
	ErrQuotaExceeded    = errors.New("courier: quota exceeded")

	// Publish errors.
	ErrTransientPublish = errors.New("courier: transient publish failure")
	ErrPermanentPublish = errors.New("courier: permanent publish failure")
	ErrPublishTimeout   = errors.New("courier: publish timed out")
	ErrRemoteThrottled  = errors.New("courier: remote platform throttled the request")
)

// RejectionError is returned synchronously by submit when a request is
// refused before a job is created. Err is ErrDuplicateContent or
// ErrQuotaExceeded.
type RejectionError struct {
	Err     error
	Reason  string
	Limit   int64
	Used    int64
	RetryAt time.Time
}

func (e *RejectionError) Error() string {
	if e.Reason == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Reason)
}

func (e *RejectionError) Unwrap() error { return e.Err }
