package idempotency

import (
	"context"
	"encoding/json"
	"time"
)

// Record is a stored publish result.
type Record struct {
	Key       string          `json:"key"`
	Result    json.RawMessage `json:"result"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Expired reports whether the record no longer answers lookups at now.
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Store defines the persistence contract for idempotency records.
type Store interface {
	// LookupIdempotency returns the record for key, expired or not, or
	// courier.ErrIdempotencyNotFound.
	LookupIdempotency(ctx context.Context, key string) (*Record, error)

	// StoreIdempotency inserts rec unless a record for rec.Key exists.
	// It reports whether rec was stored.
	StoreIdempotency(ctx context.Context, rec *Record) (bool, error)

	// PurgeIdempotency deletes records that expired before the given time
	// and returns how many were removed.
	PurgeIdempotency(ctx context.Context, before time.Time) (int64, error)
}
