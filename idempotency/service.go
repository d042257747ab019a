package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/xraph/courier"
)

// DefaultTTL is how long a stored result answers retries.
const DefaultTTL = 24 * time.Hour

// DeriveKey builds a fresh idempotency key for an action taken by owner at
// now. The raw material is owner:action:unix-minute:nonce, hashed to a
// stable opaque string. The caller must reuse the returned key for every
// retry of the same logical request.
func DeriveKey(ownerID, action string, now time.Time) string {
	minute := now.UTC().Unix() / 60
	raw := ownerID + ":" + action + ":" + strconv.FormatInt(minute, 10) + ":" + uuid.NewString()
	sum := sha256.Sum256([]byte(raw))
	return "idem_" + hex.EncodeToString(sum[:16])
}

// ScopedKey namespaces a caller-supplied key by owner so two owners can
// never collide on the same record.
func ScopedKey(ownerID, key string) string {
	return ownerID + "/" + key
}

// Option configures a Service.
type Option func(*Service)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service reads and writes idempotency records.
type Service struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewService creates a Service over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lookup returns the unexpired record for key. Missing and expired
// records both report found=false.
func (s *Service) Lookup(ctx context.Context, key string) (*Record, bool, error) {
	rec, err := s.store.LookupIdempotency(ctx, key)
	if errors.Is(err, courier.ErrIdempotencyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("idempotency: lookup: %w", err)
	}
	if rec.Expired(s.now()) {
		return nil, false, nil
	}
	return rec, true, nil
}

// Store saves result under key for the service TTL unless a record
// already exists. It reports whether this call created the record.
func (s *Service) Store(ctx context.Context, key string, result any) (bool, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("idempotency: marshal result: %w", err)
	}
	now := s.now().UTC()
	stored, err := s.store.StoreIdempotency(ctx, &Record{
		Key:       key,
		Result:    raw,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	})
	if err != nil {
		return false, fmt.Errorf("idempotency: store: %w", err)
	}
	return stored, nil
}

// Decode unmarshals a record's result into v.
func Decode(rec *Record, v any) error {
	if err := json.Unmarshal(rec.Result, v); err != nil {
		return fmt.Errorf("idempotency: decode %s: %w", rec.Key, err)
	}
	return nil
}
