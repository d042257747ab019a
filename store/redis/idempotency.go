package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier"
	"github.com/xraph/courier/idempotency"
)

// LookupIdempotency returns the record stored under key.
func (s *Store) LookupIdempotency(ctx context.Context, key string) (*idempotency.Record, error) {
	raw, err := s.client.Get(ctx, idempotencyKey(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, courier.ErrIdempotencyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("courier/redis: lookup idempotency: %w", err)
	}
	var rec idempotency.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("courier/redis: decode idempotency: %w", err)
	}
	return &rec, nil
}

// StoreIdempotency inserts rec with SET NX PX, expiring it at
// rec.ExpiresAt. It reports whether rec was stored.
func (s *Store) StoreIdempotency(ctx context.Context, rec *idempotency.Record) (bool, error) {
	ttl := rec.ExpiresAt.Sub(rec.CreatedAt)
	if ttl <= 0 {
		return false, nil
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("courier/redis: encode idempotency: %w", err)
	}
	ok, err := s.client.SetNX(ctx, idempotencyKey(rec.Key), raw, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("courier/redis: store idempotency: %w", err)
	}
	return ok, nil
}

// PurgeIdempotency is a no-op: records expire through their TTL.
func (s *Store) PurgeIdempotency(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}
