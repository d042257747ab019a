package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes KEYS[1] only while it still holds ARGV[1].
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ReserveFingerprint stores holder under key with SET NX PX and returns
// the current holder when the key is taken.
func (s *Store) ReserveFingerprint(ctx context.Context, key, holder string, ttl time.Duration) (bool, string, error) {
	k := fingerprintKey(key)
	// A holder can expire between SETNX and GET; one retry covers it.
	for range 2 {
		ok, err := s.client.SetNX(ctx, k, holder, ttl).Result()
		if err != nil {
			return false, "", fmt.Errorf("courier/redis: reserve fingerprint: %w", err)
		}
		if ok {
			return true, holder, nil
		}
		current, err := s.client.Get(ctx, k).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return false, "", fmt.Errorf("courier/redis: reserve fingerprint: %w", err)
		}
		return false, current, nil
	}
	return false, "", fmt.Errorf("courier/redis: reserve fingerprint: key %s churned", key)
}

// RememberFingerprint stores holder under key for ttl unconditionally.
func (s *Store) RememberFingerprint(ctx context.Context, key, holder string, ttl time.Duration) error {
	if err := s.client.Set(ctx, fingerprintKey(key), holder, ttl).Err(); err != nil {
		return fmt.Errorf("courier/redis: remember fingerprint: %w", err)
	}
	return nil
}

// LookupFingerprint returns the live holder of key.
func (s *Store) LookupFingerprint(ctx context.Context, key string) (string, bool, error) {
	holder, err := s.client.Get(ctx, fingerprintKey(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("courier/redis: lookup fingerprint: %w", err)
	}
	return holder, true, nil
}

// ReleaseFingerprint deletes key if it is still held by holder.
func (s *Store) ReleaseFingerprint(ctx context.Context, key, holder string) error {
	if err := releaseScript.Run(ctx, s.client, []string{fingerprintKey(key)}, holder).Err(); err != nil {
		return fmt.Errorf("courier/redis: release fingerprint: %w", err)
	}
	return nil
}
