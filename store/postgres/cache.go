package postgres

import (
	"context"
	"fmt"
	"time"
)

// ReserveFingerprint stores holder under key if no live entry exists. An
// expired entry is taken over.
func (s *Store) ReserveFingerprint(ctx context.Context, key, holder string, ttl time.Duration) (bool, string, error) {
	now := s.now().UTC()

	for range 2 {
		var got string
		err := s.pool.QueryRow(ctx, `
			INSERT INTO courier_fingerprints (key, holder, expires_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (key) DO UPDATE SET
				holder = EXCLUDED.holder,
				expires_at = EXCLUDED.expires_at
			WHERE courier_fingerprints.expires_at <= $4
			RETURNING holder`,
			key, holder, now.Add(ttl), now,
		).Scan(&got)
		if err == nil {
			return true, got, nil
		}
		if !isNoRows(err) {
			return false, "", fmt.Errorf("courier/postgres: reserve fingerprint: %w", err)
		}

		current, found, err := s.LookupFingerprint(ctx, key)
		if err != nil {
			return false, "", err
		}
		if found {
			return false, current, nil
		}
		// The entry expired between the insert and the lookup; try again.
	}
	return false, "", fmt.Errorf("courier/postgres: reserve fingerprint: contended key %q", key)
}

// RememberFingerprint stores holder under key, replacing any entry.
func (s *Store) RememberFingerprint(ctx context.Context, key, holder string, ttl time.Duration) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO courier_fingerprints (key, holder, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
			holder = EXCLUDED.holder,
			expires_at = EXCLUDED.expires_at`,
		key, holder, s.now().UTC().Add(ttl),
	)
	if err != nil {
		return fmt.Errorf("courier/postgres: remember fingerprint: %w", err)
	}
	return nil
}

// LookupFingerprint returns the live holder of key.
func (s *Store) LookupFingerprint(ctx context.Context, key string) (string, bool, error) {
	var holder string
	err := s.pool.QueryRow(ctx,
		`SELECT holder FROM courier_fingerprints WHERE key = $1 AND expires_at > $2`,
		key, s.now().UTC(),
	).Scan(&holder)
	if err != nil {
		if isNoRows(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("courier/postgres: lookup fingerprint: %w", err)
	}
	return holder, true, nil
}

// ReleaseFingerprint deletes key if holder still owns it.
func (s *Store) ReleaseFingerprint(ctx context.Context, key, holder string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM courier_fingerprints WHERE key = $1 AND holder = $2`, key, holder,
	)
	if err != nil {
		return fmt.Errorf("courier/postgres: release fingerprint: %w", err)
	}
	return nil
}

// PurgeFingerprints deletes fingerprint entries that expired before the
// given time.
func (s *Store) PurgeFingerprints(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM courier_fingerprints WHERE expires_at < $1`, before.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("courier/postgres: purge fingerprints: %w", err)
	}
	return tag.RowsAffected(), nil
}
