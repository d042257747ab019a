package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/idempotency"
)

// LookupIdempotency returns the record for key.
func (s *Store) LookupIdempotency(ctx context.Context, key string) (*idempotency.Record, error) {
	var rec idempotency.Record
	var result []byte

	err := s.pool.QueryRow(ctx,
		`SELECT key, result, created_at, expires_at FROM courier_idempotency WHERE key = $1`,
		key,
	).Scan(&rec.Key, &result, &rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		if isNoRows(err) {
			return nil, courier.ErrIdempotencyNotFound
		}
		return nil, fmt.Errorf("courier/postgres: lookup idempotency: %w", err)
	}

	rec.Result = result
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	return &rec, nil
}

// StoreIdempotency inserts rec unless an unexpired record exists. An
// expired record is overwritten in place.
func (s *Store) StoreIdempotency(ctx context.Context, rec *idempotency.Record) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO courier_idempotency (key, result, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET
			result = EXCLUDED.result,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
		WHERE courier_idempotency.expires_at <= EXCLUDED.created_at`,
		rec.Key, []byte(rec.Result), rec.CreatedAt.UTC(), rec.ExpiresAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("courier/postgres: store idempotency: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// PurgeIdempotency deletes records that expired before the given time.
func (s *Store) PurgeIdempotency(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM courier_idempotency WHERE expires_at < $1`, before.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("courier/postgres: purge idempotency: %w", err)
	}
	return tag.RowsAffected(), nil
}
