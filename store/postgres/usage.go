package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/courier/governor"
)

// Usage returns the profile's counters for the day and hour containing at.
func (s *Store) Usage(ctx context.Context, profileID string, at time.Time) (governor.Usage, error) {
	var u governor.Usage

	err := s.pool.QueryRow(ctx, `
		SELECT
			COALESCE((SELECT posts FROM courier_usage_daily WHERE profile_id = $1 AND day = $2), 0),
			COALESCE((SELECT replies FROM courier_usage_daily WHERE profile_id = $1 AND day = $2), 0),
			COALESCE((SELECT bulk FROM courier_usage_daily WHERE profile_id = $1 AND day = $2), 0),
			COALESCE((SELECT requests FROM courier_usage_hourly WHERE profile_id = $1 AND hour = $3), 0)`,
		profileID, governor.DayKey(at), governor.HourKey(at),
	).Scan(&u.PostsToday, &u.RepliesToday, &u.BulkOperationsToday, &u.RequestsThisHour)
	if err != nil {
		return governor.Usage{}, fmt.Errorf("courier/postgres: usage: %w", err)
	}
	return u, nil
}

// IncrUsage adds delta to the profile's counters, creating the day and
// hour rows on first use.
func (s *Store) IncrUsage(ctx context.Context, profileID string, at time.Time, delta governor.Usage) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if delta.PostsToday != 0 || delta.RepliesToday != 0 || delta.BulkOperationsToday != 0 {
			if _, err := tx.Exec(ctx, `
				INSERT INTO courier_usage_daily (profile_id, day, posts, replies, bulk)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (profile_id, day) DO UPDATE SET
					posts = courier_usage_daily.posts + EXCLUDED.posts,
					replies = courier_usage_daily.replies + EXCLUDED.replies,
					bulk = courier_usage_daily.bulk + EXCLUDED.bulk`,
				profileID, governor.DayKey(at),
				delta.PostsToday, delta.RepliesToday, delta.BulkOperationsToday,
			); err != nil {
				return err
			}
		}
		if delta.RequestsThisHour != 0 {
			if _, err := tx.Exec(ctx, `
				INSERT INTO courier_usage_hourly (profile_id, hour, requests)
				VALUES ($1, $2, $3)
				ON CONFLICT (profile_id, hour) DO UPDATE SET
					requests = courier_usage_hourly.requests + EXCLUDED.requests`,
				profileID, governor.HourKey(at), delta.RequestsThisHour,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("courier/postgres: incr usage: %w", err)
	}
	return nil
}
