package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier/governor"
)

// Usage returns the profile's counters for the windows containing at.
func (s *Store) Usage(ctx context.Context, profileID string, at time.Time) (governor.Usage, error) {
	pipe := s.client.Pipeline()
	day := pipe.HGetAll(ctx, usageDayKey(profileID, governor.DayKey(at)))
	hour := pipe.Get(ctx, usageHourKey(profileID, governor.HourKey(at)))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return governor.Usage{}, fmt.Errorf("courier/redis: usage: %w", err)
	}

	var u governor.Usage
	fields := day.Val()
	u.PostsToday = parseCount(fields[fieldPosts])
	u.RepliesToday = parseCount(fields[fieldReplies])
	u.BulkOperationsToday = parseCount(fields[fieldBulk])
	u.RequestsThisHour = parseCount(hour.Val())
	return u, nil
}

// IncrUsage adds delta with INCRBY/HINCRBY in one MULTI block and keeps
// each key alive until its window closes plus the grace period.
func (s *Store) IncrUsage(ctx context.Context, profileID string, at time.Time, delta governor.Usage) error {
	if delta.IsZero() {
		return nil
	}
	dayKey := usageDayKey(profileID, governor.DayKey(at))
	hourKey := usageHourKey(profileID, governor.HourKey(at))

	pipe := s.client.TxPipeline()
	if delta.PostsToday != 0 {
		pipe.HIncrBy(ctx, dayKey, fieldPosts, delta.PostsToday)
	}
	if delta.RepliesToday != 0 {
		pipe.HIncrBy(ctx, dayKey, fieldReplies, delta.RepliesToday)
	}
	if delta.BulkOperationsToday != 0 {
		pipe.HIncrBy(ctx, dayKey, fieldBulk, delta.BulkOperationsToday)
	}
	if delta.PostsToday != 0 || delta.RepliesToday != 0 || delta.BulkOperationsToday != 0 {
		pipe.Expire(ctx, dayKey, governor.NextDay(at).Sub(at)+s.grace)
	}
	if delta.RequestsThisHour != 0 {
		pipe.IncrBy(ctx, hourKey, delta.RequestsThisHour)
		pipe.Expire(ctx, hourKey, governor.NextHour(at).Sub(at)+s.grace)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: incr usage: %w", err)
	}
	return nil
}

func parseCount(v string) int64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
