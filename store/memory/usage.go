package memory

import (
	"context"
	"time"

	"github.com/xraph/courier/governor"
)

// Usage returns the profile's counters for the day and hour containing at.
func (m *Store) Usage(_ context.Context, profileID string, at time.Time) (governor.Usage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var u governor.Usage
	if d, ok := m.daily[profileID+"|"+governor.DayKey(at)]; ok {
		u.PostsToday = d.posts
		u.RepliesToday = d.replies
		u.BulkOperationsToday = d.bulk
	}
	u.RequestsThisHour = m.hourly[profileID+"|"+governor.HourKey(at)]
	return u, nil
}

// IncrUsage adds delta to the profile's counters.
func (m *Store) IncrUsage(_ context.Context, profileID string, at time.Time, delta governor.Usage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := profileID + "|" + governor.DayKey(at)
	d, ok := m.daily[key]
	if !ok {
		d = &dailyUsage{}
		m.daily[key] = d
	}
	d.posts += delta.PostsToday
	d.replies += delta.RepliesToday
	d.bulk += delta.BulkOperationsToday
	m.hourly[profileID+"|"+governor.HourKey(at)] += delta.RequestsThisHour
	return nil
}
