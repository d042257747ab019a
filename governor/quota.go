package governor

import (
	"time"

	"github.com/xraph/courier/job"
)

// Quotas holds the per-profile limits. A zero limit disables that check.
type Quotas struct {
	PostsPerDay          int64 `json:"posts_per_day" yaml:"posts_per_day"`
	RepliesPerDay        int64 `json:"replies_per_day" yaml:"replies_per_day"`
	RequestsPerHour      int64 `json:"requests_per_hour" yaml:"requests_per_hour"`
	BulkOperationsPerDay int64 `json:"bulk_operations_per_day" yaml:"bulk_operations_per_day"`
}

// DefaultQuotas returns the platform's documented limits.
func DefaultQuotas() Quotas {
	return Quotas{
		PostsPerDay:          250,
		RepliesPerDay:        1000,
		RequestsPerHour:      200,
		BulkOperationsPerDay: 50,
	}
}

// Usage is a profile's consumption in the current day and hour windows.
// It doubles as the increment delta passed to [Counter.IncrUsage].
type Usage struct {
	PostsToday          int64 `json:"posts_today"`
	RepliesToday        int64 `json:"replies_today"`
	RequestsThisHour    int64 `json:"requests_this_hour"`
	BulkOperationsToday int64 `json:"bulk_operations_today"`
}

// IsZero reports whether every counter is zero.
func (u Usage) IsZero() bool { return u == Usage{} }

// Delta returns the counter increments for n successful publisher calls
// made by a job of the given kind.
func Delta(kind job.Kind, n int) Usage {
	if n <= 0 {
		return Usage{}
	}
	calls := int64(n)
	switch kind {
	case job.KindReply:
		return Usage{RepliesToday: calls, RequestsThisHour: calls}
	case job.KindBulkPublish:
		return Usage{PostsToday: calls, RequestsThisHour: calls, BulkOperationsToday: 1}
	default:
		return Usage{PostsToday: calls, RequestsThisHour: calls}
	}
}

// Cost returns the usage calls more publisher calls of a job of kind
// will add. started reports whether the job already published, in which
// case a bulk job has already counted its bulk operation.
func Cost(kind job.Kind, calls int, started bool) Usage {
	d := Delta(kind, calls)
	if started {
		d.BulkOperationsToday = 0
	}
	return d
}

// Admission returns the usage a job must fit before it starts. A thread
// needs room for every part not yet published, since its parts reply to
// each other. Other kinds need room for one call.
func Admission(kind job.Kind, p job.Payload, published int) Usage {
	if kind == job.KindThreadedPost {
		return Cost(kind, len(p.Thread)-published, published > 0)
	}
	return Cost(kind, 1, published > 0)
}

// DayKey returns the UTC calendar date a usage counter is keyed by.
func DayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

// HourKey returns the UTC hour an hourly counter is keyed by.
func HourKey(t time.Time) string { return t.UTC().Format("2006-01-02T15") }

// StartOfDay truncates t to UTC midnight.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// StartOfHour truncates t to the start of its UTC hour.
func StartOfHour(t time.Time) time.Time { return t.UTC().Truncate(time.Hour) }

// NextDay returns the next UTC midnight after t.
func NextDay(t time.Time) time.Time { return StartOfDay(t).AddDate(0, 0, 1) }

// NextHour returns the start of the UTC hour after t.
func NextHour(t time.Time) time.Time { return StartOfHour(t).Add(time.Hour) }
