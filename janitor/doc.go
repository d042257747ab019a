// Package janitor runs Courier's periodic housekeeping: returning jobs
// abandoned by crashed workers to the queue, purging expired idempotency
// records and trimming old dead letter entries.
//
// Tasks are scheduled with standard 5-field cron expressions or
// descriptors such as "@every 30s" and "@daily".
//
//	j := janitor.New(logger)
//	_ = j.Add("reap", "@every 30s", janitor.ReapTask(eng))
//	_ = j.Add("purge-idempotency", "@hourly", janitor.PurgeIdempotencyTask(store, time.Now))
//	_ = j.Add("purge-dlq", "@daily", janitor.PurgeDLQTask(store, 30*24*time.Hour, time.Now))
//	_ = j.Start(ctx)
package janitor
