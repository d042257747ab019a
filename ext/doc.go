// Package ext defines the extension system for Courier.
//
// Extensions are notified of pipeline events and can react to them:
// recording metrics, publishing result notifications, writing audit logs.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    log.Printf("job %s published as %s in %s", j.ID, j.Result.RemoteID, elapsed)
//	    return nil
//	}
//
// # Admission Hooks
//
//   - [JobSubmitted]: job passed dedup and quota checks and was stored
//   - [JobRejected]: submission refused (duplicate content, quota exceeded)
//
// # Pipeline Hooks
//
//   - [JobStarted]: worker claimed the job
//   - [JobCompleted]: content was published
//   - [JobRetrying]: publish failed transiently, job rescheduled
//   - [JobRateLimited]: job parked until a quota window or throttle hint
//   - [JobFailed]: job failed terminally
//   - [JobCancelled]: job was cancelled
//   - [JobDLQ]: failed job was moved to the dead letter queue
//   - [JobReplayed]: a dead letter entry was resubmitted
//
// # Other Hooks
//
//   - [Shutdown]: the pipeline is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
