// Package audithook is a Courier extension that bridges pipeline events
// to an append-only audit trail.
//
// Every admission and pipeline hook emits a structured audit event through
// the [Recorder] interface: who submitted what for which profile, why a
// submission was refused, and how each job ended. Severity is info for
// normal operations, warning for retries and throttling, and critical for
// terminal failures.
//
// # Usage
//
//	eng, _ := engine.Build(c,
//	    engine.WithExtension(audithook.New(audithook.RecorderFunc(
//	        func(ctx context.Context, evt *audithook.AuditEvent) error {
//	            return trail.Append(ctx, evt)
//	        },
//	    ))),
//	)
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobRejected,
//	        audithook.ActionJobFailed,
//	        audithook.ActionJobDLQ,
//	    ),
//	)
package audithook
