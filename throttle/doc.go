// Package throttle paces publisher calls per profile on the local node.
//
// The governor enforces the platform's daily and hourly quotas; throttle
// smooths the request stream underneath them so a burst of due jobs for
// one profile does not hit the platform in the same second.
//
// # Configuration
//
// [Config] applies to every profile without an override; [ProfileConfig]
// overrides it for one profile:
//
//	m := throttle.NewManager(throttle.Config{
//	    RequestsPerSecond: 1,   // sustained publisher calls per profile
//	    Burst:             3,   // token-bucket burst
//	    MaxConcurrency:    2,   // jobs in flight per profile
//	})
//	m.SetProfileConfig(throttle.ProfileConfig{ProfileID: "acme", MaxConcurrency: 1})
//
// # Manager
//
// [Manager.Acquire] is a non-blocking concurrency gate checked when a job is
// picked up; a job that cannot acquire a slot is deferred. [Manager.Wait]
// blocks before each publisher call until the profile's token bucket
// (golang.org/x/time/rate) admits it.
//
//	if m.Acquire(profileID) {
//	    defer m.Release(profileID)
//	    if err := m.Wait(ctx, profileID); err != nil { ... }
//	    // call the publisher
//	}
//
// A zero Config imposes no limits.
package throttle
