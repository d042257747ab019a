package throttle

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Config defines per-profile pacing and concurrency.
type Config struct {
	// RequestsPerSecond is the sustained rate of publisher calls. Zero
	// disables pacing.
	RequestsPerSecond float64

	// Burst is the token-bucket burst size. Defaults to 1 if
	// RequestsPerSecond is set but Burst is zero.
	Burst int

	// MaxConcurrency limits how many jobs of one profile may run at once
	// on the local pool. Zero means no limit.
	MaxConcurrency int
}

// profileState tracks runtime state for a single profile.
type profileState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager enforces per-profile pacing and concurrency. It is safe for
// concurrent use.
type Manager struct {
	mu        sync.Mutex
	defaults  Config
	overrides map[string]Config
	profiles  map[string]*profileState
}

// NewManager creates a Manager applying defaults to every profile without
// an override.
func NewManager(defaults Config) *Manager {
	return &Manager{
		defaults:  defaults,
		overrides: make(map[string]Config),
		profiles:  make(map[string]*profileState),
	}
}

func newProfileState(cfg Config) *profileState {
	ps := &profileState{config: cfg}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		ps.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return ps
}

// state returns the profile's state, creating it lazily. Caller holds mu.
func (m *Manager) state(profileID string) *profileState {
	ps := m.profiles[profileID]
	if ps == nil {
		cfg, ok := m.overrides[profileID]
		if !ok {
			cfg = m.defaults
		}
		ps = newProfileState(cfg)
		m.profiles[profileID] = ps
	}
	return ps
}

// Acquire reserves a concurrency slot for the profile. It never blocks.
// The caller MUST call Release when the job finishes.
func (m *Manager) Acquire(profileID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ps := m.state(profileID)
	if ps.config.MaxConcurrency > 0 && ps.active >= ps.config.MaxConcurrency {
		return false
	}
	ps.active++
	return true
}

// Release frees a slot taken by Acquire.
func (m *Manager) Release(profileID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ps := m.profiles[profileID]; ps != nil && ps.active > 0 {
		ps.active--
	}
}

// Allow reports whether a publisher call may be made right now, consuming
// a token if so.
func (m *Manager) Allow(profileID string) bool {
	m.mu.Lock()
	lim := m.state(profileID).limiter
	m.mu.Unlock()
	return lim == nil || lim.Allow()
}

// Wait blocks until the profile's token bucket admits a publisher call or
// ctx is done.
func (m *Manager) Wait(ctx context.Context, profileID string) error {
	m.mu.Lock()
	lim := m.state(profileID).limiter
	m.mu.Unlock()
	if lim == nil {
		return ctx.Err()
	}
	return lim.Wait(ctx)
}

// ActiveCount returns the number of in-flight jobs for a profile.
func (m *Manager) ActiveCount(profileID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ps := m.profiles[profileID]; ps != nil {
		return ps.active
	}
	return 0
}
