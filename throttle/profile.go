package throttle

// ProfileConfig overrides the default Config for one profile.
type ProfileConfig struct {
	// ProfileID is the social profile the override applies to.
	ProfileID string

	RequestsPerSecond float64
	Burst             int
	MaxConcurrency    int
}

// SetProfileConfig configures one profile. Calling this multiple times for
// the same profile replaces the previous configuration.
func (m *Manager) SetProfileConfig(cfg ProfileConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := Config{
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		MaxConcurrency:    cfg.MaxConcurrency,
	}
	m.overrides[cfg.ProfileID] = c

	ps := newProfileState(c)
	// Preserve current active count if reconfiguring.
	if existing := m.profiles[cfg.ProfileID]; existing != nil {
		ps.active = existing.active
	}
	m.profiles[cfg.ProfileID] = ps
}
