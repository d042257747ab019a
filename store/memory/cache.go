package memory

import (
	"context"
	"time"
)

// ReserveFingerprint stores holder under key if no live entry exists.
func (m *Store) ReserveFingerprint(_ context.Context, key, holder string, ttl time.Duration) (bool, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.fingerprints[key]; ok && now.Before(e.expiresAt) {
		return false, e.holder, nil
	}
	m.fingerprints[key] = fingerprintEntry{holder: holder, expiresAt: now.Add(ttl)}
	return true, holder, nil
}

// RememberFingerprint stores holder under key, replacing any entry.
func (m *Store) RememberFingerprint(_ context.Context, key, holder string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fingerprints[key] = fingerprintEntry{holder: holder, expiresAt: m.now().Add(ttl)}
	return nil
}

// LookupFingerprint returns the live holder of key.
func (m *Store) LookupFingerprint(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.fingerprints[key]
	if !ok || !m.now().Before(e.expiresAt) {
		return "", false, nil
	}
	return e.holder, true, nil
}

// ReleaseFingerprint deletes key if holder still owns it.
func (m *Store) ReleaseFingerprint(_ context.Context, key, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.fingerprints[key]; ok && e.holder == holder {
		delete(m.fingerprints, key)
	}
	return nil
}

// PurgeFingerprints deletes entries that expired before the given time.
func (m *Store) PurgeFingerprints(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for k, e := range m.fingerprints {
		if e.expiresAt.Before(before) {
			delete(m.fingerprints, k)
			n++
		}
	}
	return n, nil
}
