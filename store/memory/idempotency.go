package memory

import (
	"context"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/idempotency"
)

// LookupIdempotency returns the record for key.
func (m *Store) LookupIdempotency(_ context.Context, key string) (*idempotency.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.idempotency[key]
	if !ok {
		return nil, courier.ErrIdempotencyNotFound
	}
	cp := *rec
	return &cp, nil
}

// StoreIdempotency inserts rec unless an unexpired record exists.
func (m *Store) StoreIdempotency(_ context.Context, rec *idempotency.Record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.idempotency[rec.Key]; ok && !existing.Expired(rec.CreatedAt) {
		return false, nil
	}
	cp := *rec
	m.idempotency[rec.Key] = &cp
	return true, nil
}

// PurgeIdempotency deletes records that expired before the given time.
func (m *Store) PurgeIdempotency(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for k, rec := range m.idempotency {
		if rec.ExpiresAt.Before(before) {
			delete(m.idempotency, k)
			n++
		}
	}
	return n, nil
}
