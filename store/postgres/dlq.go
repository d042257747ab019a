package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/courier"
	"github.com/xraph/courier/dlq"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/job"
)

const dlqColumns = `
	id, job_id, kind, owner_id, profile_id, payload, fingerprint,
	idempotency_key, result, reason, attempts, max_retries,
	failed_at, replayed_at, created_at`

// PushDLQ adds a failed job entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("courier/postgres: encode dlq payload: %w", err)
	}
	var result any
	if entry.Result != nil {
		raw, mErr := json.Marshal(entry.Result)
		if mErr != nil {
			return fmt.Errorf("courier/postgres: encode dlq result: %w", mErr)
		}
		result = nullJSON(raw)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO courier_dlq (`+dlqColumns+`
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		entry.ID.String(), entry.JobID.String(), string(entry.Kind), entry.OwnerID, entry.ProfileID,
		payload, entry.Fingerprint, entry.IdempotencyKey, result, entry.Reason,
		entry.Attempts, entry.MaxRetries,
		entry.FailedAt.UTC(), entry.ReplayedAt, entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("courier/postgres: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries, newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT ` + dlqColumns + ` FROM courier_dlq WHERE TRUE`
	var args []any

	if opts.ProfileID != "" {
		args = append(args, opts.ProfileID)
		query += fmt.Sprintf(" AND profile_id = $%d", len(args))
	}

	query += " ORDER BY failed_at DESC"
	query, args = paginate(query, args, opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: list dlq: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*dlq.Entry, error) {
		return scanDLQEntry(row)
	})
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: list dlq: %w", err)
	}
	if entries == nil {
		entries = []*dlq.Entry{}
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+dlqColumns+` FROM courier_dlq WHERE id = $1`,
		entryID.String(),
	)
	e, err := scanDLQEntry(row)
	if err != nil {
		if isNoRows(err) {
			return nil, courier.ErrDLQNotFound
		}
		return nil, fmt.Errorf("courier/postgres: get dlq: %w", err)
	}
	return e, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE courier_dlq SET replayed_at = $2 WHERE id = $1`,
		entryID.String(), at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("courier/postgres: replay dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return courier.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes entries that failed before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM courier_dlq WHERE failed_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("courier/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM courier_dlq`).Scan(&n); err != nil {
		return 0, fmt.Errorf("courier/postgres: count dlq: %w", err)
	}
	return n, nil
}

func scanDLQEntry(row pgx.Row) (*dlq.Entry, error) {
	var (
		e                     dlq.Entry
		rawID, rawJobID, kind string
		payload, result       []byte
		replayedAt            *time.Time
	)

	err := row.Scan(
		&rawID, &rawJobID, &kind, &e.OwnerID, &e.ProfileID, &payload, &e.Fingerprint,
		&e.IdempotencyKey, &result, &e.Reason, &e.Attempts, &e.MaxRetries,
		&e.FailedAt, &replayedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if e.ID, err = id.ParseDLQID(rawID); err != nil {
		return nil, fmt.Errorf("courier/postgres: parse dlq id %q: %w", rawID, err)
	}
	if e.JobID, err = id.ParseJobID(rawJobID); err != nil {
		return nil, fmt.Errorf("courier/postgres: parse job id %q: %w", rawJobID, err)
	}
	e.Kind = job.Kind(kind)
	if err := json.Unmarshal(payload, &e.Payload); err != nil {
		return nil, fmt.Errorf("courier/postgres: decode dlq payload of %s: %w", rawID, err)
	}
	if len(result) > 0 {
		e.Result = &job.Result{}
		if err := json.Unmarshal(result, e.Result); err != nil {
			return nil, fmt.Errorf("courier/postgres: decode dlq result of %s: %w", rawID, err)
		}
	}

	e.FailedAt = e.FailedAt.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.ReplayedAt = utcPtr(replayedAt)
	return &e, nil
}
