package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Sync run statuses.
const (
	SyncRunning  = "running"
	SyncComplete = "complete"
	SyncFailed   = "failed"
)

// SyncEntry is a row of lead_sync_log.
type SyncEntry struct {
	ID          int64          `json:"id"`
	Source      string         `json:"source"`
	Status      string         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Records     int64          `json:"records"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// SyncResult is recorded when a run completes.
type SyncResult struct {
	Records  int64
	Metadata map[string]any
}

// LastSuccess returns when the latest completed sync of source started,
// or nil if it never completed.
func (s *Store) LastSuccess(ctx context.Context, source string) (*time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT started_at FROM lead_sync_log
		 WHERE source = $1 AND status = 'complete'
		 ORDER BY started_at DESC LIMIT 1`,
		source,
	).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "store: last sync of %s", source)
	}
	return &t, nil
}

// StartSync records the start of a run and returns its id.
func (s *Store) StartSync(ctx context.Context, source string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO lead_sync_log (source, status, started_at)
		 VALUES ($1, 'running', now()) RETURNING id`,
		source,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "store: start sync of %s", source)
	}
	return id, nil
}

// CompleteSync marks run id complete.
func (s *Store) CompleteSync(ctx context.Context, id int64, res SyncResult) error {
	var meta []byte
	if res.Metadata != nil {
		var err error
		if meta, err = json.Marshal(res.Metadata); err != nil {
			return eris.Wrap(err, "store: marshal sync metadata")
		}
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE lead_sync_log
		 SET status = 'complete', completed_at = now(), records = $1, metadata = $2
		 WHERE id = $3`,
		res.Records, meta, id,
	)
	if err != nil {
		return eris.Wrapf(err, "store: complete sync %d", id)
	}
	return nil
}

// FailSync marks run id failed with msg.
func (s *Store) FailSync(ctx context.Context, id int64, msg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE lead_sync_log
		 SET status = 'failed', completed_at = now(), error = $1
		 WHERE id = $2`,
		msg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "store: fail sync %d", id)
	}
	return nil
}

// ListSyncs returns the latest limit runs, newest first.
func (s *Store) ListSyncs(ctx context.Context, limit int) ([]SyncEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, status, started_at, completed_at, records, error, metadata
		 FROM lead_sync_log ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: list syncs")
	}
	defer rows.Close()

	var out []SyncEntry
	for rows.Next() {
		var (
			e      SyncEntry
			errMsg *string
			meta   []byte
		)
		if err := rows.Scan(&e.ID, &e.Source, &e.Status, &e.StartedAt, &e.CompletedAt, &e.Records, &errMsg, &meta); err != nil {
			return nil, eris.Wrap(err, "store: scan sync entry")
		}
		if errMsg != nil {
			e.Error = *errMsg
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &e.Metadata)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
