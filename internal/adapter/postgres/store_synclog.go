package postgres

import (
	"context"
	"fmt"

	"github.com/Strob0t/feedbacksync/internal/domain/synclog"
)

// AppendSyncLog inserts one audit entry. Entries are never updated.
func (s *Store) AppendSyncLog(ctx context.Context, e *synclog.Entry) error {
	details := []byte(e.Details)
	if len(details) == 0 {
		details = []byte("{}")
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sync_logs (integration_id, sync_run_id, mapping_id, direction, status, message, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, now()))
		 RETURNING id, created_at`,
		e.IntegrationID, e.SyncRunID, nullIfEmpty(e.MappingID), e.Direction, e.Status, e.Message, details,
		nullTime(e.CreatedAt),
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append sync log: %w", err)
	}
	return nil
}

// ListSyncLogs returns the entries of an integration in write order,
// optionally restricted to one run. limit <= 0 means no limit.
func (s *Store) ListSyncLogs(ctx context.Context, integrationID, runID string, limit int) ([]synclog.Entry, error) {
	q := `SELECT id, integration_id, sync_run_id, COALESCE(mapping_id::text, ''), direction, status, message, details, created_at
	      FROM sync_logs WHERE integration_id = $1 AND ($2 = '' OR sync_run_id = $2)
	      ORDER BY seq`
	args := []any{integrationID, runID}
	if limit > 0 {
		q += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list sync logs: %w", err)
	}
	defer rows.Close()

	var out []synclog.Entry
	for rows.Next() {
		var e synclog.Entry
		var details []byte
		if err := rows.Scan(&e.ID, &e.IntegrationID, &e.SyncRunID, &e.MappingID, &e.Direction, &e.Status,
			&e.Message, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan sync log: %w", err)
		}
		if string(details) != "{}" {
			e.Details = details
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
