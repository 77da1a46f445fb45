package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Strob0t/feedbacksync/internal/domain/mapping"
)

const mappingColumns = `id, integration_id, local_type, local_id, remote_id, remote_url, sync_status,
	last_sync_at, last_error, metadata, created_at, updated_at`

func scanMapping(row scannable) (mapping.Mapping, error) {
	var m mapping.Mapping
	var metaJSON []byte
	err := row.Scan(&m.ID, &m.IntegrationID, &m.LocalType, &m.LocalID, &m.RemoteID, &m.RemoteURL, &m.SyncStatus,
		&m.LastSyncAt, &m.LastError, &metaJSON, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return m, err
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &m.Metadata); err != nil {
			return m, fmt.Errorf("decode mapping metadata: %w", err)
		}
	}
	return m, nil
}

func (s *Store) GetMappingByLocal(ctx context.Context, integrationID, localType, localID string) (*mapping.Mapping, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+mappingColumns+` FROM sync_mappings
		 WHERE integration_id = $1 AND local_type = $2 AND local_id = $3`,
		integrationID, localType, localID)
	m, err := scanMapping(row)
	if err != nil {
		return nil, notFoundWrap(err, "get mapping for %s %s", localType, localID)
	}
	return &m, nil
}

func (s *Store) GetMappingByRemote(ctx context.Context, integrationID, remoteID string) (*mapping.Mapping, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+mappingColumns+` FROM sync_mappings WHERE integration_id = $1 AND remote_id = $2`,
		integrationID, remoteID)
	m, err := scanMapping(row)
	if err != nil {
		return nil, notFoundWrap(err, "get mapping for remote %s", remoteID)
	}
	return &m, nil
}

// UpsertMapping records a successful sync in one statement. The row is keyed
// by (integration, local type, local id); metadata is only written on
// insert. A remote id already mapped to another local entity is reported as
// domain.ErrConflict.
func (s *Store) UpsertMapping(ctx context.Context, req *mapping.UpsertRequest) (*mapping.Mapping, error) {
	m, err := upsertMapping(ctx, s.pool, req)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func upsertMapping(ctx context.Context, q rowQuerier, req *mapping.UpsertRequest) (mapping.Mapping, error) {
	metaJSON, err := jsonObject(req.Metadata)
	if err != nil {
		return mapping.Mapping{}, fmt.Errorf("marshal mapping metadata: %w", err)
	}

	row := q.QueryRow(ctx,
		`INSERT INTO sync_mappings (integration_id, local_type, local_id, remote_id, remote_url,
		                            sync_status, last_sync_at, last_error, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, '', $8, $7, $7)
		 ON CONFLICT (integration_id, local_type, local_id) DO UPDATE SET
		     remote_id    = EXCLUDED.remote_id,
		     remote_url   = EXCLUDED.remote_url,
		     sync_status  = EXCLUDED.sync_status,
		     last_sync_at = EXCLUDED.last_sync_at,
		     last_error   = '',
		     updated_at   = EXCLUDED.updated_at
		 RETURNING `+mappingColumns,
		req.IntegrationID, req.LocalType, req.LocalID, req.RemoteID, req.RemoteURL,
		mapping.StatusSynced, req.SyncedAt, metaJSON)
	m, err := scanMapping(row)
	if err != nil {
		return mapping.Mapping{}, conflictWrap(err, "upsert mapping %s %s", req.LocalType, req.LocalID)
	}
	return m, nil
}

func (s *Store) SetMappingStatus(ctx context.Context, id string, status mapping.Status, lastError string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_mappings SET sync_status = $2, last_error = $3, updated_at = now() WHERE id = $1`,
		id, status, lastError)
	return execExpectOne(tag, err, "set mapping status %s", id)
}

// ListMappings returns the mappings of an integration, optionally filtered
// by status, most recently updated first.
func (s *Store) ListMappings(ctx context.Context, integrationID string, status mapping.Status) ([]mapping.Mapping, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+mappingColumns+` FROM sync_mappings
		 WHERE integration_id = $1 AND ($2 = '' OR sync_status = $2)
		 ORDER BY updated_at DESC`,
		integrationID, string(status))
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	var out []mapping.Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
