package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/feedbacksync/internal/domain/integration"
	"github.com/Strob0t/feedbacksync/internal/port/database"
)

var (
	_ database.Store             = (*Store)(nil)
	_ database.ProvisioningStore = (*Store)(nil)
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Integrations ---

const integrationColumns = `i.id, i.tenant_id, i.type, i.enabled, i.encrypted_credentials, i.config,
	i.sync_direction, i.last_sync_cursor, i.last_sync_at, t.base_url, i.created_at, i.updated_at`

const integrationFrom = `FROM integrations i JOIN tenants t ON t.id = i.tenant_id`

func scanIntegration(row scannable) (integration.Integration, error) {
	var in integration.Integration
	var cfgJSON []byte
	err := row.Scan(&in.ID, &in.TenantID, &in.Type, &in.Enabled, &in.EncryptedCredentials, &cfgJSON,
		&in.SyncDirection, &in.LastSyncCursor, &in.LastSyncAt, &in.TenantURL, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return in, err
	}
	if len(cfgJSON) > 0 {
		if err := json.Unmarshal(cfgJSON, &in.Config); err != nil {
			return in, fmt.Errorf("decode integration config: %w", err)
		}
	}
	return in, nil
}

func (s *Store) GetIntegration(ctx context.Context, id string) (*integration.Integration, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+integrationColumns+` `+integrationFrom+` WHERE i.id = $1`, id)
	in, err := scanIntegration(row)
	if err != nil {
		return nil, notFoundWrap(err, "get integration %s", id)
	}
	return &in, nil
}

func (s *Store) ListEnabledIntegrations(ctx context.Context) ([]integration.Integration, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+integrationColumns+` `+integrationFrom+`
		 WHERE i.enabled AND t.enabled ORDER BY i.id`)
	if err != nil {
		return nil, fmt.Errorf("list enabled integrations: %w", err)
	}
	defer rows.Close()

	var out []integration.Integration
	for rows.Next() {
		in, err := scanIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan integration: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *Store) UpdateSyncCursor(ctx context.Context, id, cursor string, syncedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE integrations SET last_sync_cursor = $2, last_sync_at = $3, updated_at = now() WHERE id = $1`,
		id, cursor, syncedAt)
	return execExpectOne(tag, err, "update sync cursor %s", id)
}

// CreateIntegration inserts an integration. Credentials must already be sealed.
func (s *Store) CreateIntegration(ctx context.Context, in *integration.Integration) (*integration.Integration, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	cfgJSON, err := jsonObject(in.Config)
	if err != nil {
		return nil, fmt.Errorf("marshal integration config: %w", err)
	}

	var id string
	err = s.pool.QueryRow(ctx,
		`INSERT INTO integrations (tenant_id, type, enabled, encrypted_credentials, config, sync_direction)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		in.TenantID, in.Type, in.Enabled, in.EncryptedCredentials, cfgJSON, in.SyncDirection,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("create integration: %w", err)
	}
	return s.GetIntegration(ctx, id)
}
