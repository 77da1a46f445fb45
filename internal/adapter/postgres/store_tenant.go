package postgres

import (
	"context"
	"encoding/json"

	"github.com/Strob0t/feedbacksync/internal/domain/tenant"
)

// The host application owns tenants, boards and posts. These writers exist
// for provisioning and integration tests.

func (s *Store) CreateTenant(ctx context.Context, req tenant.CreateRequest) (*tenant.Tenant, error) {
	var t tenant.Tenant
	var settingsJSON []byte
	err := s.pool.QueryRow(ctx,
		`INSERT INTO tenants (name, slug, base_url) VALUES ($1, $2, $3)
		 RETURNING id, name, slug, base_url, enabled, settings, created_at, updated_at`,
		req.Name, req.Slug, req.BaseURL,
	).Scan(&t.ID, &t.Name, &t.Slug, &t.BaseURL, &t.Enabled, &settingsJSON, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, conflictWrap(err, "create tenant")
	}
	if settingsJSON != nil {
		_ = json.Unmarshal(settingsJSON, &t.Settings)
	}
	return &t, nil
}

// CreateBoard inserts a board and returns its id.
func (s *Store) CreateBoard(ctx context.Context, tenantID, name, slug string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO boards (tenant_id, name, slug) VALUES ($1, $2, $3) RETURNING id`,
		tenantID, name, slug,
	).Scan(&id)
	if err != nil {
		return "", conflictWrap(err, "create board %s", slug)
	}
	return id, nil
}

// SetPostCounters sets the comment and like counts of a post.
func (s *Store) SetPostCounters(ctx context.Context, id string, comments, likes int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE posts SET comment_count = $2, like_count = $3 WHERE id = $1`, id, comments, likes)
	return execExpectOne(tag, err, "set post counters %s", id)
}
