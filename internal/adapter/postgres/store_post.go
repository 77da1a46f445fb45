package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/feedbacksync/internal/domain/mapping"
	"github.com/Strob0t/feedbacksync/internal/domain/post"
)

const postColumns = `id, tenant_id, board_id, title, description, status_id, tags, slug, source_label,
	approved, comment_count, like_count, created_at, updated_at`

func scanPost(row scannable) (post.Post, error) {
	var p post.Post
	err := row.Scan(&p.ID, &p.TenantID, &p.BoardID, &p.Title, &p.Description, &p.StatusID, &p.Tags, &p.Slug,
		&p.SourceLabel, &p.Approved, &p.CommentCount, &p.LikeCount, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *Store) ListPostsByBoards(ctx context.Context, tenantID string, boardIDs []string) ([]post.Post, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+postColumns+` FROM posts
		 WHERE tenant_id = $1 AND board_id = ANY($2::uuid[])
		 ORDER BY created_at, id`,
		tenantID, pgTextArray(boardIDs))
	if err != nil {
		return nil, fmt.Errorf("list posts by boards: %w", err)
	}
	defer rows.Close()

	var out []post.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetPost(ctx context.Context, id string) (*post.Post, error) {
	p, err := scanPost(s.pool.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get post %s", id)
	}
	return &p, nil
}

// ImportPost inserts a post pulled in from a remote change and its mapping
// in one transaction, so a post never exists without the mapping that stops
// the next run from importing it again.
func (s *Store) ImportPost(ctx context.Context, req *post.CreateRequest, link *mapping.UpsertRequest) (*post.Post, *mapping.Mapping, error) {
	var (
		p post.Post
		m mapping.Mapping
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		if p, err = insertPost(ctx, tx, req); err != nil {
			return err
		}
		l := *link
		l.LocalID = p.ID
		m, err = upsertMapping(ctx, tx, &l)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &p, &m, nil
}

// insertPost inserts a post. The slug is derived from the title and the new id.
func insertPost(ctx context.Context, q rowQuerier, req *post.CreateRequest) (post.Post, error) {
	id := uuid.New()
	createdAt := req.UpdatedAt
	if req.CreatedAt != nil {
		createdAt = *req.CreatedAt
	}

	row := q.QueryRow(ctx,
		`INSERT INTO posts (id, tenant_id, board_id, title, description, status_id, tags, slug, source_label,
		                    approved, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING `+postColumns,
		id, req.TenantID, req.BoardID, req.Title, req.Description, req.StatusID, pgTextArray(req.Tags),
		post.NewSlug(req.Title, id.String()[:8]), req.SourceLabel, req.Approved, createdAt, req.UpdatedAt)
	p, err := scanPost(row)
	if err != nil {
		return post.Post{}, conflictWrap(err, "create post")
	}
	return p, nil
}

// ApplyInboundUpdate overwrites the synced fields of a post. created_at is
// kept unless the remote carries a date.
func (s *Store) ApplyInboundUpdate(ctx context.Context, id string, upd *post.InboundUpdate) error {
	var createdAt any
	if upd.CreatedAt != nil {
		createdAt = *upd.CreatedAt
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE posts SET board_id = $2, title = $3, description = $4, status_id = $5, tags = $6,
		                  source_label = $7, created_at = COALESCE($8, created_at), updated_at = $9
		 WHERE id = $1`,
		id, upd.BoardID, upd.Title, upd.Description, upd.StatusID, pgTextArray(upd.Tags),
		upd.SourceLabel, createdAt, upd.UpdatedAt)
	return execExpectOne(tag, err, "apply inbound update %s", id)
}

func (s *Store) GetBoardSlug(ctx context.Context, boardID string) (string, error) {
	var slug string
	if err := s.pool.QueryRow(ctx, `SELECT slug FROM boards WHERE id = $1`, boardID).Scan(&slug); err != nil {
		return "", notFoundWrap(err, "get board %s", boardID)
	}
	return slug, nil
}
