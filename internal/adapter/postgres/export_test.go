package postgres

import (
	"context"

	"github.com/Strob0t/feedbacksync/internal/domain/post"
)

// InsertPost inserts a post without a mapping, for test fixtures.
func (s *Store) InsertPost(ctx context.Context, req *post.CreateRequest) (*post.Post, error) {
	p, err := insertPost(ctx, s.pool, req)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
