// Package remoteprovider defines the port interface for external services that
// posts are synchronized with (workspace databases, issue trackers, ...).
//
// Every provider implements Provider. Streaming pulls, change counting and
// lazy content loading are optional capabilities: a provider declares them in
// Capabilities and implements the matching interface. Bind resolves them once
// per run so the sync engine never inspects a provider at call sites.
package remoteprovider

import (
	"context"
	"errors"
	"iter"
	"time"
)

// ErrNotSupported is returned when a provider does not support the requested operation.
var ErrNotSupported = errors.New("operation not supported by this provider")

// PostSyncData is the provider-agnostic payload pushed for one local post.
type PostSyncData struct {
	PostID       string    `json:"post_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	BoardID      string    `json:"board_id"`
	CategoryID   string    `json:"category_id,omitempty"` // remote category mapped from BoardID
	StatusID     string    `json:"status_id,omitempty"`
	RemoteStatus string    `json:"remote_status,omitempty"` // remote status mapped from StatusID
	Tags         []string  `json:"tags"`
	Slug         string    `json:"slug"`
	CreatedAt    time.Time `json:"created_at"`
	CommentCount int       `json:"comment_count"`
	LikeCount    int       `json:"like_count"`
	TenantURL    string    `json:"tenant_url"`
}

// PushResult is returned by a successful push.
type PushResult struct {
	RemoteID  string `json:"remote_id"`
	RemoteURL string `json:"remote_url,omitempty"`
}

// Change is one remote item changed since a cursor. A nil Description means
// the content was not delivered inline and must be fetched lazily.
type Change struct {
	RemoteID         string     `json:"remote_id"`
	RemoteURL        string     `json:"remote_url"`
	Title            string     `json:"title"`
	Description      *string    `json:"description,omitempty"`
	LastEditedTime   time.Time  `json:"last_edited_time"`
	BoardCategoryID  string     `json:"board_category_id,omitempty"`
	StatusCategoryID string     `json:"status_category_id,omitempty"`
	Tags             []string   `json:"tags,omitempty"`
	Date             *time.Time `json:"date,omitempty"`
}

// Capabilities declares the optional operations a provider supports.
type Capabilities struct {
	Streaming   bool `json:"streaming"`    // implements Streamer
	Countable   bool `json:"countable"`    // implements Counter
	LazyContent bool `json:"lazy_content"` // implements ContentFetcher
}

// Provider is the port interface for remote services.
type Provider interface {
	// Name returns the provider identifier (e.g., "github-issues").
	Name() string

	// Capabilities returns the optional operations this provider supports.
	Capabilities() Capabilities

	// PushPost creates the remote item, or updates existingRemoteID when set.
	PushPost(ctx context.Context, data *PostSyncData, existingRemoteID string) (*PushResult, error)

	// PullChanges returns every remote item changed since the cursor.
	// An empty cursor means a full pull.
	PullChanges(ctx context.Context, since string) ([]Change, error)

	// UpdateCommentsField refreshes the remote comment counter and deep link.
	UpdateCommentsField(ctx context.Context, remoteID string, count int, tenantURL, postPath string) error

	// UpdateLikesField refreshes the remote like counter.
	UpdateLikesField(ctx context.Context, remoteID string, count int) error
}

// Streamer is implemented by providers that page through changes lazily.
type Streamer interface {
	StreamChanges(ctx context.Context, since string) iter.Seq2[Change, error]
}

// Counter is implemented by providers that can count pending changes up front.
type Counter interface {
	CountChanges(ctx context.Context, since string) (int, error)
}

// ContentFetcher is implemented by providers whose listings omit heavy content.
type ContentFetcher interface {
	FetchContent(ctx context.Context, remoteID string) (string, error)
}
