// Package post contains the local feedback item that the sync engine reads
// and writes. Posts are owned by the host application.
package post

import (
	"regexp"
	"strings"
	"time"
)

// Post is a tenant's feedback item.
type Post struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	BoardID      string    `json:"board_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	StatusID     *string   `json:"status_id,omitempty"`
	Tags         []string  `json:"tags"`
	Slug         string    `json:"slug"`
	SourceLabel  string    `json:"source_label,omitempty"`
	Approved     bool      `json:"approved"`
	CommentCount int       `json:"comment_count"`
	LikeCount    int       `json:"like_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateRequest is the input for creating a post from an inbound change.
// UpdatedAt is set explicitly so it equals the mapping's LastSyncAt.
type CreateRequest struct {
	TenantID    string
	BoardID     string
	Title       string
	Description string
	StatusID    *string
	Tags        []string
	SourceLabel string
	Approved    bool
	CreatedAt   *time.Time
	UpdatedAt   time.Time
}

// InboundUpdate is the write-through of a remote change onto an existing post.
// CreatedAt is only applied when the remote carries a date.
type InboundUpdate struct {
	BoardID     string
	Title       string
	Description string
	StatusID    *string
	Tags        []string
	SourceLabel string
	CreatedAt   *time.Time
	UpdatedAt   time.Time
}

// Path returns the human readable deep link path of a post on its board.
func Path(boardSlug, postSlug string) string {
	return "/b/" + boardSlug + "/p/" + postSlug
}

var nonSlugChars = regexp.MustCompile("[^a-z0-9]+")

// NewSlug derives a URL slug from a title. suffix keeps slugs of posts with
// the same title distinct; an empty title yields the suffix alone.
func NewSlug(title, suffix string) string {
	s := strings.Trim(nonSlugChars.ReplaceAllString(strings.ToLower(title), "-"), "-")
	if len(s) > 60 {
		s = strings.TrimRight(s[:60], "-")
	}
	switch {
	case s == "":
		return suffix
	case suffix == "":
		return s
	}
	return s + "-" + suffix
}
