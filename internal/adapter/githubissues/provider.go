// Package githubissues implements a remoteprovider.Provider for GitHub Issues
// using the gh CLI.
package githubissues

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/Strob0t/feedbacksync/internal/port/remoteprovider"
)

const providerName = "github-issues"

// pageSize is the per_page of the REST issue listing; gh --paginate follows
// the Link headers until the last page.
const pageSize = 100

// Provider implements remoteprovider.Provider for GitHub Issues via the gh CLI.
type Provider struct {
	repo  string
	token string

	// execCommand is swappable for testing.
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// newProvider builds a provider from the decrypted integration config:
// "repo" (owner/repo, required) and "token" (optional, passed as GH_TOKEN).
func newProvider(cfg map[string]string) (*Provider, error) {
	repo := cfg["repo"]
	if err := validateRepo(repo); err != nil {
		return nil, err
	}
	return &Provider{repo: repo, token: cfg["token"], execCommand: exec.CommandContext}, nil
}

func (p *Provider) Name() string { return providerName }

// Capabilities: issues are paged in with their bodies; gh cannot count them
// without listing.
func (p *Provider) Capabilities() remoteprovider.Capabilities {
	return remoteprovider.Capabilities{Streaming: true}
}

// ghIssue mirrors one element of the REST issue listing.
type ghIssue struct {
	Number      int             `json:"number"`
	Title       string          `json:"title"`
	Body        string          `json:"body"`
	State       string          `json:"state"`
	Labels      []ghLabel       `json:"labels"`
	URL         string          `json:"html_url"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	PullRequest json.RawMessage `json:"pull_request,omitempty"`
}

type ghLabel struct {
	Name string `json:"name"`
}

// command prepares a gh invocation carrying the token in its environment.
func (p *Provider) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := p.execCommand(ctx, "gh", args...)
	if p.token != "" {
		cmd.Env = append(os.Environ(), "GH_TOKEN="+p.token)
	}
	return cmd
}

func (p *Provider) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := p.command(ctx, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("gh %s %s: %s: %w", args[0], args[1], strings.TrimSpace(stderr.String()), err)
	}
	return stdout.Bytes(), nil
}

// PushPost opens an issue for a new post or edits the mapped one. The board
// category and the post tags become labels.
func (p *Provider) PushPost(ctx context.Context, data *remoteprovider.PostSyncData, existingRemoteID string) (*remoteprovider.PushResult, error) {
	body := data.Description

	if existingRemoteID == "" {
		args := []string{"issue", "create", "--repo", p.repo, "--title", data.Title, "--body", body}
		for _, l := range issueLabels(data) {
			args = append(args, "--label", l)
		}
		out, err := p.run(ctx, args...)
		if err != nil {
			return nil, err
		}
		url := strings.TrimSpace(string(out))
		number, err := numberFromURL(url)
		if err != nil {
			return nil, err
		}
		return &remoteprovider.PushResult{RemoteID: number, RemoteURL: url}, nil
	}

	args := []string{"issue", "edit", existingRemoteID, "--repo", p.repo, "--title", data.Title, "--body", body}
	for _, l := range issueLabels(data) {
		args = append(args, "--add-label", l)
	}
	if _, err := p.run(ctx, args...); err != nil {
		return nil, err
	}
	return &remoteprovider.PushResult{
		RemoteID:  existingRemoteID,
		RemoteURL: fmt.Sprintf("https://github.com/%s/issues/%s", p.repo, existingRemoteID),
	}, nil
}

// PullChanges lists every issue updated at or after the cursor. The cursor
// is an RFC 3339 timestamp; an empty cursor lists everything.
func (p *Provider) PullChanges(ctx context.Context, since string) ([]remoteprovider.Change, error) {
	var changes []remoteprovider.Change
	for c, err := range p.StreamChanges(ctx, since) {
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	return changes, nil
}

// StreamChanges pages through every issue updated at or after the cursor,
// oldest update first, yielding each as it is decoded. Pull requests, which
// the issues endpoint also returns, are skipped. The listing has no cap: a
// failure at any page is yielded as an error so the cursor is not advanced
// past issues that were never seen.
func (p *Provider) StreamChanges(ctx context.Context, since string) iter.Seq2[remoteprovider.Change, error] {
	return func(yield func(remoteprovider.Change, error) bool) {
		endpoint, err := p.issuesEndpoint(since)
		if err != nil {
			yield(remoteprovider.Change{}, err)
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		cmd := p.command(ctx, "api", "--paginate", endpoint)
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			yield(remoteprovider.Change{}, fmt.Errorf("gh api: %w", err))
			return
		}
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Start(); err != nil {
			yield(remoteprovider.Change{}, fmt.Errorf("gh api: %w", err))
			return
		}

		stopped := false
		decodeErr := decodePages(stdout, func(issue *ghIssue) bool {
			if issue.PullRequest != nil {
				return true
			}
			if !yield(issueToChange(issue), nil) {
				stopped = true
				return false
			}
			return true
		})
		if stopped {
			cancel()
			_ = stdout.Close()
			_ = cmd.Wait()
			return
		}
		if decodeErr != nil {
			cancel()
			_ = stdout.Close()
			_ = cmd.Wait()
			yield(remoteprovider.Change{}, fmt.Errorf("parse gh api output: %w", decodeErr))
			return
		}
		if err := cmd.Wait(); err != nil {
			yield(remoteprovider.Change{}, fmt.Errorf("gh api %s: %s: %w", endpoint, strings.TrimSpace(stderr.String()), err))
		}
	}
}

// issuesEndpoint builds the REST listing path for a cursor.
func (p *Provider) issuesEndpoint(since string) (string, error) {
	q := url.Values{}
	q.Set("state", "all")
	q.Set("sort", "updated")
	q.Set("direction", "asc")
	q.Set("per_page", strconv.Itoa(pageSize))
	if since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return "", fmt.Errorf("parse cursor %q: %w", since, err)
		}
		q.Set("since", t.UTC().Format(time.RFC3339))
	}
	return "repos/" + p.repo + "/issues?" + q.Encode(), nil
}

// decodePages reads the concatenated JSON arrays gh --paginate prints, one
// per page, and hands each element to fn until fn returns false.
func decodePages(r io.Reader, fn func(*ghIssue) bool) error {
	dec := json.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); !ok || d != '[' {
			return fmt.Errorf("expected a JSON array, got %v", tok)
		}
		for dec.More() {
			var issue ghIssue
			if err := dec.Decode(&issue); err != nil {
				return err
			}
			if !fn(&issue) {
				return nil
			}
		}
		if _, err := dec.Token(); err != nil {
			return err
		}
	}
}

// UpdateCommentsField is not supported: issues have no custom fields.
func (p *Provider) UpdateCommentsField(context.Context, string, int, string, string) error {
	return remoteprovider.ErrNotSupported
}

// UpdateLikesField is not supported: issues have no custom fields.
func (p *Provider) UpdateLikesField(context.Context, string, int) error {
	return remoteprovider.ErrNotSupported
}

func issueToChange(issue *ghIssue) remoteprovider.Change {
	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.Name)
	}

	body := issue.Body
	created := issue.CreatedAt
	c := remoteprovider.Change{
		RemoteID:         strconv.Itoa(issue.Number),
		RemoteURL:        issue.URL,
		Title:            issue.Title,
		Description:      &body,
		LastEditedTime:   issue.UpdatedAt,
		StatusCategoryID: strings.ToLower(issue.State),
		Tags:             labels,
	}
	if !created.IsZero() {
		c.Date = &created
	}
	// The first label carries the board category.
	if len(labels) > 0 {
		c.BoardCategoryID = labels[0]
	}
	return c
}

func issueLabels(data *remoteprovider.PostSyncData) []string {
	var labels []string
	if data.CategoryID != "" {
		labels = append(labels, data.CategoryID)
	}
	for _, t := range data.Tags {
		if t != "" && t != data.CategoryID {
			labels = append(labels, t)
		}
	}
	return labels
}

// numberFromURL extracts the issue number from the URL printed by
// `gh issue create`.
func numberFromURL(url string) (string, error) {
	i := strings.LastIndex(url, "/issues/")
	if i < 0 {
		return "", fmt.Errorf("unexpected gh issue create output %q", url)
	}
	number := url[i+len("/issues/"):]
	if _, err := strconv.Atoi(number); err != nil {
		return "", fmt.Errorf("unexpected gh issue create output %q", url)
	}
	return number, nil
}

func validateRepo(ref string) error {
	parts := strings.Split(ref, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("invalid repo %q: expected owner/repo", ref)
	}
	return nil
}
