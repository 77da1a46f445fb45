package remoteprovider

import (
	"context"
	"iter"
	"log/slog"

	"github.com/Strob0t/feedbacksync/internal/resilience"
)

// Bound is a Provider whose optional capabilities have been resolved once.
// Core calls go through an optional circuit breaker; metadata field refreshes
// do not, since their failures are expected and must not trip it.
type Bound struct {
	p        Provider
	caps     Capabilities
	streamer Streamer
	counter  Counter
	content  ContentFetcher
	breaker  *resilience.Breaker
}

// Bind resolves the capabilities of p. A capability is enabled only when the
// provider both declares it and implements the matching interface.
// breaker may be nil.
func Bind(p Provider, breaker *resilience.Breaker) *Bound {
	declared := p.Capabilities()
	b := &Bound{p: p, breaker: breaker}

	if s, ok := p.(Streamer); ok && declared.Streaming {
		b.streamer = s
		b.caps.Streaming = true
	}
	if c, ok := p.(Counter); ok && declared.Countable {
		b.counter = c
		b.caps.Countable = true
	}
	if f, ok := p.(ContentFetcher); ok && declared.LazyContent {
		b.content = f
		b.caps.LazyContent = true
	}

	if b.caps != declared {
		slog.Warn("provider declares capabilities it does not implement",
			"provider", p.Name(), "declared", declared, "resolved", b.caps)
	}
	return b
}

// Name returns the provider name.
func (b *Bound) Name() string { return b.p.Name() }

// Capabilities returns the resolved capabilities.
func (b *Bound) Capabilities() Capabilities { return b.caps }

func (b *Bound) guard(ctx context.Context, fn func(ctx context.Context) error) error {
	if b.breaker == nil {
		return fn(ctx)
	}
	return b.breaker.Do(ctx, fn)
}

// PushPost pushes one post through the breaker.
func (b *Bound) PushPost(ctx context.Context, data *PostSyncData, existingRemoteID string) (*PushResult, error) {
	var res *PushResult
	err := b.guard(ctx, func(ctx context.Context) error {
		var err error
		res, err = b.p.PushPost(ctx, data, existingRemoteID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Count returns the number of pending changes, or nil when the provider
// cannot count.
func (b *Bound) Count(ctx context.Context, since string) (*int, error) {
	if b.counter == nil {
		return nil, nil
	}
	var n int
	err := b.guard(ctx, func(ctx context.Context) error {
		var err error
		n, err = b.counter.CountChanges(ctx, since)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// Changes returns the changes since the cursor as a single-use sequence.
// Streaming providers are iterated natively, with the whole listing counted
// as one breaker call; others are pulled into memory first and replayed.
func (b *Bound) Changes(ctx context.Context, since string) iter.Seq2[Change, error] {
	if b.streamer != nil {
		return func(yield func(Change, error) bool) {
			stopped := false
			err := b.guard(ctx, func(ctx context.Context) error {
				for c, err := range b.streamer.StreamChanges(ctx, since) {
					if err != nil {
						return err
					}
					if !yield(c, nil) {
						stopped = true
						return nil
					}
				}
				return nil
			})
			if err != nil && !stopped {
				yield(Change{}, err)
			}
		}
	}
	return func(yield func(Change, error) bool) {
		var changes []Change
		err := b.guard(ctx, func(ctx context.Context) error {
			var err error
			changes, err = b.p.PullChanges(ctx, since)
			return err
		})
		if err != nil {
			yield(Change{}, err)
			return
		}
		for _, c := range changes {
			if !yield(c, nil) {
				return
			}
		}
	}
}

// Hydrate loads the content of a change that was listed without it.
func (b *Bound) Hydrate(ctx context.Context, remoteID string) (string, error) {
	if b.content == nil {
		return "", ErrNotSupported
	}
	var content string
	err := b.guard(ctx, func(ctx context.Context) error {
		var err error
		content, err = b.content.FetchContent(ctx, remoteID)
		return err
	})
	return content, err
}

// UpdateCommentsField refreshes the remote comment counter.
func (b *Bound) UpdateCommentsField(ctx context.Context, remoteID string, count int, tenantURL, postPath string) error {
	return b.p.UpdateCommentsField(ctx, remoteID, count, tenantURL, postPath)
}

// UpdateLikesField refreshes the remote like counter.
func (b *Bound) UpdateLikesField(ctx context.Context, remoteID string, count int) error {
	return b.p.UpdateLikesField(ctx, remoteID, count)
}
