package natskv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/feedbacksync/internal/port/synclock"
)

// lockKV is the part of jetstream.KeyValue the locker needs.
type lockKV interface {
	Create(ctx context.Context, key string, value []byte, opts ...jetstream.KVCreateOpt) (uint64, error)
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
	Delete(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error
}

// Locker implements synclock.Locker on a KV bucket. Create only succeeds when
// the key is absent, which makes it a cluster-wide try-lock. A held lock is
// rewritten every refresh interval so it outlives the bucket TTL; the TTL only
// expires locks of crashed holders.
type Locker struct {
	kv      lockKV
	holder  string
	refresh time.Duration
}

// NewLocker creates a Locker on a bucket opened with ttl. holder identifies
// this instance in lock values.
func NewLocker(kv jetstream.KeyValue, holder string, ttl time.Duration) *Locker {
	return newLocker(kv, holder, ttl/3)
}

func newLocker(kv lockKV, holder string, refresh time.Duration) *Locker {
	return &Locker{kv: kv, holder: holder, refresh: refresh}
}

// Acquire takes the lock for key or returns synclock.ErrHeld.
func (l *Locker) Acquire(ctx context.Context, key string) (synclock.Release, error) {
	rev, err := l.kv.Create(ctx, key, []byte(l.holder))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return nil, synclock.ErrHeld
		}
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}

	h := &heldLock{kv: l.kv, key: key, holder: l.holder, rev: rev, stop: make(chan struct{}), done: make(chan struct{})}
	go h.keepAlive(context.WithoutCancel(ctx), l.refresh)
	return h.release, nil
}

type heldLock struct {
	kv     lockKV
	key    string
	holder string
	rev    uint64

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

// keepAlive rewrites the key at its current revision until stopped. A failed
// update means the lock already expired; renewal stops and the final delete
// is rejected on revision.
func (h *heldLock) keepAlive(ctx context.Context, every time.Duration) {
	defer close(h.done)
	if every <= 0 {
		<-h.stop
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			rev, err := h.kv.Update(ctx, h.key, []byte(h.holder), h.rev)
			if err != nil {
				slog.Warn("renew lock failed", "key", h.key, "error", err)
				<-h.stop
				return
			}
			h.rev = rev
		}
	}
}

func (h *heldLock) release(ctx context.Context) error {
	h.once.Do(func() { close(h.stop) })
	<-h.done

	err := h.kv.Delete(ctx, h.key, jetstream.LastRevision(h.rev))
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		slog.Warn("release lock failed", "key", h.key, "error", err)
		return fmt.Errorf("release lock %s: %w", h.key, err)
	}
	return nil
}
