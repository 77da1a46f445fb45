// Package batch runs work items through a processor with bounded
// concurrency, settling each batch completely before starting the next.
package batch

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/feedbacksync/internal/domain/syncrun"
)

// Options configures one Run.
type Options[T any] struct {
	// Concurrency is both the buffer size and the in-flight bound.
	Concurrency int
	Phase       syncrun.Phase
	// Total is the determinate item count, nil while unknown.
	Total      *int
	OnProgress syncrun.ProgressFunc
	// Prepare, if set, is called with each full or final buffer before its
	// items are processed. It may modify items in place.
	Prepare func(ctx context.Context, items []T)
}

// Processor handles one item. Processors report failures through the
// returned Result; they never cancel their batch-mates.
type Processor[T any] func(ctx context.Context, item T) syncrun.Result

// Run consumes src once, processing up to opts.Concurrency items at a time.
// Progress is reported once per item after its batch settles, with current
// counting up from 1 in buffer order. A source error stops enumeration after
// the already buffered items are flushed and is returned with the totals.
// Cancelling ctx stops enumeration too; buffered items are then dropped
// unprocessed and the context error is returned as the source error.
func Run[T any](ctx context.Context, src iter.Seq2[T, error], opts Options[T], process Processor[T]) (syncrun.Result, error) {
	size := max(opts.Concurrency, 1)
	r := &runner[T]{opts: opts, process: process}
	buf := make([]T, 0, size)

	var srcErr error
	for item, err := range src {
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			srcErr = err
			break
		}
		buf = append(buf, item)
		if len(buf) == size {
			r.flush(ctx, buf)
			buf = buf[:0]
		}
	}
	if err := ctx.Err(); err != nil {
		buf = buf[:0]
		if srcErr == nil {
			srcErr = err
		}
	}
	if len(buf) > 0 {
		r.flush(ctx, buf)
	}

	if srcErr != nil {
		return r.total, fmt.Errorf("%s source: %w", opts.Phase, srcErr)
	}
	return r.total, nil
}

// Slice adapts an in-memory slice to the source sequence expected by Run.
func Slice[T any](items []T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, it := range items {
			if !yield(it, nil) {
				return
			}
		}
	}
}

type runner[T any] struct {
	opts    Options[T]
	process Processor[T]
	total   syncrun.Result
	current int
}

func (r *runner[T]) flush(ctx context.Context, items []T) {
	if r.opts.Prepare != nil {
		r.opts.Prepare(ctx, items)
	}

	results := make([]syncrun.Result, len(items))
	var g errgroup.Group
	for i := range items {
		g.Go(func() error {
			results[i] = r.safeProcess(ctx, items[i])
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		r.total.Add(res)
		r.current++
		syncrun.Notify(r.opts.OnProgress, syncrun.Progress{
			Phase:   r.opts.Phase,
			Current: r.current,
			Total:   clampTotal(r.opts.Total, r.current),
		})
	}
}

func (r *runner[T]) safeProcess(ctx context.Context, item T) (res syncrun.Result) {
	defer func() {
		if p := recover(); p != nil {
			slog.ErrorContext(ctx, "batch item panicked", "phase", r.opts.Phase, "panic", p)
			res = syncrun.Result{Errors: 1}
		}
	}()
	return r.process(ctx, item)
}

// clampTotal keeps a known total from falling behind current.
func clampTotal(total *int, current int) *int {
	if total == nil {
		return nil
	}
	n := max(*total, current)
	return &n
}
