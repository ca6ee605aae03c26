// Package concurrency bounds the parallel index reads of a search.
package concurrency

import (
	"context"
	"iter"

	"github.com/sourcegraph/conc/pool"
)

// NewPool returns a new pool where each task respects context cancellation.
// Wait() will only return the first error seen.
func NewPool(ctx context.Context, maxGoroutines int) *pool.ContextPool {
	return pool.New().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(maxGoroutines)
}

// ForEachUnique calls fn once for every distinct key of keys, running at most
// maxGoroutines calls at once. The first error cancels the context of the
// calls still running and is returned.
func ForEachUnique[K comparable](ctx context.Context, maxGoroutines int, keys iter.Seq[K], fn func(context.Context, K) error) error {
	seen := map[K]struct{}{}
	p := NewPool(ctx, maxGoroutines)
	for key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		p.Go(func(ctx context.Context) error {
			return fn(ctx, key)
		})
	}
	return p.Wait()
}
