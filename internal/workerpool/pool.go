// Package workerpool runs independent units of work with bounded
// concurrency. A unit reports its own failures; only cancellation stops a
// batch early.
package workerpool

import (
	"context"
	"iter"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"
)

// Size bounds.
const (
	MinWorkers = 4
	MaxWorkers = 24
)

// Size returns the pool size for a run against systems recognition
// systems. A positive configured value wins; otherwise the size is
// clamp(systems*2, MinWorkers, MaxWorkers). Either way the result is capped
// at four workers per CPU.
func Size(configured, systems int) int {
	n := configured
	if n <= 0 {
		n = min(max(systems*2, MinWorkers), MaxWorkers)
	}
	return max(min(n, runtime.NumCPU()*4), 1)
}

// Pool runs units on at most Workers goroutines.
type Pool struct {
	workers int
}

// New creates a pool of the given size. Sizes below one mean one worker.
func New(workers int) *Pool {
	return &Pool{workers: max(workers, 1)}
}

// Workers returns the pool size.
func (p *Pool) Workers() int {
	return p.workers
}

// Each calls fn for every item and waits for all started calls to return.
// Items are not pulled from the sequence once ctx is done. The returned
// error is ctx.Err() when the batch was cut short, nil otherwise.
func Each[T any](ctx context.Context, p *Pool, items iter.Seq[T], fn func(context.Context, T)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for item := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			fn(gctx, item)
			return nil
		})
	}

	_ = g.Wait()
	return ctx.Err()
}

// EachSlice is Each over a slice.
func EachSlice[T any](ctx context.Context, p *Pool, items []T, fn func(context.Context, T)) error {
	return Each(ctx, p, slices.Values(items), fn)
}
