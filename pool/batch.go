package pool

import (
	"context"

	"github.com/unkn0wn-root/tiercache/log"
)

// ProcessBatch runs fn over items and returns one Result per item, in input
// order regardless of completion order. A failed item carries a *TaskError
// and does not affect its siblings. There is no mid-batch cancellation: ctx
// only stops items that have not started yet.
func (p *Pool[T, R]) ProcessBatch(ctx context.Context, items []T, fn Task[T, R]) []Result[R] {
	return p.processBatch(ctx, items, fn, 0)
}

// ProcessBatched runs items in sequential chunks of batchSize and
// concatenates the results. batchSize <= 0 processes everything as one chunk.
func (p *Pool[T, R]) ProcessBatched(ctx context.Context, items []T, fn Task[T, R], batchSize int) []Result[R] {
	if batchSize <= 0 || batchSize >= len(items) {
		return p.ProcessBatch(ctx, items, fn)
	}
	out := make([]Result[R], 0, len(items))
	for off := 0; off < len(items); off += batchSize {
		end := min(off+batchSize, len(items))
		out = append(out, p.processBatch(ctx, items[off:end], fn, off)...)
	}
	return out
}

func (p *Pool[T, R]) processBatch(ctx context.Context, items []T, fn Task[T, R], offset int) []Result[R] {
	futures := make([]*Future[R], len(items))
	for i, it := range items {
		futures[i] = p.strategy.Submit(ctx, fn, it)
	}
	out := make([]Result[R], len(items))
	for i, f := range futures {
		r := f.Result()
		if r.Err != nil {
			r.Err = &TaskError{Index: offset + i, Err: r.Err}
			p.cfg.Logger.Debug("batch item failed", log.Fields{"index": offset + i, "err": r.Err})
		}
		out[i] = r
	}
	return out
}

// Successes returns the values of successful results in input order and the
// indices of the failed ones.
func Successes[R any](results []Result[R]) (values []R, failed []int) {
	values = make([]R, 0, len(results))
	for i, r := range results {
		if r.Err != nil {
			failed = append(failed, i)
			continue
		}
		values = append(values, r.Value)
	}
	return values, failed
}
