package pool

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/unkn0wn-root/tiercache/log"
)

// threadStrategy runs each item on its own goroutine; a weighted semaphore
// admits at most MaxWorkers at a time.
type threadStrategy[T, R any] struct {
	cfg Config
	sem *semaphore.Weighted

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func newThreadStrategy[T, R any](cfg Config) *threadStrategy[T, R] {
	return &threadStrategy[T, R]{cfg: cfg, sem: semaphore.NewWeighted(int64(cfg.MaxWorkers))}
}

func (s *threadStrategy[T, R]) Submit(ctx context.Context, fn Task[T, R], item T) *Future[R] {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return failedFuture[R](ErrClosed)
	}
	s.wg.Add(1)
	s.mu.Unlock()

	f := newFuture[R]()
	go func() {
		defer s.wg.Done()
		if err := s.sem.Acquire(ctx, 1); err != nil {
			f.complete(Result[R]{Err: err})
			return
		}
		defer s.sem.Release(1)

		start := time.Now()
		r := call(ctx, fn, item)
		s.cfg.Recorder.Record("task", time.Since(start))
		if pe, ok := r.Err.(*PanicError); ok {
			s.cfg.Logger.Error("task panicked", log.Fields{"panic": pe.Value, "stack": string(pe.Stack)})
		}
		f.complete(r)
	}()
	return f
}

// Close stops admission and waits for submitted tasks to finish.
func (s *threadStrategy[T, R]) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}
