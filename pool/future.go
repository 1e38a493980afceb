package pool

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/cockroachdb/errors"
)

var (
	ErrClosed        = errors.New("pool: closed")
	ErrNotRegistered = errors.New("pool: task function is not registered")
	ErrWorkerCrashed = errors.New("pool: worker process crashed")
)

// Result is the outcome of one task: Value when Err is nil.
type Result[R any] struct {
	Value R
	Err   error
}

func (r Result[R]) OK() bool { return r.Err == nil }

// TaskError is a failed batch item. Index is the item's position in the input.
type TaskError struct {
	Index int
	Err   error
}

func (e *TaskError) Error() string { return fmt.Sprintf("pool: task %d: %v", e.Index, e.Err) }
func (e *TaskError) Unwrap() error { return e.Err }

// PanicError is a panic recovered from a task function.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("pool: task panicked: %v", e.Value) }

// RemoteError is an error returned by a task running in a worker process.
type RemoteError struct {
	Msg string
}

func (e *RemoteError) Error() string { return e.Msg }

// Future is the pending result of a submitted task.
type Future[R any] struct {
	done chan struct{}
	res  Result[R]
}

func newFuture[R any]() *Future[R] { return &Future[R]{done: make(chan struct{})} }

func failedFuture[R any](err error) *Future[R] {
	f := newFuture[R]()
	f.complete(Result[R]{Err: err})
	return f
}

func (f *Future[R]) complete(r Result[R]) {
	f.res = r
	close(f.done)
}

// Done is closed once the result is available.
func (f *Future[R]) Done() <-chan struct{} { return f.done }

// Wait blocks until the task finishes or ctx is done. Giving up on a Future
// does not stop the task.
func (f *Future[R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-f.done:
		return f.res.Value, f.res.Err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// Result returns the outcome; it must only be called after Done is closed.
func (f *Future[R]) Result() Result[R] {
	<-f.done
	return f.res
}

// call runs fn, converting a panic into a *PanicError.
func call[T, R any](ctx context.Context, fn Task[T, R], item T) (r Result[R]) {
	defer func() {
		if v := recover(); v != nil {
			r = Result[R]{Err: &PanicError{Value: v, Stack: debug.Stack()}}
		}
	}()
	v, err := fn(ctx, item)
	return Result[R]{Value: v, Err: err}
}
