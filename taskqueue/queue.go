// Package taskqueue is a long-lived worker set that consumes a task queue and
// produces a result queue.
//
// Unlike pool.ProcessBatch, results come out in completion order: workers run
// independently and whichever finishes first is drained first.
package taskqueue

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/unkn0wn-root/tiercache/log"
	"github.com/unkn0wn-root/tiercache/pool"
)

var (
	ErrDuplicateTask = errors.New("taskqueue: duplicate task id")
	// ErrShutdownTimeout means a worker did not exit within StopTimeout. The
	// worker is abandoned; it still finishes its current task.
	ErrShutdownTimeout = errors.New("taskqueue: worker did not stop in time")
	ErrClosed          = errors.New("taskqueue: closed")
)

type State int32

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// Task is one queued unit of work.
type Task[P any] struct {
	ID      string
	Payload P
}

// Output is a finished task.
type Output[R any] struct {
	ID     string
	Result pool.Result[R]
}

type Options struct {
	Workers      int           // 0 => runtime.NumCPU()
	Mode         pool.Mode     // default pool.ModeThread
	PollInterval time.Duration // 0 => 100ms
	StopTimeout  time.Duration // 0 => 5s

	Logger   log.Logger    // nil => log.Nop
	Recorder pool.Recorder // nil => discard
}

const (
	defaultPollInterval = 100 * time.Millisecond
	defaultStopTimeout  = 5 * time.Second
)

type worker struct {
	id   int
	done chan struct{}
}

// Queue runs fn over tasks added with AddTask on Options.Workers long-lived
// workers. Tasks added while stopped wait for the next Start.
type Queue[P, R any] struct {
	fn   pool.Task[P, R]
	opts Options
	pool *pool.Pool[P, R]
	log  log.Logger

	notify chan struct{}

	mu      sync.Mutex
	state   State
	closed  bool
	stop    chan struct{}
	workers map[int]*worker
	nextID  int
	seen    map[string]struct{}
	tasks   []Task[P]
	results []Output[R]
	running int
}

func New[P, R any](fn pool.Task[P, R], opts Options) (*Queue[P, R], error) {
	if fn == nil {
		return nil, errors.New("taskqueue: nil task function")
	}
	if opts.Mode == pool.ModeProcess && !pool.Registered(fn) {
		return nil, errors.Wrap(pool.ErrNotRegistered, "taskqueue")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}
	p, err := pool.NewPool[P, R](pool.Config{
		MaxWorkers: opts.Workers,
		Mode:       opts.Mode,
		Logger:     opts.Logger,
		Recorder:   opts.Recorder,
	})
	if err != nil {
		return nil, errors.Wrap(err, "taskqueue: create pool")
	}
	opts.Workers = p.Workers()
	return &Queue[P, R]{
		fn:      fn,
		opts:    opts,
		pool:    p,
		log:     log.OrNop(opts.Logger),
		notify:  make(chan struct{}, 1),
		workers: make(map[int]*worker),
		seen:    make(map[string]struct{}),
	}, nil
}

func (q *Queue[P, R]) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Pending counts tasks that are queued or running.
func (q *Queue[P, R]) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks) + q.running
}

// Start moves the queue to Running. Workers abandoned by a timed-out Stop
// that are still alive rejoin, so only the missing ones are spawned.
func (q *Queue[P, R]) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if q.state == Running {
		return nil
	}
	q.state = Running
	q.stop = make(chan struct{})
	spawn := q.opts.Workers - len(q.workers)
	for i := 0; i < spawn; i++ {
		q.nextID++
		w := &worker{id: q.nextID, done: make(chan struct{})}
		q.workers[w.id] = w
		go q.work(w)
	}
	q.log.Debug("task queue started", log.Fields{"spawned": spawn, "workers": len(q.workers)})
	return nil
}

// Stop signals every worker to exit after its current task and waits up to
// StopTimeout in total. Workers that miss the deadline are logged and left to
// finish; the returned error wraps ErrShutdownTimeout.
func (q *Queue[P, R]) Stop() error {
	q.mu.Lock()
	if q.state == Stopped {
		q.mu.Unlock()
		return nil
	}
	q.state = Stopped
	close(q.stop)
	ws := make([]*worker, 0, len(q.workers))
	for _, w := range q.workers {
		ws = append(ws, w)
	}
	q.mu.Unlock()

	// one deadline for the whole stop, not one per worker
	ctx, cancel := context.WithTimeout(context.Background(), q.opts.StopTimeout)
	defer cancel()
	var stuck int
	for _, w := range ws {
		select {
		case <-w.done:
		case <-ctx.Done():
			select {
			case <-w.done:
			default:
				stuck++
				q.log.Error("task queue worker did not stop", log.Fields{
					"worker": w.id, "timeout": q.opts.StopTimeout.String(),
				})
			}
		}
	}
	if stuck > 0 {
		return errors.Wrapf(ErrShutdownTimeout, "%d of %d workers", stuck, len(ws))
	}
	return nil
}

// Close stops the queue and releases the underlying pool. Queued tasks that
// never ran are discarded.
func (q *Queue[P, R]) Close() error {
	err := q.Stop()
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return errors.CombineErrors(err, q.pool.Close())
}

// AddTask enqueues payload under id without blocking. Ids must be unique for
// the lifetime of the queue.
func (q *Queue[P, R]) AddTask(id string, payload P) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if _, dup := q.seen[id]; dup {
		q.mu.Unlock()
		return errors.Wrapf(ErrDuplicateTask, "%q", id)
	}
	q.seen[id] = struct{}{}
	q.tasks = append(q.tasks, Task[P]{ID: id, Payload: payload})
	q.mu.Unlock()
	q.wake()
	return nil
}

// Submit enqueues payload under a fresh random id and returns the id.
func (q *Queue[P, R]) Submit(payload P) (string, error) {
	id := uuid.NewString()
	return id, q.AddTask(id, payload)
}

// DrainResults yields the results available when iteration starts, in
// completion order, removing each one as it is yielded. It never waits for
// running tasks; breaking early leaves the rest for the next call.
func (q *Queue[P, R]) DrainResults() iter.Seq2[string, pool.Result[R]] {
	return func(yield func(string, pool.Result[R]) bool) {
		q.mu.Lock()
		n := len(q.results)
		q.mu.Unlock()
		for ; n > 0; n-- {
			out, ok := q.popResult()
			if !ok || !yield(out.ID, out.Result) {
				return
			}
		}
	}
}

func (q *Queue[P, R]) popResult() (Output[R], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.results) == 0 {
		return Output[R]{}, false
	}
	out := q.results[0]
	q.results[0] = Output[R]{}
	q.results = q.results[1:]
	return out, true
}

func (q *Queue[P, R]) work(w *worker) {
	for {
		stop, ok := q.current(w)
		if !ok {
			return
		}
		t, ok := q.pop(stop)
		if !ok {
			continue
		}
		r := q.pool.Submit(context.Background(), q.fn, t.Payload).Result()
		if r.Err != nil {
			q.log.Debug("task failed", log.Fields{"task": t.ID, "err": r.Err})
		}
		q.mu.Lock()
		q.results = append(q.results, Output[R]{ID: t.ID, Result: r})
		q.running--
		q.mu.Unlock()
	}
}

// current returns the stop channel of the run w belongs to. A worker that
// finds the queue stopped deregisters itself.
func (q *Queue[P, R]) current(w *worker) (<-chan struct{}, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != Running {
		delete(q.workers, w.id)
		close(w.done)
		return nil, false
	}
	return q.stop, true
}

// pop waits up to PollInterval for a task.
func (q *Queue[P, R]) pop(stop <-chan struct{}) (Task[P], bool) {
	timer := time.NewTimer(q.opts.PollInterval)
	defer timer.Stop()
	for {
		if t, ok := q.tryPop(); ok {
			return t, true
		}
		select {
		case <-q.notify:
		case <-timer.C:
			return Task[P]{}, false
		case <-stop:
			return Task[P]{}, false
		}
	}
}

func (q *Queue[P, R]) tryPop() (Task[P], bool) {
	q.mu.Lock()
	if len(q.tasks) == 0 || q.state != Running {
		q.mu.Unlock()
		return Task[P]{}, false
	}
	t := q.tasks[0]
	q.tasks[0] = Task[P]{}
	q.tasks = q.tasks[1:]
	q.running++
	more := len(q.tasks) > 0
	q.mu.Unlock()
	if more {
		q.wake()
	}
	return t, true
}

func (q *Queue[P, R]) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
