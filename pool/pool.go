// Package pool runs task functions on a bounded set of workers.
//
// Two strategies are available. ModeThread runs each item on a goroutine,
// with at most MaxWorkers running at once. ModeProcess keeps MaxWorkers child
// processes alive and ships items to them over stdin/stdout; it isolates
// CPU-heavy or crash-prone work from the parent.
//
// Only functions registered with Register can run in ModeProcess, and the
// binary must hand control to the worker loop early in main:
//
//	var square = pool.Register("square", func(_ context.Context, n int) (int, error) {
//	    return n * n, nil
//	})
//
//	func main() {
//	    if pool.IsWorker() {
//	        if err := pool.ServeWorker(); err != nil {
//	            os.Exit(1)
//	        }
//	        os.Exit(0)
//	    }
//	    ...
//	}
package pool

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/unkn0wn-root/tiercache/log"
)

// Mode selects the worker strategy.
type Mode int

const (
	ModeThread Mode = iota
	ModeProcess
)

func (m Mode) String() string {
	switch m {
	case ModeThread:
		return "thread"
	case ModeProcess:
		return "process"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode accepts "thread" or "process" (case-insensitive).
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "thread":
		return ModeThread, nil
	case "process":
		return ModeProcess, nil
	}
	return 0, errors.Newf("pool: unknown mode %q", s)
}

// Recorder receives task durations. metrics.LatencyTracker satisfies it.
type Recorder interface {
	Record(op string, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) Record(string, time.Duration) {}

type Config struct {
	MaxWorkers int  // 0 => runtime.NumCPU()
	Mode       Mode // default ModeThread

	// Command starts a worker process (ModeProcess only).
	// nil => the current executable with no arguments.
	Command []string

	Logger   log.Logger // nil => log.Nop
	Recorder Recorder   // nil => discard
}

func (c Config) withDefaults() Config {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = runtime.NumCPU()
	}
	c.Logger = log.OrNop(c.Logger)
	if c.Recorder == nil {
		c.Recorder = nopRecorder{}
	}
	return c
}

// Task is a unit of work applied to one item.
type Task[T, R any] func(ctx context.Context, item T) (R, error)

// WorkerStrategy executes tasks. Submit never blocks on a busy pool; the
// returned Future completes when the task has run or could not be started.
type WorkerStrategy[T, R any] interface {
	Submit(ctx context.Context, fn Task[T, R], item T) *Future[R]
	Close() error
}

// Pool is a WorkerStrategy with batch helpers.
type Pool[T, R any] struct {
	cfg      Config
	strategy WorkerStrategy[T, R]
}

func NewPool[T, R any](cfg Config) (*Pool[T, R], error) {
	cfg = cfg.withDefaults()
	var (
		s   WorkerStrategy[T, R]
		err error
	)
	switch cfg.Mode {
	case ModeThread:
		s = newThreadStrategy[T, R](cfg)
	case ModeProcess:
		s, err = newProcessStrategy[T, R](cfg)
	default:
		err = errors.Newf("pool: unknown mode %v", cfg.Mode)
	}
	if err != nil {
		return nil, err
	}
	return &Pool[T, R]{cfg: cfg, strategy: s}, nil
}

// Workers returns the effective worker count.
func (p *Pool[T, R]) Workers() int { return p.cfg.MaxWorkers }

func (p *Pool[T, R]) Mode() Mode { return p.cfg.Mode }

func (p *Pool[T, R]) Submit(ctx context.Context, fn Task[T, R], item T) *Future[R] {
	return p.strategy.Submit(ctx, fn, item)
}

// Close waits for running tasks and releases the workers.
func (p *Pool[T, R]) Close() error { return p.strategy.Close() }
