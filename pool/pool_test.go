package pool

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// TestMain doubles as the worker entry point for ModeProcess tests: the pool
// re-executes this test binary with the worker environment set.
func TestMain(m *testing.M) {
	if IsWorker() {
		if err := ServeWorker(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

var errOdd = errors.New("odd input")

var (
	square = Register[int, int]("test.square", func(_ context.Context, n int) (int, error) {
		return n * n, nil
	})
	failOdd = Register[int, int]("test.failOdd", func(_ context.Context, n int) (int, error) {
		if n%2 == 1 {
			return 0, errOdd
		}
		return n, nil
	})
	panicky = Register[int, int]("test.panicky", func(_ context.Context, n int) (int, error) {
		if n == 2 {
			panic("two is not allowed")
		}
		return n, nil
	})
	crash = Register[int, int]("test.crash", func(_ context.Context, n int) (int, error) {
		if n < 0 {
			os.Exit(3)
		}
		return n, nil
	})
)

func jitterSquare(_ context.Context, n int) (int, error) {
	time.Sleep(time.Duration(rand.Intn(20)) * time.Millisecond)
	return n * n, nil
}

func newThreadPool(t *testing.T, workers int) *Pool[int, int] {
	t.Helper()
	p, err := NewPool[int, int](Config{MaxWorkers: workers})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func newProcessPool(t *testing.T, workers int) *Pool[int, int] {
	t.Helper()
	if testing.Short() {
		t.Skip("spawns worker processes")
	}
	p, err := NewPool[int, int](Config{MaxWorkers: workers, Mode: ModeProcess})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func values(t *testing.T, rs []Result[int]) []int {
	t.Helper()
	out := make([]int, len(rs))
	for i, r := range rs {
		if r.Err != nil {
			t.Fatalf("item %d failed: %v", i, r.Err)
		}
		out[i] = r.Value
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestProcessBatchKeepsInputOrder(t *testing.T) {
	p := newThreadPool(t, 2)
	got := values(t, p.ProcessBatch(context.Background(), []int{1, 2, 3, 4}, jitterSquare))
	if want := []int{1, 4, 9, 16}; !equalInts(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestThreadPoolBoundsConcurrency(t *testing.T) {
	p := newThreadPool(t, 3)
	var running, peak atomic.Int32
	fn := func(_ context.Context, n int) (int, error) {
		cur := running.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return n, nil
	}
	items := make([]int, 30)
	p.ProcessBatch(context.Background(), items, fn)
	if peak.Load() > 3 {
		t.Fatalf("peak concurrency %d exceeds 3 workers", peak.Load())
	}
}

func TestPerItemFailuresAreIsolated(t *testing.T) {
	p := newThreadPool(t, 2)
	res := p.ProcessBatch(context.Background(), []int{1, 2, 3, 4}, failOdd)

	for i, r := range res {
		if i%2 == 0 {
			var te *TaskError
			if !errors.As(r.Err, &te) || te.Index != i || !errors.Is(r.Err, errOdd) {
				t.Fatalf("item %d: expected TaskError{Index:%d}, got %v", i, i, r.Err)
			}
			continue
		}
		if r.Err != nil || r.Value != i+1 {
			t.Fatalf("item %d: %+v", i, r)
		}
	}

	vals, failed := Successes(res)
	if !equalInts(vals, []int{2, 4}) || !equalInts(failed, []int{0, 2}) {
		t.Fatalf("Successes = %v, %v", vals, failed)
	}
}

func TestPanicIsRecovered(t *testing.T) {
	p := newThreadPool(t, 2)
	res := p.ProcessBatch(context.Background(), []int{1, 2, 3}, panicky)
	var pe *PanicError
	if !errors.As(res[1].Err, &pe) {
		t.Fatalf("expected PanicError, got %v", res[1].Err)
	}
	if res[0].Value != 1 || res[2].Value != 3 {
		t.Fatalf("siblings affected: %+v", res)
	}
}

func TestProcessBatchedChunksKeepGlobalIndex(t *testing.T) {
	p := newThreadPool(t, 2)
	res := p.ProcessBatched(context.Background(), []int{2, 4, 6, 7, 8}, failOdd, 2)
	if len(res) != 5 {
		t.Fatalf("len %d", len(res))
	}
	var te *TaskError
	if !errors.As(res[3].Err, &te) || te.Index != 3 {
		t.Fatalf("expected TaskError at index 3, got %v", res[3].Err)
	}
	vals, failed := Successes(res)
	if !equalInts(vals, []int{2, 4, 6, 8}) || !equalInts(failed, []int{3}) {
		t.Fatalf("Successes = %v, %v", vals, failed)
	}
	if got := p.ProcessBatched(context.Background(), []int{1, 2}, square, 0); len(got) != 2 {
		t.Fatalf("batchSize 0 should process everything")
	}
}

func TestFutureWait(t *testing.T) {
	p := newThreadPool(t, 1)
	f := p.Submit(context.Background(), square, 7)
	v, err := f.Wait(context.Background())
	if err != nil || v != 49 {
		t.Fatalf("v=%d err=%v", v, err)
	}

	block := make(chan struct{})
	slow := p.Submit(context.Background(), func(_ context.Context, n int) (int, error) {
		<-block
		return n, nil
	}, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := slow.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	close(block)
	<-slow.Done()
	if r := slow.Result(); r.Value != 1 {
		t.Fatalf("abandoned wait must not cancel the task: %+v", r)
	}
}

func TestSubmitAfterClose(t *testing.T) {
	p, err := NewPool[int, int](Config{MaxWorkers: 1})
	if err != nil {
		t.Fatal(err)
	}
	_ = p.Close()
	if _, err := p.Submit(context.Background(), square, 1).Wait(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

type countingRecorder struct{ n atomic.Int32 }

func (r *countingRecorder) Record(op string, _ time.Duration) {
	if op == "task" {
		r.n.Add(1)
	}
}

func TestRecorderSeesEveryTask(t *testing.T) {
	rec := &countingRecorder{}
	p, err := NewPool[int, int](Config{MaxWorkers: 2, Recorder: rec})
	if err != nil {
		t.Fatal(err)
	}
	p.ProcessBatch(context.Background(), []int{1, 2, 3}, square)
	_ = p.Close()
	if rec.n.Load() != 3 {
		t.Fatalf("recorded %d tasks, want 3", rec.n.Load())
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"thread": ModeThread, "PROCESS": ModeProcess, "": ModeThread} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseMode("fiber"); err == nil {
		t.Fatal("expected error")
	}
}

func TestProcessModeBatch(t *testing.T) {
	p := newProcessPool(t, 2)
	got := values(t, p.ProcessBatch(context.Background(), []int{1, 2, 3, 4}, square))
	if want := []int{1, 4, 9, 16}; !equalInts(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestProcessModeErrors(t *testing.T) {
	p := newProcessPool(t, 1)
	ctx := context.Background()

	res := p.ProcessBatch(ctx, []int{1, 2}, failOdd)
	var re *RemoteError
	if !errors.As(res[0].Err, &re) || re.Msg != errOdd.Error() {
		t.Fatalf("expected remote error, got %v", res[0].Err)
	}
	if res[1].Value != 2 {
		t.Fatalf("sibling failed: %+v", res[1])
	}

	res = p.ProcessBatch(ctx, []int{2}, panicky)
	var pe *PanicError
	if !errors.As(res[0].Err, &pe) {
		t.Fatalf("expected PanicError, got %v", res[0].Err)
	}

	res = p.ProcessBatch(ctx, []int{1}, jitterSquare)
	if !errors.Is(res[0].Err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", res[0].Err)
	}
}

func TestProcessModeReplacesCrashedWorker(t *testing.T) {
	p := newProcessPool(t, 1)
	ctx := context.Background()

	if _, err := p.Submit(ctx, crash, -1).Wait(ctx); !errors.Is(err, ErrWorkerCrashed) {
		t.Fatalf("expected ErrWorkerCrashed, got %v", err)
	}
	v, err := p.Submit(ctx, crash, 5).Wait(ctx)
	if err != nil || v != 5 {
		t.Fatalf("replacement worker: v=%d err=%v", v, err)
	}
}

// copyTestBinary writes a copy of the running test binary into dir so a test
// can remove it out from under the pool.
func copyTestBinary(t *testing.T, dir string) string {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(exe)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "worker")
	if err := os.WriteFile(path, b, 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProcessModeSurvivesFailedRestart(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns worker processes")
	}
	dir := t.TempDir()
	bin := copyTestBinary(t, dir)
	p, err := NewPool[int, int](Config{MaxWorkers: 1, Mode: ModeProcess, Command: []string{bin}})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	ctx := context.Background()

	// the replacement cannot start once the binary is gone
	if err := os.Remove(bin); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Submit(ctx, crash, -1).Wait(ctx); !errors.Is(err, ErrWorkerCrashed) {
		t.Fatalf("expected ErrWorkerCrashed, got %v", err)
	}

	done := make(chan []Result[int], 1)
	go func() { done <- p.ProcessBatch(ctx, []int{1, 2, 3}, square) }()
	select {
	case res := <-done:
		for i, r := range res {
			if !errors.Is(r.Err, ErrWorkerCrashed) {
				t.Fatalf("item %d: expected ErrWorkerCrashed, got %+v", i, r)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ProcessBatch blocked with no worker process")
	}

	// the pool recovers once a worker can be started again
	copyTestBinary(t, dir)
	deadline := time.Now().Add(15 * time.Second)
	for {
		v, err := p.Submit(ctx, square, 4).Wait(ctx)
		if err == nil {
			if v != 16 {
				t.Fatalf("got %d want 16", v)
			}
			return
		}
		if !errors.Is(err, ErrWorkerCrashed) || time.Now().After(deadline) {
			t.Fatalf("pool did not recover: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
