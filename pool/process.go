package pool

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/unkn0wn-root/tiercache/log"
)

// child is one worker process. It handles a single request at a time.
type child struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	bw     *bufio.Writer
	enc    *msgpack.Encoder
	dec    *msgpack.Decoder
	nextID uint64
}

func (c *child) call(name string, payload []byte) (response, error) {
	c.nextID++
	req := request{ID: c.nextID, Name: name, Payload: payload}
	if err := c.enc.Encode(&req); err != nil {
		return response{}, err
	}
	if err := c.bw.Flush(); err != nil {
		return response{}, err
	}
	var resp response
	if err := c.dec.Decode(&resp); err != nil {
		return response{}, err
	}
	if resp.ID != req.ID {
		return response{}, errors.Newf("response id %d does not match request %d", resp.ID, req.ID)
	}
	return resp, nil
}

// stop closes stdin so the worker loop exits, then reaps the process.
func (c *child) stop() {
	_ = c.stdin.Close()
	done := make(chan struct{})
	go func() {
		_ = c.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = c.cmd.Process.Kill()
		<-done
	}
}

func (c *child) kill() {
	_ = c.stdin.Close()
	_ = c.cmd.Process.Kill()
	_ = c.cmd.Wait()
}

type procJob struct {
	ctx     context.Context
	name    string
	payload []byte
	reply   chan procReply
}

type procReply struct {
	resp response
	err  error
}

// processStrategy keeps MaxWorkers child processes. Each child has a loop
// goroutine that takes jobs from a shared channel, so at most MaxWorkers
// tasks run at once. A crashed child is replaced.
type processStrategy[T, R any] struct {
	cfg  Config
	argv []string

	jobs      chan *procJob
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newProcessStrategy[T, R any](cfg Config) (*processStrategy[T, R], error) {
	argv := cfg.Command
	if len(argv) == 0 {
		exe, err := os.Executable()
		if err != nil {
			return nil, errors.Wrap(err, "pool: resolve executable")
		}
		argv = []string{exe}
	}
	s := &processStrategy[T, R]{
		cfg:    cfg,
		argv:   argv,
		jobs:   make(chan *procJob),
		closed: make(chan struct{}),
	}

	children := make([]*child, 0, cfg.MaxWorkers)
	for i := 0; i < cfg.MaxWorkers; i++ {
		c, err := s.spawn()
		if err != nil {
			for _, c := range children {
				c.kill()
			}
			return nil, err
		}
		children = append(children, c)
	}
	for _, c := range children {
		s.wg.Add(1)
		go s.loop(c)
	}
	return s, nil
}

func (s *processStrategy[T, R]) spawn() (*child, error) {
	cmd := exec.Command(s.argv[0], s.argv[1:]...)
	cmd.Env = append(os.Environ(), workerEnv+"=1")
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "pool: worker stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "pool: worker stdout")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "pool: start worker")
	}
	bw := bufio.NewWriter(stdin)
	return &child{
		cmd:   cmd,
		stdin: stdin,
		bw:    bw,
		enc:   msgpack.NewEncoder(bw),
		dec:   msgpack.NewDecoder(bufio.NewReader(stdout)),
	}, nil
}

const (
	respawnBackoff    = 100 * time.Millisecond
	maxRespawnBackoff = 5 * time.Second
)

// loop serves jobs on c until the pool closes. When c dies and cannot be
// replaced, the loop keeps retrying with backoff and fails the jobs it takes
// meanwhile with ErrWorkerCrashed.
func (s *processStrategy[T, R]) loop(c *child) {
	defer s.wg.Done()
	backoff := respawnBackoff
	var retry <-chan time.Time
	for {
		if c == nil {
			select {
			case <-s.closed:
				return
			case j := <-s.jobs:
				j.reply <- procReply{err: errors.Wrapf(ErrWorkerCrashed, "task %s: no worker process running", j.name)}
			case <-retry:
				var err error
				if c, err = s.spawn(); err != nil {
					backoff = min(backoff*2, maxRespawnBackoff)
					retry = time.After(backoff)
					s.cfg.Logger.Warn("worker restart failed", log.Fields{"err": err, "retry_in": backoff.String()})
					continue
				}
				backoff = respawnBackoff
				s.cfg.Logger.Info("worker process restarted", log.Fields{"pid": c.cmd.Process.Pid})
			}
			continue
		}

		select {
		case <-s.closed:
			c.stop()
			return
		case j := <-s.jobs:
			if err := j.ctx.Err(); err != nil {
				j.reply <- procReply{err: err}
				continue
			}
			start := time.Now()
			resp, err := c.call(j.name, j.payload)
			s.cfg.Recorder.Record("task", time.Since(start))
			if err == nil {
				j.reply <- procReply{resp: resp}
				continue
			}

			j.reply <- procReply{err: errors.Wrapf(ErrWorkerCrashed, "task %s: %v", j.name, err)}
			s.cfg.Logger.Warn("worker process failed, restarting", log.Fields{
				"task": j.name, "pid": c.cmd.Process.Pid, "err": err,
			})
			c.kill()
			if c, err = s.spawn(); err != nil {
				s.cfg.Logger.Error("worker restart failed, will retry", log.Fields{"err": err})
				retry = time.After(backoff)
			}
		}
	}
}

func (s *processStrategy[T, R]) Submit(ctx context.Context, fn Task[T, R], item T) *Future[R] {
	name, ok := lookupName(fn)
	if !ok {
		return failedFuture[R](ErrNotRegistered)
	}
	payload, err := msgpack.Marshal(item)
	if err != nil {
		return failedFuture[R](errors.Wrap(err, "pool: encode item"))
	}
	select {
	case <-s.closed:
		return failedFuture[R](ErrClosed)
	default:
	}

	f := newFuture[R]()
	j := &procJob{ctx: ctx, name: name, payload: payload, reply: make(chan procReply, 1)}
	go func() {
		select {
		case s.jobs <- j:
		case <-ctx.Done():
			f.complete(Result[R]{Err: ctx.Err()})
			return
		case <-s.closed:
			f.complete(Result[R]{Err: ErrClosed})
			return
		}
		f.complete(decodeReply[R](<-j.reply))
	}()
	return f
}

func decodeReply[R any](rep procReply) Result[R] {
	switch {
	case rep.err != nil:
		return Result[R]{Err: rep.err}
	case rep.resp.Panic:
		return Result[R]{Err: &PanicError{Value: rep.resp.Err}}
	case rep.resp.Err != "":
		return Result[R]{Err: &RemoteError{Msg: rep.resp.Err}}
	}
	var v R
	if err := msgpack.Unmarshal(rep.resp.Payload, &v); err != nil {
		return Result[R]{Err: errors.Wrap(err, "pool: decode result")}
	}
	return Result[R]{Value: v}
}

// Close lets running tasks finish, then stops every worker process. Jobs not
// yet picked up fail with ErrClosed.
func (s *processStrategy[T, R]) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	s.wg.Wait()
	return nil
}
