package pool

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

const workerEnv = "TIERCACHE_POOL_WORKER"

type request struct {
	ID      uint64 `msgpack:"id"`
	Name    string `msgpack:"name"`
	Payload []byte `msgpack:"payload"`
}

type response struct {
	ID      uint64 `msgpack:"id"`
	Payload []byte `msgpack:"payload,omitempty"`
	Err     string `msgpack:"err,omitempty"`
	Panic   bool   `msgpack:"panic,omitempty"`
}

// IsWorker reports whether this process was started as a pool worker.
func IsWorker() bool { return os.Getenv(workerEnv) == "1" }

// ServeWorker answers task requests on stdin until it is closed. Anything the
// tasks print to stdout is redirected to stderr.
func ServeWorker() error {
	out := os.Stdout
	os.Stdout = os.Stderr
	return serve(context.Background(), os.Stdin, out)
}

func serve(ctx context.Context, r io.Reader, w io.Writer) error {
	dec := msgpack.NewDecoder(bufio.NewReader(r))
	bw := bufio.NewWriter(w)
	enc := msgpack.NewEncoder(bw)
	for {
		var req request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return errors.Wrap(err, "pool worker: read request")
		}
		resp := handle(ctx, req)
		if err := enc.Encode(&resp); err != nil {
			return errors.Wrap(err, "pool worker: write response")
		}
		if err := bw.Flush(); err != nil {
			return errors.Wrap(err, "pool worker: flush")
		}
	}
}

func handle(ctx context.Context, req request) (resp response) {
	resp.ID = req.ID
	h, ok := lookupHandler(req.Name)
	if !ok {
		resp.Err = fmt.Sprintf("%v: %s", ErrNotRegistered, req.Name)
		return resp
	}
	defer func() {
		if v := recover(); v != nil {
			resp.Payload = nil
			resp.Err = fmt.Sprint(v)
			resp.Panic = true
		}
	}()
	out, err := h(ctx, req.Payload)
	if err != nil {
		resp.Err = err.Error()
		return resp
	}
	resp.Payload = out
	return resp
}
