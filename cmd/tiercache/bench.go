package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/codec"
	"github.com/unkn0wn-root/tiercache/key"
	"github.com/unkn0wn-root/tiercache/log"
	"github.com/unkn0wn-root/tiercache/pool"
	"github.com/unkn0wn-root/tiercache/taskqueue"
)

const benchPrefix = "bench.digest"

type digestJob struct {
	Seed   string `msgpack:"s"`
	Rounds int    `msgpack:"r"`
}

func (j digestJob) key() string { return key.Encode(benchPrefix, []any{j.Seed, j.Rounds}, nil) }

// digestTask re-hashes the seed Rounds times. Registered so it can run in
// worker processes.
var digestTask = pool.Register[digestJob, string]("tiercache.digest", digest)

func digest(_ context.Context, j digestJob) (string, error) {
	h := j.Seed
	for i := 0; i < j.Rounds; i++ {
		h = key.Hash(h)
	}
	return h, nil
}

type benchFlags struct {
	n         int
	rounds    int
	batchSize int
	workers   int
	mode      string
	queue     bool
	ttl       time.Duration
}

func newBenchCmd(a *app) *cobra.Command {
	var f benchFlags
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Compute digests on the worker pool, cache them, then read them back memoized",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.mode != "" {
				a.cfg.Pool.Mode = f.mode
			}
			if f.workers > 0 {
				a.cfg.Pool.Workers = f.workers
			}
			if _, err := pool.ParseMode(a.cfg.Pool.Mode); err != nil {
				return err
			}
			return runBench(cmd, a, f)
		},
	}
	fl := cmd.Flags()
	fl.IntVarP(&f.n, "n", "n", 1000, "number of digests")
	fl.IntVar(&f.rounds, "rounds", 500, "hash rounds per digest")
	fl.IntVar(&f.batchSize, "batch-size", 0, "process items in sequential chunks of this size; 0 = one batch")
	fl.IntVar(&f.workers, "workers", 0, "worker count (default pool.workers)")
	fl.StringVar(&f.mode, "mode", "", "thread or process (default pool.mode)")
	fl.BoolVar(&f.queue, "queue", false, "feed the work through a continuous task queue instead of a batch")
	fl.DurationVar(&f.ttl, "ttl", 10*time.Minute, "ttl of cached digests")
	return cmd
}

func runBench(cmd *cobra.Command, a *app, f benchFlags) error {
	ctx := cmd.Context()
	c, err := a.coordinator(ctx)
	if err != nil {
		return err
	}

	jobs := make([]digestJob, f.n)
	for i := range jobs {
		jobs[i] = digestJob{Seed: strconv.Itoa(i), Rounds: f.rounds}
	}

	var digests map[string]string
	compute := func() error {
		var err error
		if f.queue {
			digests, err = computeQueued(ctx, a, jobs)
		} else {
			digests, err = computeBatch(ctx, a, jobs, f.batchSize)
		}
		return err
	}
	if err := a.tracker.RecordFunc("bench_compute", compute); err != nil {
		return err
	}

	cd := codec.Msgpack[string]{}
	for _, j := range jobs {
		d, ok := digests[j.Seed]
		if !ok {
			continue
		}
		if err := tiercache.SetAs(ctx, c, cd, j.key(), d, f.ttl); err != nil {
			return err
		}
	}

	// every lookup should be served from the cache
	var recomputed int
	memo := tiercache.Memoize(c, func(ctx context.Context, j digestJob) (string, error) {
		recomputed++
		return digest(ctx, j)
	}, tiercache.MemoOptions[digestJob, string]{
		KeyPrefix: benchPrefix,
		TTL:       f.ttl,
		Args:      func(j digestJob) ([]any, map[string]any) { return []any{j.Seed, j.Rounds}, nil },
	})
	var mismatched int
	for _, j := range jobs {
		start := time.Now()
		v, err := memo(ctx, j)
		a.tracker.Record("bench_memoized", time.Since(start))
		if err != nil {
			return err
		}
		if want, ok := digests[j.Seed]; ok && v != want {
			mismatched++
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "digests: %d computed, %d recomputed on read, %d mismatched\n", len(digests), recomputed, mismatched)
	printStats(cmd, a)
	if mismatched > 0 {
		return errors.Newf("%d cached digests did not match", mismatched)
	}
	return nil
}

func computeBatch(ctx context.Context, a *app, jobs []digestJob, batchSize int) (map[string]string, error) {
	p, err := pool.NewPool[digestJob, string](a.cfg.PoolConfig(a.log, a.tracker))
	if err != nil {
		return nil, err
	}
	defer p.Close()

	results := p.ProcessBatched(ctx, jobs, digestTask, batchSize)
	values, failed := pool.Successes(results)
	if len(failed) > 0 {
		a.log.Warn("some digests failed", log.Fields{"failed": len(failed), "first": results[failed[0]].Err})
	}

	out := make(map[string]string, len(values))
	for i, r := range results {
		if r.OK() {
			out[jobs[i].Seed] = r.Value
		}
	}
	return out, nil
}

func computeQueued(ctx context.Context, a *app, jobs []digestJob) (map[string]string, error) {
	q, err := taskqueue.New(digestTask, a.cfg.QueueOptions(a.log, a.tracker))
	if err != nil {
		return nil, err
	}
	defer q.Close()

	seeds := make(map[string]string, len(jobs))
	for _, j := range jobs {
		id, err := q.Submit(j)
		if err != nil {
			return nil, err
		}
		seeds[id] = j.Seed
	}
	if err := q.Start(); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(jobs))
	var done int
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for done < len(jobs) {
		for id, r := range q.DrainResults() {
			done++
			if r.OK() {
				out[seeds[id]] = r.Value
				continue
			}
			a.log.Warn("digest failed", log.Fields{"task": id, "err": r.Err})
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-tick.C:
		}
	}
	return out, q.Stop()
}
