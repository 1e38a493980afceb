package main

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/config"
	asynchook "github.com/unkn0wn-root/tiercache/hooks/async"
	"github.com/unkn0wn-root/tiercache/log"
	zaplog "github.com/unkn0wn-root/tiercache/log/zap"
	"github.com/unkn0wn-root/tiercache/metrics"
)

// app holds what every subcommand shares. The coordinator is opened lazily
// so commands that only touch the disk directory do not dial redis or S3.
type app struct {
	cfgPath string

	cfg     config.Config
	zl      *zap.Logger
	log     log.Logger
	tracker *metrics.LatencyTracker
	hooks   *metrics.CacheHooks
	async   *asynchook.Hooks
	coord   *tiercache.Coordinator
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "tiercache",
		Short:        "Inspect and exercise a tiered cache",
		Long:         "tiercache operates the memory/shared/disk cache described by a YAML config (TIERCACHE_* env vars override it).",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", "", "path to the YAML config")

	root.AddCommand(
		newGetCmd(a),
		newSetCmd(a),
		newDelCmd(a),
		newInvalidateCmd(a),
		newPurgeCmd(a),
		newStatsCmd(a),
		newBenchCmd(a),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	zl, err := newZap(cfg.Log)
	if err != nil {
		return err
	}
	a.zl = zl
	a.log = zaplog.ZapLogger{L: zl}
	a.tracker = metrics.NewLatencyTracker(0.01)
	a.hooks = metrics.NewCacheHooks(a.tracker)
	return nil
}

func newZap(l config.Log) (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	if l.JSON {
		zc = zap.NewProductionConfig()
	}
	lvl, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, errors.Wrap(err, "log level")
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

// coordinator opens the configured cache on first use.
func (a *app) coordinator(ctx context.Context) (*tiercache.Coordinator, error) {
	if a.coord != nil {
		return a.coord, nil
	}
	a.async = asynchook.New(a.hooks, 1, 4096)
	c, err := a.cfg.Build(ctx, config.Deps{Logger: a.log, Hooks: a.async})
	if err != nil {
		return nil, err
	}
	a.coord = c
	return c, nil
}

// close runs after the command whether or not it failed.
func (a *app) close(ctx context.Context) error {
	var err error
	if a.coord != nil {
		err = a.coord.Close(ctx)
	}
	if a.async != nil {
		a.async.Close()
		if n := a.async.Dropped(); n > 0 {
			a.log.Warn("hook events dropped", log.Fields{"count": n})
		}
	}
	if a.zl != nil {
		_ = a.zl.Sync()
	}
	return err
}
