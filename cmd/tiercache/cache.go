package main

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/xhit/go-str2duration/v2"

	"github.com/unkn0wn-root/tiercache/log"
	"github.com/unkn0wn-root/tiercache/tier/disk"
)

var errMiss = errors.New("not found")

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print the value stored under KEY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.coordinator(cmd.Context())
			if err != nil {
				return err
			}
			v, ok := c.Get(cmd.Context(), args[0])
			if !ok {
				return errors.Wrapf(errMiss, "%q", args[0])
			}
			_, err = cmd.OutOrStdout().Write(append(v, '\n'))
			return err
		},
	}
}

func newSetCmd(a *app) *cobra.Command {
	var ttl string
	cmd := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Store VALUE under KEY in every tier",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := str2duration.ParseDuration(ttl)
			if err != nil {
				return errors.Wrap(err, "--ttl")
			}
			c, err := a.coordinator(cmd.Context())
			if err != nil {
				return err
			}
			return c.Set(cmd.Context(), args[0], []byte(args[1]), d)
		},
	}
	cmd.Flags().StringVar(&ttl, "ttl", "0s", "time to live, e.g. 90s, 12h, 7d; 0 never expires")
	return cmd
}

func newDelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "del KEY...",
		Aliases: []string{"rm"},
		Short:   "Delete keys from every tier",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.coordinator(cmd.Context())
			if err != nil {
				return err
			}
			for _, k := range args {
				if err := c.Delete(cmd.Context(), k); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newInvalidateCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "invalidate PREFIX",
		Short: "Delete every key starting with PREFIX",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !all {
				return errors.New("give a PREFIX or --all")
			}
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			c, err := a.coordinator(cmd.Context())
			if err != nil {
				return err
			}
			if err := c.InvalidatePrefix(cmd.Context(), prefix); err != nil {
				return err
			}
			a.log.Info("invalidated", log.Fields{"prefix": prefix})
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "clear the whole cache")
	return cmd
}

// purge works on the disk directory alone; it does not open the other tiers.
func newPurgeCmd(a *app) *cobra.Command {
	var maxAge string
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove disk tier entries older than a maximum age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Disk.Dir == "" {
				return errors.New("no disk tier configured (disk.dir)")
			}
			age := a.cfg.Disk.MaxAge.D()
			if maxAge != "" {
				d, err := str2duration.ParseDuration(maxAge)
				if err != nil {
					return errors.Wrap(err, "--max-age")
				}
				age = d
			}
			d, err := disk.New(disk.Config{Dir: a.cfg.Disk.Dir})
			if err != nil {
				return err
			}
			defer d.Close(cmd.Context())

			start := time.Now()
			n, err := d.Purge(cmd.Context(), age)
			if err != nil {
				return err
			}
			a.log.Info("disk purged", log.Fields{
				"dir": d.Dir(), "removed": n, "max_age": str2duration.String(age), "took": time.Since(start).String(),
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&maxAge, "max-age", "", "drop entries not written for this long (default disk.max_age)")
	return cmd
}

func newStatsCmd(a *app) *cobra.Command {
	var keys []string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Look up keys and report where they were found",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.coordinator(cmd.Context())
			if err != nil {
				return err
			}
			for _, k := range keys {
				_, ok := c.Get(cmd.Context(), k)
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%v\n", k, ok)
			}
			printStats(cmd, a)
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&keys, "key", "k", nil, "keys to look up (repeatable)")
	return cmd
}

func printStats(cmd *cobra.Command, a *app) {
	w := cmd.OutOrStdout()
	if a.async != nil {
		// deliver queued latency events before reading the tracker
		a.async.Close()
	}
	if a.coord != nil {
		s := a.coord.Stats()
		fmt.Fprintf(w, "hits: memory=%d shared=%d disk=%d  misses=%d  write-throughs=%d  self-heals=%d  tier-errors=%d\n",
			s.MemoryHits, s.SharedHits, s.DiskHits, s.Misses, s.WriteThroughs, s.SelfHeals, s.TierErrors)
	}
	stats := a.tracker.GetAllStats()
	if len(stats) == 0 {
		return
	}
	fmt.Fprintln(w, "latency:")
	for _, s := range stats {
		fmt.Fprintln(w, s.String())
	}
}
