package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/unkn0wn-root/tiercache/pool"
)

func main() {
	// bench --mode process re-executes this binary as a pool worker
	if pool.IsWorker() {
		if err := pool.ServeWorker(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)
	stop()
	if cerr := a.close(context.Background()); cerr != nil {
		fmt.Fprintln(os.Stderr, cerr)
		err = cerr
	}
	if err != nil {
		os.Exit(1)
	}
}
