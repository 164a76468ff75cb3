// Command rucio-undertaker runs the expired-DID reaper (spec.md §4.E /
// SPEC_FULL.md §5.E) as a standalone daemon.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/rucio-go/rucio/cmn/config"
	"github.com/rucio-go/rucio/cmn/cos"
	"github.com/rucio-go/rucio/cmn/nlog"
	"github.com/rucio-go/rucio/did"
	"github.com/rucio-go/rucio/internal/store"
	"github.com/rucio-go/rucio/undertaker"
)

func main() {
	once := flag.Bool("once", false, "run a single batch and exit")
	threads := flag.Int("threads", 0, "worker thread count (0 = config default)")
	bulk := flag.Int("bulk", 0, "rows claimed per batch (0 = config default)")
	delay := flag.Duration("delay", 0, "tick interval (0 = config default)")
	configFile := flag.String("config", "", "path to a JSON config overriding the built-in defaults")
	flag.Parse()

	if *configFile != "" {
		if err := config.GCO.LoadFile(*configFile); err != nil {
			nlog.Errorf("rucio-undertaker: loading config %s: %v", *configFile, err)
			os.Exit(1)
		}
	}
	cfg := config.GCO.Get().Daemon
	if *threads > 0 {
		cfg.Threads = *threads
	}
	if *bulk > 0 {
		cfg.Bulk = *bulk
	}
	if *delay > 0 {
		cfg.Delay = *delay
	}

	db := store.NewDB()
	ds := did.New(db)
	stop := cos.NewStopCh()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGINT, unix.SIGTERM)
	go func() {
		<-sigCh
		nlog.Infof("rucio-undertaker: signal received, starting GRACEFUL_STOP")
		stop.Stop()
	}()

	ctx := context.Background()
	runCfg := undertaker.Config{Threads: cfg.Threads, Bulk: cfg.Bulk, Delay: cfg.Delay, Once: *once}
	if err := undertaker.Run(ctx, ds, runCfg, stop); err != nil {
		nlog.Errorf("rucio-undertaker: %v", err)
		os.Exit(1)
	}
}
