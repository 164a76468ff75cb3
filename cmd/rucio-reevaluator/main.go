// Command rucio-reevaluator drains the re-evaluation feed (package feed)
// into the rule engine (spec.md §4.B "Re-evaluation" / SPEC_FULL.md §5.F).
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sys/unix"

	"github.com/rucio-go/rucio/cmn/config"
	"github.com/rucio-go/rucio/cmn/cos"
	"github.com/rucio-go/rucio/cmn/nlog"
	"github.com/rucio-go/rucio/feed"
	"github.com/rucio-go/rucio/internal/bootstrap"
	"github.com/rucio-go/rucio/internal/store"
	"github.com/rucio-go/rucio/internal/transfer"
	"github.com/rucio-go/rucio/rse"
	"github.com/rucio-go/rucio/rule"
)

func main() {
	once := flag.Bool("once", false, "drain a single batch per worker and exit")
	threads := flag.Int("threads", 0, "worker thread count (0 = config default)")
	bulk := flag.Int("bulk", 0, "rows claimed per batch (0 = config default)")
	delay := flag.Duration("delay", 0, "tick interval (0 = config default)")
	attrFile := flag.String("rse-attributes", "", "path to a JSON rse_id -> attribute map")
	configFile := flag.String("config", "", "path to a JSON config overriding the built-in defaults")
	flag.Parse()

	if *configFile != "" {
		if err := config.GCO.LoadFile(*configFile); err != nil {
			nlog.Errorf("rucio-reevaluator: loading config %s: %v", *configFile, err)
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
	if cfg.Threads < 1 {
		cfg.Threads = 1
	}

	var attrs bootstrap.StaticAttributes
	if *attrFile != "" {
		var err error
		attrs, err = bootstrap.LoadStaticAttributes(*attrFile)
		if err != nil {
			nlog.Errorf("rucio-reevaluator: %v", err)
			os.Exit(1)
		}
	} else {
		attrs = bootstrap.StaticAttributes{}
	}

	db := store.NewDB()
	snap, err := rse.NewSnapshot(attrs, bootstrap.NewStoreQuota(db), 5*time.Minute)
	if err != nil {
		nlog.Errorf("rucio-reevaluator: building rse snapshot: %v", err)
		os.Exit(1)
	}
	defer snap.Close()

	engine := rule.New(db, bootstrap.CSVExpressionResolver{}, snap, transfer.LoggingSubmitter{})
	f := feed.New(db)
	stop := cos.NewStopCh()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGINT, unix.SIGTERM)
	go func() {
		<-sigCh
		nlog.Infof("rucio-reevaluator: signal received, starting GRACEFUL_STOP")
		stop.Stop()
	}()

	ctx := context.Background()
	hostname, _ := os.Hostname()
	pid := os.Getpid()

	for {
		start := time.Now()
		tx := db.Begin(ctx)
		assign, nThreads := tx.Heartbeat("rucio-reevaluator", hostname, pid, cfg.Threads, start)
		tx.Commit()

		n, err := engine.Reevaluate(ctx, f, assign, nThreads, cfg.Bulk)
		if err != nil {
			nlog.Warningf("rucio-reevaluator: tick failed: %v", err)
		} else if n > 0 {
			nlog.Infof("rucio-reevaluator: reevaluated %d changed dids", n)
		}

		if *once {
			dtx := db.Begin(ctx)
			dtx.Die("rucio-reevaluator", hostname, pid)
			dtx.Commit()
			return
		}

		elapsed := time.Since(start)
		sleep := cfg.Delay - elapsed
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-ctx.Done():
			dtx := db.Begin(context.Background())
			dtx.Die("rucio-reevaluator", hostname, pid)
			dtx.Commit()
			return
		case <-stop.Chan():
			dtx := db.Begin(context.Background())
			dtx.Die("rucio-reevaluator", hostname, pid)
			dtx.Commit()
			return
		case <-time.After(sleep):
		}
	}
}
