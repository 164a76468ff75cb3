// Command rucio-hermes runs the Hermes messenger workers (spec.md §4.G /
// SPEC_FULL.md §5.G): broker publish and SMTP email delivery, each
// independently selectable via --broker-only/--email-only.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/rucio-go/rucio/cmn/config"
	"github.com/rucio-go/rucio/cmn/cos"
	"github.com/rucio-go/rucio/cmn/nlog"
	"github.com/rucio-go/rucio/hermes"
	"github.com/rucio-go/rucio/internal/store"
)

func main() {
	once := flag.Bool("once", false, "run a single batch per worker and exit")
	threads := flag.Int("threads", 0, "worker thread count (0 = config default)")
	bulk := flag.Int("bulk", 0, "rows claimed per batch (0 = config default)")
	delay := flag.Duration("delay", 0, "tick interval (0 = config default)")
	brokerOnly := flag.Bool("broker-only", false, "run only the broker worker")
	emailOnly := flag.Bool("email-only", false, "run only the email worker")
	configFile := flag.String("config", "", "path to a JSON config overriding the built-in defaults")
	flag.Parse()

	if *configFile != "" {
		if err := config.GCO.LoadFile(*configFile); err != nil {
			nlog.Errorf("rucio-hermes: loading config %s: %v", *configFile, err)
			os.Exit(1)
		}
	}
	c := config.GCO.Get()
	daemon, broker, smtpCfg := c.Daemon, c.Broker, c.SMTP
	if *threads > 0 {
		daemon.Threads = *threads
	}
	if *bulk > 0 {
		daemon.Bulk = *bulk
	}
	if *delay > 0 {
		daemon.Delay = *delay
	}

	db := store.NewDB()
	ob := hermes.NewOutbox(db)
	stop := cos.NewStopCh()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGINT, unix.SIGTERM)
	go func() {
		<-sigCh
		nlog.Infof("rucio-hermes: signal received, starting GRACEFUL_STOP")
		stop.Stop()
	}()

	ctx := context.Background()
	g, gctx := errgroup.WithContext(ctx)

	runBroker := !*emailOnly
	runEmail := !*brokerOnly

	if runBroker {
		bcfg := hermes.BrokerConfig{
			Destination:         broker.Topic,
			Threads:             daemon.Threads,
			Bulk:                daemon.Bulk,
			Delay:               daemon.Delay,
			Once:                *once,
			MaxDeliveryAttempts: daemon.BrokerRetry,
		}
		g.Go(func() error {
			return hermes.RunBroker(gctx, ob, hermes.LoggingBroker{Destination: broker.Topic}, bcfg, stop)
		})
	}
	if runEmail {
		ecfg := hermes.EmailConfig{
			Recipient: "rucio-notify@example.org",
			Threads:   daemon.Threads,
			Bulk:      daemon.Bulk,
			Delay:     daemon.Delay,
			Once:      *once,
		}
		mailer := hermes.SMTPMailer{Addr: fmt.Sprintf("%s:%d", smtpCfg.Host, smtpCfg.Port), From: smtpCfg.From}
		g.Go(func() error {
			return hermes.RunEmail(gctx, ob, mailer, ecfg, stop)
		})
	}

	if err := g.Wait(); err != nil {
		nlog.Errorf("rucio-hermes: %v", err)
		os.Exit(1)
	}
}
