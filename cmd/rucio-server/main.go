// Command rucio-server hosts the REST boundary (spec.md §6 /
// SPEC_FULL.md §6.4) over fasthttp.
package main

import (
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/sys/unix"

	"github.com/rucio-go/rucio/cmn/nlog"
	"github.com/rucio-go/rucio/did"
	"github.com/rucio-go/rucio/internal/auth"
	"github.com/rucio-go/rucio/internal/bootstrap"
	"github.com/rucio-go/rucio/internal/restapi"
	"github.com/rucio-go/rucio/internal/store"
	"github.com/rucio-go/rucio/internal/transfer"
	"github.com/rucio-go/rucio/rse"
	"github.com/rucio-go/rucio/rule"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	secret := flag.String("jwt-secret", "", "HMAC secret for bearer-token verification (required)")
	attrFile := flag.String("rse-attributes", "", "path to a JSON rse_id -> attribute map")
	flag.Parse()

	if *secret == "" {
		nlog.Errorf("rucio-server: -jwt-secret is required")
		os.Exit(1)
	}

	var attrs bootstrap.StaticAttributes
	if *attrFile != "" {
		var err error
		attrs, err = bootstrap.LoadStaticAttributes(*attrFile)
		if err != nil {
			nlog.Errorf("rucio-server: %v", err)
			os.Exit(1)
		}
	} else {
		attrs = bootstrap.StaticAttributes{}
	}

	db := store.NewDB()
	snap, err := rse.NewSnapshot(attrs, bootstrap.NewStoreQuota(db), 5*time.Minute)
	if err != nil {
		nlog.Errorf("rucio-server: building rse snapshot: %v", err)
		os.Exit(1)
	}
	defer snap.Close()

	dids := did.New(db)
	rules := rule.New(db, bootstrap.CSVExpressionResolver{}, snap, transfer.LoggingSubmitter{})
	resolver := auth.NewResolver([]byte(*secret))
	srv := restapi.NewServer(dids, rules, resolver)

	httpSrv := &fasthttp.Server{Handler: srv.Handler, Name: "rucio-server"}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGINT, unix.SIGTERM)
	go func() {
		<-sigCh
		nlog.Infof("rucio-server: signal received, shutting down")
		if err := httpSrv.Shutdown(); err != nil {
			nlog.Errorf("rucio-server: shutdown: %v", err)
		}
	}()

	nlog.Infof("rucio-server: listening on %s", *addr)
	if err := httpSrv.ListenAndServe(*addr); err != nil {
		nlog.Errorf("rucio-server: %v", err)
		os.Exit(1)
	}
}
