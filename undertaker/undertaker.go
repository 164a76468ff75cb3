// Package undertaker implements the expired-DID reaper of spec.md §4.E /
// SPEC_FULL.md §5.E: a tick loop that lists expired DIDs owned by this
// worker's shard and cascades their deletion through package did. Failures
// within one batch are logged and skipped, never retried in-line — the
// next tick picks up whatever remains expired (§4.E "Failure semantics").
package undertaker

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/rucio-go/rucio/cmn/atomic"
	"github.com/rucio-go/rucio/cmn/cos"
	"github.com/rucio-go/rucio/cmn/mono"
	"github.com/rucio-go/rucio/cmn/nlog"
	"github.com/rucio-go/rucio/did"
	"github.com/rucio-go/rucio/internal/store"
)

// processedTotal is a fast in-process counter of expired DIDs reaped since
// start, read far more often (every tick's log line) than it's written —
// cheaper than scraping Prometheus for a number this loop already has.
var processedTotal atomic.Int64

var (
	deletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rucio",
		Subsystem: "undertaker",
		Name:      "deleted_total",
		Help:      "Rows removed per delete_dids category.",
	}, []string{"category"})

	batchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rucio",
		Subsystem: "undertaker",
		Name:      "batch_duration_seconds",
		Help:      "Time spent cascading one batch of expired DIDs.",
	}, []string{"worker"})
)

func init() {
	prometheus.MustRegister(deletedTotal, batchDuration)
}

// Config governs one worker's tick loop, mirroring the daemon flags of
// SPEC_FULL.md §6.5.
type Config struct {
	Threads int
	Bulk    int
	Delay   time.Duration
	Once    bool
}

// Run fans out Config.Threads worker goroutines, each owning a disjoint
// shard of the expired-DID partition (spec.md §4.E), until ctx is
// cancelled or stop fires. Run returns the first worker error, if any.
func Run(ctx context.Context, ds *did.Store, cfg Config, stop *cos.StopCh) error {
	if cfg.Threads < 1 {
		cfg.Threads = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Threads; w++ {
		w := w
		g.Go(func() error {
			return worker(ctx, ds, cfg, w, stop)
		})
	}
	return g.Wait()
}

func worker(ctx context.Context, ds *did.Store, cfg Config, workerNumber int, stop *cos.StopCh) error {
	workerLabel := workerID(workerNumber)
	for {
		start := time.Now()
		tick := mono.NanoTime()
		keys := ds.ListExpiredDIDs(ctx, workerNumber, cfg.Threads, cfg.Bulk)
		if len(keys) > 0 {
			if err := runBatch(ctx, ds, keys); err != nil {
				nlog.Errorf("undertaker[%d]: batch of %d failed, skipping: %v", workerNumber, len(keys), err)
			} else {
				n := processedTotal.Add(int64(len(keys)))
				nlog.Infof("undertaker[%d]: reaped %d dids (%d total)", workerNumber, len(keys), n)
			}
		}
		batchDuration.WithLabelValues(workerLabel).Observe(time.Since(start).Seconds())

		if cfg.Once {
			return nil
		}
		elapsed := mono.Since(tick)
		sleep := cfg.Delay - elapsed
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-ctx.Done():
			return nil
		case <-stop.Chan():
			return nil
		case <-time.After(sleep):
		}
	}
}

// runBatch cascades one batch through did.DeleteDIDs and accounts its
// per-category counters — never retried in-line on error (§4.E).
func runBatch(ctx context.Context, ds *did.Store, keys []store.DIDKey) error {
	counters, err := ds.DeleteDIDs(ctx, keys)
	deletedTotal.WithLabelValues("locks").Add(float64(counters.Locks))
	deletedTotal.WithLabelValues("dataset_locks").Add(float64(counters.DatasetLocks))
	deletedTotal.WithLabelValues("rules").Add(float64(counters.Rules))
	deletedTotal.WithLabelValues("parent_content").Add(float64(counters.ParentContent))
	deletedTotal.WithLabelValues("content").Add(float64(counters.Content))
	deletedTotal.WithLabelValues("dids").Add(float64(counters.DIDs))
	deletedTotal.WithLabelValues("tombstones").Add(float64(counters.Tombstones))
	return err
}

func workerID(n int) string {
	return "w" + strconv.Itoa(n)
}
