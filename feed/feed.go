package feed

import (
	"context"

	"github.com/rucio-go/rucio/internal/store"
)

// Feed is the reevaluator's read side of the re-evaluation queue.
// Producers (package did) write directly to internal/store so that the
// rule engine never calls into the DID layer, and the DID layer never
// imports the rule engine — resolving the cyclic-import design note by
// modelling the dependency as "events flow through a queue both sides can
// reach", not as a direct call in either direction.
type Feed struct {
	db *store.DB
}

func New(db *store.DB) *Feed { return &Feed{db: db} }

// Drain claims up to `limit` items owned by (workerNumber, totalWorkers),
// per §4.F's stable-sharding-by-name consumption model. Claimed items are
// removed from the queue in the same transaction, so a consumer that
// fails to process one must enqueue it again for it to be retried
// (rule.Engine.Reevaluate does so).
func (f *Feed) Drain(ctx context.Context, workerNumber, totalWorkers, limit int) []Item {
	tx := f.db.Begin(ctx)
	defer tx.Rollback()
	claimed := tx.DrainUpdatedDIDs(workerNumber, totalWorkers, limit)
	if err := tx.Commit(); err != nil {
		return nil
	}
	out := make([]Item, 0, len(claimed))
	for _, u := range claimed {
		out = append(out, fromStore(u))
	}
	return out
}

// Pending reports the current queue depth, used by daemons to decide
// whether to keep draining within one tick or sleep.
func (f *Feed) Pending(ctx context.Context) int {
	tx := f.db.BeginRead(ctx)
	defer tx.CommitRead()
	return tx.PendingUpdatedDIDs()
}
