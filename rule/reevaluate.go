package rule

import (
	"context"
	"sort"
	"time"

	"github.com/rucio-go/rucio/cmn/nlog"
	"github.com/rucio-go/rucio/feed"
	"github.com/rucio-go/rucio/internal/store"
	"github.com/rucio-go/rucio/internal/transfer"
)

// Reevaluate drains up to `limit` queued DID-graph changes owned by
// (workerNumber, totalWorkers) and, for every rule whose root transitively
// contains a changed DID, brings that rule's locks back in line with the
// current graph (§4.B "Re-evaluation"). It never touches package did —
// consuming package feed is how the cyclic-import design note (§9) is kept
// resolved on this side too.
func (e *Engine) Reevaluate(ctx context.Context, f *feed.Feed, workerNumber, totalWorkers, limit int) (int, error) {
	items := f.Drain(ctx, workerNumber, totalWorkers, limit)
	processed := 0
	for _, it := range items {
		key := store.DIDKey{Scope: it.Scope, Name: it.Name}
		if err := e.reevaluateDID(ctx, key); err != nil {
			// Drain already removed the item; queue it again so a later
			// drain retries it.
			nlog.Warningf("reevaluate: %s:%s failed, re-queued: %v", it.Scope, it.Name, err)
			tx := e.db.Begin(ctx)
			tx.EnqueueUpdatedDID(it.Scope, it.Name, it.Action)
			if cerr := tx.Commit(); cerr != nil {
				nlog.Errorf("reevaluate: re-queue %s:%s failed: %v", it.Scope, it.Name, cerr)
			}
			continue
		}
		processed++
	}
	return processed, nil
}

// reevaluateDID finds every rule rooted at an ancestor of key (walking up
// the DAG) and re-applies each one against the graph as it stands now.
func (e *Engine) reevaluateDID(ctx context.Context, key store.DIDKey) error {
	tx := e.db.Begin(ctx)
	defer tx.Rollback()

	ancestors := ancestorsOf(tx, key)
	var affected []*store.Rule
	for _, r := range tx.AllRules() {
		if _, ok := ancestors[r.DID]; ok {
			affected = append(affected, r)
		}
	}

	for _, r := range affected {
		if err := e.reapplyRule(tx, r); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ancestorsOf walks parent edges from key up to every reachable ancestor,
// including key itself, using an explicit stack per §9's design note.
func ancestorsOf(tx *store.Tx, key store.DIDKey) map[store.DIDKey]struct{} {
	out := map[store.DIDKey]struct{}{key: {}}
	stack := []store.DIDKey{key}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, p := range tx.ListParentDIDs(cur) {
			if _, dup := out[p]; dup {
				continue
			}
			out[p] = struct{}{}
			stack = append(stack, p)
		}
	}
	return out
}

// reapplyRule reconciles one rule's locks against the DID graph as it
// stands: locks whose file is no longer reachable get removed and
// I9-tombstoned; files newly reachable from the root get locks on the
// rule's established RSEs under ALL/DATASET grouping, and are left without
// a lock from this rule under NONE grouping or when the rule holds no
// lock at all.
func (e *Engine) reapplyRule(tx *store.Tx, r *store.Rule) error {
	dsfiles, _, err := e.materialize(tx, r.DID)
	if err != nil {
		return err
	}
	current := make(map[store.DIDKey]fileInfo)
	for _, df := range dsfiles {
		for _, f := range df.files {
			current[f.key] = f
		}
	}

	existing := tx.LocksForRule(r.ID)
	lockedFiles := make(map[store.DIDKey][]*store.ReplicaLock)
	for _, l := range existing {
		fk := store.DIDKey{Scope: l.Key.Scope, Name: l.Key.Name}
		lockedFiles[fk] = append(lockedFiles[fk], l)
	}

	// DETACH side: a locked file no longer reachable from the root loses
	// every lock this rule holds on it (§4.A tombstone invariants via I9).
	now := time.Now()
	for fk, locks := range lockedFiles {
		if _, still := current[fk]; still {
			continue
		}
		for _, l := range locks {
			tx.DeleteReplicaLock(l.Key)
			tx.DecrementLockCnt(store.ReplicaKey{RSEID: l.Key.RSEID, Scope: l.Key.Scope, Name: l.Key.Name}, now)
		}
	}

	// ATTACH side: a current file with no lock yet needs placing. NONE
	// grouping places each independently; ALL/DATASET grouping reuses the
	// rule's already-established RSE set so every file in the group still
	// converges on identical coverage, without a fresh weighted draw.
	established := establishedRSEs(existing)
	var orders []transfer.Order
	for fk, f := range current {
		if _, has := lockedFiles[fk]; has {
			continue
		}
		targets := established
		if len(targets) == 0 {
			// No established placement yet (rule just created, or every
			// prior lock was just torn down): nothing to extend onto.
			continue
		}
		if r.Grouping == store.GroupingNone {
			// Independent files never share placement; skip silently.
			// Nothing else re-applies an existing rule, so a newly
			// attached file under NONE grouping gets no lock from it.
			continue
		}
		ok, o := e.applyPicks(tx, r, f, targets, nil)
		orders = append(orders, o...)
		_ = ok
	}

	if len(orders) > 0 {
		if errs := transfer.SubmitBatch(context.Background(), e.submitter, orders); len(errs) > 0 {
			nlog.Warningf("reevaluate: %d/%d transfer submissions failed for rule %s", len(errs), len(orders), r.ID)
		}
	}
	return nil
}

// establishedRSEs returns the distinct RSE ids a rule already holds locks
// on, most-locked first, so ALL/DATASET grouping can extend coverage onto
// newly attached files without re-running weighted selection.
func establishedRSEs(locks []*store.ReplicaLock) []string {
	count := make(map[string]int)
	for _, l := range locks {
		count[l.Key.RSEID]++
	}
	out := make([]string, 0, len(count))
	for id := range count {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		if count[out[i]] != count[out[j]] {
			return count[out[i]] > count[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}
