package rule

import (
	"sort"

	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/rucio-go/rucio/cmn/debug"
	"github.com/rucio-go/rucio/internal/store"
	"github.com/rucio-go/rucio/internal/transfer"
	"github.com/rucio-go/rucio/rse"
)

// fileInfo is one file within a dataset being placed, carrying the locks
// it already has so the engine can avoid redundant transfers (§4.B).
type fileInfo struct {
	key           store.DIDKey
	size          int64
	existingLocks map[string]store.LockState // rse_id -> state
}

// datasetFiles mirrors §4.B's materialized `datasetfiles` shape: one
// dataset and the files within it.
type datasetFiles struct {
	dataset store.DIDKey
	files   []fileInfo
}

// materialize classifies the root DID and builds the datasetfiles/
// containers structures §4.B calls for, fetching each file's existing
// locks with one GetReplicaLocks lookup per file.
func (e *Engine) materialize(tx *store.Tx, root store.DIDKey) ([]datasetFiles, []store.DIDKey, error) {
	d, err := tx.GetDID(root)
	if err != nil {
		return nil, nil, err
	}

	switch d.Type {
	case store.DIDTypeFile:
		df := datasetFiles{dataset: store.DIDKey{}, files: []fileInfo{e.fileInfoOf(tx, root, d)}}
		return []datasetFiles{df}, nil, nil

	case store.DIDTypeDataset:
		files := tx.ListContent(root)
		df := datasetFiles{dataset: root}
		for _, a := range files {
			fd, err := tx.GetDID(a.Child)
			if err != nil {
				continue
			}
			df.files = append(df.files, e.fileInfoOf(tx, a.Child, fd))
		}
		return []datasetFiles{df}, nil, nil

	case store.DIDTypeContainer:
		datasets := tx.ListChildDatasets(root)
		containers := tx.ListChildContainers(root)
		sort.Slice(datasets, func(i, j int) bool { return datasets[i].Name < datasets[j].Name })
		var out []datasetFiles
		for _, ds := range datasets {
			files := tx.ListContent(ds)
			df := datasetFiles{dataset: ds}
			for _, a := range files {
				fd, err := tx.GetDID(a.Child)
				if err != nil {
					continue
				}
				df.files = append(df.files, e.fileInfoOf(tx, a.Child, fd))
			}
			out = append(out, df)
		}
		return out, containers, nil
	}
	return nil, nil, nil
}

func (e *Engine) fileInfoOf(tx *store.Tx, key store.DIDKey, d *store.DID) fileInfo {
	locks := tx.GetReplicaLocks(key)
	existing := make(map[string]store.LockState, len(locks))
	for _, l := range locks {
		existing[l.Key.RSEID] = l.State
	}
	return fileInfo{key: key, size: d.Bytes, existingLocks: existing}
}

// applyLocked materializes the root, places every file per the rule's
// grouping, inserts the new replica and dataset locks in the caller's
// transaction (no hints are written), and returns the
// transfer orders to submit after commit. Returns whether every lock in
// the rule ended up OK (meaning the rule can transition OK immediately).
func (e *Engine) applyLocked(tx *store.Tx, r *store.Rule, sel *rse.Selector) ([]transfer.Order, bool, error) {
	dsfiles, _, err := e.materialize(tx, r.DID)
	if err != nil {
		return nil, false, err
	}

	var orders []transfer.Order
	allOK := true

	switch r.Grouping {
	case store.GroupingNone:
		for _, df := range dsfiles {
			for _, f := range df.files {
				preferred := preferredRSEs(f.existingLocks)
				picked, err := sel.Select(f.size, preferred, nil)
				if err != nil {
					return nil, false, err
				}
				ok, o := e.applyPicks(tx, r, f, picked, nil)
				orders = append(orders, o...)
				allOK = allOK && ok
			}
		}

	case store.GroupingAll:
		picked, o, ok, err := e.applyUnified(tx, r, dsfiles, sel)
		if err != nil {
			return nil, false, err
		}
		orders = append(orders, o...)
		allOK = allOK && ok
		// DatasetLock is the dataset-level analogue of ReplicaLock bookkeeping
		// (§4.B): every dataset in the container gets one per RSE the rule
		// actually placed it on, including RSEs whose coverage was already
		// OK and produced no new transfer order.
		for _, df := range dsfiles {
			if len(df.files) == 0 {
				continue
			}
			for _, rseID := range picked {
				tx.AddDatasetLock(&store.DatasetLock{Key: store.DatasetLockKey{
					RuleID: r.ID, RSEID: rseID, Scope: df.dataset.Scope, Name: df.dataset.Name,
				}})
			}
		}

	case store.GroupingDataset:
		for _, df := range dsfiles {
			picked, o, ok, err := e.applyUnified(tx, r, []datasetFiles{df}, sel)
			if err != nil {
				return nil, false, err
			}
			orders = append(orders, o...)
			allOK = allOK && ok
			if len(df.files) > 0 {
				for _, rseID := range picked {
					tx.AddDatasetLock(&store.DatasetLock{Key: store.DatasetLockKey{
						RuleID: r.ID, RSEID: rseID, Scope: df.dataset.Scope, Name: df.dataset.Name,
					}})
				}
			}
		}
	}

	return orders, allOK, nil
}

// applyUnified implements ALL/DATASET grouping: sum sizes, rank RSEs by
// existing coverage, pass that ranking as `preferred` to Select, and apply
// the chosen RSEs uniformly to every file (§4.B).
func (e *Engine) applyUnified(tx *store.Tx, r *store.Rule, dsfiles []datasetFiles, sel *rse.Selector) ([]string, []transfer.Order, bool, error) {
	var totalSize int64
	coverage := make(map[string]int64)
	filter := newLockFilter(countFiles(dsfiles) * r.Copies)

	for _, df := range dsfiles {
		for _, f := range df.files {
			totalSize += f.size
			for rseID, state := range f.existingLocks {
				if state == store.LockOK {
					coverage[rseID] += f.size
					filter.InsertUnique(lockFilterKey(rseID, f.key.Scope, f.key.Name))
				}
			}
		}
	}

	preferred := rankByCoverage(coverage)
	picked, err := sel.Select(totalSize, preferred, nil)
	if err != nil {
		return nil, nil, false, err
	}

	var orders []transfer.Order
	allOK := true
	for _, df := range dsfiles {
		for _, f := range df.files {
			ok, o := e.applyPicks(tx, r, f, picked, filter)
			orders = append(orders, o...)
			allOK = allOK && ok
		}
	}
	return picked, orders, allOK, nil
}

// applyPicks materializes locks for one file across the chosen RSEs: an
// existing lock is reused as-is (its state, OK or WAITING), otherwise a
// new WAITING lock is created and a transfer order enqueued.
func (e *Engine) applyPicks(tx *store.Tx, r *store.Rule, f fileInfo, picked []string, filter *cuckoo.Filter) (bool, []transfer.Order) {
	var orders []transfer.Order
	allOK := true

	for _, rseID := range picked {
		key := store.ReplicaLockKey{RuleID: r.ID, RSEID: rseID, Scope: f.key.Scope, Name: f.key.Name}

		if existingState, has := f.existingLocks[rseID]; has {
			// The cuckoo filter only ever sees OK-state inserts
			// (applyUnified), so a reused OK lock must always show up as a
			// "maybe" here; a negative answer for an OK state would mean
			// the coverage scan and the per-file lock map disagree.
			if filter != nil && existingState == store.LockOK {
				debug.Assert(filter.Lookup(lockFilterKey(rseID, f.key.Scope, f.key.Name)),
					"lock filter missing an OK lock present in existingLocks")
			}
			tx.AddReplicaLock(&store.ReplicaLock{Key: key, Account: r.Account, State: existingState})
			tx.IncrementLockCnt(store.ReplicaKey{RSEID: rseID, Scope: f.key.Scope, Name: f.key.Name})
			if existingState != store.LockOK {
				allOK = false
			}
			continue
		}
		tx.AddReplicaLock(&store.ReplicaLock{Key: key, Account: r.Account, State: store.LockWaiting})
		tx.IncrementLockCnt(store.ReplicaKey{RSEID: rseID, Scope: f.key.Scope, Name: f.key.Name})
		orders = append(orders, transfer.Order{Scope: f.key.Scope, Name: f.key.Name, DestinationRSE: rseID})
		allOK = false
	}
	return allOK, orders
}

func preferredRSEs(existing map[string]store.LockState) []string {
	out := make([]string, 0, len(existing))
	for rseID := range existing {
		out = append(out, rseID)
	}
	sort.Strings(out)
	return out
}

// rankByCoverage returns RSE ids sorted by descending existing coverage,
// the `preferred` ranking §4.B's ALL grouping hands to Select.
func rankByCoverage(coverage map[string]int64) []string {
	out := make([]string, 0, len(coverage))
	for rseID := range coverage {
		out = append(out, rseID)
	}
	sort.Slice(out, func(i, j int) bool {
		if coverage[out[i]] != coverage[out[j]] {
			return coverage[out[i]] > coverage[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

func countFiles(dsfiles []datasetFiles) int {
	n := 0
	for _, df := range dsfiles {
		n += len(df.files)
	}
	return n
}
