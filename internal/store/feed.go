package store

import "github.com/rucio-go/rucio/cmn/cos"

// EnqueueUpdatedDID appends a work item to the re-evaluation feed,
// folding it with any still-unclaimed item for the same (scope,name) per
// the ATTACH∘DETACH=BOTH rule (§3, §9, SPEC_FULL.md §5.F) — folding
// happens here, at enqueue time, not at consume time.
func (tx *Tx) EnqueueUpdatedDID(scope, name string, action UpdatedAction) {
	for _, u := range tx.db.updated {
		if u.Scope == scope && u.Name == name {
			u.Action = Fold(u.Action, action)
			return
		}
	}
	tx.db.nextUpdated++
	tx.db.updated = append(tx.db.updated, &UpdatedDID{
		ID:     tx.db.nextUpdated,
		Scope:  scope,
		Name:   name,
		Action: action,
	})
}

// DrainUpdatedDIDs claims and removes up to `limit` items owned by
// (workerNumber, totalWorkers), per the stable-sharding consumption model
// of §4.F.
func (tx *Tx) DrainUpdatedDIDs(workerNumber, totalWorkers, limit int) []*UpdatedDID {
	var claimed []*UpdatedDID
	var remaining []*UpdatedDID
	for _, u := range tx.db.updated {
		if len(claimed) < limit && cos.Owns(u.Name, workerNumber, totalWorkers) {
			claimed = append(claimed, u)
			continue
		}
		remaining = append(remaining, u)
	}
	tx.db.updated = remaining
	return claimed
}

func (tx *Tx) PendingUpdatedDIDs() int {
	return len(tx.db.updated)
}
