package store

import (
	"time"

	"github.com/rucio-go/rucio/cmn/debug"
)

func (tx *Tx) GetReplica(key ReplicaKey) (*Replica, bool) {
	r, ok := tx.db.replicas[key]
	return r, ok
}

func (tx *Tx) PutReplica(r *Replica) {
	cp := *r
	tx.db.replicas[r.Key] = &cp

	fk := DIDKey{Scope: r.Key.Scope, Name: r.Key.Name}
	if tx.db.replicasByFile[fk] == nil {
		tx.db.replicasByFile[fk] = make(map[string]*Replica)
	}
	tx.db.replicasByFile[fk][r.Key.RSEID] = &cp
}

func (tx *Tx) DeleteReplica(key ReplicaKey) {
	delete(tx.db.replicas, key)
	fk := DIDKey{Scope: key.Scope, Name: key.Name}
	if m, ok := tx.db.replicasByFile[fk]; ok {
		delete(m, key.RSEID)
	}
}

// ReplicasOf returns every RSE-local replica of file (scope,name), keyed by
// rse_id.
func (tx *Tx) ReplicasOf(file DIDKey) map[string]*Replica {
	return tx.db.replicasByFile[file]
}

// DecrementLockCnt applies I6/I7: decrements lock_cnt by one and sets (or
// clears) the tombstone accordingly. Must be called from inside the same
// transaction that removed the owning lock (I9).
func (tx *Tx) DecrementLockCnt(key ReplicaKey, now time.Time) {
	r, ok := tx.db.replicas[key]
	if !ok {
		return
	}
	r.LockCnt--
	if r.LockCnt <= 0 {
		r.LockCnt = 0
		t := now
		r.Tombstone = &t
	} else {
		r.Tombstone = nil
	}
	debug.Assert((r.LockCnt == 0) == (r.Tombstone != nil), "I7: lock_cnt/tombstone out of sync")
}

// IncrementLockCnt applies I6: increments lock_cnt and clears any
// tombstone, since a locked replica can never be eligible for deletion
// (I7).
func (tx *Tx) IncrementLockCnt(key ReplicaKey) {
	r, ok := tx.db.replicas[key]
	if !ok {
		return
	}
	r.LockCnt++
	r.Tombstone = nil
	debug.Assert(r.LockCnt > 0, "I6: lock_cnt must be positive once incremented")
}
