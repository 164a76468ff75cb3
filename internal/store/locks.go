package store

func (tx *Tx) AddReplicaLock(l *ReplicaLock) {
	cp := *l
	tx.db.replicaLocks[l.Key] = &cp

	if tx.db.locksByRule[l.Key.RuleID] == nil {
		tx.db.locksByRule[l.Key.RuleID] = make(map[ReplicaLockKey]struct{})
	}
	tx.db.locksByRule[l.Key.RuleID][l.Key] = struct{}{}

	fk := DIDKey{Scope: l.Key.Scope, Name: l.Key.Name}
	if tx.db.locksByFile[fk] == nil {
		tx.db.locksByFile[fk] = make(map[ReplicaLockKey]struct{})
	}
	tx.db.locksByFile[fk][l.Key] = struct{}{}
}

func (tx *Tx) GetReplicaLock(key ReplicaLockKey) (*ReplicaLock, bool) {
	l, ok := tx.db.replicaLocks[key]
	return l, ok
}

func (tx *Tx) UpdateReplicaLockState(key ReplicaLockKey, state LockState) {
	if l, ok := tx.db.replicaLocks[key]; ok {
		l.State = state
	}
}

// DeleteReplicaLock removes one lock row. Callers are responsible for I9
// (decrementing the owning replica's lock_cnt in the same transaction).
func (tx *Tx) DeleteReplicaLock(key ReplicaLockKey) {
	delete(tx.db.replicaLocks, key)
	if m, ok := tx.db.locksByRule[key.RuleID]; ok {
		delete(m, key)
	}
	fk := DIDKey{Scope: key.Scope, Name: key.Name}
	if m, ok := tx.db.locksByFile[fk]; ok {
		delete(m, key)
	}
}

// GetReplicaLocks returns every lock on file (scope,name), across all
// rules — §4.D's get_replica_locks.
func (tx *Tx) GetReplicaLocks(file DIDKey) []*ReplicaLock {
	keys := tx.db.locksByFile[file]
	out := make([]*ReplicaLock, 0, len(keys))
	for k := range keys {
		out = append(out, tx.db.replicaLocks[k])
	}
	return out
}

// LocksForRule returns every lock belonging to rule_id.
func (tx *Tx) LocksForRule(ruleID string) []*ReplicaLock {
	keys := tx.db.locksByRule[ruleID]
	out := make([]*ReplicaLock, 0, len(keys))
	for k := range keys {
		out = append(out, tx.db.replicaLocks[k])
	}
	return out
}

func (tx *Tx) AddDatasetLock(l *DatasetLock) {
	cp := *l
	tx.db.datasetLocks[l.Key] = &cp
	if tx.db.dsLocksByRule[l.Key.RuleID] == nil {
		tx.db.dsLocksByRule[l.Key.RuleID] = make(map[DatasetLockKey]struct{})
	}
	tx.db.dsLocksByRule[l.Key.RuleID][l.Key] = struct{}{}
}

func (tx *Tx) DatasetLocksForRule(ruleID string) []*DatasetLock {
	keys := tx.db.dsLocksByRule[ruleID]
	out := make([]*DatasetLock, 0, len(keys))
	for k := range keys {
		out = append(out, tx.db.datasetLocks[k])
	}
	return out
}

func (tx *Tx) DeleteDatasetLocksForRule(ruleID string) int {
	keys := tx.db.dsLocksByRule[ruleID]
	n := len(keys)
	for k := range keys {
		delete(tx.db.datasetLocks, k)
	}
	delete(tx.db.dsLocksByRule, ruleID)
	return n
}

// DeleteLocksForRule removes every ReplicaLock belonging to rule_id and
// returns the removed keys so the caller can apply I9 (decrement lock_cnt,
// set tombstones) per replica, inside the same transaction.
func (tx *Tx) DeleteLocksForRule(ruleID string) []ReplicaLockKey {
	keys := tx.db.locksByRule[ruleID]
	out := make([]ReplicaLockKey, 0, len(keys))
	for k := range keys {
		out = append(out, k)
		delete(tx.db.replicaLocks, k)
		fk := DIDKey{Scope: k.Scope, Name: k.Name}
		if m, ok := tx.db.locksByFile[fk]; ok {
			delete(m, k)
		}
	}
	delete(tx.db.locksByRule, ruleID)
	return out
}
