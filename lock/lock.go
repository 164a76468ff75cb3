// Package lock implements the Lock Layer (SPEC_FULL.md §5.D /
// spec.md §4.D): create/query/delete ReplicaLock and DatasetLock rows
// while maintaining the replica lock_cnt/tombstone invariants (I6, I7).
package lock

import (
	"context"
	"time"

	"github.com/rucio-go/rucio/internal/store"
)

type Store struct {
	db *store.DB
}

func New(db *store.DB) *Store { return &Store{db: db} }

// GetReplicaLocks returns every lock on file (scope,name), across rules.
func (s *Store) GetReplicaLocks(ctx context.Context, scope, name string) []*store.ReplicaLock {
	tx := s.db.BeginRead(ctx)
	defer tx.CommitRead()
	return tx.GetReplicaLocks(store.DIDKey{Scope: scope, Name: name})
}

// AddReplicaLock creates a new WAITING (or OK, when reusing an existing
// replica) lock and applies I6 by incrementing the owning replica's
// lock_cnt in the same transaction.
func (s *Store) AddReplicaLock(ctx context.Context, l *store.ReplicaLock) error {
	tx := s.db.Begin(ctx)
	defer tx.Rollback()
	tx.AddReplicaLock(l)
	tx.IncrementLockCnt(store.ReplicaKey{RSEID: l.Key.RSEID, Scope: l.Key.Scope, Name: l.Key.Name})
	return tx.Commit()
}

// AddDatasetLock creates a dataset-level lock for ALL-grouping bookkeeping.
func (s *Store) AddDatasetLock(ctx context.Context, l *store.DatasetLock) error {
	tx := s.db.Begin(ctx)
	defer tx.Rollback()
	tx.AddDatasetLock(l)
	return tx.Commit()
}

// UpdateState transitions a lock's state machine: WAITING -> OK on
// successful transfer callback, WAITING -> STUCK on permanent failure
// (§4.D). Rule re-evaluation does not call this: it only deletes the
// locks of files no longer under the rule's root, and never moves a lock
// out of OK or STUCK.
func (s *Store) UpdateState(ctx context.Context, key store.ReplicaLockKey, state store.LockState) error {
	tx := s.db.Begin(ctx)
	defer tx.Rollback()
	tx.UpdateReplicaLockState(key, state)
	return tx.Commit()
}

// DeleteLocksForRule removes every ReplicaLock belonging to rule_id and
// applies I9 (decrement lock_cnt, set tombstone per I7) to each owning
// replica, all in one transaction.
func (s *Store) DeleteLocksForRule(ctx context.Context, ruleID string) (int, error) {
	tx := s.db.Begin(ctx)
	defer tx.Rollback()
	now := time.Now()
	removed := tx.DeleteLocksForRule(ruleID)
	for _, k := range removed {
		tx.DecrementLockCnt(store.ReplicaKey{RSEID: k.RSEID, Scope: k.Scope, Name: k.Name}, now)
	}
	tx.DeleteDatasetLocksForRule(ruleID)
	return len(removed), tx.Commit()
}

func (s *Store) LocksForRule(ctx context.Context, ruleID string) []*store.ReplicaLock {
	tx := s.db.BeginRead(ctx)
	defer tx.CommitRead()
	return tx.LocksForRule(ruleID)
}
