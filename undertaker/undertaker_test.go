package undertaker

import (
	"context"
	"testing"
	"time"

	"github.com/rucio-go/rucio/cmn/cos"
	"github.com/rucio-go/rucio/did"
	"github.com/rucio-go/rucio/internal/store"
)

// Scenario 5 of spec.md §8: an expired dataset with a rule and a lock gets
// cascaded away by one tick, in a single pass (--once).
func TestRunOnceCascadesExpiredDataset(t *testing.T) {
	ctx := context.Background()
	db := store.NewDB()
	ds := did.New(db)

	if err := ds.AddScope(ctx, "u"); err != nil {
		t.Fatalf("AddScope: %v", err)
	}
	lifetime := -time.Hour // already expired
	if err := ds.AddDID(ctx, did.AddDIDParams{Scope: "u", Name: "ds1", Type: store.DIDTypeDataset, Lifetime: &lifetime}); err != nil {
		t.Fatalf("AddDID: %v", err)
	}
	if err := ds.Attach(ctx, "u", "ds1", []did.AttachChild{{Scope: "u", Name: "f1", Bytes: 1}}, "X"); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	tx := db.Begin(ctx)
	tx.PutRule(&store.Rule{ID: "r1", Account: "alice", DID: store.DIDKey{Scope: "u", Name: "ds1"}, Copies: 1, State: store.RuleStateReplicating})
	tx.AddReplicaLock(&store.ReplicaLock{Key: store.ReplicaLockKey{RuleID: "r1", RSEID: "X", Scope: "u", Name: "f1"}, Account: "alice", State: store.LockWaiting})
	tx.IncrementLockCnt(store.ReplicaKey{RSEID: "X", Scope: "u", Name: "f1"})
	if err := tx.Commit(); err != nil {
		t.Fatalf("seed commit: %v", err)
	}

	stop := cos.NewStopCh()
	if err := Run(ctx, ds, Config{Threads: 1, Bulk: 100, Once: true}, stop); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := ds.GetDID(ctx, "u", "ds1"); err == nil {
		t.Fatalf("expected ds1 to be deleted")
	}

	tx2 := db.BeginRead(ctx)
	locks := tx2.LocksForRule("r1")
	tx2.CommitRead()
	if len(locks) != 0 {
		t.Fatalf("expected locks for r1 to be cascaded away, got %d", len(locks))
	}
}
