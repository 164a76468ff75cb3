package did

import (
	"context"
	"testing"

	"github.com/rucio-go/rucio/cmn/errs"
	"github.com/rucio-go/rucio/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db := store.NewDB()
	s := New(db)
	if err := s.AddScope(context.Background(), "u"); err != nil {
		t.Fatalf("AddScope: %v", err)
	}
	return s
}

// Scenario 1 of spec.md §8: create + close dataset.
func TestCreateAndCloseDataset(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.AddDID(ctx, AddDIDParams{Scope: "u", Name: "ds1", Type: store.DIDTypeDataset, Account: "alice"}); err != nil {
		t.Fatalf("AddDID: %v", err)
	}
	err := s.Attach(ctx, "u", "ds1", []AttachChild{
		{Scope: "u", Name: "f1", Bytes: 10, Adler32: "a"},
		{Scope: "u", Name: "f2", Bytes: 20, Adler32: "b"},
	}, "SITE_A")
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if err := s.SetStatus(ctx, "u", "ds1", false); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	d, err := s.GetDID(ctx, "u", "ds1")
	if err != nil {
		t.Fatalf("GetDID: %v", err)
	}
	if d.Length != 2 {
		t.Errorf("Length = %d, want 2", d.Length)
	}
	if d.Bytes != 30 {
		t.Errorf("Bytes = %d, want 30", d.Bytes)
	}
	if d.IsOpen {
		t.Errorf("IsOpen = true, want false")
	}
}

func TestAddDIDRejectsFile(t *testing.T) {
	s := newTestStore(t)
	err := s.AddDID(context.Background(), AddDIDParams{Scope: "u", Name: "f1", Type: store.DIDTypeFile, Account: "alice"})
	if !errs.Is(err, errs.UnsupportedOperation) {
		t.Fatalf("want UnsupportedOperation, got %v", err)
	}
}

func TestAddDIDDuplicate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := AddDIDParams{Scope: "u", Name: "ds1", Type: store.DIDTypeDataset, Account: "alice"}
	if err := s.AddDID(ctx, p); err != nil {
		t.Fatalf("first AddDID: %v", err)
	}
	err := s.AddDID(ctx, p)
	if !errs.Is(err, errs.DataIdentifierAlreadyExists) {
		t.Fatalf("want DataIdentifierAlreadyExists, got %v", err)
	}
}

func TestAddDIDUnknownScope(t *testing.T) {
	err := New(store.NewDB()).AddDID(context.Background(), AddDIDParams{Scope: "missing", Name: "ds1", Type: store.DIDTypeDataset})
	if !errs.Is(err, errs.ScopeNotFound) {
		t.Fatalf("want ScopeNotFound, got %v", err)
	}
}

// I1: a dataset's children are all FILE.
func TestDatasetRejectsNonFileChild(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.AddDID(ctx, AddDIDParams{Scope: "u", Name: "ds1", Type: store.DIDTypeDataset})
	s.AddDID(ctx, AddDIDParams{Scope: "u", Name: "ds2", Type: store.DIDTypeDataset})

	err := s.Attach(ctx, "u", "ds1", []AttachChild{{Scope: "u", Name: "ds2"}}, "")
	if err == nil {
		t.Fatal("expected error attaching a dataset into a dataset")
	}
}

// I2: a container's children must all share one type.
func TestContainerRejectsMixedChildren(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.AddDID(ctx, AddDIDParams{Scope: "u", Name: "cont1", Type: store.DIDTypeContainer})
	s.AddDID(ctx, AddDIDParams{Scope: "u", Name: "ds1", Type: store.DIDTypeDataset})
	s.AddDID(ctx, AddDIDParams{Scope: "u", Name: "cont2", Type: store.DIDTypeContainer})

	if err := s.Attach(ctx, "u", "cont1", []AttachChild{{Scope: "u", Name: "ds1"}}, ""); err != nil {
		t.Fatalf("first attach: %v", err)
	}
	err := s.Attach(ctx, "u", "cont1", []AttachChild{{Scope: "u", Name: "cont2"}}, "")
	if err == nil {
		t.Fatal("expected I2 violation for mixed container children")
	}
}

// I3: self-edges are forbidden.
func TestSelfAttachRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.AddDID(ctx, AddDIDParams{Scope: "u", Name: "cont1", Type: store.DIDTypeContainer})
	err := s.Attach(ctx, "u", "cont1", []AttachChild{{Scope: "u", Name: "cont1"}}, "")
	if err == nil {
		t.Fatal("expected self-edge rejection")
	}
}

// I4: an edge into a closed parent is rejected.
func TestAttachToClosedParentRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.AddDID(ctx, AddDIDParams{Scope: "u", Name: "ds1", Type: store.DIDTypeDataset})
	if err := s.SetStatus(ctx, "u", "ds1", false); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	err := s.Attach(ctx, "u", "ds1", []AttachChild{{Scope: "u", Name: "f1", Bytes: 1}}, "SITE_A")
	if err == nil {
		t.Fatal("expected rejection attaching to a closed parent")
	}
}

func TestDetachRemovesEdgeAndEmitsEvent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.AddDID(ctx, AddDIDParams{Scope: "u", Name: "ds1", Type: store.DIDTypeDataset})
	s.Attach(ctx, "u", "ds1", []AttachChild{{Scope: "u", Name: "f1", Bytes: 1}}, "SITE_A")

	if err := s.Detach(ctx, "u", "ds1", []store.DIDKey{{Scope: "u", Name: "f1"}}); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if content := s.ListContent(ctx, "u", "ds1"); len(content) != 0 {
		t.Errorf("expected empty content after detach, got %v", content)
	}
}

func TestDetachSelfRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.AddDID(ctx, AddDIDParams{Scope: "u", Name: "ds1", Type: store.DIDTypeDataset})
	err := s.Detach(ctx, "u", "ds1", []store.DIDKey{{Scope: "u", Name: "ds1"}})
	if err == nil {
		t.Fatal("expected self-detach rejection")
	}
}

// I6/I9: a replica referenced by locks from two different rules must have
// its lock_cnt decremented once per removed lock, not once per replica,
// when both rules are torn down in the same delete_dids batch.
func TestDeleteDIDsDecrementsLockCntPerRemovedLock(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.AddDID(ctx, AddDIDParams{Scope: "u", Name: "ds1", Type: store.DIDTypeDataset})
	s.Attach(ctx, "u", "ds1", []AttachChild{{Scope: "u", Name: "f1", Bytes: 1}}, "")

	rk := store.ReplicaKey{RSEID: "SITE_A", Scope: "u", Name: "f1"}
	lk1 := store.ReplicaLockKey{RuleID: "r1", RSEID: "SITE_A", Scope: "u", Name: "f1"}
	lk2 := store.ReplicaLockKey{RuleID: "r2", RSEID: "SITE_A", Scope: "u", Name: "f1"}

	tx := s.db.Begin(ctx)
	tx.PutReplica(&store.Replica{Key: rk})
	tx.AddReplicaLock(&store.ReplicaLock{Key: lk1, Account: "alice", State: store.LockOK})
	tx.IncrementLockCnt(rk)
	tx.AddReplicaLock(&store.ReplicaLock{Key: lk2, Account: "alice", State: store.LockOK})
	tx.IncrementLockCnt(rk)
	tx.PutRule(&store.Rule{ID: "r1", Account: "alice", DID: store.DIDKey{Scope: "u", Name: "ds1"}})
	tx.PutRule(&store.Rule{ID: "r2", Account: "alice", DID: store.DIDKey{Scope: "u", Name: "ds1"}})
	if err := tx.Commit(); err != nil {
		t.Fatalf("seed commit: %v", err)
	}

	rtx := s.db.BeginRead(ctx)
	r, _ := rtx.GetReplica(rk)
	rtx.CommitRead()
	if r.LockCnt != 2 {
		t.Fatalf("seed LockCnt = %d, want 2", r.LockCnt)
	}

	if _, err := s.DeleteDIDs(ctx, []store.DIDKey{{Scope: "u", Name: "ds1"}}); err != nil {
		t.Fatalf("DeleteDIDs: %v", err)
	}

	rtx = s.db.BeginRead(ctx)
	r, ok := rtx.GetReplica(rk)
	rtx.CommitRead()
	if !ok {
		t.Fatalf("replica disappeared")
	}
	if r.LockCnt != 0 {
		t.Fatalf("LockCnt = %d, want 0 after both rules' locks are removed", r.LockCnt)
	}
	if r.Tombstone == nil {
		t.Fatalf("Tombstone should be set once lock_cnt reaches 0 (I7)")
	}
}

// Scenario 5 groundwork: delete_dids is idempotent when the batch no
// longer exists (§8).
func TestDeleteDIDsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.AddDID(ctx, AddDIDParams{Scope: "u", Name: "ds1", Type: store.DIDTypeDataset})

	if _, err := s.DeleteDIDs(ctx, []store.DIDKey{{Scope: "u", Name: "ds1"}}); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	c2, err := s.DeleteDIDs(ctx, []store.DIDKey{{Scope: "u", Name: "ds1"}})
	if err != nil {
		t.Fatalf("second delete (idempotent) should not error: %v", err)
	}
	if c2.DIDs != 0 {
		t.Errorf("expected zero work on re-run, got DIDs=%d", c2.DIDs)
	}
}

func TestListFilesWalksRecursively(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.AddDID(ctx, AddDIDParams{Scope: "u", Name: "cont1", Type: store.DIDTypeContainer})
	s.AddDID(ctx, AddDIDParams{Scope: "u", Name: "ds1", Type: store.DIDTypeDataset})
	s.Attach(ctx, "u", "cont1", []AttachChild{{Scope: "u", Name: "ds1"}}, "")
	s.Attach(ctx, "u", "ds1", []AttachChild{{Scope: "u", Name: "f1", Bytes: 1}, {Scope: "u", Name: "f2", Bytes: 2}}, "SITE_A")

	files := s.ListFiles(ctx, "u", "cont1", true)
	if len(files) != 2 {
		t.Fatalf("ListFiles recursive = %d files, want 2", len(files))
	}
}
