// Package did implements the DID Graph Store (SPEC_FULL.md §5.A /
// spec.md §4.A): persistence of files/datasets/containers and their
// parent-child edges, and the lifecycle operations that mutate them.
package did

import (
	"context"
	"time"

	"github.com/teris-io/shortid"

	"github.com/rucio-go/rucio/cmn/errs"
	"github.com/rucio-go/rucio/cmn/nlog"
	"github.com/rucio-go/rucio/internal/store"
)

// Store is the DID Graph Store. It never calls into the rule engine
// directly (DESIGN.md: "Cyclic import between rule and DID layers") —
// every mutation that can affect placement instead appends an UpdatedDID
// work item that the rule engine's reevaluator drains independently.
type Store struct {
	db *store.DB
}

func New(db *store.DB) *Store { return &Store{db: db} }

type AddDIDParams struct {
	Scope     string
	Name      string
	Type      store.DIDType
	Account   string
	Lifetime  *time.Duration
	Monotonic bool
}

// AddDID creates a DATASET or CONTAINER. Files are never registered
// through this path — they appear via Attach with an rse (§4.A contract).
func (s *Store) AddDID(ctx context.Context, p AddDIDParams) error {
	if p.Type == store.DIDTypeFile {
		return errs.New(errs.UnsupportedOperation, "files are registered via Attach, not AddDID")
	}
	key := store.DIDKey{Scope: p.Scope, Name: p.Name}

	tx := s.db.Begin(ctx)
	defer tx.Rollback()

	if !tx.ScopeExists(p.Scope) {
		return errs.New(errs.ScopeNotFound, "%s", p.Scope)
	}
	if tx.DIDExists(key) {
		return errs.New(errs.DataIdentifierAlreadyExists, "%s:%s", p.Scope, p.Name)
	}

	now := time.Now()
	var expiredAt *time.Time
	if p.Lifetime != nil {
		t := now.Add(*p.Lifetime)
		expiredAt = &t
	}
	tx.PutDID(&store.DID{
		Key:       key,
		Type:      p.Type,
		Account:   p.Account,
		IsOpen:    true,
		Monotonic: p.Monotonic,
		ExpiredAt: expiredAt,
		IsNew:     true,
	})
	return tx.Commit()
}

// AddDIDs is the bulk form of AddDID: it calls AddDID once per entry, each
// in its own transaction, and stops at the first error. The batch is not
// atomic: entries before the failing one stay committed.
func (s *Store) AddDIDs(ctx context.Context, batch []AddDIDParams) error {
	for _, p := range batch {
		if err := s.AddDID(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetDID(ctx context.Context, scope, name string) (*store.DID, error) {
	tx := s.db.BeginRead(ctx)
	defer tx.CommitRead()
	return tx.GetDID(store.DIDKey{Scope: scope, Name: name})
}

func (s *Store) GetMetadata(ctx context.Context, scope, name string) (map[string]string, error) {
	d, err := s.GetDID(ctx, scope, name)
	if err != nil {
		return nil, err
	}
	return d.Metadata, nil
}

// SetMetadata validates key/value per §7's InvalidValueForKey/KeyNotFound
// and writes it transactionally.
func (s *Store) SetMetadata(ctx context.Context, scope, name, key, value string) error {
	k := store.DIDKey{Scope: scope, Name: name}
	tx := s.db.Begin(ctx)
	defer tx.Rollback()

	d, err := tx.GetDID(k)
	if err != nil {
		return err
	}
	if !validMetaKey(key) {
		return errs.New(errs.KeyNotFound, "%s", key)
	}
	if !validMetaValue(key, value) {
		return errs.New(errs.InvalidValueForKey, "%s=%s", key, value)
	}
	if d.Metadata == nil {
		d.Metadata = make(map[string]string)
	}
	d.Metadata[key] = value
	tx.PutDID(d)
	return tx.Commit()
}

var allowedMetaKeys = map[string]struct{}{
	"lifetime": {}, "comment": {}, "hidden": {},
}

func validMetaKey(key string) bool {
	_, ok := allowedMetaKeys[key]
	return ok
}

func validMetaValue(key, value string) bool {
	return value != ""
}

// Attach verifies the parent exists, is open, and is DATASET or CONTAINER,
// then either registers new files (DATASET + rse given) or links existing
// DIDs as children (CONTAINER, or DATASET without rse), enforcing I1-I5,
// and emits one UpdatedDID{ATTACH} for the parent on success.
type AttachChild struct {
	Scope   string
	Name    string
	Bytes   int64
	Adler32 string
	MD5     string
}

func (s *Store) Attach(ctx context.Context, parentScope, parentName string, children []AttachChild, rse string) error {
	parentKey := store.DIDKey{Scope: parentScope, Name: parentName}

	tx := s.db.Begin(ctx)
	defer tx.Rollback()

	if err := tx.TryLockRow(rowKeyDID(parentKey)); err != nil {
		return err
	}

	parent, err := tx.GetDID(parentKey)
	if err != nil {
		return err
	}
	if !parent.IsOpen {
		return errs.New(errs.UnsupportedOperation, "%s:%s is closed", parentScope, parentName) // I4
	}
	if parent.Type == store.DIDTypeFile {
		return errs.New(errs.UnsupportedOperation, "cannot attach to a file")
	}

	switch parent.Type {
	case store.DIDTypeDataset:
		if rse != "" {
			if err := s.attachNewFiles(tx, parentKey, children, rse); err != nil {
				return err
			}
		} else {
			if err := s.attachExistingFiles(tx, parentKey, children); err != nil {
				return err
			}
		}
	case store.DIDTypeContainer:
		if err := s.attachExistingContainerChildren(tx, parent, parentKey, children); err != nil {
			return err
		}
	}

	tx.EnqueueUpdatedDID(parentScope, parentName, store.ActionAttach)
	return tx.Commit()
}

func rowKeyDID(k store.DIDKey) string { return "did:" + k.Scope + ":" + k.Name }

func (s *Store) attachNewFiles(tx *store.Tx, parent store.DIDKey, children []AttachChild, rse string) error {
	for _, c := range children {
		childKey := store.DIDKey{Scope: c.Scope, Name: c.Name}
		if childKey == parent {
			return errs.New(errs.UnsupportedOperation, "self-edge %s:%s", c.Scope, c.Name) // I3
		}
		if !tx.DIDExists(childKey) {
			tx.PutDID(&store.DID{
				Key: childKey, Type: store.DIDTypeFile, Account: "", IsOpen: true,
				Bytes: c.Bytes, Adler32: c.Adler32, MD5: c.MD5, IsNew: true,
			})
		} else if d, _ := tx.GetDID(childKey); d.Type != store.DIDTypeFile {
			return errs.New(errs.FileAlreadyExists, "%s:%s exists as non-file", c.Scope, c.Name)
		}
		if tx.HasAssociation(parent, childKey) {
			return errs.New(errs.FileAlreadyExists, "%s:%s already attached", c.Scope, c.Name) // I5
		}
		tx.AddAssociation(&store.Association{
			Parent: parent, Child: childKey,
			ParentType: store.DIDTypeDataset, ChildType: store.DIDTypeFile,
		})

		rk := store.ReplicaKey{RSEID: rse, Scope: c.Scope, Name: c.Name}
		if _, exists := tx.GetReplica(rk); !exists {
			tx.PutReplica(&store.Replica{Key: rk, Bytes: c.Bytes, Adler32: c.Adler32, MD5: c.MD5, State: store.ReplicaAvailable})
		}
	}
	return nil
}

func (s *Store) attachExistingFiles(tx *store.Tx, parent store.DIDKey, children []AttachChild) error {
	// verify each child type in one batched pass (§4.A) before mutating.
	keys := make([]store.DIDKey, 0, len(children))
	for _, c := range children {
		k := store.DIDKey{Scope: c.Scope, Name: c.Name}
		if k == parent {
			return errs.New(errs.UnsupportedOperation, "self-edge %s:%s", c.Scope, c.Name) // I3
		}
		d, err := tx.GetDID(k)
		if err != nil {
			return err
		}
		if d.Type != store.DIDTypeFile {
			return errs.New(errs.InvalidMetadata, "dataset children must be FILE (I1): %s:%s is %s", c.Scope, c.Name, d.Type)
		}
		keys = append(keys, k)
	}
	for _, k := range keys {
		if tx.HasAssociation(parent, k) {
			return errs.New(errs.FileAlreadyExists, "%s:%s already attached", k.Scope, k.Name)
		}
		tx.AddAssociation(&store.Association{Parent: parent, Child: k, ParentType: store.DIDTypeDataset, ChildType: store.DIDTypeFile})
	}
	return nil
}

func (s *Store) attachExistingContainerChildren(tx *store.Tx, parent *store.DID, parentKey store.DIDKey, children []AttachChild) error {
	keys := make([]store.DIDKey, 0, len(children))
	types := make([]store.DIDType, 0, len(children))
	for _, c := range children {
		k := store.DIDKey{Scope: c.Scope, Name: c.Name}
		if k == parentKey {
			return errs.New(errs.UnsupportedOperation, "self-edge %s:%s", c.Scope, c.Name) // I3
		}
		d, err := tx.GetDID(k)
		if err != nil {
			return err
		}
		if d.Type != store.DIDTypeContainer && d.Type != store.DIDTypeDataset {
			return errs.New(errs.InvalidMetadata, "container children must be CONTAINER or DATASET: %s:%s is %s", c.Scope, c.Name, d.Type)
		}
		keys = append(keys, k)
		types = append(types, d.Type)
	}
	// I2: mixed collections are rejected -- every child, existing and new,
	// must share one type.
	existing := tx.ListContent(parentKey)
	want := store.DIDType(-1)
	if len(existing) > 0 {
		want = existing[0].ChildType
	} else if len(types) > 0 {
		want = types[0]
	}
	for _, t := range types {
		if t != want {
			return errs.New(errs.InvalidMetadata, "mixed container children rejected (I2)")
		}
	}
	for i, k := range keys {
		if tx.HasAssociation(parentKey, k) {
			return errs.New(errs.FileAlreadyExists, "%s:%s already attached", k.Scope, k.Name)
		}
		tx.AddAssociation(&store.Association{Parent: parentKey, Child: k, ParentType: parent.Type, ChildType: types[i]})
	}
	return nil
}

// Detach row-locks the parent, verifies each child is an existing edge,
// forbids self-detach, removes the edges, and emits UpdatedDID{DETACH}.
func (s *Store) Detach(ctx context.Context, scope, name string, children []store.DIDKey) error {
	parentKey := store.DIDKey{Scope: scope, Name: name}
	tx := s.db.Begin(ctx)
	defer tx.Rollback()

	if err := tx.TryLockRow(rowKeyDID(parentKey)); err != nil {
		return err
	}
	if _, err := tx.GetDID(parentKey); err != nil {
		return err
	}
	for _, c := range children {
		if c == parentKey {
			return errs.New(errs.UnsupportedOperation, "self-detach %s:%s", c.Scope, c.Name) // I3
		}
		if !tx.HasAssociation(parentKey, c) {
			return errs.New(errs.DataIdentifierNotFound, "no edge %s:%s -> %s:%s", scope, name, c.Scope, c.Name)
		}
	}
	for _, c := range children {
		tx.RemoveAssociation(parentKey, c)
	}
	tx.EnqueueUpdatedDID(scope, name, store.ActionDetach)
	return tx.Commit()
}

// DeleteDIDs performs the undertaker's cascade for one batch, in the order
// specified in §4.A, inside one transaction. Idempotent: re-running it
// against a DB where the batch no longer exists does zero work and
// returns nil, not an error (§8).
func (s *Store) DeleteDIDs(ctx context.Context, keys []store.DIDKey) (DeleteCounters, error) {
	var counters DeleteCounters
	if len(keys) == 0 {
		return counters, nil
	}
	tx := s.db.Begin(ctx)
	defer tx.Rollback()

	now := time.Now()
	// touchedReplicas counts removed locks per replica, not just distinct
	// replicas: a replica referenced by N removed locks (e.g. two rules
	// both placing the same file at the same RSE) must decrement lock_cnt
	// N times, once per removed lock (I6/I9).
	touchedReplicas := make(map[store.ReplicaKey]int)

	for _, k := range keys {
		if !tx.DIDExists(k) {
			continue // idempotent: nothing to do for this key
		}

		// 1. drop ReplicaLock rows by rule_id (every rule rooted at k)
		for _, r := range tx.RulesRootedAt(k) {
			removed := tx.DeleteLocksForRule(r.ID)
			counters.Locks += len(removed)
			for _, lk := range removed {
				touchedReplicas[store.ReplicaKey{RSEID: lk.RSEID, Scope: lk.Scope, Name: lk.Name}]++
			}
			// 2. drop DatasetLock rows
			counters.DatasetLocks += tx.DeleteDatasetLocksForRule(r.ID)
			// 3. drop ReplicationRule rows
			tx.DeleteRule(r.ID)
			counters.Rules++
		}

		// 4. drop parent-side edges (k as parent)
		for _, a := range tx.ListContent(k) {
			tx.RemoveAssociation(k, a.Child)
			counters.Content++
		}
		// 5. drop child-side edges (k as child of someone)
		for _, p := range tx.ListParentDIDs(k) {
			tx.RemoveAssociation(p, k)
			counters.ParentContent++
		}

		// 6. drop the DID row itself
		tx.DeleteDID(k)
		counters.DIDs++
	}

	// 7. update every affected replica: lock_cnt -= 1, tombstone per I7.
	// Row-level NOWAIT locking so concurrent deleters fail fast (§5).
	for rk, n := range touchedReplicas {
		if err := tx.TryLockRow(rowKeyReplica(rk)); err != nil {
			return counters, err
		}
		for i := 0; i < n; i++ {
			tx.DecrementLockCnt(rk, now)
		}
		counters.Tombstones += n
	}

	nlog.Infof("delete_dids: batch of %d keys -> locks=%d rules=%d dataset_locks=%d content=%d parent_content=%d dids=%d tombstones=%d",
		len(keys), counters.Locks, counters.Rules, counters.DatasetLocks, counters.Content, counters.ParentContent, counters.DIDs, counters.Tombstones)

	return counters, tx.Commit()
}

func rowKeyReplica(k store.ReplicaKey) string { return "replica:" + k.RSEID + ":" + k.Scope + ":" + k.Name }

// DeleteCounters accumulates the undertaker's per-category metrics.
type DeleteCounters struct {
	Locks         int
	DatasetLocks  int
	Rules         int
	ParentContent int
	Content       int
	DIDs          int
	Tombstones    int
}

// SetStatus with open=false computes and freezes length/bytes as
// COUNT(*)/SUM(bytes) over current edges, then fires dataset-OK messages
// for every rule rooted at this DID whose locks are all OK.
func (s *Store) SetStatus(ctx context.Context, scope, name string, open bool) error {
	key := store.DIDKey{Scope: scope, Name: name}
	tx := s.db.Begin(ctx)
	defer tx.Rollback()

	if err := tx.TryLockRow(rowKeyDID(key)); err != nil {
		return err
	}
	d, err := tx.GetDID(key)
	if err != nil {
		return err
	}
	if open && !d.IsOpen {
		d.IsOpen = true
		tx.PutDID(d)
		return tx.Commit()
	}
	if !open && d.IsOpen {
		edges := tx.ListContent(key)
		var bytes int64
		for _, a := range edges {
			if fd, err := tx.GetDID(a.Child); err == nil {
				bytes += fd.Bytes
			}
		}
		d.IsOpen = false
		d.Length = int64(len(edges))
		d.Bytes = bytes
		tx.PutDID(d)

		for _, r := range tx.RulesRootedAt(key) {
			if allLocksOK(tx, r.ID) {
				id, err := shortid.Generate()
				if err != nil {
					return err
				}
				tx.EnqueueMessage(&store.Message{
					ID:        id,
					EventType: "DATASETLOCK_OK",
					Payload: map[string]any{
						"scope": scope, "name": name, "rule_id": r.ID,
					},
					CreatedAt: time.Now(),
				})
			}
		}
	}
	return tx.Commit()
}

func allLocksOK(tx *store.Tx, ruleID string) bool {
	locks := tx.LocksForRule(ruleID)
	if len(locks) == 0 {
		return false
	}
	for _, l := range locks {
		if l.State != store.LockOK {
			return false
		}
	}
	return true
}

func (s *Store) ListContent(ctx context.Context, scope, name string) []store.DIDKey {
	tx := s.db.BeginRead(ctx)
	defer tx.CommitRead()
	assocs := tx.ListContent(store.DIDKey{Scope: scope, Name: name})
	out := make([]store.DIDKey, 0, len(assocs))
	for _, a := range assocs {
		out = append(out, a.Child)
	}
	return out
}

func (s *Store) ListFiles(ctx context.Context, scope, name string, recursive bool) []store.DIDKey {
	tx := s.db.BeginRead(ctx)
	defer tx.CommitRead()
	return tx.ListFiles(store.DIDKey{Scope: scope, Name: name}, recursive)
}

func (s *Store) ListParentDIDs(ctx context.Context, scope, name string) []store.DIDKey {
	tx := s.db.BeginRead(ctx)
	defer tx.CommitRead()
	return tx.ListParentDIDs(store.DIDKey{Scope: scope, Name: name})
}

func (s *Store) ListChildDatasets(ctx context.Context, scope, name string) []store.DIDKey {
	tx := s.db.BeginRead(ctx)
	defer tx.CommitRead()
	return tx.ListChildDatasets(store.DIDKey{Scope: scope, Name: name})
}

func (s *Store) ScopeList(ctx context.Context) []string {
	tx := s.db.BeginRead(ctx)
	defer tx.CommitRead()
	return tx.ScopeList()
}

// ListNewDIDs is the sharded scan of §4.A: given (worker_number,
// total_workers), returns a deterministic partition of is_new rows.
func (s *Store) ListNewDIDs(ctx context.Context, workerNumber, totalWorkers, limit int) []*store.DID {
	tx := s.db.BeginRead(ctx)
	defer tx.CommitRead()
	return tx.ListNewDIDs(workerNumber, totalWorkers, limit)
}

func (s *Store) ListExpiredDIDs(ctx context.Context, workerNumber, totalWorkers, limit int) []store.DIDKey {
	tx := s.db.BeginRead(ctx)
	defer tx.CommitRead()
	return tx.ListExpiredDIDs(workerNumber, totalWorkers, limit, time.Now().UnixNano())
}

func (s *Store) ListDIDs(ctx context.Context, f store.DIDFilter) []*store.DID {
	tx := s.db.BeginRead(ctx)
	defer tx.CommitRead()
	return tx.ListDIDs(f)
}

// SetNewDIDs sets is_new to isNew on a batch of DIDs (an indexer passes
// false once it has processed them), per §4.A.
func (s *Store) SetNewDIDs(ctx context.Context, keys []store.DIDKey, isNew bool) error {
	tx := s.db.Begin(ctx)
	defer tx.Rollback()
	for _, k := range keys {
		d, err := tx.GetDID(k)
		if err != nil {
			return err
		}
		d.IsNew = isNew
		tx.PutDID(d)
	}
	return tx.Commit()
}

// AddScope registers a new scope; scope lifecycle itself is owned by the
// accounting collaborator (§1), but AddDID needs ScopeExists to check
// against, so the core exposes this minimal setter for test/bootstrap use.
func (s *Store) AddScope(ctx context.Context, scope string) error {
	tx := s.db.Begin(ctx)
	defer tx.Rollback()
	tx.AddScope(scope)
	return tx.Commit()
}
