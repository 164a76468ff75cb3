package store

import (
	"github.com/rucio-go/rucio/cmn/cos"
	"github.com/rucio-go/rucio/cmn/errs"
)

func (tx *Tx) GetDID(key DIDKey) (*DID, error) {
	d, ok := tx.db.dids[key]
	if !ok {
		return nil, errs.New(errs.DataIdentifierNotFound, "%s:%s", key.Scope, key.Name)
	}
	return d, nil
}

func (tx *Tx) DIDExists(key DIDKey) bool {
	_, ok := tx.db.dids[key]
	return ok
}

func (tx *Tx) PutDID(d *DID) {
	cp := *d
	tx.db.dids[d.Key] = &cp
}

func (tx *Tx) DeleteDID(key DIDKey) {
	delete(tx.db.dids, key)
}

// AddAssociation records the directed edge Parent->Child with its
// denormalized types (§3 "DID Association").
func (tx *Tx) AddAssociation(a *Association) {
	if tx.db.associations[a.Parent] == nil {
		tx.db.associations[a.Parent] = make(map[DIDKey]*Association)
	}
	cp := *a
	tx.db.associations[a.Parent][a.Child] = &cp

	if tx.db.parents[a.Child] == nil {
		tx.db.parents[a.Child] = make(map[DIDKey]struct{})
	}
	tx.db.parents[a.Child][a.Parent] = struct{}{}
}

func (tx *Tx) RemoveAssociation(parent, child DIDKey) {
	if m, ok := tx.db.associations[parent]; ok {
		delete(m, child)
	}
	if m, ok := tx.db.parents[child]; ok {
		delete(m, parent)
	}
}

func (tx *Tx) HasAssociation(parent, child DIDKey) bool {
	m, ok := tx.db.associations[parent]
	if !ok {
		return false
	}
	_, ok = m[child]
	return ok
}

// ListContent returns the direct children of parent (§4.A list_content).
func (tx *Tx) ListContent(parent DIDKey) []*Association {
	m := tx.db.associations[parent]
	out := make([]*Association, 0, len(m))
	for _, a := range m {
		out = append(out, a)
	}
	return out
}

// ListParentDIDs returns the direct parents of child.
func (tx *Tx) ListParentDIDs(child DIDKey) []DIDKey {
	m := tx.db.parents[child]
	out := make([]DIDKey, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	return out
}

// walkFrame is the explicit stack frame for DAG walks, replacing recursive
// generators per §9's design note; ListFiles/ListChildDatasets/
// ListChildContainers all build on the same shape.
type walkFrame struct {
	node DIDKey
}

// ListFiles walks the DAG rooted at root and returns every FILE leaf
// reachable from it, using an explicit stack rather than recursion so the
// walk can be bounded/cancelled at every step (§9).
func (tx *Tx) ListFiles(root DIDKey, recursive bool) []DIDKey {
	var out []DIDKey
	seen := make(map[DIDKey]struct{})
	stack := []walkFrame{{node: root}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, dup := seen[f.node]; dup {
			continue
		}
		seen[f.node] = struct{}{}

		d, ok := tx.db.dids[f.node]
		if ok && d.Type == DIDTypeFile && f.node != root {
			out = append(out, f.node)
			continue
		}
		for child := range tx.db.associations[f.node] {
			if !recursive {
				if cd, ok := tx.db.dids[child]; ok && cd.Type == DIDTypeFile {
					out = append(out, child)
				}
				continue
			}
			stack = append(stack, walkFrame{node: child})
		}
	}
	return out
}

// ListChildDatasets walks containers to the datasets reachable from root,
// explicit-stack per §9.
func (tx *Tx) ListChildDatasets(root DIDKey) []DIDKey {
	var out []DIDKey
	seen := make(map[DIDKey]struct{})
	stack := []walkFrame{{node: root}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, dup := seen[f.node]; dup {
			continue
		}
		seen[f.node] = struct{}{}
		for child := range tx.db.associations[f.node] {
			cd, ok := tx.db.dids[child]
			if !ok {
				continue
			}
			if cd.Type == DIDTypeDataset {
				out = append(out, child)
				continue
			}
			if cd.Type == DIDTypeContainer {
				stack = append(stack, walkFrame{node: child})
			}
		}
	}
	return out
}

// ListChildContainers walks containers reachable from root and returns
// every container found along the way, for the rule engine's container
// "hint emission" (§4.B) — explicit-stack per §9.
func (tx *Tx) ListChildContainers(root DIDKey) []DIDKey {
	var out []DIDKey
	seen := make(map[DIDKey]struct{})
	stack := []walkFrame{{node: root}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, dup := seen[f.node]; dup {
			continue
		}
		seen[f.node] = struct{}{}
		for child := range tx.db.associations[f.node] {
			cd, ok := tx.db.dids[child]
			if !ok || cd.Type != DIDTypeContainer {
				continue
			}
			out = append(out, child)
			stack = append(stack, walkFrame{node: child})
		}
	}
	return out
}

// ListNewDIDs returns the sharded partition of is_new DIDs owned by
// (workerNumber, totalWorkers), per §4.A.
func (tx *Tx) ListNewDIDs(workerNumber, totalWorkers, limit int) []*DID {
	var out []*DID
	for k, d := range tx.db.dids {
		if !d.IsNew {
			continue
		}
		if !cos.Owns(k.Name, workerNumber, totalWorkers) {
			continue
		}
		out = append(out, d)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// ListExpiredDIDs returns the sharded partition of DIDs whose ExpiredAt has
// passed now, owned by (workerNumber, totalWorkers), per §4.A/§4.E.
func (tx *Tx) ListExpiredDIDs(workerNumber, totalWorkers, limit int, nowUnixNano int64) []DIDKey {
	var out []DIDKey
	for k, d := range tx.db.dids {
		if d.ExpiredAt == nil || d.ExpiredAt.UnixNano() > nowUnixNano {
			continue
		}
		if !cos.Owns(k.Name, workerNumber, totalWorkers) {
			continue
		}
		out = append(out, k)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

type DIDFilter struct {
	Scope  string
	Type   *DIDType
	IsOpen *bool
}

// ListDIDs returns every DID matching filters; a real backend would push
// this down to SQL WHERE clauses, here it's a linear scan over every DID
// row, with the scope filter applied per row like the others.
func (tx *Tx) ListDIDs(f DIDFilter) []*DID {
	var out []*DID
	for k, d := range tx.db.dids {
		if f.Scope != "" && k.Scope != f.Scope {
			continue
		}
		if f.Type != nil && d.Type != *f.Type {
			continue
		}
		if f.IsOpen != nil && d.IsOpen != *f.IsOpen {
			continue
		}
		out = append(out, d)
	}
	return out
}
