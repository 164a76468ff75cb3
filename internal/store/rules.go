package store

import "github.com/rucio-go/rucio/cmn/errs"

func (tx *Tx) PutRule(r *Rule) {
	cp := *r
	tx.db.rules[r.ID] = &cp
}

func (tx *Tx) GetRule(id string) (*Rule, error) {
	r, ok := tx.db.rules[id]
	if !ok {
		return nil, errs.New(errs.ReplicationRuleNotFound, "%s", id)
	}
	return r, nil
}

func (tx *Tx) DeleteRule(id string) {
	if r, ok := tx.db.rules[id]; ok {
		// _hist_recent / _history per §6's persisted-state table list.
		tx.db.rulesHist = append(tx.db.rulesHist, r)
	}
	delete(tx.db.rules, id)
}

type RuleFilter struct {
	Account string
	Scope   string
	Name    string
}

func (tx *Tx) ListRules(f RuleFilter) []*Rule {
	var out []*Rule
	for _, r := range tx.db.rules {
		if f.Account != "" && r.Account != f.Account {
			continue
		}
		if f.Scope != "" && r.DID.Scope != f.Scope {
			continue
		}
		if f.Name != "" && r.DID.Name != f.Name {
			continue
		}
		out = append(out, r)
	}
	return out
}

// RulesRootedAt returns every rule whose root DID is exactly did — the
// starting point for reevaluation's "find every rule whose root
// transitively contains this DID" (§4.B); transitive containment is
// resolved by the caller walking the DAG from each candidate root.
func (tx *Tx) RulesRootedAt(did DIDKey) []*Rule {
	var out []*Rule
	for _, r := range tx.db.rules {
		if r.DID == did {
			out = append(out, r)
		}
	}
	return out
}

func (tx *Tx) AllRules() []*Rule {
	out := make([]*Rule, 0, len(tx.db.rules))
	for _, r := range tx.db.rules {
		out = append(out, r)
	}
	return out
}
