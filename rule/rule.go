// Package rule implements the Rule Engine (SPEC_FULL.md §5.B /
// spec.md §4.B): creating and applying replication rules, and
// re-evaluating them as the DID graph changes. It never calls into
// package did directly — it only reads the DID graph (never mutates it)
// and consumes package feed for change notification, resolving the
// cyclic-import design note (spec.md §9).
package rule

import (
	"context"
	"math/rand"
	"time"

	cuckoo "github.com/seiflotfy/cuckoofilter"
	"github.com/teris-io/shortid"

	"github.com/rucio-go/rucio/cmn/errs"
	"github.com/rucio-go/rucio/cmn/nlog"
	"github.com/rucio-go/rucio/internal/store"
	"github.com/rucio-go/rucio/internal/transfer"
	"github.com/rucio-go/rucio/rse"
)

// ExpressionResolver is the external rse_expression parser collaborator
// (§4.B step 1): a pure function of expression + RSE attribute snapshot.
type ExpressionResolver interface {
	Resolve(expression string) ([]string, error)
}

// Engine is the Rule Engine. All reads/writes to replication_rules,
// replica_locks, and dataset_locks flow through it; reads of the DID
// graph (did_associations, dids) are read-only and go straight to
// internal/store, never through package did.
type Engine struct {
	db        *store.DB
	resolver  ExpressionResolver
	rseSource rse.Source
	submitter transfer.Submitter
	rng       *rand.Rand
}

func New(db *store.DB, resolver ExpressionResolver, rseSource rse.Source, submitter transfer.Submitter) *Engine {
	return &Engine{
		db:        db,
		resolver:  resolver,
		rseSource: rseSource,
		submitter: submitter,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithRNG overrides the selection RNG, for deterministic tests (§4.C).
func (e *Engine) WithRNG(rng *rand.Rand) *Engine {
	e.rng = rng
	return e
}

type AddRuleParams struct {
	DIDs           []store.DIDKey
	Account        string
	Copies         int
	RSEExpression  string
	Grouping       store.Grouping
	Weight         string
	Lifetime       *time.Duration
	Locked         bool
	SubscriptionID string
	Comment        string
}

// AddReplicationRule is the creation algorithm of §4.B: resolve the RSE
// expression, construct a Selector, persist one Rule per input DID and
// apply it, then submit the collected transfer orders best-effort after
// everything has committed.
func (e *Engine) AddReplicationRule(ctx context.Context, p AddRuleParams) ([]string, error) {
	if p.Copies < 1 {
		return nil, errs.New(errs.InvalidReplicationRule, "copies must be >= 1")
	}

	rseIDs, err := e.resolver.Resolve(p.RSEExpression)
	if err != nil {
		return nil, err
	}

	var ruleIDs []string
	var allOrders []transfer.Order

	for _, d := range p.DIDs {
		id, err := shortid.Generate()
		if err != nil {
			return nil, errs.Wrap(errs.RucioException, err, "generating rule id")
		}

		var expiresAt *time.Time
		if p.Lifetime != nil {
			t := time.Now().Add(*p.Lifetime)
			expiresAt = &t
		}
		r := &store.Rule{
			ID:             id,
			Account:        p.Account,
			DID:            d,
			Copies:         p.Copies,
			RSEExpression:  p.RSEExpression,
			Grouping:       p.Grouping,
			Weight:         p.Weight,
			ExpiresAt:      expiresAt,
			Locked:         p.Locked,
			SubscriptionID: p.SubscriptionID,
			State:          store.RuleStateReplicating,
			Comment:        p.Comment,
			CreatedAt:      time.Now(),
		}

		sel, err := rse.New(p.Account, rseIDs, p.Weight, p.Copies, e.rseSource, e.rng)
		if err != nil {
			return nil, err
		}

		orders, err := e.persistAndApply(ctx, r, sel)
		if err != nil {
			return nil, err
		}
		ruleIDs = append(ruleIDs, id)
		allOrders = append(allOrders, orders...)
	}

	// Transfer submission happens after every rule has committed, and its
	// failure never rolls a rule back (§4.B, §5 "Ordering guarantees").
	if errs := transfer.SubmitBatch(ctx, e.submitter, allOrders); len(errs) > 0 {
		nlog.Warningf("add_replication_rule: %d/%d transfer submissions failed, locks remain WAITING", len(errs), len(allOrders))
	}

	return ruleIDs, nil
}

func (e *Engine) persistAndApply(ctx context.Context, r *store.Rule, sel *rse.Selector) ([]transfer.Order, error) {
	tx := e.db.Begin(ctx)
	defer tx.Rollback()

	tx.PutRule(r)

	orders, allOK, err := e.applyLocked(tx, r, sel)
	if err != nil {
		return nil, err
	}
	if allOK {
		r.State = store.RuleStateOK
		tx.PutRule(r)

		mid, err := shortid.Generate()
		if err != nil {
			return nil, errs.Wrap(errs.RucioException, err, "generating message id")
		}
		tx.EnqueueMessage(&store.Message{
			ID:        mid,
			EventType: "RULE_OK",
			Payload:   map[string]any{"rule_id": r.ID, "scope": r.DID.Scope, "name": r.DID.Name},
			CreatedAt: time.Now(),
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (e *Engine) GetReplicationRule(ctx context.Context, id string) (*store.Rule, error) {
	tx := e.db.BeginRead(ctx)
	defer tx.CommitRead()
	return tx.GetRule(id)
}

func (e *Engine) ListReplicationRules(ctx context.Context, f store.RuleFilter) []*store.Rule {
	tx := e.db.BeginRead(ctx)
	defer tx.CommitRead()
	return tx.ListRules(f)
}

// newLockFilter builds a fresh cuckoo filter sized for n items, recording
// "RSE X already has an OK lock for this file" during ALL/DATASET grouping
// apply (SPEC_FULL.md §3). The filter never replaces a lock lookup: every
// file's locks are still read through tx.GetReplicaLocks, and the filter
// is only consulted by applyPicks' debug assertion.
func newLockFilter(n int) *cuckoo.Filter {
	if n < 1 {
		n = 1
	}
	return cuckoo.NewFilter(uint(n))
}

func lockFilterKey(rseID, scope, name string) []byte {
	return []byte(rseID + "\x00" + scope + "\x00" + name)
}
