package rse

import (
	"math/rand"
	"sort"
	"strconv"

	"github.com/rucio-go/rucio/cmn/errs"
)

// Source is what a Selector needs to resolve attributes and quota;
// *Snapshot is the production implementation, tests supply a fake.
type Source interface {
	Attributes(rseID string) (map[string]string, error)
	QuotaLeft(account, rseID string) int64
}

type rseState struct {
	id        string
	weight    float64
	quotaLeft int64
}

// Selector holds the state of one placement decision: the eligible RSE
// set with weight and remaining quota, and the account/copies it was
// constructed for (§4.C).
type Selector struct {
	account string
	copies  int
	rses    []*rseState
	rng     *rand.Rand
}

// New constructs a Selector for one placement decision, applying §4.C's
// construction rules: weight-attribute filtering (or uniform weight 1),
// quota filtering, and the copies-vs-eligible-count check. rng must be
// supplied by the caller for determinism in tests (§4.C: "deterministic
// only when seeded").
func New(account string, rseIDs []string, weightAttr string, copies int, snap Source, rng *rand.Rand) (*Selector, error) {
	if copies < 1 {
		return nil, errs.New(errs.InvalidReplicationRule, "copies must be >= 1, got %d", copies)
	}

	var states []*rseState
	quotaDropped := 0

	for _, id := range rseIDs {
		w := 1.0
		if weightAttr != "" {
			attrs, err := snap.Attributes(id)
			if err != nil {
				return nil, err
			}
			raw, ok := attrs[weightAttr]
			if !ok {
				continue // "skip RSEs lacking that key"
			}
			parsed, err := strconv.ParseFloat(raw, 64)
			if err != nil || parsed <= 0 {
				return nil, errs.New(errs.InvalidRuleWeight, "%s=%q on %s", weightAttr, raw, id)
			}
			w = parsed
		}

		quotaLeft := snap.QuotaLeft(account, id)
		if quotaLeft <= 0 {
			quotaDropped++
			continue
		}
		states = append(states, &rseState{id: id, weight: w, quotaLeft: quotaLeft})
	}

	if len(states) < copies {
		// The shortfall is a quota one when the RSEs dropped for exhausted
		// quota would have made up the missing copies.
		if quotaDropped > 0 && len(states)+quotaDropped >= copies {
			return nil, errs.New(errs.InsufficientAccountLimit, "only %d eligible RSEs with quota for %d copies", len(states), copies)
		}
		return nil, errs.New(errs.InsufficientTargetRSEs, "only %d eligible RSEs for %d copies", len(states), copies)
	}

	return &Selector{account: account, copies: copies, rses: states, rng: rng}, nil
}

// Select runs `copies` rounds of weighted-random-without-replacement
// selection, per §4.C's select_rse algorithm.
func (sel *Selector) Select(size int64, preferred, blacklist []string) ([]string, error) {
	blacklisted := toSet(blacklist)
	picked := make([]string, 0, sel.copies)
	pickedSet := make(map[string]struct{}, sel.copies)

	for round := 0; round < sel.copies; round++ {
		eligible := make([]*rseState, 0, len(sel.rses))
		for _, r := range sel.rses {
			if _, dup := pickedSet[r.id]; dup {
				continue
			}
			if _, bl := blacklisted[r.id]; bl {
				continue
			}
			if r.quotaLeft <= size {
				continue
			}
			eligible = append(eligible, r)
		}
		if len(eligible) < 1 {
			return nil, errs.New(errs.InsufficientTargetRSEs, "round %d: no eligible RSE remains", round)
		}

		preferredSet := toSet(preferred)
		var pool []*rseState
		for _, r := range eligible {
			if _, ok := preferredSet[r.id]; ok {
				pool = append(pool, r)
			}
		}
		if len(pool) == 0 {
			pool = eligible
		}

		chosen := weightedPick(sel.rng, pool)
		chosen.quotaLeft -= size
		picked = append(picked, chosen.id)
		pickedSet[chosen.id] = struct{}{}
	}
	return picked, nil
}

// weightedPick implements "shuffle the partition, draw pick ~ U(0,
// sum-weights), accumulate weights, choose the first RSE whose running sum
// >= pick" (§4.C step 4), biasing toward higher weights while remaining
// nondeterministic (deterministic only when rng is seeded).
func weightedPick(rng *rand.Rand, pool []*rseState) *rseState {
	shuffled := make([]*rseState, len(pool))
	copy(shuffled, pool)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	var total float64
	for _, r := range shuffled {
		total += r.weight
	}
	pick := rng.Float64() * total
	var running float64
	for _, r := range shuffled {
		running += r.weight
		if running >= pick {
			return r
		}
	}
	return shuffled[len(shuffled)-1]
}

func toSet(ss []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ss))
	for _, s := range ss {
		m[s] = struct{}{}
	}
	return m
}

// Eligible returns the sorted list of RSE ids this selector considers
// eligible, for diagnostics and tests.
func (sel *Selector) Eligible() []string {
	out := make([]string, 0, len(sel.rses))
	for _, r := range sel.rses {
		out = append(out, r.id)
	}
	sort.Strings(out)
	return out
}
