// Package bootstrap wires the production default implementations of the
// external collaborators spec.md §1 and §6 place outside the core: the RSE
// attribute/quota snapshot and the rse_expression parser. Every cmd/
// entrypoint in this module goes through here rather than constructing
// package rse/rule collaborators inline, so the wiring lives in one place.
package bootstrap

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/rucio-go/rucio/cmn/errs"
	"github.com/rucio-go/rucio/internal/store"
)

// StaticAttributes is the simplest real AttributeProvider: a fixed
// rse_id -> attribute map loaded once from a JSON file at startup. A
// production deployment would point this at the RSE catalog service
// instead; this module never runs that service (§1 Non-goals), so a
// static snapshot is the collaborator a standalone deployment gets.
type StaticAttributes map[string]map[string]string

func LoadStaticAttributes(path string) (StaticAttributes, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.RucioException, err, "reading rse attributes file %s", path)
	}
	var m StaticAttributes
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errs.Wrap(errs.RucioException, err, "parsing rse attributes file %s", path)
	}
	return m, nil
}

func (s StaticAttributes) Attributes(rseID string) (map[string]string, error) {
	attrs, ok := s[rseID]
	if !ok {
		return nil, errs.New(errs.KeyNotFound, "rse %q not found in static attribute snapshot", rseID)
	}
	return attrs, nil
}

// storeQuota adapts *store.DB's per-transaction QuotaLeft into the
// standalone rse.QuotaProvider collaborator a Selector construction
// needs, opening a short read-only
// transaction per call.
type storeQuota struct{ db *store.DB }

func NewStoreQuota(db *store.DB) *storeQuota { return &storeQuota{db: db} }

func (q *storeQuota) QuotaLeft(account, rseID string) int64 {
	tx := q.db.BeginRead(context.Background())
	defer tx.CommitRead()
	return tx.QuotaLeft(account, rseID)
}

// CSVExpressionResolver is the simplest real ExpressionResolver: it treats
// rse_expression as a literal comma-separated rse_id list, no boolean
// grammar over attributes. A production deployment's expression parser
// (e.g. "tier=1&country=FR") is an external collaborator this module never
// implements (spec.md §4.B step 1 calls it "the external expression
// parser"); this is the bootstrap-grade stand-in every cmd/ entrypoint
// wires by default.
type CSVExpressionResolver struct{}

func (CSVExpressionResolver) Resolve(expression string) ([]string, error) {
	parts := strings.Split(expression, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, errs.New(errs.InvalidReplicationRule, "rse_expression %q resolves to no rses", expression)
	}
	return out, nil
}
